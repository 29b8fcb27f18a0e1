package isotp

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// pollSleep is the idle sleep between transport polls while a send is
// blocked on a flow control frame.
const pollSleep = 500 * time.Microsecond

// Session composes the frame codec, the reassembly buffer and the flow
// control manager into one bidirectional channel over an injected frame
// transport.
//
// All timing is evaluated against a clock sampled inside Poll and
// SendPayload; no background timers are created. A single mutex guards
// the session state, so multi-threaded hosts may share one session, but
// only one send and one inbound reassembly are ever active at a time.
type Session struct {
	mu        sync.Mutex
	cfg       Config
	addr      *Address
	transport FrameTransport
	log       zerolog.Logger

	rx      *reassembler
	rxQueue [][]byte

	// lastFC holds the most recent peer flow control for the sender
	// side to consume.
	lastFC *FlowControlFrame
}

func NewSession(transport FrameTransport, addr *Address, cfg Config) (*Session, error) {
	if transport == nil {
		return nil, fmt.Errorf("frame transport must be provided")
	}
	if addr == nil {
		return nil, fmt.Errorf("address must be provided")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	s := &Session{
		cfg:       cfg,
		addr:      addr,
		transport: transport,
	}
	fc := &receiverFlowControl{cfg: &s.cfg}
	s.rx = newReassembler(&s.cfg, fc)
	s.log = log.With().
		Str("component", "isotp").
		Uint32("rx_id", addr.RxID).
		Uint32("tx_id", addr.TxID).
		Logger()
	return s, nil
}

// Poll drains available frames from the transport and returns a
// completed payload if one is ready, or nil. It never blocks. An error
// reports a discarded in-flight payload (malformed frame, sequence
// mismatch, reassembly timeout) or a transport failure; the session
// itself stays usable.
func (s *Session) Poll() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.pump(s.cfg.now())
	if len(s.rxQueue) > 0 {
		payload := s.rxQueue[0]
		s.rxQueue = s.rxQueue[1:]
		return payload, err
	}
	return nil, err
}

// SendPayload segments a full payload and transmits it, honoring the
// peer's flow control pacing. It blocks until the last frame is handed
// to the transport or a protocol error aborts the attempt. There is no
// partial retransmission; any retry policy belongs to the caller.
// Cancelling the context discards the frames not yet sent.
func (s *Session) SendPayload(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	frames, err := PlanFrames(payload, &s.cfg)
	if err != nil {
		return err
	}

	if len(frames) == 1 {
		return s.sendFrame(frames[0])
	}

	// A stale flow control from an earlier exchange must not satisfy
	// this send.
	s.lastFC = nil
	if err := s.sendFrame(frames[0]); err != nil {
		return err
	}
	remaining := frames[1:]

	for len(remaining) > 0 {
		fc, err := s.awaitClearToSend(ctx)
		if err != nil {
			return err
		}

		blockSize := fc.BlockSize
		sep := fc.SeparationTime()
		for i := 0; len(remaining) > 0; i++ {
			if blockSize > 0 && i == blockSize {
				break
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if i > 0 {
				s.cfg.sleep(sep)
			}
			if err := s.sendFrame(remaining[0]); err != nil {
				return err
			}
			remaining = remaining[1:]
		}
	}
	return nil
}

// awaitClearToSend polls the transport until the peer answers with a
// flow control, enforcing the wait frame budget and the flow control
// timeout.
func (s *Session) awaitClearToSend(ctx context.Context) (*FlowControlFrame, error) {
	waits := 0
	deadline := s.cfg.now().Add(s.cfg.FlowControlTimeout)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		now := s.cfg.now()
		if err := s.pump(now); err != nil {
			s.log.Warn().Err(err).Msg("receive error while awaiting flow control")
		}

		if fc := s.lastFC; fc != nil {
			s.lastFC = nil
			switch fc.Status {
			case FlowStatusClearToSend:
				return fc, nil
			case FlowStatusWait:
				waits++
				if waits > s.cfg.WaitFrameMax {
					return nil, TooManyWaitFramesError{newTransportError(fmt.Sprintf(
						"received %d wait frames, at most %d allowed", waits, s.cfg.WaitFrameMax))}
				}
				deadline = now.Add(s.cfg.FlowControlTimeout)
			case FlowStatusOverflow:
				return nil, OverflowError{}
			}
			continue
		}

		if now.After(deadline) {
			return nil, FlowControlTimeoutError{}
		}
		s.cfg.sleep(pollSleep)
	}
}

// pump reads every pending frame, routing flow controls to the sender
// side and data frames through the reassembly buffer, then evaluates
// the reassembly timers. The first reassembly error is returned after
// the transport is fully drained.
func (s *Session) pump(now time.Time) error {
	var firstErr error
	record := func(err error) {
		s.log.Warn().Err(err).Msg("inbound payload discarded")
		if firstErr == nil {
			firstErr = err
		}
	}

	for {
		msg, err := s.transport.TryRecv()
		if err != nil {
			return fmt.Errorf("frame transport: %w", err)
		}
		if msg == nil {
			break
		}
		if !s.addr.IsForMe(msg) {
			continue
		}

		frame, err := ParseFrame(msg, &s.cfg)
		if err != nil {
			s.rx.reset()
			record(err)
			continue
		}

		if fc, ok := frame.(FlowControlFrame); ok {
			s.lastFC = &fc
			continue
		}

		payload, fcOut, err := s.rx.OnFrame(frame, now)
		if fcOut != nil {
			if sendErr := s.sendFrame(*fcOut); sendErr != nil {
				return sendErr
			}
		}
		if err != nil {
			record(err)
		}
		if payload != nil {
			s.rxQueue = append(s.rxQueue, payload)
		}
	}

	fcOut, err := s.rx.Tick(now)
	if fcOut != nil {
		if sendErr := s.sendFrame(*fcOut); sendErr != nil {
			return sendErr
		}
	}
	if err != nil {
		record(err)
	}
	return firstErr
}

func (s *Session) sendFrame(f ProtocolFrame) error {
	msg, err := EncodeFrame(f, s.addr, Physical, &s.cfg)
	if err != nil {
		return err
	}
	if err := s.transport.Send(msg); err != nil {
		return fmt.Errorf("frame transport: %w", err)
	}
	return nil
}

// Config returns a copy of the session configuration.
func (s *Session) Config() Config {
	return s.cfg
}

// Close releases the underlying frame transport. A session holds no
// background resources of its own.
func (s *Session) Close() error {
	return s.transport.Close()
}
