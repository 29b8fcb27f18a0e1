package isotp

import (
	"fmt"
	"time"
)

// reassembler accumulates the consecutive frames following a first frame
// into one logical payload. A session owns exactly one reassembler; at
// most one inbound multi-frame message is in flight at a time.
type reassembler struct {
	cfg *Config
	fc  *receiverFlowControl

	active        bool
	expectedTotal int
	buf           []byte
	nextSeq       int
	blockCount    int
	lastFrame     time.Time

	// waitPending is set while the receiver answered Wait and the
	// clear-to-send is still owed.
	waitPending bool
	lastFCSent  time.Time
}

func newReassembler(cfg *Config, fc *receiverFlowControl) *reassembler {
	return &reassembler{cfg: cfg, fc: fc}
}

func (r *reassembler) reset() {
	r.active = false
	r.expectedTotal = 0
	r.buf = nil
	r.nextSeq = 0
	r.blockCount = 0
	r.waitPending = false
}

// OnFrame feeds one decoded frame into the buffer. It returns the
// completed payload when the frame finishes a message, an optional flow
// control to transmit back to the sender, or an error. Errors reset the
// reassembly state; they never invalidate the session.
func (r *reassembler) OnFrame(f ProtocolFrame, now time.Time) ([]byte, *FlowControlFrame, error) {
	switch fr := f.(type) {
	case SingleFrame:
		if r.active {
			// Overlapping single-frame and multi-frame traffic on one
			// identifier is a protocol violation: discard both.
			r.reset()
			return nil, nil, ReceptionInterruptedError{}
		}
		payload := make([]byte, len(fr.Data))
		copy(payload, fr.Data)
		return payload, nil, nil

	case FirstFrame:
		if r.active {
			// A new first frame aborts the prior reassembly.
			r.reset()
		}
		fc := r.fc.OnFirstFrame(fr.TotalLength)
		if fc.Status == FlowStatusOverflow {
			return nil, &fc, PayloadTooLargeError{newTransportError(
				fmt.Sprintf("declared length %d exceeds maximum reassembled size %d",
					fr.TotalLength, r.cfg.MaxReassembledSize))}
		}
		r.active = true
		r.expectedTotal = fr.TotalLength
		r.buf = make([]byte, 0, fr.TotalLength)
		r.buf = append(r.buf, fr.Data...)
		r.nextSeq = 1
		r.blockCount = 0
		r.lastFrame = now
		r.lastFCSent = now
		r.waitPending = fc.Status == FlowStatusWait
		return nil, &fc, nil

	case ConsecutiveFrame:
		if !r.active {
			// Stray consecutive frame with no reception in progress.
			return nil, nil, nil
		}
		if fr.Sequence != r.nextSeq {
			err := SequenceMismatchError{Expected: r.nextSeq, Got: fr.Sequence}
			err.msg = fmt.Sprintf("expected sequence %d, got %d", r.nextSeq, fr.Sequence)
			r.reset()
			return nil, nil, err
		}
		r.lastFrame = now
		r.nextSeq = (r.nextSeq + 1) & 0x0F
		remaining := r.expectedTotal - len(r.buf)
		if len(fr.Data) > remaining {
			r.buf = append(r.buf, fr.Data[:remaining]...)
		} else {
			r.buf = append(r.buf, fr.Data...)
		}
		if len(r.buf) >= r.expectedTotal {
			payload := r.buf[:r.expectedTotal]
			r.reset()
			return payload, nil, nil
		}
		r.blockCount++
		if r.fc.blockComplete(r.blockCount) {
			r.blockCount = 0
			fc := r.fc.clearToSend()
			r.lastFCSent = now
			return nil, &fc, nil
		}
		return nil, nil, nil
	}

	return nil, nil, nil
}

// Tick evaluates the consecutive-frame timeout and, while the receiver
// is busy, keeps the sender parked with periodic Wait frames. Called
// from every session poll.
func (r *reassembler) Tick(now time.Time) (*FlowControlFrame, error) {
	if !r.active {
		return nil, nil
	}

	if r.waitPending {
		if !r.fc.busy() {
			// Receiver caught up: release the sender.
			r.waitPending = false
			fc := r.fc.clearToSend()
			r.lastFCSent = now
			r.lastFrame = now
			return &fc, nil
		}
		if fc := r.fc.nextWait(now, r.lastFCSent); fc != nil {
			r.lastFCSent = now
			r.lastFrame = now
			return fc, nil
		}
		return nil, nil
	}

	if now.Sub(r.lastFrame) > r.cfg.ConsecutiveFrameTimeout {
		r.reset()
		return nil, ReassemblyTimeoutError{}
	}
	return nil, nil
}
