package isotp

import (
	"fmt"
	"time"
)

// receiverFlowControl owns the receiver-side decision of how to answer
// an inbound first frame: clear to send, wait, or overflow.
type receiverFlowControl struct {
	cfg *Config
}

func (r *receiverFlowControl) OnFirstFrame(totalLength int) FlowControlFrame {
	if totalLength > r.cfg.MaxReassembledSize {
		return FlowControlFrame{Status: FlowStatusOverflow}
	}
	if r.busy() {
		return FlowControlFrame{Status: FlowStatusWait}
	}
	return r.clearToSend()
}

func (r *receiverFlowControl) clearToSend() FlowControlFrame {
	return FlowControlFrame{
		Status:    FlowStatusClearToSend,
		BlockSize: r.cfg.BlockSize,
		STmin:     r.cfg.STmin,
	}
}

func (r *receiverFlowControl) busy() bool {
	return r.cfg.ReceiverBusy != nil && r.cfg.ReceiverBusy()
}

// nextWait re-issues a Wait frame at half the peer's flow control
// timeout so a busy receiver keeps the sender parked without flooding
// the bus.
func (r *receiverFlowControl) nextWait(now, lastSent time.Time) *FlowControlFrame {
	if now.Sub(lastSent) < r.cfg.FlowControlTimeout/2 {
		return nil
	}
	return &FlowControlFrame{Status: FlowStatusWait}
}

// blockComplete reports whether the given number of consecutive frames
// finishes the advertised block. BlockSize 0 means unbounded blocks and
// never completes.
func (r *receiverFlowControl) blockComplete(count int) bool {
	return r.cfg.BlockSize > 0 && count >= r.cfg.BlockSize
}

// PlanFrames chunks a full payload into the protocol frames that carry
// it: one SingleFrame when it fits, otherwise a FirstFrame followed by
// ConsecutiveFrames with wrapping sequence numbers. The pacing between
// those frames (flow control, STmin) is applied by the session when the
// plan is executed.
func PlanFrames(payload []byte, cfg *Config) ([]ProtocolFrame, error) {
	mtu := cfg.MTU()

	sfCapacity := 7
	if cfg.FDEnabled {
		sfCapacity = mtu - 2
	}
	if len(payload) <= sfCapacity {
		return []ProtocolFrame{SingleFrame{Data: payload}}, nil
	}

	if len(payload) > 0xFFF {
		return nil, FrameTooLargeError{newTransportError(
			fmt.Sprintf("payload of %d bytes exceeds the 4095-byte multi-frame limit", len(payload)))}
	}

	ffCapacity := mtu - 2
	cfCapacity := mtu - 1

	frames := make([]ProtocolFrame, 0, 1+(len(payload)-ffCapacity+cfCapacity-1)/cfCapacity)
	frames = append(frames, FirstFrame{TotalLength: len(payload), Data: payload[:ffCapacity]})

	seq := 1
	for offset := ffCapacity; offset < len(payload); offset += cfCapacity {
		end := offset + cfCapacity
		if end > len(payload) {
			end = len(payload)
		}
		frames = append(frames, ConsecutiveFrame{Sequence: seq, Data: payload[offset:end]})
		seq = (seq + 1) & 0x0F
	}
	return frames, nil
}
