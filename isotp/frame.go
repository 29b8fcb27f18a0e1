package isotp

import (
	"fmt"
	"time"
)

// PCI type nibbles (ISO 15765-2).
const (
	pciSingleFrame      = 0x00
	pciFirstFrame       = 0x10
	pciConsecutiveFrame = 0x20
	pciFlowControl      = 0x30
)

// ProtocolFrame is one of the four ISO-TP frame kinds. Every protocol
// frame fits in exactly one CanMessage.
type ProtocolFrame interface {
	protocolFrame()
}

type SingleFrame struct {
	Data []byte
}

type FirstFrame struct {
	// TotalLength is the declared length of the full payload (0..4095).
	TotalLength int
	Data        []byte
}

type ConsecutiveFrame struct {
	// Sequence wraps within 0..15. The frame after a FirstFrame
	// carries sequence 1.
	Sequence int
	Data     []byte
}

type FlowStatus uint8

const (
	FlowStatusClearToSend FlowStatus = 0x00
	FlowStatusWait        FlowStatus = 0x01
	FlowStatusOverflow    FlowStatus = 0x02
)

func (s FlowStatus) String() string {
	switch s {
	case FlowStatusClearToSend:
		return "ClearToSend"
	case FlowStatusWait:
		return "Wait"
	case FlowStatusOverflow:
		return "Overflow"
	}
	return fmt.Sprintf("FlowStatus(%d)", uint8(s))
}

type FlowControlFrame struct {
	Status    FlowStatus
	BlockSize int
	// STmin is the raw separation time byte: 0x00-0x7F milliseconds,
	// 0xF1-0xF9 for 100-900µs.
	STmin byte
}

// SeparationTime decodes the raw STmin byte into a duration.
func (f *FlowControlFrame) SeparationTime() time.Duration {
	return decodeSTmin(f.STmin)
}

func (SingleFrame) protocolFrame()      {}
func (FirstFrame) protocolFrame()       {}
func (ConsecutiveFrame) protocolFrame() {}
func (FlowControlFrame) protocolFrame() {}

func decodeSTmin(b byte) time.Duration {
	if b <= 0x7F {
		return time.Duration(b) * time.Millisecond
	}
	// 0xF1..0xF9 validated at parse time.
	return time.Duration(b-0xF0) * 100 * time.Microsecond
}

// EncodeFrame packs a protocol frame into a CAN message addressed with
// the session's tx identifier. It is a pure function and safe to call
// concurrently for independent frames.
func EncodeFrame(f ProtocolFrame, addr *Address, at AddressType, cfg *Config) (CanMessage, error) {
	mtu := cfg.MTU()
	var data []byte

	switch fr := f.(type) {
	case SingleFrame:
		if len(fr.Data) <= 7 && len(fr.Data) < mtu {
			data = make([]byte, 0, 1+len(fr.Data))
			data = append(data, pciSingleFrame|byte(len(fr.Data)))
		} else {
			// Escape-length form for FD payloads of 8..62 bytes.
			if len(fr.Data)+2 > mtu {
				return CanMessage{}, FrameTooLargeError{newTransportError(
					fmt.Sprintf("single frame of %d bytes does not fit MTU %d", len(fr.Data), mtu))}
			}
			data = make([]byte, 0, 2+len(fr.Data))
			data = append(data, pciSingleFrame, byte(len(fr.Data)))
		}
		data = append(data, fr.Data...)

	case FirstFrame:
		if fr.TotalLength > 0xFFF {
			return CanMessage{}, FrameTooLargeError{newTransportError(
				fmt.Sprintf("first frame total length %d exceeds 4095", fr.TotalLength))}
		}
		data = make([]byte, 0, 2+len(fr.Data))
		data = append(data, pciFirstFrame|byte(fr.TotalLength>>8&0x0F), byte(fr.TotalLength&0xFF))
		data = append(data, fr.Data...)

	case ConsecutiveFrame:
		if fr.Sequence < 0 || fr.Sequence > 15 {
			return CanMessage{}, FrameTooLargeError{newTransportError(
				fmt.Sprintf("consecutive frame sequence %d out of range", fr.Sequence))}
		}
		data = make([]byte, 0, 1+len(fr.Data))
		data = append(data, pciConsecutiveFrame|byte(fr.Sequence))
		data = append(data, fr.Data...)

	case FlowControlFrame:
		data = []byte{pciFlowControl | byte(fr.Status&0x0F), byte(fr.BlockSize), fr.STmin}

	default:
		return CanMessage{}, MalformedFrameError{newTransportError(fmt.Sprintf("unknown frame kind %T", f))}
	}

	if len(data) > mtu {
		return CanMessage{}, FrameTooLargeError{newTransportError(
			fmt.Sprintf("frame of %d bytes exceeds link MTU %d", len(data), mtu))}
	}

	data = padFrameData(data, cfg)
	return CanMessage{
		ArbitrationID: addr.TxArbitrationID(at),
		Data:          data,
		IsExtendedID:  addr.Is29Bit(),
		IsFD:          cfg.FDEnabled,
	}, nil
}

// padFrameData pads the raw frame to TxMinLength with the configured
// padding byte. With only a padding byte configured, classic frames are
// padded to the full 8 bytes the way the original tooling did.
func padFrameData(data []byte, cfg *Config) []byte {
	targetLen := cfg.TxMinLength
	if targetLen == 0 && cfg.TxPadding != nil {
		targetLen = cfg.MTU()
	}
	if len(data) >= targetLen {
		return data
	}
	padByte := byte(0xCC)
	if cfg.TxPadding != nil {
		padByte = *cfg.TxPadding
	}
	padded := make([]byte, targetLen)
	copy(padded, data)
	for i := len(data); i < targetLen; i++ {
		padded[i] = padByte
	}
	return padded
}

// ParseFrame classifies a received CAN message into a protocol frame.
// Declared lengths exceeding the physical frame are rejected as
// malformed; padding bytes past the declared length are dropped.
func ParseFrame(msg *CanMessage, cfg *Config) (ProtocolFrame, error) {
	payload := msg.Data
	if len(payload) == 0 {
		return nil, MalformedFrameError{newTransportError("empty CAN frame")}
	}
	if len(payload) > cfg.MTU() {
		return nil, MalformedFrameError{newTransportError(
			fmt.Sprintf("frame of %d bytes exceeds link MTU %d", len(payload), cfg.MTU()))}
	}

	switch payload[0] & 0xF0 {
	case pciSingleFrame:
		length := int(payload[0] & 0x0F)
		if length == 0 {
			// Escape-length form.
			if len(payload) < 2 {
				return nil, MalformedFrameError{newTransportError("escaped single frame shorter than 2 bytes")}
			}
			length = int(payload[1])
			if length == 0 {
				return nil, MalformedFrameError{newTransportError("single frame with declared length 0")}
			}
			if length > len(payload)-2 {
				return nil, MalformedFrameError{newTransportError(
					fmt.Sprintf("single frame length %d exceeds payload %d", length, len(payload)-2))}
			}
			return SingleFrame{Data: payload[2 : 2+length]}, nil
		}
		if length > len(payload)-1 {
			return nil, MalformedFrameError{newTransportError(
				fmt.Sprintf("single frame length %d exceeds payload %d", length, len(payload)-1))}
		}
		return SingleFrame{Data: payload[1 : 1+length]}, nil

	case pciFirstFrame:
		if len(payload) < 2 {
			return nil, MalformedFrameError{newTransportError("first frame shorter than 2 bytes")}
		}
		total := (int(payload[0]&0x0F) << 8) | int(payload[1])
		if total == 0 {
			// 32-bit escape lengths exceed the 4095-byte protocol limit.
			return nil, MalformedFrameError{newTransportError("first frame with escaped length not supported")}
		}
		data := payload[2:]
		if len(data) > total {
			data = data[:total]
		}
		return FirstFrame{TotalLength: total, Data: data}, nil

	case pciConsecutiveFrame:
		if len(payload) < 2 {
			return nil, MalformedFrameError{newTransportError("consecutive frame carries no data")}
		}
		return ConsecutiveFrame{Sequence: int(payload[0] & 0x0F), Data: payload[1:]}, nil

	case pciFlowControl:
		if len(payload) < 3 {
			return nil, MalformedFrameError{newTransportError("flow control frame shorter than 3 bytes")}
		}
		status := FlowStatus(payload[0] & 0x0F)
		if status > FlowStatusOverflow {
			return nil, MalformedFrameError{newTransportError(
				fmt.Sprintf("unknown flow status %d", status))}
		}
		st := payload[2]
		if st > 0x7F && (st < 0xF1 || st > 0xF9) {
			return nil, MalformedFrameError{newTransportError(
				fmt.Sprintf("reserved STmin byte 0x%02X in flow control", st))}
		}
		return FlowControlFrame{Status: status, BlockSize: int(payload[1]), STmin: st}, nil
	}

	return nil, MalformedFrameError{newTransportError(
		fmt.Sprintf("unknown PCI type 0x%02X", payload[0]&0xF0))}
}
