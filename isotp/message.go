package isotp

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// CanMessage represents one CAN bus frame (ISO-11898): an arbitration
// identifier plus up to 8 (classic) or 64 (FD) data bytes.
type CanMessage struct {
	ArbitrationID uint32
	Data          []byte
	IsExtendedID  bool
	IsFD          bool
}

func (m *CanMessage) String() string {
	var idStr string
	if m.IsExtendedID {
		idStr = fmt.Sprintf("%08x", m.ArbitrationID)
	} else {
		idStr = fmt.Sprintf("%03x", m.ArbitrationID)
	}
	dataStr := hex.EncodeToString(m.Data)
	var flags []string
	if m.IsFD {
		flags = append(flags, "fd")
	}
	var flagStr string
	if len(flags) > 0 {
		flagStr = fmt.Sprintf(" (%s)", strings.Join(flags, ","))
	}
	return fmt.Sprintf("<CanMessage %s [%d]%s \"%s\">", idStr, len(m.Data), flagStr, dataStr)
}

// FrameTransport is the link-layer primitive a Session is built on.
// Implementations live in the driver package; tests use an in-memory bus.
type FrameTransport interface {
	// Send transmits one frame. It may block until the frame is queued.
	Send(msg CanMessage) error

	// TryRecv returns the next pending frame, or nil when none is
	// available. It never blocks.
	TryRecv() (*CanMessage, error)

	// Close releases the underlying link.
	Close() error
}
