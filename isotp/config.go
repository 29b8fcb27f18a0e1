package isotp

import (
	"fmt"
	"time"
)

// Config defines the per-connection parameters of a transport session.
// It is fixed at session construction and never mutated afterwards.
type Config struct {
	// BlockSize is the number of consecutive frames we allow a sender to
	// transmit before it must wait for our next flow control.
	// 0 means an unbounded block.
	BlockSize int

	// STmin is the raw separation time byte advertised in our flow
	// controls: 0x00-0x7F milliseconds, or 0xF1-0xF9 for 100-900µs.
	STmin byte

	// WaitFrameMax is the number of FlowControl Wait frames tolerated in
	// a row before a send attempt is aborted. 0 means waits are not
	// accepted at all.
	WaitFrameMax int

	// TxPadding, if not nil, pads transmitted frames with this byte.
	TxPadding *byte

	// TxMinLength forces transmitted frames to at least this many data
	// bytes. 0 means no forced minimum.
	TxMinLength int

	// FlowControlTimeout bounds the wait for a peer flow control after a
	// first frame or a completed block.
	FlowControlTimeout time.Duration

	// ConsecutiveFrameTimeout bounds the gap between consecutive frames
	// of an inbound multi-frame message.
	ConsecutiveFrameTimeout time.Duration

	// MaxReassembledSize rejects inbound first frames declaring a larger
	// total length, before any buffer is grown.
	MaxReassembledSize int

	// FDEnabled switches the link MTU from 8 to 64 bytes. It is a flag,
	// not a separate code path.
	FDEnabled bool

	// Clock and Wait are sampled for all timing decisions. They default
	// to time.Now and time.Sleep and exist so tests can drive time.
	Clock func() time.Time
	Wait  func(time.Duration)

	// ReceiverBusy, when set, lets the receiver answer a first frame
	// with FlowControl Wait instead of ClearToSend while it returns
	// true. Nil means the receiver is always ready.
	ReceiverBusy func() bool
}

// DefaultConfig mirrors the parameter set the diagnostic tooling has
// always shipped with: 8-frame blocks, 1s protocol timeouts and the
// 4095-byte classic ISO-TP frame limit.
func DefaultConfig() Config {
	return Config{
		BlockSize:               8,
		STmin:                   20,
		WaitFrameMax:            0,
		TxPadding:               nil,
		TxMinLength:             0,
		FlowControlTimeout:      1000 * time.Millisecond,
		ConsecutiveFrameTimeout: 1000 * time.Millisecond,
		MaxReassembledSize:      4095,
	}
}

// MTU returns the link frame capacity in bytes.
func (c *Config) MTU() int {
	if c.FDEnabled {
		return 64
	}
	return 8
}

func (c *Config) Validate() error {
	if c.BlockSize < 0 || c.BlockSize > 0xFF {
		return fmt.Errorf("block size must be between 0 and 255, got %d", c.BlockSize)
	}
	if c.STmin > 0x7F && (c.STmin < 0xF1 || c.STmin > 0xF9) {
		return fmt.Errorf("stmin byte 0x%02X is reserved", c.STmin)
	}
	if c.WaitFrameMax < 0 {
		return fmt.Errorf("wait frame max must not be negative")
	}
	if c.TxMinLength < 0 || c.TxMinLength > c.MTU() {
		return fmt.Errorf("tx min length %d exceeds link MTU %d", c.TxMinLength, c.MTU())
	}
	if c.FlowControlTimeout <= 0 {
		return fmt.Errorf("flow control timeout must be positive")
	}
	if c.ConsecutiveFrameTimeout <= 0 {
		return fmt.Errorf("consecutive frame timeout must be positive")
	}
	if c.MaxReassembledSize <= 0 || c.MaxReassembledSize > 4095 {
		return fmt.Errorf("max reassembled size must be within 1..4095, got %d", c.MaxReassembledSize)
	}
	return nil
}

func (c *Config) now() time.Time {
	if c.Clock != nil {
		return c.Clock()
	}
	return time.Now()
}

func (c *Config) sleep(d time.Duration) {
	if d <= 0 {
		return
	}
	if c.Wait != nil {
		c.Wait(d)
		return
	}
	time.Sleep(d)
}
