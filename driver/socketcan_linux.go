package driver

import (
	"context"
	"fmt"
	"net"
	"sync"

	"go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"

	"github.com/mkushima/canbus-dev-utils/isotp"
)

const rxBufferSize = 256

// SocketCAN is a frame transport bound to a Linux SocketCAN interface
// (e.g. vcan0). The kernel receiver blocks, so a background goroutine
// pumps frames into a buffered queue that TryRecv drains without
// blocking.
//
// The SocketCAN binding carries classic 8-byte frames; FD sessions need
// a transport that can carry 64-byte frames.
type SocketCAN struct {
	ifname string
	conn   net.Conn
	tx     *socketcan.Transmitter
	rx     *socketcan.Receiver

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	queue []isotp.CanMessage
	rxErr error
}

// NewSocketCAN dials the named interface and starts receiving.
func NewSocketCAN(ctx context.Context, ifname string) (*SocketCAN, error) {
	conn, err := socketcan.DialContext(ctx, "can", ifname)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", ifname, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &SocketCAN{
		ifname: ifname,
		conn:   conn,
		tx:     socketcan.NewTransmitter(conn),
		rx:     socketcan.NewReceiver(conn),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.recvLoop(runCtx)
	return s, nil
}

func (s *SocketCAN) recvLoop(ctx context.Context) {
	defer s.wg.Done()
	for s.rx.Receive() {
		if ctx.Err() != nil {
			return
		}
		f := s.rx.Frame()
		msg := isotp.CanMessage{
			ArbitrationID: f.ID,
			Data:          append([]byte(nil), f.Data[:f.Length]...),
			IsExtendedID:  f.IsExtended,
		}
		s.mu.Lock()
		if len(s.queue) < rxBufferSize {
			s.queue = append(s.queue, msg)
		}
		s.mu.Unlock()
	}
	if err := s.rx.Err(); err != nil && ctx.Err() == nil {
		s.mu.Lock()
		s.rxErr = err
		s.mu.Unlock()
	}
}

// Send transmits one frame on the bus.
func (s *SocketCAN) Send(msg isotp.CanMessage) error {
	if msg.IsFD || len(msg.Data) > 8 {
		return fmt.Errorf("socketcan transport carries classic 8-byte frames only, got %d bytes", len(msg.Data))
	}
	frame := can.Frame{
		ID:         msg.ArbitrationID,
		Length:     uint8(len(msg.Data)),
		IsExtended: msg.IsExtendedID,
	}
	copy(frame.Data[:], msg.Data)
	if err := s.tx.TransmitFrame(context.Background(), frame); err != nil {
		return fmt.Errorf("transmit on %s: %w", s.ifname, err)
	}
	return nil
}

// TryRecv pops the next buffered frame without blocking.
func (s *SocketCAN) TryRecv() (*isotp.CanMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rxErr != nil {
		return nil, s.rxErr
	}
	if len(s.queue) == 0 {
		return nil, nil
	}
	msg := s.queue[0]
	s.queue = s.queue[1:]
	return &msg, nil
}

// Close stops the receive loop and releases the socket.
func (s *SocketCAN) Close() error {
	s.cancel()
	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// SetupInterface brings a CAN interface up with the given bitrate. It
// is a convenience for hosts that have not configured the link via the
// operating system; an already-up interface is a prerequisite, not a
// runtime dependency, of the transport.
func SetupInterface(ifname string, bitrate uint32) error {
	d, err := candevice.New(ifname)
	if err != nil {
		return fmt.Errorf("open device %s: %w", ifname, err)
	}
	if bitrate > 0 {
		if err := d.SetBitrate(bitrate); err != nil {
			return fmt.Errorf("set bitrate on %s: %w", ifname, err)
		}
	}
	if err := d.SetUp(); err != nil {
		return fmt.Errorf("bring up %s: %w", ifname, err)
	}
	return nil
}
