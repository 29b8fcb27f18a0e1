package driver

import (
	"sync"

	"github.com/mkushima/canbus-dev-utils/isotp"
)

// VirtualPort is one end of an in-memory CAN bus. Frames sent on one
// port appear on the peer's receive queue. Used by tests and loopback
// setups; unlike SocketCAN it carries FD frames as well.
type VirtualPort struct {
	mu     sync.Mutex
	peer   *VirtualPort
	queue  []isotp.CanMessage
	closed bool
}

// NewVirtualPair returns two cross-connected ports.
func NewVirtualPair() (*VirtualPort, *VirtualPort) {
	a := &VirtualPort{}
	b := &VirtualPort{}
	a.peer = b
	b.peer = a
	return a, b
}

func (p *VirtualPort) Send(msg isotp.CanMessage) error {
	msg.Data = append([]byte(nil), msg.Data...)
	peer := p.peer
	peer.mu.Lock()
	defer peer.mu.Unlock()
	if peer.closed {
		return nil
	}
	peer.queue = append(peer.queue, msg)
	return nil
}

func (p *VirtualPort) TryRecv() (*isotp.CanMessage, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.queue) == 0 {
		return nil, nil
	}
	msg := p.queue[0]
	p.queue = p.queue[1:]
	return &msg, nil
}

func (p *VirtualPort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	p.queue = nil
	return nil
}
