package udsclient

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mkushima/canbus-dev-utils/driver"
	"github.com/mkushima/canbus-dev-utils/isotp"
	"github.com/mkushima/canbus-dev-utils/uds"
	"github.com/mkushima/canbus-dev-utils/udsserver"
)

func serverAddress(t *testing.T) *isotp.Address {
	t.Helper()
	addr, err := isotp.NewAddress(isotp.Normal29Bits, 0x18DA4AEE, 0x18DAEE4A)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	return addr
}

func clientAddress(t *testing.T) *isotp.Address {
	t.Helper()
	addr, err := isotp.NewAddress(isotp.Normal29Bits, 0x18DAEE4A, 0x18DA4AEE)
	if err != nil {
		t.Fatalf("NewAddress: %v", err)
	}
	return addr
}

// newClientAgainstStore wires a client to a store-backed server over an
// in-memory bus. The client's wait hook runs one server dispatch per
// poll round, so the whole exchange stays on the test goroutine.
func newClientAgainstStore(t *testing.T, store *udsserver.DataStore) *Client {
	t.Helper()
	clientPort, serverPort := driver.NewVirtualPair()

	// The server's wait hook pumps the client session so flow controls
	// keep moving while a multi-frame response is being paced out. The
	// completing frame is always sent after the last wait, so the final
	// payload is never consumed here.
	var clientSession *isotp.Session
	serverCfg := isotp.DefaultConfig()
	serverCfg.Wait = func(time.Duration) {
		if clientSession != nil {
			clientSession.Poll()
		}
	}
	serverSession, err := isotp.NewSession(serverPort, serverAddress(t), serverCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	server := udsserver.NewWithStore(serverSession, store)

	clientCfg := isotp.DefaultConfig()
	clientCfg.Wait = func(time.Duration) {
		if err := server.Poll(); err != nil {
			t.Errorf("server Poll: %v", err)
		}
	}
	clientSession, err = isotp.NewSession(clientPort, clientAddress(t), clientCfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	return New(clientSession)
}

func TestClient_ReadDataByIdentifier(t *testing.T) {
	client := newClientAgainstStore(t, udsserver.DefaultDataStore())

	value, err := client.ReadDataByIdentifier(context.Background(), 0xF190)
	if err != nil {
		t.Fatalf("ReadDataByIdentifier: %v", err)
	}
	if string(value) != "5YJSA1DG9DFP14705" {
		t.Errorf("unexpected VIN: %q", value)
	}
}

func TestClient_WriteThenReadBack(t *testing.T) {
	client := newClientAgainstStore(t, udsserver.DefaultDataStore())
	ctx := context.Background()

	if err := client.WriteDataByIdentifier(ctx, 0x2002, []byte{0xBE, 0xEF}); err != nil {
		t.Fatalf("WriteDataByIdentifier: %v", err)
	}
	value, err := client.ReadDataByIdentifier(ctx, 0x2002)
	if err != nil {
		t.Fatalf("ReadDataByIdentifier: %v", err)
	}
	if !bytes.Equal(value, []byte{0xBE, 0xEF}) {
		t.Errorf("expected BE EF, got % X", value)
	}
}

func TestClient_NegativeResponse(t *testing.T) {
	client := newClientAgainstStore(t, udsserver.DefaultDataStore())

	_, err := client.ReadDataByIdentifier(context.Background(), 0x9999)
	var neg *NegativeResponseError
	if !errors.As(err, &neg) {
		t.Fatalf("expected NegativeResponseError, got %v", err)
	}
	if neg.SID != uds.ServiceReadDataByIdentifier || neg.NRC != uds.NRCServiceNotSupported {
		t.Errorf("expected 0x22/0x11, got 0x%02X/0x%02X", neg.SID, neg.NRC)
	}
}

func TestClient_Timeout(t *testing.T) {
	clientPort, _ := driver.NewVirtualPair()

	now := time.Now()
	cfg := isotp.DefaultConfig()
	cfg.Clock = func() time.Time { return now }
	cfg.Wait = func(d time.Duration) { now = now.Add(d) }
	session, err := isotp.NewSession(clientPort, clientAddress(t), cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	client := New(session)
	client.SetTimeout(10 * time.Millisecond)

	_, err = client.ReadDataByIdentifier(context.Background(), 0xF190)
	var timeout *TimeoutError
	if !errors.As(err, &timeout) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if timeout.SID != uds.ServiceReadDataByIdentifier {
		t.Errorf("unexpected service in timeout: 0x%02X", timeout.SID)
	}
}

func TestClient_ResponsePendingExtendsDeadline(t *testing.T) {
	clientPort, serverPort := driver.NewVirtualPair()

	serverSession, err := isotp.NewSession(serverPort, serverAddress(t), isotp.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// A scripted peer: answer the request with ResponsePending, then
	// stay silent past the original deadline before the real response.
	now := time.Now()
	gotRequest := false
	calls := 0
	cfg := isotp.DefaultConfig()
	cfg.Clock = func() time.Time { return now }
	cfg.Wait = func(d time.Duration) {
		now = now.Add(d)
		ctx := context.Background()
		if !gotRequest {
			if req, _ := serverSession.Poll(); req != nil {
				gotRequest = true
			}
			return
		}
		calls++
		// Pending at 7.5ms, still inside the 10ms deadline; the real
		// response at 15ms, past it. Only the extension granted by the
		// pending answer lets the request finish.
		if calls == 15 {
			if err := serverSession.SendPayload(ctx, uds.EncodeNegativeResponse(uds.ServiceReadDataByIdentifier, uds.NRCResponsePending)); err != nil {
				t.Errorf("send pending: %v", err)
			}
		}
		if calls == 30 {
			if err := serverSession.SendPayload(ctx, []byte{0x62, 0x01, 0x00, 0xAA}); err != nil {
				t.Errorf("send response: %v", err)
			}
		}
	}
	clientSession, err := isotp.NewSession(clientPort, clientAddress(t), cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	client := New(clientSession)
	client.SetTimeout(10 * time.Millisecond)

	value, err := client.ReadDataByIdentifier(context.Background(), 0x0100)
	if err != nil {
		t.Fatalf("ReadDataByIdentifier: %v", err)
	}
	if !bytes.Equal(value, []byte{0xAA}) {
		t.Errorf("expected AA, got % X", value)
	}
}

func TestClient_UnexpectedResponseDiscarded(t *testing.T) {
	clientPort, serverPort := driver.NewVirtualPair()

	serverSession, err := isotp.NewSession(serverPort, serverAddress(t), isotp.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	answered := false
	cfg := isotp.DefaultConfig()
	cfg.Wait = func(time.Duration) {
		if answered {
			return
		}
		if req, _ := serverSession.Poll(); req != nil {
			answered = true
			ctx := context.Background()
			// A response for a different service first, then the real one.
			if err := serverSession.SendPayload(ctx, []byte{0x6E, 0x01, 0x00}); err != nil {
				t.Errorf("send stray response: %v", err)
			}
			if err := serverSession.SendPayload(ctx, []byte{0x62, 0x01, 0x00, 0xBB}); err != nil {
				t.Errorf("send response: %v", err)
			}
		}
	}
	clientSession, err := isotp.NewSession(clientPort, clientAddress(t), cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	client := New(clientSession)
	value, err := client.ReadDataByIdentifier(context.Background(), 0x0100)
	if err != nil {
		t.Fatalf("ReadDataByIdentifier: %v", err)
	}
	if !bytes.Equal(value, []byte{0xBB}) {
		t.Errorf("expected BB, got % X", value)
	}
}

func TestClient_SecondRequestWhileAwaitingRejected(t *testing.T) {
	clientPort, serverPort := driver.NewVirtualPair()

	serverSession, err := isotp.NewSession(serverPort, serverAddress(t), isotp.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	// Issue a second request from inside the first one's poll loop,
	// while it is still waiting for its response.
	var client *Client
	var reentrant error
	reentered := false
	answered := false
	cfg := isotp.DefaultConfig()
	cfg.Wait = func(time.Duration) {
		if !reentered {
			reentered = true
			_, reentrant = client.Request(context.Background(), []byte{0x22, 0x20, 0x01})
		}
		if answered {
			return
		}
		if req, _ := serverSession.Poll(); req != nil {
			answered = true
			if err := serverSession.SendPayload(context.Background(), []byte{0x62, 0x01, 0x00, 0xCC}); err != nil {
				t.Errorf("send response: %v", err)
			}
		}
	}
	clientSession, err := isotp.NewSession(clientPort, clientAddress(t), cfg)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	client = New(clientSession)

	value, err := client.ReadDataByIdentifier(context.Background(), 0x0100)
	if err != nil {
		t.Fatalf("ReadDataByIdentifier: %v", err)
	}
	if !bytes.Equal(value, []byte{0xCC}) {
		t.Errorf("expected CC, got % X", value)
	}
	if !reentered {
		t.Fatal("second request never issued")
	}
	if !errors.Is(reentrant, ErrRequestInFlight) {
		t.Errorf("expected ErrRequestInFlight, got %v", reentrant)
	}

	// With the first request finished, the client accepts new ones.
	client.SetTimeout(time.Millisecond)
	if _, err := client.Request(context.Background(), []byte{0x22, 0x99, 0x99}); errors.Is(err, ErrRequestInFlight) {
		t.Errorf("client still marked in flight: %v", err)
	}
}

func TestClient_EmptyRequestRejected(t *testing.T) {
	clientPort, _ := driver.NewVirtualPair()
	session, err := isotp.NewSession(clientPort, clientAddress(t), isotp.DefaultConfig())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if _, err := New(session).Request(context.Background(), nil); err == nil {
		t.Error("empty request payload must be rejected")
	}
}
