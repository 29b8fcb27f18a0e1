package udsclient

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mkushima/canbus-dev-utils/isotp"
	"github.com/mkushima/canbus-dev-utils/uds"
)

// ErrRequestInFlight is returned when Request is called while an
// earlier request on the same client has not completed yet. The
// protocol allows one outstanding request per connection.
var ErrRequestInFlight = errors.New("a request is already in flight")

// TimeoutError reports a request that received no usable response
// within its deadline.
type TimeoutError struct {
	SID     byte
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response to %s within %s", uds.ServiceName(e.SID), e.Elapsed)
}

// NegativeResponseError carries a negative response from the remote
// node. ResponsePending never surfaces here; it extends the wait
// instead.
type NegativeResponseError struct {
	SID byte
	NRC byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("%s rejected: %s", uds.ServiceName(e.SID), uds.NRCName(e.NRC))
}

// Client issues diagnostic requests over an ISO-TP session and matches
// the responses. The protocol allows one outstanding request per
// connection; a Request issued while another is pending fails with
// ErrRequestInFlight, even from another goroutine.
type Client struct {
	session  *isotp.Session
	timeout  time.Duration
	inFlight atomic.Bool
	log      zerolog.Logger
}

// DefaultTimeout bounds a request when the caller passes none.
const DefaultTimeout = 1000 * time.Millisecond

func New(session *isotp.Session) *Client {
	return &Client{
		session: session,
		timeout: DefaultTimeout,
		log:     log.With().Str("component", "udsclient").Logger(),
	}
}

// SetTimeout replaces the per-request response deadline.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Request transmits one service request and polls until a response for
// it arrives or the deadline passes. A ResponsePending negative
// response restarts the deadline; responses for other services are
// discarded and the wait continues.
func (c *Client) Request(ctx context.Context, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty request payload")
	}
	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, ErrRequestInFlight
	}
	defer c.inFlight.Store(false)

	sid := payload[0]
	c.log.Debug().
		Str("service", uds.ServiceName(sid)).
		Int("len", len(payload)).
		Msg("sending request")
	if err := c.session.SendPayload(ctx, payload); err != nil {
		return nil, fmt.Errorf("send %s: %w", uds.ServiceName(sid), err)
	}
	return c.awaitResponse(ctx, sid)
}

func (c *Client) awaitResponse(ctx context.Context, sid byte) ([]byte, error) {
	start := c.now()
	deadline := start.Add(c.timeout)

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		response, err := c.session.Poll()
		if err != nil {
			if isotp.IsTransportError(err) {
				c.log.Warn().Err(err).Msg("reception error, still waiting")
			} else {
				return nil, err
			}
		}
		if response != nil {
			result, done, extend := c.classify(sid, response)
			if done {
				return result.payload, result.err
			}
			if extend {
				deadline = c.now().Add(c.timeout)
			}
			continue
		}
		now := c.now()
		if now.After(deadline) {
			return nil, &TimeoutError{SID: sid, Elapsed: now.Sub(start)}
		}
		c.sleep(pollInterval)
	}
}

const pollInterval = 500 * time.Microsecond

type outcome struct {
	payload []byte
	err     error
}

// classify decides what an inbound payload means for the request with
// the given service identifier.
func (c *Client) classify(sid byte, response []byte) (result outcome, done, extend bool) {
	if uds.IsNegativeResponse(response) {
		reqSID, nrc, err := uds.ParseNegativeResponse(response)
		if err != nil {
			c.log.Warn().Err(err).Msg("truncated negative response discarded")
			return outcome{}, false, false
		}
		if reqSID != sid {
			c.log.Warn().
				Str("service", uds.ServiceName(reqSID)).
				Msg("negative response for another service discarded")
			return outcome{}, false, false
		}
		if nrc == uds.NRCResponsePending {
			c.log.Debug().Msg("response pending, deadline extended")
			return outcome{}, false, true
		}
		return outcome{err: &NegativeResponseError{SID: sid, NRC: nrc}}, true, false
	}
	if response[0] != uds.PositiveResponseSID(sid) {
		c.log.Warn().
			Hex("head", response[:1]).
			Msg("unexpected response discarded")
		return outcome{}, false, false
	}
	return outcome{payload: response}, true, false
}

// ReadDataByIdentifier requests one record and returns its bytes.
func (c *Client) ReadDataByIdentifier(ctx context.Context, did uds.DataIdentifier) ([]byte, error) {
	request := append([]byte{uds.ServiceReadDataByIdentifier}, did.Bytes()...)
	response, err := c.Request(ctx, request)
	if err != nil {
		return nil, err
	}
	if len(response) < 3 {
		return nil, fmt.Errorf("short read response: %d bytes", len(response))
	}
	got, err := uds.ParseDataIdentifier(response[1:3])
	if err != nil {
		return nil, err
	}
	if got != did {
		return nil, fmt.Errorf("response echoes %s, requested %s", got, did)
	}
	return response[3:], nil
}

// WriteDataByIdentifier replaces one record with the given bytes.
func (c *Client) WriteDataByIdentifier(ctx context.Context, did uds.DataIdentifier, data []byte) error {
	request := append([]byte{uds.ServiceWriteDataByIdentifier}, did.Bytes()...)
	request = append(request, data...)
	response, err := c.Request(ctx, request)
	if err != nil {
		return err
	}
	if len(response) < 3 {
		return fmt.Errorf("short write response: %d bytes", len(response))
	}
	got, err := uds.ParseDataIdentifier(response[1:3])
	if err != nil {
		return err
	}
	if got != did {
		return fmt.Errorf("response echoes %s, requested %s", got, did)
	}
	return nil
}

func (c *Client) now() time.Time {
	cfg := c.session.Config()
	if cfg.Clock != nil {
		return cfg.Clock()
	}
	return time.Now()
}

func (c *Client) sleep(d time.Duration) {
	cfg := c.session.Config()
	if cfg.Wait != nil {
		cfg.Wait(d)
		return
	}
	time.Sleep(d)
}
