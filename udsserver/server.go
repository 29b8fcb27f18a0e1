package udsserver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/mkushima/canbus-dev-utils/isotp"
	"github.com/mkushima/canbus-dev-utils/uds"
)

// Handler services one data identifier for one service. The returned
// bytes become the record payload of the positive response. Returning
// a *uds.ServiceError turns into a negative response with that code,
// any other error into ConditionsNotCorrect.
type Handler func(did uds.DataIdentifier, data []byte) ([]byte, error)

// Registration names the (service, data identifier) pair a handler is
// bound to.
type Registration struct {
	SID byte
	DID uds.DataIdentifier
}

// Server dispatches requests arriving on an ISO-TP session to the
// handlers registered at construction. It owns no goroutines; the
// caller drives it with Poll or Run.
type Server struct {
	session  *isotp.Session
	handlers map[Registration]Handler
	log      zerolog.Logger
}

// New builds a server with an explicit handler table. The table is
// fixed for the server's lifetime.
func New(session *isotp.Session, handlers map[Registration]Handler) *Server {
	table := make(map[Registration]Handler, len(handlers))
	for reg, h := range handlers {
		table[reg] = h
	}
	return &Server{
		session:  session,
		handlers: table,
		log:      log.With().Str("component", "udsserver").Logger(),
	}
}

// NewWithStore builds a server exposing every identifier in the store
// through ReadDataByIdentifier and WriteDataByIdentifier.
func NewWithStore(session *isotp.Session, store *DataStore) *Server {
	handlers := make(map[Registration]Handler)
	for _, id := range store.Identifiers() {
		handlers[Registration{SID: uds.ServiceReadDataByIdentifier, DID: id}] = func(did uds.DataIdentifier, _ []byte) ([]byte, error) {
			value, ok := store.Read(did)
			if !ok {
				return nil, uds.Reject(uds.NRCRequestOutOfRange)
			}
			return value, nil
		}
		handlers[Registration{SID: uds.ServiceWriteDataByIdentifier, DID: id}] = func(did uds.DataIdentifier, data []byte) ([]byte, error) {
			if !store.Write(did, data) {
				return nil, uds.Reject(uds.NRCRequestOutOfRange)
			}
			return nil, nil
		}
	}
	return New(session, handlers)
}

// Poll performs one dispatch iteration: pump the transport, and if a
// complete request is available, handle it and send the response. A
// reception error only discards the in-flight payload; a request that
// completed in the same round is still dispatched. A failed response
// transmission is logged and swallowed so one lost reply does not stop
// the server.
func (s *Server) Poll() error {
	request, err := s.session.Poll()
	if err != nil {
		if !isotp.IsTransportError(err) {
			return err
		}
		s.log.Warn().Err(err).Msg("reception error, in-flight payload discarded")
	}
	if request == nil {
		return nil
	}
	response := s.dispatch(request)
	if response == nil {
		return nil
	}
	if err := s.session.SendPayload(context.Background(), response); err != nil {
		s.log.Error().Err(err).Msg("response transmission failed")
	}
	return nil
}

// Run drives Poll until the context is cancelled, sleeping interval
// between iterations.
func (s *Server) Run(ctx context.Context, interval time.Duration) error {
	s.log.Info().Dur("interval", interval).Msg("server loop started")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("server loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Poll(); err != nil {
				return err
			}
		}
	}
}

func (s *Server) dispatch(request []byte) []byte {
	if len(request) == 0 {
		return nil
	}
	sid := request[0]
	s.log.Debug().
		Str("service", uds.ServiceName(sid)).
		Int("len", len(request)).
		Msg("request received")

	if len(request) < 3 {
		return uds.EncodeNegativeResponse(sid, uds.NRCIncorrectMessageLength)
	}
	did, err := uds.ParseDataIdentifier(request[1:3])
	if err != nil {
		return uds.EncodeNegativeResponse(sid, uds.NRCIncorrectMessageLength)
	}

	handler, ok := s.handlers[Registration{SID: sid, DID: did}]
	if !ok {
		s.log.Warn().
			Str("service", uds.ServiceName(sid)).
			Str("did", did.String()).
			Msg("no handler registered")
		return uds.EncodeNegativeResponse(sid, uds.NRCServiceNotSupported)
	}

	record, err := s.invoke(handler, did, request[3:])
	if err != nil {
		var se *uds.ServiceError
		if errors.As(err, &se) {
			s.log.Warn().
				Str("service", uds.ServiceName(sid)).
				Str("did", did.String()).
				Str("nrc", uds.NRCName(se.NRC)).
				Msg("request rejected")
			return uds.EncodeNegativeResponse(sid, se.NRC)
		}
		s.log.Error().Err(err).
			Str("service", uds.ServiceName(sid)).
			Str("did", did.String()).
			Msg("handler failed")
		return uds.EncodeNegativeResponse(sid, uds.NRCConditionsNotCorrect)
	}

	response := make([]byte, 0, 3+len(record))
	response = append(response, uds.PositiveResponseSID(sid))
	response = append(response, did.Bytes()...)
	response = append(response, record...)
	return response
}

// invoke runs a handler with panic containment. A panicking handler
// must not take the whole server down.
func (s *Server) invoke(h Handler, did uds.DataIdentifier, data []byte) (record []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(did, data)
}
