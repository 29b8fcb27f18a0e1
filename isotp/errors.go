package isotp

import "errors"

// messageOrDefault returns msg if present, otherwise fallback.
func messageOrDefault(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// TransportError is the base of every error produced by this package.
// The concrete types below form the taxonomy; they abort at most the
// payload in flight and never terminate a session.
type TransportError struct {
	msg string
}

func newTransportError(msg string) TransportError {
	return TransportError{msg: msg}
}

func (e TransportError) Error() string {
	return messageOrDefault(e.msg, "ISO-TP transport error")
}

func (TransportError) isTransportError() {}

// IsTransportError reports whether err belongs to this package's error
// taxonomy, as opposed to a driver or context failure.
func IsTransportError(err error) bool {
	var marker interface{ isTransportError() }
	return errors.As(err, &marker)
}

// FrameTooLargeError reports an encoded frame exceeding the link MTU.
type FrameTooLargeError struct {
	TransportError
}

func (e FrameTooLargeError) Error() string {
	return messageOrDefault(e.msg, "frame payload exceeds link MTU")
}

// MalformedFrameError reports an undecodable received frame.
type MalformedFrameError struct {
	TransportError
}

func (e MalformedFrameError) Error() string {
	return messageOrDefault(e.msg, "malformed frame received")
}

// SequenceMismatchError reports a consecutive frame arriving out of order.
type SequenceMismatchError struct {
	TransportError
	Expected int
	Got      int
}

func (e SequenceMismatchError) Error() string {
	return messageOrDefault(e.msg, "wrong sequence number in consecutive frame")
}

// PayloadTooLargeError reports a first frame declaring a total length
// beyond MaxReassembledSize.
type PayloadTooLargeError struct {
	TransportError
}

func (e PayloadTooLargeError) Error() string {
	return messageOrDefault(e.msg, "declared payload length exceeds maximum reassembled size")
}

// ReassemblyTimeoutError reports the consecutive frame gap expiring
// during an inbound multi-frame message.
type ReassemblyTimeoutError struct {
	TransportError
}

func (e ReassemblyTimeoutError) Error() string {
	return messageOrDefault(e.msg, "consecutive frame not received in time")
}

// ReceptionInterruptedError reports overlapping single-frame and
// multi-frame traffic on the same identifier. Both messages are
// discarded.
type ReceptionInterruptedError struct {
	TransportError
}

func (e ReceptionInterruptedError) Error() string {
	return messageOrDefault(e.msg, "multi-frame reception interrupted, both messages discarded")
}

// FlowControlTimeoutError reports the peer not answering a first frame
// or a completed block with a flow control in time.
type FlowControlTimeoutError struct {
	TransportError
}

func (e FlowControlTimeoutError) Error() string {
	return messageOrDefault(e.msg, "flow control frame not received in time")
}

// TooManyWaitFramesError reports the peer exceeding WaitFrameMax
// consecutive FlowControl Wait frames.
type TooManyWaitFramesError struct {
	TransportError
}

func (e TooManyWaitFramesError) Error() string {
	return messageOrDefault(e.msg, "maximum wait flow control frames reached")
}

// OverflowError reports the peer rejecting a multi-frame send because
// the declared length exceeds its buffer.
type OverflowError struct {
	TransportError
}

func (e OverflowError) Error() string {
	return messageOrDefault(e.msg, "remote node reported overflow")
}
