// Package uds holds the service identifiers, negative response codes
// and payload helpers shared by the diagnostic client and server.
package uds

import (
	"fmt"
)

// UDS service identifiers (ISO 14229-1).
const (
	ServiceDiagnosticSessionControl        byte = 0x10
	ServiceECUReset                        byte = 0x11
	ServiceReadDataByIdentifier            byte = 0x22
	ServiceReadDataByPeriodicIdentifier    byte = 0x2A
	ServiceDynamicallyDefineDataIdentifier byte = 0x2C
	ServiceWriteDataByIdentifier           byte = 0x2E
	ServiceInputOutputControlByIdentifier  byte = 0x2F
	ServiceRoutineControl                  byte = 0x31
	ServiceRequestDownload                 byte = 0x34
	ServiceRequestUpload                   byte = 0x35
	ServiceTransferData                    byte = 0x36
	ServiceRequestTransferExit             byte = 0x37
	ServiceSecurityAccess                  byte = 0x27
	ServiceCommunicationControl            byte = 0x28
)

var serviceNames = map[byte]string{
	ServiceDiagnosticSessionControl:        "Diagnostic Session Control",
	ServiceECUReset:                        "ECU Reset",
	ServiceReadDataByIdentifier:            "Read Data By Identifier",
	ServiceReadDataByPeriodicIdentifier:    "Read Data By Periodic Identifier",
	ServiceDynamicallyDefineDataIdentifier: "Dynamically Define Data Identifier",
	ServiceWriteDataByIdentifier:           "Write Data By Identifier",
	ServiceInputOutputControlByIdentifier:  "Input Output Control By Identifier",
	ServiceRoutineControl:                  "Routine Control",
	ServiceRequestDownload:                 "Request Download",
	ServiceRequestUpload:                   "Request Upload",
	ServiceTransferData:                    "Transfer Data",
	ServiceRequestTransferExit:             "Request Transfer Exit",
	ServiceSecurityAccess:                  "Security Access",
	ServiceCommunicationControl:            "Communication Control",
}

// ServiceName returns the human readable name of a service id.
func ServiceName(sid byte) string {
	if name, ok := serviceNames[sid]; ok {
		return name
	}
	return fmt.Sprintf("0x%02X", sid)
}

// NegativeResponseSID marks a negative response payload.
const NegativeResponseSID byte = 0x7F

// positiveResponseOffset is added to a request service id to form the
// matching positive response id.
const positiveResponseOffset byte = 0x40

// Negative response codes.
const (
	NRCGeneralReject                byte = 0x10
	NRCServiceNotSupported          byte = 0x11
	NRCSubFunctionNotSupported      byte = 0x12
	NRCIncorrectMessageLength       byte = 0x13
	NRCResponseTooLong              byte = 0x14
	NRCBusyRepeatRequest            byte = 0x21
	NRCConditionsNotCorrect         byte = 0x22
	NRCRequestSequenceError         byte = 0x24
	NRCRequestOutOfRange            byte = 0x31
	NRCSecurityAccessDenied         byte = 0x33
	NRCResponsePending              byte = 0x78
	NRCServiceNotSupportedInSession byte = 0x7F
)

var nrcNames = map[byte]string{
	NRCGeneralReject:                "general reject",
	NRCServiceNotSupported:          "service not supported",
	NRCSubFunctionNotSupported:      "sub-function not supported",
	NRCIncorrectMessageLength:       "incorrect message length or invalid format",
	NRCResponseTooLong:              "response too long",
	NRCBusyRepeatRequest:            "busy, repeat request",
	NRCConditionsNotCorrect:         "conditions not correct",
	NRCRequestSequenceError:         "request sequence error",
	NRCRequestOutOfRange:            "request out of range",
	NRCSecurityAccessDenied:         "security access denied",
	NRCResponsePending:              "response pending",
	NRCServiceNotSupportedInSession: "service not supported in active session",
}

// NRCName returns the human readable description of a negative
// response code.
func NRCName(nrc byte) string {
	if name, ok := nrcNames[nrc]; ok {
		return name
	}
	return "unknown negative response code"
}

// PositiveResponseSID returns the service id a positive response to the
// given request carries.
func PositiveResponseSID(requestSID byte) byte {
	return requestSID + positiveResponseOffset
}

// EncodeNegativeResponse builds the 3-byte negative response payload
// for a rejected service.
func EncodeNegativeResponse(requestSID, nrc byte) []byte {
	return []byte{NegativeResponseSID, requestSID, nrc}
}

// IsNegativeResponse reports whether a payload is a well-formed
// negative response.
func IsNegativeResponse(payload []byte) bool {
	return len(payload) >= 3 && payload[0] == NegativeResponseSID
}

// ParseNegativeResponse extracts the rejected service id and the
// negative response code from a payload.
func ParseNegativeResponse(payload []byte) (requestSID, nrc byte, err error) {
	if !IsNegativeResponse(payload) {
		return 0, 0, fmt.Errorf("payload is not a negative response: % X", payload)
	}
	return payload[1], payload[2], nil
}

// DataIdentifier is a 2-byte identifier naming one record a control
// unit serves.
type DataIdentifier uint16

func (d DataIdentifier) String() string {
	return fmt.Sprintf("0x%04X", uint16(d))
}

// Bytes returns the big-endian wire form of the identifier.
func (d DataIdentifier) Bytes() []byte {
	return []byte{byte(d >> 8), byte(d)}
}

// ParseDataIdentifier reads a big-endian identifier from a request
// payload head.
func ParseDataIdentifier(b []byte) (DataIdentifier, error) {
	if len(b) < 2 {
		return 0, fmt.Errorf("data identifier needs 2 bytes, got %d", len(b))
	}
	return DataIdentifier(uint16(b[0])<<8 | uint16(b[1])), nil
}

// AsciiCodec interprets a fixed-length record as an ASCII string, the
// way VIN identifiers are conventionally served.
type AsciiCodec struct {
	Length int
}

func (c AsciiCodec) Decode(data []byte) (string, error) {
	if len(data) != c.Length {
		return "", fmt.Errorf("ascii record must be %d bytes, got %d", c.Length, len(data))
	}
	return string(data), nil
}

func (c AsciiCodec) Encode(s string) ([]byte, error) {
	if len(s) != c.Length {
		return nil, fmt.Errorf("ascii record must be %d characters, got %d", c.Length, len(s))
	}
	return []byte(s), nil
}
