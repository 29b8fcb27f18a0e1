package uds

import (
	"bytes"
	"testing"
)

func TestPositiveResponseSID(t *testing.T) {
	if got := PositiveResponseSID(ServiceReadDataByIdentifier); got != 0x62 {
		t.Errorf("expected 0x62, got 0x%02X", got)
	}
	if got := PositiveResponseSID(ServiceWriteDataByIdentifier); got != 0x6E {
		t.Errorf("expected 0x6E, got 0x%02X", got)
	}
}

func TestNegativeResponseRoundTrip(t *testing.T) {
	payload := EncodeNegativeResponse(ServiceReadDataByIdentifier, NRCRequestOutOfRange)
	if !bytes.Equal(payload, []byte{0x7F, 0x22, 0x31}) {
		t.Fatalf("unexpected encoding: % X", payload)
	}
	if !IsNegativeResponse(payload) {
		t.Fatal("encoded negative response not recognized")
	}
	sid, nrc, err := ParseNegativeResponse(payload)
	if err != nil {
		t.Fatalf("ParseNegativeResponse: %v", err)
	}
	if sid != ServiceReadDataByIdentifier || nrc != NRCRequestOutOfRange {
		t.Errorf("expected 0x22/0x31, got 0x%02X/0x%02X", sid, nrc)
	}
}

func TestParseNegativeResponse_Truncated(t *testing.T) {
	if _, _, err := ParseNegativeResponse([]byte{0x7F, 0x22}); err == nil {
		t.Error("truncated negative response must be rejected")
	}
	if _, _, err := ParseNegativeResponse([]byte{0x62, 0x22, 0x31}); err == nil {
		t.Error("a positive response is not a negative response")
	}
}

func TestIsNegativeResponse(t *testing.T) {
	if IsNegativeResponse([]byte{0x62, 0xF1, 0x90}) {
		t.Error("positive response misclassified")
	}
	if IsNegativeResponse(nil) {
		t.Error("empty payload misclassified")
	}
}

func TestDataIdentifier(t *testing.T) {
	did := DataIdentifier(0xF190)
	if did.String() != "0xF190" {
		t.Errorf("unexpected String: %s", did.String())
	}
	if !bytes.Equal(did.Bytes(), []byte{0xF1, 0x90}) {
		t.Errorf("unexpected Bytes: % X", did.Bytes())
	}
	parsed, err := ParseDataIdentifier([]byte{0xF1, 0x90})
	if err != nil {
		t.Fatalf("ParseDataIdentifier: %v", err)
	}
	if parsed != did {
		t.Errorf("expected %s, got %s", did, parsed)
	}
	if _, err := ParseDataIdentifier([]byte{0xF1}); err == nil {
		t.Error("one byte is not a data identifier")
	}
}

func TestAsciiCodec(t *testing.T) {
	codec := AsciiCodec{Length: 17}
	vin := "5YJSA1DG9DFP14705"

	encoded, err := codec.Encode(vin)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded != vin {
		t.Errorf("expected %q, got %q", vin, decoded)
	}

	if _, err := codec.Encode("short"); err == nil {
		t.Error("wrong length must be rejected on encode")
	}
	if _, err := codec.Decode([]byte("short")); err == nil {
		t.Error("wrong length must be rejected on decode")
	}
}

func TestServiceName(t *testing.T) {
	if got := ServiceName(ServiceReadDataByIdentifier); got != "Read Data By Identifier" {
		t.Errorf("unexpected name: %s", got)
	}
	if got := ServiceName(0xBA); got != "0xBA" {
		t.Errorf("unexpected fallback: %s", got)
	}
}

func TestNRCName(t *testing.T) {
	if got := NRCName(NRCConditionsNotCorrect); got != "conditions not correct" {
		t.Errorf("unexpected name: %s", got)
	}
	if got := NRCName(0x99); got != "unknown negative response code" {
		t.Errorf("unexpected fallback: %s", got)
	}
}

func TestReject(t *testing.T) {
	err := Reject(NRCRequestOutOfRange)
	if err.NRC != NRCRequestOutOfRange {
		t.Errorf("expected 0x31, got 0x%02X", err.NRC)
	}
	if err.Error() == "" {
		t.Error("rejection must describe itself")
	}
}
