package udsserver

import (
	"bytes"
	"testing"

	"github.com/mkushima/canbus-dev-utils/uds"
)

func TestDataStore_ReadCopies(t *testing.T) {
	store := NewDataStore(map[uint16][]byte{0x2001: {1, 2, 3}})

	value, ok := store.Read(0x2001)
	if !ok {
		t.Fatal("expected record 0x2001")
	}
	value[0] = 0xFF
	again, _ := store.Read(0x2001)
	if again[0] != 1 {
		t.Error("Read must hand out a copy, not the backing slice")
	}
}

func TestDataStore_UnknownIdentifier(t *testing.T) {
	store := NewDataStore(map[uint16][]byte{0x2001: {1}})

	if _, ok := store.Read(0x9999); ok {
		t.Error("unknown identifier must not read")
	}
	if store.Write(0x9999, []byte{1}) {
		t.Error("unknown identifier must not write")
	}
}

func TestDataStore_WriteReplacesValue(t *testing.T) {
	store := NewDataStore(map[uint16][]byte{0x2002: {2, 2, 2}})

	if !store.Write(0x2002, []byte{9, 9}) {
		t.Fatal("write to an existing record must succeed")
	}
	value, _ := store.Read(0x2002)
	if !bytes.Equal(value, []byte{9, 9}) {
		t.Errorf("expected 09 09, got % X", value)
	}
}

func TestDefaultDataStore(t *testing.T) {
	store := DefaultDataStore()

	vin, ok := store.Read(0xF190)
	if !ok {
		t.Fatal("expected the VIN record")
	}
	if string(vin) != "5YJSA1DG9DFP14705" {
		t.Errorf("unexpected VIN: %q", vin)
	}

	long, ok := store.Read(0x2005)
	if !ok || len(long) != 200 {
		t.Errorf("expected 200-byte record at 0x2005, got %d bytes (ok=%v)", len(long), ok)
	}

	want := []uds.DataIdentifier{0x2001, 0x2002, 0x2003, 0x2004, 0x2005, 0xF190}
	got := store.Identifiers()
	if len(got) != len(want) {
		t.Fatalf("expected %d identifiers, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("identifier %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}
