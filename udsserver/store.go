package udsserver

import (
	"sort"
	"sync"

	"github.com/mkushima/canbus-dev-utils/uds"
)

// DataStore holds the data-identifier records a server serves. The set
// of identifiers is fixed at construction; only the values change when
// a write request comes in.
type DataStore struct {
	mu      sync.RWMutex
	records map[uds.DataIdentifier][]byte
}

// NewDataStore copies the given records into a store.
func NewDataStore(records map[uint16][]byte) *DataStore {
	s := &DataStore{records: make(map[uds.DataIdentifier][]byte, len(records))}
	for id, value := range records {
		s.records[uds.DataIdentifier(id)] = append([]byte(nil), value...)
	}
	return s
}

// DefaultDataStore returns the dummy record set the tooling has always
// shipped for bench testing, including the well-known VIN identifier.
func DefaultDataStore() *DataStore {
	records := map[uint16][]byte{
		0x2001: {0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
		0x2002: {0x02, 0x02, 0x02},
		0x2003: repeated(0x03, 40),
		0x2004: repeated(0x04, 50),
		0x2005: repeated(0x05, 200),
		0xF190: []byte("5YJSA1DG9DFP14705"), // VIN
	}
	return NewDataStore(records)
}

func repeated(b byte, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = b
	}
	return out
}

// Read returns a copy of the record value.
func (s *DataStore) Read(id uds.DataIdentifier) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	value, ok := s.records[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), value...), true
}

// Write replaces the value of an existing record. Unknown identifiers
// are rejected.
func (s *DataStore) Write(id uds.DataIdentifier, value []byte) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false
	}
	s.records[id] = append([]byte(nil), value...)
	return true
}

// Identifiers returns the fixed identifier set in ascending order.
func (s *DataStore) Identifiers() []uds.DataIdentifier {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]uds.DataIdentifier, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
