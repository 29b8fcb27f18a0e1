package cyclic

import (
	"testing"
	"time"

	"github.com/mkushima/canbus-dev-utils/isotp"
)

func TestScheduler_FiresAfterPeriod(t *testing.T) {
	s := NewScheduler()
	start := time.Now()
	msg := isotp.CanMessage{ArbitrationID: 0x100, Data: []byte{0x01}}
	s.Add(msg, time.Second, start)

	if due := s.Due(start.Add(500 * time.Millisecond)); len(due) != 0 {
		t.Fatalf("nothing is due before the period, got %d", len(due))
	}
	due := s.Due(start.Add(time.Second))
	if len(due) != 1 {
		t.Fatalf("expected 1 due message, got %d", len(due))
	}
	if due[0].ArbitrationID != 0x100 {
		t.Errorf("unexpected message: %s", due[0].String())
	}
}

func TestScheduler_ReschedulesFromNow(t *testing.T) {
	s := NewScheduler()
	start := time.Now()
	s.Add(isotp.CanMessage{ArbitrationID: 0x100}, time.Second, start)

	// The loop stalls for three periods; only one transmission fires,
	// and the next one is anchored a full period after the late one.
	late := start.Add(3 * time.Second)
	if due := s.Due(late); len(due) != 1 {
		t.Fatalf("expected 1 due message after a stall, got %d", len(due))
	}
	if due := s.Due(late.Add(500 * time.Millisecond)); len(due) != 0 {
		t.Fatal("rescheduled message fired too early")
	}
	if due := s.Due(late.Add(time.Second)); len(due) != 1 {
		t.Fatal("rescheduled message did not fire a period later")
	}
}

func TestScheduler_OrdersMultipleEntries(t *testing.T) {
	s := NewScheduler()
	start := time.Now()
	s.Add(isotp.CanMessage{ArbitrationID: 0x200}, 2*time.Second, start)
	s.Add(isotp.CanMessage{ArbitrationID: 0x100}, time.Second, start)

	next, ok := s.Next()
	if !ok {
		t.Fatal("expected a pending entry")
	}
	if !next.Equal(start.Add(time.Second)) {
		t.Errorf("expected the 1s entry first, got %s", next.Sub(start))
	}

	due := s.Due(start.Add(2 * time.Second))
	if len(due) != 2 {
		t.Fatalf("expected both messages due, got %d", len(due))
	}
	if due[0].ArbitrationID != 0x100 || due[1].ArbitrationID != 0x200 {
		t.Errorf("unexpected order: 0x%X then 0x%X", due[0].ArbitrationID, due[1].ArbitrationID)
	}
}

func TestScheduler_IgnoresNonPositivePeriods(t *testing.T) {
	s := NewScheduler()
	s.Add(isotp.CanMessage{}, 0, time.Now())
	s.Add(isotp.CanMessage{}, -time.Second, time.Now())
	if s.Len() != 0 {
		t.Errorf("expected an empty scheduler, got %d entries", s.Len())
	}
	if _, ok := s.Next(); ok {
		t.Error("Next must report nothing scheduled")
	}
}
