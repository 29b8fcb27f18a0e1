// Package cyclic schedules periodic CAN messages without owning a
// goroutine. The host polling loop asks what is due and transmits it.
package cyclic

import (
	"container/heap"
	"time"

	"github.com/mkushima/canbus-dev-utils/isotp"
)

type entry struct {
	next    time.Time
	period  time.Duration
	message isotp.CanMessage
	index   int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].next.Before(h[j].next) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *entryHeap) Push(x interface{}) { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Scheduler keeps periodic messages ordered by their next fire time.
// Not safe for concurrent use; it lives inside one polling loop.
type Scheduler struct {
	entries entryHeap
}

func NewScheduler() *Scheduler {
	return &Scheduler{}
}

// Add registers a message to fire every period, starting one period
// from now. Periods must be positive; anything else is ignored.
func (s *Scheduler) Add(msg isotp.CanMessage, period time.Duration, now time.Time) {
	if period <= 0 {
		return
	}
	heap.Push(&s.entries, &entry{
		next:    now.Add(period),
		period:  period,
		message: msg,
	})
}

// Due pops every message whose fire time has passed and reschedules
// each one period ahead. Reschedule is anchored on now, not on the
// missed slot, so a stalled loop does not cause a burst afterwards.
func (s *Scheduler) Due(now time.Time) []isotp.CanMessage {
	var due []isotp.CanMessage
	for s.entries.Len() > 0 && !s.entries[0].next.After(now) {
		e := s.entries[0]
		due = append(due, e.message)
		e.next = now.Add(e.period)
		heap.Fix(&s.entries, 0)
	}
	return due
}

// Next returns the earliest pending fire time, and false if nothing is
// scheduled.
func (s *Scheduler) Next() (time.Time, bool) {
	if s.entries.Len() == 0 {
		return time.Time{}, false
	}
	return s.entries[0].next, true
}

// Len returns the number of scheduled messages.
func (s *Scheduler) Len() int {
	return s.entries.Len()
}
