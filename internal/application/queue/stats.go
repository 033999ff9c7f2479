package queue

import (
	"sync/atomic"

	"github.com/notifyx/notifyx/internal/domain"
)

// Stats tracks queue counters. Every field is updated atomically so
// readers get a consistent snapshot without a global lock.
type Stats struct {
	totalEnqueued    atomic.Int64
	totalDequeued    atomic.Int64
	totalAcked       atomic.Int64
	totalNacked      atomic.Int64
	totalDeadLetter  atomic.Int64
	totalRateLimited atomic.Int64

	pending  [4]atomic.Int64 // indexed by Priority.Index()
	inFlight atomic.Int64
}

// StatsSnapshot is a consistent copy of the queue counters.
type StatsSnapshot struct {
	TotalEnqueued    int64                     `json:"total_enqueued"`
	TotalDequeued    int64                     `json:"total_dequeued"`
	TotalAcked       int64                     `json:"total_acked"`
	TotalNacked      int64                     `json:"total_nacked"`
	TotalDeadLetter  int64                     `json:"total_dead_letter"`
	TotalRateLimited int64                     `json:"total_rate_limited"`
	Pending          map[domain.Priority]int64 `json:"pending"`
	InFlight         int64                     `json:"in_flight"`
}

// RecordRateLimited counts a limiter rejection. Rejections never enter a
// sub-queue, so this is the only place they show up.
func (s *Stats) RecordRateLimited() {
	s.totalRateLimited.Add(1)
}

// Snapshot returns a consistent copy of all counters.
func (s *Stats) Snapshot() StatsSnapshot {
	snap := StatsSnapshot{
		TotalEnqueued:    s.totalEnqueued.Load(),
		TotalDequeued:    s.totalDequeued.Load(),
		TotalAcked:       s.totalAcked.Load(),
		TotalNacked:      s.totalNacked.Load(),
		TotalDeadLetter:  s.totalDeadLetter.Load(),
		TotalRateLimited: s.totalRateLimited.Load(),
		Pending:          make(map[domain.Priority]int64, len(domain.Priorities)),
		InFlight:         s.inFlight.Load(),
	}
	for _, p := range domain.Priorities {
		snap.Pending[p] = s.pending[p.Index()].Load()
	}
	return snap
}

// TotalPending returns the number of messages across all sub-queues.
func (s *StatsSnapshot) TotalPending() int64 {
	var total int64
	for _, n := range s.Pending {
		total += n
	}
	return total
}
