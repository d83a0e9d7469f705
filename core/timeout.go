package core

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/prque"
)

// TimeoutKind identifies one of the six timeout classes of §4.4.
type TimeoutKind uint8

const (
	TimeoutRound TimeoutKind = iota
	TimeoutPropose
	TimeoutStatus
	TimeoutRequest
	TimeoutPeerExchange
	TimeoutUpdateAPIState
)

// NodeTimeout is a scheduled future event (§4.4): "(deadline, NodeTimeout)
// tuple enqueued on a min-heap keyed by deadline". Height/Round/Request are
// populated according to Kind; fields unused by a given Kind are zero.
type NodeTimeout struct {
	Kind    TimeoutKind
	Height  Height
	Round   Round
	Request RequestData // only for TimeoutRequest
	Deadline time.Time
}

// Scheduler is the timeout min-heap of §4.4, backed by
// github.com/ethereum/go-ethereum/common/prque — the same priority queue
// the teacher's upstream go-ethereum uses for its downloader/fetcher
// deadline scheduling, grounded here for exactly that purpose instead of a
// hand-rolled container/heap type.
type Scheduler struct {
	mu sync.Mutex
	pq *prque.Prque
}

// NewScheduler returns an empty timeout scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{pq: prque.New(nil)}
}

// Schedule enqueues t, to fire no earlier than t.Deadline. prque is a
// max-heap over int64 priorities, so the deadline is negated to recover
// min-heap (earliest-first) ordering.
func (s *Scheduler) Schedule(t NodeTimeout) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pq.Push(t, -t.Deadline.UnixNano())
}

// Ready pops and returns every timeout whose deadline is <= now, in
// deadline order.
func (s *Scheduler) Ready(now time.Time) []NodeTimeout {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []NodeTimeout
	for !s.pq.Empty() {
		v, priority := s.pq.Peek()
		deadline := time.Unix(0, -priority)
		if deadline.After(now) {
			break
		}
		s.pq.Pop()
		due = append(due, v.(NodeTimeout))
	}
	return due
}

// NextDeadline returns the earliest pending deadline, if any, so the
// caller's select can size its timer.
func (s *Scheduler) NextDeadline() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pq.Empty() {
		return time.Time{}, false
	}
	_, priority := s.pq.Peek()
	return time.Unix(0, -priority), true
}

// Run is the scheduler's own goroutine (§5 "an internal-timer task owns
// the timeout min-heap and emits NodeTimeout events"): it sleeps until the
// earliest pending deadline, then pushes every timeout that has come due
// onto out, in deadline order. It returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, out chan<- NodeTimeout) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		wait := time.Hour
		if deadline, ok := s.NextDeadline(); ok {
			if d := time.Until(deadline); d > 0 {
				wait = d
			} else {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-timer.C:
			for _, t := range s.Ready(time.Now()) {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// RoundDuration implements §4.4's quadratic round-timeout growth:
// t(r) = t1*(r-1) + dt*(r-1)(r-2)/2, measured from height_start_time. r is
// 1-indexed per §3 ("Round ... starting at 1").
func RoundDuration(r Round, t1, dt time.Duration) time.Duration {
	if r < 1 {
		r = 1
	}
	n := int64(r - 1)
	linear := time.Duration(n) * t1
	quad := time.Duration(n*(n-1)/2) * dt
	return linear + quad
}
