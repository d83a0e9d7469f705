package core

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	lru "github.com/hashicorp/golang-lru/v2"
)

// inflightRequest tracks one outstanding RequestData: the peers not yet
// tried, and the peer currently awaiting a response.
type inflightRequest struct {
	candidates []ethcommon.Address // remaining untried peers, rotated on timeout
	current    ethcommon.Address
}

// RequestTracker implements §4.3's discipline: de-dup identical in-flight
// requests, retry against a rotated candidate on timeout, and cancel once
// candidates are exhausted. In-flight entries live in an LRU so a node
// under heavy catch-up load cannot grow this map unboundedly; eviction of
// a still-pending request simply means it will be re-issued the next time
// the caller asks for it, which is safe (requests are idempotent, §4.1).
type RequestTracker struct {
	inflight *lru.Cache[RequestData, *inflightRequest]
}

// NewRequestTracker returns a tracker holding up to capacity in-flight
// requests, backed by github.com/hashicorp/golang-lru/v2 — a direct
// dependency of the teacher's go.mod, used here for the same kind of
// bounded de-dup cache the teacher keeps its message/value caches in.
func NewRequestTracker(capacity int) *RequestTracker {
	c, err := lru.New[RequestData, *inflightRequest](capacity)
	if err != nil {
		// Only returns an error for capacity <= 0, which is a caller bug.
		panic(err)
	}
	return &RequestTracker{inflight: c}
}

// Start begins tracking data if not already in flight, picking the first
// candidate to try. It returns (peer, true) when a new request should be
// sent, or (zero, false) if data is already in flight (§4.3 de-dup).
func (t *RequestTracker) Start(data RequestData, candidates []ethcommon.Address) (ethcommon.Address, bool) {
	if _, ok := t.inflight.Get(data); ok {
		return ethcommon.Address{}, false
	}
	if len(candidates) == 0 {
		return ethcommon.Address{}, false
	}
	req := &inflightRequest{candidates: candidates[1:], current: candidates[0]}
	t.inflight.Add(data, req)
	return req.current, true
}

// Retry rotates to the next candidate peer for data on timeout. It
// returns (peer, true) if another candidate remains, or (zero, false) if
// candidates are exhausted — the caller must cancel the request (§4.3).
func (t *RequestTracker) Retry(data RequestData) (ethcommon.Address, bool) {
	req, ok := t.inflight.Get(data)
	if !ok {
		return ethcommon.Address{}, false
	}
	if len(req.candidates) == 0 {
		t.inflight.Remove(data)
		return ethcommon.Address{}, false
	}
	req.current = req.candidates[0]
	req.candidates = req.candidates[1:]
	return req.current, true
}

// Satisfy marks data as complete, removing it from tracking (a validated
// response arrived, §4.3 "merge into the corresponding in-memory store").
func (t *RequestTracker) Satisfy(data RequestData) {
	t.inflight.Remove(data)
}

// InFlight reports whether data currently has an outstanding request.
func (t *RequestTracker) InFlight(data RequestData) bool {
	_, ok := t.inflight.Get(data)
	return ok
}
