package mempool

import (
	"errors"
	"sort"
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/sigma67/tendercore/service"
)

// ErrPoolFull is returned by Add/AddMany when the pool is at capacity and
// the incoming transaction does not displace an existing one (§4.5: the
// pool is bounded; over-capacity admission is simply refused rather than
// evicting by some priority this spec does not define).
var ErrPoolFull = errors.New("mempool: pool is full")

// pooledTx is one admitted transaction: its decoded form, ready for
// execution, and the raw envelope bytes it arrived in, ready for
// retransmission.
type pooledTx struct {
	tx  service.Transaction
	raw []byte
}

// Pool is the transaction pool and admission pipeline of §4.5, grounded
// on the teacher's TxPool structure (core/tx_pool.go) but narrowed to
// exactly the operations §4.1/§4.6 need from it via core.TxSource.
type Pool struct {
	mu       sync.RWMutex
	registry *service.Registry
	items    map[ethcommon.Hash]*pooledTx
	capacity int

	verifier *Verifier
}

// NewPool builds a pool bounded at capacity, admitting transactions for
// any service registered in registry, offloading signature verification
// to a Verifier with concurrency workers.
func NewPool(registry *service.Registry, capacity, concurrency int) *Pool {
	return &Pool{
		registry: registry,
		items:    make(map[ethcommon.Hash]*pooledTx),
		capacity: capacity,
		verifier: NewVerifier(concurrency),
	}
}

// admit runs §4.5 steps 1-5 on raw and, if every step succeeds, returns
// the pooledTx ready for insertion without yet taking the pool lock —
// letting AddMany run this part of the pipeline fully in parallel.
func (p *Pool) admit(raw []byte) (ethcommon.Hash, *pooledTx, error) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		return ethcommon.Hash{}, nil, err
	}
	if err := p.verifier.Verify(env); err != nil {
		return ethcommon.Hash{}, nil, err
	}
	tx, err := p.registry.Decode(env.ServiceID, env.Body)
	if err != nil {
		return ethcommon.Hash{}, nil, err
	}
	svc, err := p.registry.Lookup(env.ServiceID)
	if err != nil {
		return ethcommon.Hash{}, nil, err
	}
	if err := svc.Validate(tx); err != nil {
		return ethcommon.Hash{}, nil, err
	}
	return tx.Hash(), &pooledTx{tx: tx, raw: raw}, nil
}

// insert takes the pool lock to perform the dedup check and store. It is
// split from admit so AddMany can run the expensive part of the pipeline
// (decode/verify/validate) concurrently and only briefly serialize here.
func (p *Pool) insert(hash ethcommon.Hash, pt *pooledTx) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.items[hash]; exists {
		return nil // idempotent replay, §4.5
	}
	if len(p.items) >= p.capacity {
		return ErrPoolFull
	}
	p.items[hash] = pt
	return nil
}

// Add runs the full admission pipeline on one transaction (§4.5 path (a)
// client submission, path (b) peer gossip).
func (p *Pool) Add(raw []byte) error {
	hash, pt, err := p.admit(raw)
	if err != nil {
		return err
	}
	return p.insert(hash, pt)
}

// AddMany runs the admission pipeline over a batch, decoding and
// verifying concurrently (bounded by the Verifier's worker pool) before
// serializing the insert step (§9 "bounded worker pool... offloaded to a
// pool of worker goroutines").
func (p *Pool) AddMany(raws [][]byte) []error {
	errs := make([]error, len(raws))
	hashes := make([]ethcommon.Hash, len(raws))
	pts := make([]*pooledTx, len(raws))

	// admit() itself blocks on the Verifier's semaphore, so the group can
	// fan out one goroutine per transaction without ever running more
	// than the verifier's configured concurrency at once.
	var g errgroup.Group
	for i, raw := range raws {
		i, raw := i, raw
		g.Go(func() error {
			hash, pt, err := p.admit(raw)
			if err != nil {
				errs[i] = err
				return nil
			}
			hashes[i] = hash
			pts[i] = pt
			return nil
		})
	}
	_ = g.Wait() // admit() never returns a non-nil error from the goroutine itself

	for i := range raws {
		if errs[i] != nil || pts[i] == nil {
			continue
		}
		errs[i] = p.insert(hashes[i], pts[i])
	}
	return errs
}

// OrderedHashes returns up to limit pooled hashes in ascending order
// (§4.1 "deterministic order: by tx hash ascending").
func (p *Pool) OrderedHashes(limit int) []ethcommon.Hash {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]ethcommon.Hash, 0, len(p.items))
	for h := range p.items {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Hex() < out[j].Hex() })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns the decoded transaction and its raw wire bytes for hash.
func (p *Pool) Get(hash ethcommon.Hash) (service.Transaction, []byte, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	pt, ok := p.items[hash]
	if !ok {
		return nil, nil, false
	}
	return pt.tx, pt.raw, true
}

// Len reports the current pool size.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.items)
}

// RemoveMany drops hashes from the pool, e.g. at commit time (§4.6).
func (p *Pool) RemoveMany(hashes []ethcommon.Hash) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range hashes {
		delete(p.items, h)
	}
}
