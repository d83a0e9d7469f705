package node

import (
	"crypto/ecdsa"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/sigma67/tendercore/core"
	"github.com/sigma67/tendercore/mempool"
	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/peer"
	"github.com/sigma67/tendercore/service"
	"github.com/sigma67/tendercore/storage"
)

// headKey/headerKeyFor/messagesKeyFor/roundKeyFor lay out the fixed key
// scheme backend uses on top of the opaque storage.Store, the same way
// the teacher's ethdb schema (core/rawdb) reserves fixed prefixes for
// headers, bodies and the chain head pointer over a raw key/value engine.
var headKey = []byte("head")

func headerKeyFor(height core.Height) []byte {
	return append([]byte("h:"), encodeHeight(height)...)
}

func messagesKeyFor(height core.Height) []byte {
	return append([]byte("m:"), encodeHeight(height)...)
}

func roundKeyFor(height core.Height) []byte {
	return append([]byte("r:"), encodeHeight(height)...)
}

// precommitsKeyFor/txHashesKeyFor persist the evidence a committed block
// needs to be re-served for catch-up (§4.3/§4.6 invariant 3): the
// precommit quorum that justified the commit, and the ordered tx hash
// list the header's TxHash root was computed over.
func precommitsKeyFor(height core.Height) []byte {
	return append([]byte("p:"), encodeHeight(height)...)
}

func txHashesKeyFor(height core.Height) []byte {
	return append([]byte("t:"), encodeHeight(height)...)
}

func encodeHeight(height core.Height) []byte {
	enc, err := rlp.EncodeToBytes(uint64(height))
	if err != nil {
		panic(err)
	}
	return enc
}

// backend is the single production-shaped core.Backend implementation:
// it owns the node's consensus key, the versioned store, the mempool, the
// service registry used for Execute, and the peer transport. It is
// grounded on the teacher's consensus/tendermint/backend package, which
// plays the identical role of gluing go-ethereum's BlockChain/TxPool/p2p
// stack to the tendermint core through the same narrow interface.
type backend struct {
	key  *ecdsa.PrivateKey
	addr ethcommon.Address

	store    storage.Store
	registry *service.Registry
	pool     *mempool.Pool
	channel  peer.Channel

	mu       sync.RWMutex
	watcher  *committeeSource
	lastHead *message.Header

	genesisCommittee core.Committee
}

// committeeSource lets backend.Committee be swapped for a validators.Watcher
// once one is wired up by the embedder (§3 "sampled from committed state");
// until then backend falls back to the fixed genesis committee, which is
// correct for any chain that never changes its validator set.
type committeeSource interface {
	Current() (core.Committee, core.Height)
}

// newBackend builds a backend over an already-open store. genesisCommittee
// is used for every height until a committeeSource is attached via
// SetCommitteeSource.
func newBackend(key *ecdsa.PrivateKey, store storage.Store, registry *service.Registry, pool *mempool.Pool, channel peer.Channel, genesisCommittee core.Committee) *backend {
	return &backend{
		key:              key,
		addr:             crypto.PubkeyToAddress(key.PublicKey),
		store:            store,
		registry:         registry,
		pool:             pool,
		channel:          channel,
		genesisCommittee: genesisCommittee,
	}
}

// SetCommitteeSource attaches a live committee watcher, letting the
// backend answer Committee from the most recently observed commit instead
// of the static genesis list.
func (b *backend) SetCommitteeSource(w committeeSource) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.watcher = w
}

func (b *backend) Address() ethcommon.Address { return b.addr }

func (b *backend) Sign(digest []byte) ([]byte, error) {
	return crypto.Sign(digest, b.key)
}

func (b *backend) Now() time.Time { return time.Now() }

func (b *backend) Committee(height core.Height) (core.Committee, error) {
	b.mu.RLock()
	w := b.watcher
	b.mu.RUnlock()
	if w == nil {
		return b.genesisCommittee, nil
	}
	committee, _ := w.Current()
	if len(committee.Members) == 0 {
		return b.genesisCommittee, nil
	}
	return committee, nil
}

func (b *backend) LastHeader() *message.Header {
	b.mu.RLock()
	if b.lastHead != nil {
		defer b.mu.RUnlock()
		return b.lastHead
	}
	b.mu.RUnlock()

	snap := b.store.Snapshot()
	defer snap.Release()
	raw, ok := snap.Get(headKey)
	if !ok {
		return nil
	}
	var height uint64
	if err := rlp.DecodeBytes(raw, &height); err != nil {
		return nil
	}
	return b.headerAt(snap, core.Height(height))
}

func (b *backend) headerAt(snap storage.Snapshot, height core.Height) *message.Header {
	raw, ok := snap.Get(headerKeyFor(height))
	if !ok {
		return nil
	}
	var h message.Header
	if err := rlp.DecodeBytes(raw, &h); err != nil {
		return nil
	}
	return &h
}

// HeaderAt exposes headerAt on the Backend interface (§4.3 BlockRequest
// serving), opening its own snapshot rather than reusing the cached
// lastHead fast path LastHeader takes.
func (b *backend) HeaderAt(height core.Height) *message.Header {
	snap := b.store.Snapshot()
	defer snap.Release()
	return b.headerAt(snap, height)
}

// PrecommitsAt returns the precommit quorum persisted at commit time for
// height, or nil if this node never committed (or has pruned) it.
func (b *backend) PrecommitsAt(height core.Height) []*message.Signed {
	snap := b.store.Snapshot()
	defer snap.Release()
	raw, ok := snap.Get(precommitsKeyFor(height))
	if !ok {
		return nil
	}
	var precommits []*message.Signed
	if err := rlp.DecodeBytes(raw, &precommits); err != nil {
		return nil
	}
	return precommits
}

// TxHashesAt returns the ordered transaction hash list persisted at
// commit time for height, or nil.
func (b *backend) TxHashesAt(height core.Height) []ethcommon.Hash {
	snap := b.store.Snapshot()
	defer snap.Release()
	raw, ok := snap.Get(txHashesKeyFor(height))
	if !ok {
		return nil
	}
	var hashes []ethcommon.Hash
	if err := rlp.DecodeBytes(raw, &hashes); err != nil {
		return nil
	}
	return hashes
}

func (b *backend) SendTo(p ethcommon.Address, msg *message.Signed) error {
	return b.channel.Send(p, msg)
}

func (b *backend) Gossip(committee core.Committee, msg *message.Signed) {
	for _, member := range committee.Members {
		if member == b.addr {
			continue
		}
		_ = b.channel.Send(member, msg)
	}
}

func (b *backend) Connect(p ethcommon.Address) error {
	return b.channel.Connect(p)
}

func (b *backend) Fork() storage.Fork { return b.store.Fork() }

// Execute adapts the storage.Fork boundary to the service-scoped
// service.Fork view and recovers a panicking Service.Execute into a
// failed ExecutionResult. The core records that result like any other
// failed transaction; a panic does not abort the block.
func (b *backend) Execute(fork storage.Fork, tx service.Transaction) (result service.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			result = service.ExecutionResult{OK: false, Err: fmt.Errorf("service: execute panicked: %v", r)}
		}
	}()
	svc, err := b.registry.Lookup(tx.ServiceID())
	if err != nil {
		return service.ExecutionResult{OK: false, Err: err}
	}
	return svc.Execute(forkAdapter{fork}, tx)
}

// forkAdapter satisfies service.Fork over a storage.Fork; both share the
// same three-method shape by construction (§6 keeps them structurally
// identical so no field-level translation is needed, only the type
// boundary service intentionally holds between itself and storage).
type forkAdapter struct{ storage.Fork }

func (b *backend) Commit(fork storage.Fork, header *message.Header, precommits []*message.Signed, txHashes []ethcommon.Hash) error {
	if err := b.store.Merge(fork); err != nil {
		return fmt.Errorf("node: merge committed fork: %w", err)
	}

	enc, err := rlp.EncodeToBytes(header)
	if err != nil {
		return fmt.Errorf("node: encode header: %w", err)
	}
	precommitsEnc, err := rlp.EncodeToBytes(precommits)
	if err != nil {
		return fmt.Errorf("node: encode precommits: %w", err)
	}
	txHashesEnc, err := rlp.EncodeToBytes(txHashes)
	if err != nil {
		return fmt.Errorf("node: encode tx hashes: %w", err)
	}

	commitFork := b.store.Fork()
	commitFork.Put(headerKeyFor(header.Height), enc)
	commitFork.Put(precommitsKeyFor(header.Height), precommitsEnc)
	commitFork.Put(txHashesKeyFor(header.Height), txHashesEnc)
	heightEnc := encodeHeight(header.Height)
	commitFork.Put(headKey, heightEnc)
	commitFork.Delete(messagesKeyFor(header.Height))
	commitFork.Delete(roundKeyFor(header.Height))
	if err := b.store.Merge(commitFork); err != nil {
		return fmt.Errorf("node: persist committed header: %w", err)
	}

	b.mu.Lock()
	b.lastHead = header
	b.mu.Unlock()
	return nil
}

func (b *backend) Mempool() core.TxSource { return b.pool }

func (b *backend) PersistConsensusMessage(height core.Height, msg *message.Signed) error {
	snap := b.store.Snapshot()
	var msgs []*message.Signed
	if raw, ok := snap.Get(messagesKeyFor(height)); ok {
		_ = rlp.DecodeBytes(raw, &msgs)
	}
	snap.Release()

	msgs = append(msgs, msg)
	enc, err := rlp.EncodeToBytes(msgs)
	if err != nil {
		return fmt.Errorf("node: encode consensus message cache: %w", err)
	}
	f := b.store.Fork()
	f.Put(messagesKeyFor(height), enc)
	return b.store.Merge(f)
}

func (b *backend) ConsensusMessagesCache(height core.Height) []*message.Signed {
	snap := b.store.Snapshot()
	defer snap.Release()
	raw, ok := snap.Get(messagesKeyFor(height))
	if !ok {
		return nil
	}
	var msgs []*message.Signed
	if err := rlp.DecodeBytes(raw, &msgs); err != nil {
		return nil
	}
	return msgs
}

func (b *backend) PersistRound(height core.Height, round core.Round) error {
	enc, err := rlp.EncodeToBytes(uint64(round))
	if err != nil {
		return fmt.Errorf("node: encode persisted round: %w", err)
	}
	f := b.store.Fork()
	f.Put(roundKeyFor(height), enc)
	return b.store.Merge(f)
}
