package core

import (
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/service"
	"github.com/sigma67/tendercore/storage"
)

// TxSource is the handler's narrow view of the transaction pool (§4.5/4.6):
// enough to pick a deterministic set of hashes for a Propose and fetch
// bodies for execution, without the core depending on mempool's concrete
// type (§9 "dynamic dispatch ... handler itself is monomorphic over
// these").
type TxSource interface {
	// OrderedHashes returns up to limit pool tx hashes in ascending hash
	// order (§4.1 "deterministic order: by tx hash ascending"); limit <= 0
	// returns every pooled hash.
	OrderedHashes(limit int) []ethcommon.Hash
	// Get returns the decoded transaction for hash together with its raw
	// wire bytes (envelope: service id, body, signer, signature), if
	// pooled. raw is what gets re-sent to peers; it is not the same as
	// tx.SignedBytes(), which is scoped to the service-defined body only.
	Get(hash ethcommon.Hash) (tx service.Transaction, raw []byte, ok bool)
	// Len reports pending transaction pressure for §4.4's propose-timeout
	// threshold check.
	Len() int
	// RemoveMany drops hashes from the pool at commit time (§4.6).
	RemoveMany(hashes []ethcommon.Hash)
	// Add runs the admission pipeline (§4.5 steps 1-5: signature
	// verification, service decode, dedup, static validation, insert) on
	// raw signed transaction bytes submitted locally or received from a
	// peer. The handler only broadcasts on a nil return.
	Add(raw []byte) error
	// AddMany runs the admission pipeline over a batch concurrently
	// (§4.5, §9 "bounded worker pool"), returning one error per input in
	// the same order — nil where admission succeeded.
	AddMany(raws [][]byte) []error
}

// Backend is the capability bag the handler is built against: peer
// transport, storage, the transaction pool, and the node's own identity
// and clock. It mirrors the teacher's core.Backend interface
// (consensus/tendermint/core/backend_mock.go) generalized from
// go-ethereum specifics to the capabilities SPEC_FULL.md names in §6.
type Backend interface {
	// Address is this node's own consensus address.
	Address() ethcommon.Address
	// Sign signs digest with the node's consensus key.
	Sign(digest []byte) ([]byte, error)
	// Now returns the current wall-clock time (system-state provider,
	// §9 "SystemStateProvider").
	Now() time.Time

	// Committee returns the validator list effective at height, sampled
	// from committed state (§3).
	Committee(height Height) (Committee, error)
	// LastHeader returns the most recently committed block header.
	LastHeader() *message.Header
	// HeaderAt returns the committed header at height, or nil if this
	// node never committed (or has pruned) it (§4.3 BlockRequest serving).
	HeaderAt(height Height) *message.Header
	// PrecommitsAt returns the justifying precommit quorum persisted
	// alongside the header at height, or nil (§4.3/§4.6).
	PrecommitsAt(height Height) []*message.Signed
	// TxHashesAt returns the ordered transaction hash list of the block
	// committed at height, or nil (§4.3 BlockRequest serving).
	TxHashesAt(height Height) []ethcommon.Hash

	// SendTo delivers msg to a single peer.
	SendTo(peer ethcommon.Address, msg *message.Signed) error
	// Gossip broadcasts msg to every member of committee except self.
	Gossip(committee Committee, msg *message.Signed)
	// Connect asks the transport to dial peer.
	Connect(peer ethcommon.Address) error

	// Fork returns a fresh writable overlay over committed state for
	// speculative execution (§4.6).
	Fork() storage.Fork
	// Execute runs tx against fork through the registered Service,
	// adapting the storage.Fork boundary to the service-scoped
	// service.Fork view and recovering a panicking Execute into a failed
	// ExecutionResult. The handler records that result like any other
	// failed transaction; a panic does not abort the block.
	Execute(fork storage.Fork, tx service.Transaction) service.ExecutionResult
	// Commit atomically merges fork, the block header, its justifying
	// precommits, and the block's ordered transaction hash list (§4.6
	// "Committing"), and clears the consensus-messages cache for the
	// committed height (§4.7). precommits/txHashes are later served back
	// out via PrecommitsAt/TxHashesAt/HeaderAt for catch-up (§4.3).
	Commit(fork storage.Fork, header *message.Header, precommits []*message.Signed, txHashes []ethcommon.Hash) error

	// Mempool is the node's transaction pool view.
	Mempool() TxSource

	// PersistConsensusMessage appends msg to the consensus-messages
	// cache for height, flushed atomically with persistence (§4.7).
	PersistConsensusMessage(height Height, msg *message.Signed) error
	// ConsensusMessagesCache returns the cached messages for height, used
	// to replay on restart (§4.7 step 3).
	ConsensusMessagesCache(height Height) []*message.Signed
	// PersistRound records round for height. The handler calls it only
	// when a new height begins, with round 1. No Backend method reads it
	// back, and NewHandler starts every height at round 1.
	PersistRound(height Height, round Round) error
}
