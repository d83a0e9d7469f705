package core

import (
	"crypto/ecdsa"
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/sigma67/tendercore/external"
	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/peer"
	"github.com/sigma67/tendercore/service"
	"github.com/sigma67/tendercore/storage"
)

// lockTestBackend is a 4-validator-committee Backend whose Sign uses real
// ECDSA signing, unlike stubBackend's fake signatures in handler_test.go:
// this S5 test exercises castPrevote/castPrecommit's self-delivery path,
// which runs every message — including this node's own — through
// message.Verify, so a fake signature would be silently rejected.
type lockTestBackend struct {
	key       *ecdsa.PrivateKey
	self      ethcommon.Address
	committee Committee
}

func (b *lockTestBackend) Address() ethcommon.Address        { return b.self }
func (b *lockTestBackend) Sign(digest []byte) ([]byte, error) { return crypto.Sign(digest, b.key) }
func (b *lockTestBackend) Now() time.Time                    { return time.Now() }
func (b *lockTestBackend) Committee(Height) (Committee, error) { return b.committee, nil }
func (b *lockTestBackend) LastHeader() *message.Header        { return nil }
func (b *lockTestBackend) HeaderAt(Height) *message.Header    { return nil }
func (b *lockTestBackend) PrecommitsAt(Height) []*message.Signed { return nil }
func (b *lockTestBackend) TxHashesAt(Height) []ethcommon.Hash  { return nil }
func (b *lockTestBackend) SendTo(ethcommon.Address, *message.Signed) error { return nil }
func (b *lockTestBackend) Gossip(Committee, *message.Signed)               {}
func (b *lockTestBackend) Connect(ethcommon.Address) error                 { return nil }
func (b *lockTestBackend) Fork() storage.Fork                              { return nil }
func (b *lockTestBackend) Execute(storage.Fork, service.Transaction) service.ExecutionResult {
	return service.ExecutionResult{}
}
func (b *lockTestBackend) Commit(storage.Fork, *message.Header, []*message.Signed, []ethcommon.Hash) error {
	return nil
}
func (b *lockTestBackend) Mempool() TxSource                                       { return emptyTxSource{} }
func (b *lockTestBackend) PersistConsensusMessage(Height, *message.Signed) error    { return nil }
func (b *lockTestBackend) ConsensusMessagesCache(Height) []*message.Signed          { return nil }
func (b *lockTestBackend) PersistRound(Height, Round) error                        { return nil }

// emptyTxSource is a TxSource with no pending transactions; the propose
// bodies this test signs carry no tx hashes, so none of these methods are
// ever exercised beyond their zero return.
type emptyTxSource struct{}

func (emptyTxSource) OrderedHashes(int) []ethcommon.Hash                        { return nil }
func (emptyTxSource) Get(ethcommon.Hash) (service.Transaction, []byte, bool)    { return nil, nil, false }
func (emptyTxSource) Len() int                                                 { return 0 }
func (emptyTxSource) RemoveMany([]ethcommon.Hash)                              {}
func (emptyTxSource) Add([]byte) error                                        { return nil }
func (emptyTxSource) AddMany([][]byte) []error                                { return nil }

// TestHandlerReprevotesLockedValueOnRoundEntry exercises S5 (spec.md §8):
// a validator locked on P_locked at round r_lock, entering a later round
// r > r_lock with no propose yet seen for r, must re-prevote P_locked
// directly rather than waiting on — or voting nil for — round r's own
// propose.
func TestHandlerReprevotesLockedValueOnRoundEntry(t *testing.T) {
	keys := make([]*ecdsa.PrivateKey, 4)
	addrs := make([]ethcommon.Address, 4)
	for i := range keys {
		key, err := crypto.GenerateKey()
		require.NoError(t, err)
		keys[i] = key
		addrs[i] = crypto.PubkeyToAddress(key.PublicKey)
	}
	committee := Committee{Members: addrs}

	backend := &lockTestBackend{key: keys[0], self: addrs[0], committee: committee}
	network := make(chan peer.Inbound)
	apiCh := make(chan external.Message)
	h, err := NewHandler(backend, addrs[0], Config{
		T1:                 time.Second,
		DT:                 100 * time.Millisecond,
		ProposeTimeout:     time.Second,
		MessageCacheSize:   64,
		RequestTrackerSize: 64,
		MaxTxsPerPropose:   10,
	}, nil, network, apiCh)
	require.NoError(t, err)

	// Round 1: validator 1 (leader for (height 0, round 1) of 4) proposes;
	// self completes it immediately (no tx hashes to fetch) and reacts.
	propose1 := &message.Propose{Height: 0, Round: 1, ValidRound: -1}
	hash1 := propose1.Hash()
	signedPropose1, err := message.Sign(propose1, keys[1])
	require.NoError(t, err)
	h.process(signedPropose1, true)

	require.Equal(t, hash1, h.state.Prevotes.byAuthor[authorKey{round: 1, kind: kindPrevote, author: h.selfID}].Value,
		"self should have prevoted the round-1 propose")

	// Two more distinct validators prevote the same value, reaching
	// Quorum(4) = 3 together with self's own vote, which locks self on
	// hash1 at round 1 via tryExecuteAndPrecommit without yet reaching a
	// precommit quorum (only self's own precommit exists).
	for _, idx := range []int{1, 2} {
		body := &message.Prevote{Height: 0, Round: 1, ProposeHash: hash1, LockedRound: -1}
		signed, err := message.Sign(body, keys[idx])
		require.NoError(t, err)
		h.process(signed, true)
	}

	require.True(t, h.state.IsLocked(), "validator should be locked after its own precommit")
	require.Equal(t, hash1, h.state.LockedPropose)
	require.Equal(t, Round(1), h.state.LockedRound)
	require.Equal(t, StepPrevoteQuorum, h.state.Step)

	// Advance to round 2 with no round-2 propose delivered yet.
	h.enterRound(2)

	require.True(t, h.state.IsLocked(), "entering a new round must not silently clear the lock")
	require.Equal(t, StepProposeCollected, h.state.Step, "locked re-prevote must transition out of StepIdle")
	selfRound2Vote, ok := h.state.Prevotes.byAuthor[authorKey{round: 2, kind: kindPrevote, author: h.selfID}]
	require.True(t, ok, "self must have cast a round-2 prevote purely from entering the round")
	require.Equal(t, hash1, selfRound2Vote.Value, "the re-cast prevote must name the locked value, not a fresh one")

	// Now 3 other validators reach a prevote quorum at round 2 for a
	// different value this node never received a Propose for — evidence
	// strong enough to unlock per invariant 2, even without a competing
	// precommit ever forming.
	hash2 := ethcommon.BytesToHash([]byte("a different round-2 value"))
	for _, idx := range []int{1, 2, 3} {
		body := &message.Prevote{Height: 0, Round: 2, ProposeHash: hash2, LockedRound: -1}
		signed, err := message.Sign(body, keys[idx])
		require.NoError(t, err)
		h.process(signed, true)
	}

	require.False(t, h.state.IsLocked(), "a higher-round quorum for a different value must clear the lock")
}
