package core

import (
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/sigma67/tendercore/message"
)

// execute speculatively runs entry's transaction list against a fresh
// fork (§4.6). The fork is cached on entry so a later precommit-quorum
// Commit reuses the exact overlay that produced the recorded roots,
// instead of re-executing.
//
// TxRoot/ResultsRoot/StateHash are computed here as deterministic
// fingerprints over the transaction hash list and per-tx outcomes. A
// generic Merkle root over the evolving world state itself is an
// implementation detail of the concrete Store (leveldb can expose one via
// its own key iteration); storage.Fork deliberately does not expose
// enumeration at the core boundary, so core computes the weaker but still
// deterministic and equivocation-detecting fingerprint described here.
func (h *Handler) execute(entry *ProposeEntry) (*ExecResult, error) {
	fork := h.backend.Fork()
	pool := h.backend.Mempool()

	results := make([]TxResult, 0, len(entry.Propose.TxHashes))
	for _, txHash := range entry.Propose.TxHashes {
		tx, _, ok := pool.Get(txHash)
		if !ok {
			return nil, fmt.Errorf("core: tx %s missing from pool at execution time", txHash)
		}
		result := h.backend.Execute(fork, tx)
		results = append(results, TxResult{Hash: txHash, Err: result.Err})
	}

	txRoot := hashList(entry.Propose.TxHashes)
	resultsRoot := hashResults(results)
	stateHash := ethcommon.BytesToHash(crypto.Keccak256(append(append([]byte{}, txRoot.Bytes()...), resultsRoot.Bytes()...)))

	entry.Fork = fork
	return &ExecResult{StateHash: stateHash, TxRoot: txRoot, ResultsRoot: resultsRoot, TxResults: results}, nil
}

func hashList(hashes []ethcommon.Hash) ethcommon.Hash {
	enc, err := rlp.EncodeToBytes(hashes)
	if err != nil {
		panic(err)
	}
	return ethcommon.BytesToHash(crypto.Keccak256(enc))
}

func hashResults(results []TxResult) ethcommon.Hash {
	flags := make([]bool, len(results))
	for i, r := range results {
		flags[i] = r.Err == nil
	}
	enc, err := rlp.EncodeToBytes(flags)
	if err != nil {
		panic(err)
	}
	return ethcommon.BytesToHash(crypto.Keccak256(enc))
}

// tryExecuteAndPrecommit implements §4.1's "Precommit rule": once a value
// has reached prevote quorum at round, this validator executes it (if not
// already executed), locks on it, and casts its precommit.
func (h *Handler) tryExecuteAndPrecommit(round Round, entry *ProposeEntry) {
	if h.state.Step == StepCommitted {
		return
	}
	if entry.Result == nil {
		result, err := h.execute(entry)
		if err != nil {
			h.log.Debug("deferring precommit: execution inputs incomplete", "err", err)
			return
		}
		entry.Result = result
		entry.Header = &message.Header{
			PrevHash:  entry.Propose.PrevHash,
			Height:    entry.Propose.Height,
			Proposer:  h.proposerID(entry),
			NumTxs:    uint32(len(entry.Propose.TxHashes)),
			StateHash: result.StateHash,
			TxHash:    result.TxRoot,
			Extra:     map[string][]byte{"resultsRoot": result.ResultsRoot.Bytes()},
		}
	}

	h.state.Step = StepPrevoteQuorum
	h.state.Lock(entry.Propose.Hash(), round)
	h.castPrecommit(round, entry.Propose.Hash(), entry.Header.Hash())
}

func (h *Handler) proposerID(entry *ProposeEntry) ValidatorId {
	id, _ := h.committee.IndexOf(entry.Signed.Author)
	return id
}

// commit implements §4.1's "Commit": once a precommit quorum names a
// value this validator has already executed, the fork is merged, the
// block is persisted, and the per-height State is replaced (§4.7).
func (h *Handler) commit(round Round, entry *ProposeEntry) {
	if h.state.Step == StepCommitted {
		return
	}
	if entry.Fork == nil || entry.Header == nil {
		h.log.Error("commit called without a cached execution result")
		return
	}

	precommits := h.collectJustifyingPrecommits(round, entry.Propose.Hash())
	if err := h.backend.Commit(entry.Fork, entry.Header, precommits, entry.Propose.TxHashes); err != nil {
		h.log.Error("commit failed", "height", h.state.Height, "err", err)
		return
	}

	h.backend.Mempool().RemoveMany(entry.Propose.TxHashes)
	h.state.Step = StepCommitted
	h.advanceHeight()
}

// collectJustifyingPrecommits gathers the quorum of precommits that
// justify the commit, for inclusion in the persisted block (§4.6
// "Committing").
func (h *Handler) collectJustifyingPrecommits(round Round, proposeHash ethcommon.Hash) []*message.Signed {
	vk := voteKey{round: round, kind: kindPrecommit, value: proposeHash}
	var out []*message.Signed
	for _, sv := range h.state.Precommits.byValue[vk] {
		if m, ok := sv.Envelope.(*message.Signed); ok {
			out = append(out, m)
		}
	}
	return out
}

// advanceHeight installs a fresh per-height State at Height+1 (§3: "A
// fresh State replaces the previous one on every commit") and resolves
// the (possibly changed) committee for it, since configuration is
// sampled from committed state at each height.
func (h *Handler) advanceHeight() {
	next := h.state.Height.Next()
	committee, err := h.backend.Committee(next)
	if err != nil {
		h.log.Error("resolve committee for next height", "height", next, "err", err)
		return
	}
	h.committee = committee
	h.selfID, h.isValidator = committee.IndexOf(h.self)
	h.state = NewState(next, committee.Size(), h.backend.Now())
	_ = h.backend.PersistRound(next, 1)

	h.armRoundTimeout()
	h.maybePropose()
}

// catchUpCommit installs a block received wholesale from a peer (§4.1
// "message for a future height" catch-up path), bypassing local
// execution: the peer-supplied precommit quorum is the evidence, and the
// header is taken as already agreed.
func (h *Handler) catchUpCommit(resp *message.BlockResponse) {
	fork := h.backend.Fork()
	if err := h.backend.Commit(fork, resp.Block.Header, resp.Precommits, resp.Block.TxHashes); err != nil {
		h.log.Error("catch-up commit failed", "err", err)
		return
	}
	h.backend.Mempool().RemoveMany(resp.Block.TxHashes)
	h.advanceHeight()
}
