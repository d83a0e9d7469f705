package core

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	tcommon "github.com/sigma67/tendercore/common"
	"github.com/sigma67/tendercore/message"
)

// maybePropose implements §4.1's "Leader duty": if this validator is the
// leader for the current (height, round) and has not yet proposed this
// round, it nominates a value, signs it, self-delivers it through the
// normal handling path, and gossips it.
//
// Per the Tendermint-style proposer rule, a leader holding valid-round
// evidence (ValidRound/ValidValue) must re-propose that exact value
// rather than nominate a fresh one (§4.1 invariant 2's liveness
// counterpart: once something could have locked in, the protocol keeps
// offering it until it actually commits or is provably abandoned).
func (h *Handler) maybePropose() {
	if !h.isValidator || !h.enabled || h.state.Step != StepIdle {
		return
	}
	if tcommon.Leader(h.state.Height, h.state.Round, h.committee.Size()) != h.selfID {
		return
	}
	for _, entry := range h.state.Proposes {
		if entry.Propose.Round == h.state.Round && entry.Signed.Author == h.self {
			return // already proposed this round
		}
	}

	var txHashes []ethcommon.Hash
	validRound := Round(-1)
	if h.state.ValidRound >= 0 {
		if prior, ok := h.state.Proposes[h.state.ValidValue]; ok {
			txHashes = prior.Propose.TxHashes
			validRound = h.state.ValidRound
		}
	}
	if txHashes == nil {
		txHashes = h.backend.Mempool().OrderedHashes(h.cfg.MaxTxsPerPropose)
	}

	propose := &message.Propose{
		Height:     h.state.Height,
		Round:      h.state.Round,
		PrevHash:   h.lastHash(),
		ValidRound: validRound,
		TxHashes:   txHashes,
	}
	signed, err := h.signBody(propose)
	if err != nil {
		h.log.Error("sign propose", "err", err)
		return
	}
	h.process(signed, true)
	h.backend.Gossip(h.committee, signed)
}

// handlePropose stores an incoming Propose (indexed by hash regardless of
// round, since a round-(r+k) propose may still matter for catch-up), pulls
// any referenced transactions this node has not seen, and — if it is a
// proposal for the current round and this validator has not yet reacted
// to one — applies the prevote rule.
func (h *Handler) handlePropose(m *message.Signed, p *message.Propose, persist bool) {
	if !h.routeHeight(p.Height) {
		return
	}
	leader := tcommon.Leader(h.state.Height, p.Round, h.committee.Size())
	authorID, ok := h.committee.IndexOf(m.Author)
	if !ok || authorID != leader {
		h.log.Debug("dropping propose from non-leader", "from", m.Author, "round", p.Round)
		return
	}

	hash := p.Hash()
	entry, exists := h.state.Proposes[hash]
	if !exists {
		unknown := make(map[ethcommon.Hash]struct{})
		pool := h.backend.Mempool()
		for _, txHash := range p.TxHashes {
			if _, _, known := pool.Get(txHash); !known {
				unknown[txHash] = struct{}{}
			}
		}
		entry = &ProposeEntry{Signed: m, Propose: p, UnknownTxs: unknown}
		h.state.Proposes[hash] = entry
	}
	if persist {
		_ = h.backend.PersistConsensusMessage(p.Height, m)
	}

	if !entry.Complete() {
		h.requestTransactions(entry)
		return
	}
	h.maybePrevote(h.state.Round)
}

// maybePrevote applies §4.1's "Prevote rule" for round, in its full
// priority order:
//
//  1. If this validator is locked on some P_locked at an earlier round,
//     it re-casts that exact locked value, unconditionally — whatever
//     Propose (if any) just arrived for round does not matter.
//  2. Otherwise, if a complete Propose for round is known, accept it
//     (prevote its hash) unless locked on a different value with no
//     qualifying valid-round evidence, in which case prevote nil.
//  3. Otherwise nothing happens here; TimeoutPropose's nil-vote (§4.4)
//     is the fallback once the round's propose window lapses.
//
// Step transitions to StepProposeCollected as soon as either priority
// fires, so a stale Propose arriving later this round cannot trigger a
// second, conflicting prevote call.
func (h *Handler) maybePrevote(round Round) {
	if h.state.Step != StepIdle || round != h.state.Round {
		return
	}
	if h.state.IsLocked() && h.state.LockedRound < round {
		h.state.Step = StepProposeCollected
		h.castPrevote(round, h.state.LockedPropose)
		return
	}
	for hash, entry := range h.state.Proposes {
		if entry.Propose.Round != round || !entry.Complete() {
			continue
		}
		accept := !h.state.IsLocked() ||
			h.state.LockedPropose == hash ||
			(entry.Propose.ValidRound >= 0 && entry.Propose.ValidRound >= h.state.LockedRound)

		h.state.Step = StepProposeCollected
		if accept {
			h.castPrevote(round, hash)
		} else {
			h.castPrevote(round, message.NilHash)
		}
		return
	}
}

func (h *Handler) requestTransactions(entry *ProposeEntry) {
	hashes := make([]ethcommon.Hash, 0, len(entry.UnknownTxs))
	for hash := range entry.UnknownTxs {
		hashes = append(hashes, hash)
	}
	entry.RequestedTxs = hashes
	data := message.TransactionsRequestData(hashes)
	if h.requests.InFlight(data) {
		return
	}
	candidates := h.candidatePeers(entry.Signed.Author)
	peerAddr, started := h.requests.Start(data, candidates)
	if !started {
		return
	}
	h.sendBody(peerAddr, &message.TransactionsRequest{Hashes: hashes})
	h.scheduler.Schedule(NodeTimeout{Kind: TimeoutRequest, Request: data, Deadline: h.backend.Now().Add(data.Timeout(h.cfg.Requests))})
}
