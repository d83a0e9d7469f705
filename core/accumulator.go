// Package core implements the consensus state machine (§4.1), the vote
// accumulator (§4.2), the request/response subsystem (§4.3), and the
// timeout scheduler (§4.4) described in SPEC_FULL.md. It is grounded on
// the teacher's consensus/tendermint/core/{handler,msg_store}.go.
package core

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	tcommon "github.com/sigma67/tendercore/common"
)

// voteKind distinguishes Prevote from Precommit in the accumulator.
type voteKind uint8

const (
	kindPrevote voteKind = iota
	kindPrecommit
)

type voteKey struct {
	round tcommon.Round
	kind  voteKind
	value ethcommon.Hash
}

type authorKey struct {
	round  tcommon.Round
	kind   voteKind
	author tcommon.ValidatorId
}

// Equivocation is raised when the same validator signs two distinct votes
// for the same (round, kind) — the byzantine-indicative case of §7 and
// invariant 1 of §3. It is the evidence payload consumed by the
// accountability package.
type Equivocation struct {
	Round   tcommon.Round
	Kind    string
	Author  tcommon.ValidatorId
	First   *SignedVote
	Second  *SignedVote
}

// SignedVote is a vote observed by the accumulator together with the
// validator that cast it (resolved from the committee, not the raw
// address, so accumulation is keyed by a small int).
type SignedVote struct {
	Author tcommon.ValidatorId
	Round  tcommon.Round
	Value  ethcommon.Hash // propose-hash for Prevote, block-hash companion tracked separately for Precommit
	Envelope interface{}  // the *message.Signed that produced this vote, kept opaque to avoid an import cycle
}

// Accumulator deduplicates votes by (author, round, kind, value) and
// reports first-reach-of-quorum per (round, value), per §4.2.
type Accumulator struct {
	n int // committee size, drives Quorum()

	byAuthor map[authorKey]*SignedVote            // last vote seen per (round, kind, author) for equivocation checks
	byValue  map[voteKey]map[tcommon.ValidatorId]*SignedVote // distinct authors per (round, kind, value)
	reached  map[voteKey]bool                      // voteKey already reported as having reached quorum
	roundReached map[tcommon.Round]map[voteKind]bool // "quorum at (round, any value)" for round-advance evidence
}

// NewAccumulator returns an accumulator for a committee of n validators.
func NewAccumulator(n int) *Accumulator {
	return &Accumulator{
		n:            n,
		byAuthor:     make(map[authorKey]*SignedVote),
		byValue:      make(map[voteKey]map[tcommon.ValidatorId]*SignedVote),
		reached:      make(map[voteKey]bool),
		roundReached: make(map[tcommon.Round]map[voteKind]bool),
	}
}

// Quorum returns floor(2n/3)+1 for the accumulator's committee size.
func (a *Accumulator) Quorum() int { return tcommon.Quorum(a.n) }

// SetCommitteeSize updates n when the validator set changes at a new
// height (§3: "configuration is sampled from committed state at each
// height"). Callers construct a fresh Accumulator per height, so this is
// provided for components that want to resize in place.
func (a *Accumulator) SetCommitteeSize(n int) { a.n = n }

// addVote records a vote, returning:
//   - added: false if this was an idempotent replay (same author, round,
//     kind, value already recorded) — §4.1 "messages are idempotent under
//     replay" and invariant 4's duplicate-author rejection.
//   - equiv: non-nil if author already voted for a *different* value at
//     this (round, kind) — byzantine-indicative, §7.
func (a *Accumulator) addVote(kind voteKind, v *SignedVote) (added bool, equiv *Equivocation) {
	ak := authorKey{round: v.Round, kind: kind, author: v.Author}
	if prev, ok := a.byAuthor[ak]; ok {
		if prev.Value == v.Value {
			return false, nil
		}
		return false, &Equivocation{Round: v.Round, Kind: kindName(kind), Author: v.Author, First: prev, Second: v}
	}
	a.byAuthor[ak] = v

	vk := voteKey{round: v.Round, kind: kind, value: v.Value}
	set, ok := a.byValue[vk]
	if !ok {
		set = make(map[tcommon.ValidatorId]*SignedVote)
		a.byValue[vk] = set
	}
	set[v.Author] = v
	return true, nil
}

// AddPrevote records a prevote and reports whether this call caused
// (round, value) to newly reach quorum.
func (a *Accumulator) AddPrevote(v *SignedVote) (added bool, reachedQuorum bool, equiv *Equivocation) {
	added, equiv = a.addVote(kindPrevote, v)
	if !added {
		return added, false, equiv
	}
	return added, a.checkQuorum(kindPrevote, v.Round, v.Value), nil
}

// AddPrecommit records a precommit and reports whether this call caused
// (round, value) to newly reach quorum.
func (a *Accumulator) AddPrecommit(v *SignedVote) (added bool, reachedQuorum bool, equiv *Equivocation) {
	added, equiv = a.addVote(kindPrecommit, v)
	if !added {
		return added, false, equiv
	}
	return added, a.checkQuorum(kindPrecommit, v.Round, v.Value), nil
}

func (a *Accumulator) checkQuorum(kind voteKind, round tcommon.Round, value ethcommon.Hash) bool {
	vk := voteKey{round: round, kind: kind, value: value}
	if len(a.byValue[vk]) < a.Quorum() {
		return false
	}
	if a.reached[vk] {
		return false // already reported
	}
	a.reached[vk] = true

	if a.roundReached[round] == nil {
		a.roundReached[round] = make(map[voteKind]bool)
	}
	a.roundReached[round][kind] = true
	return true
}

// PrevoteQuorumValue returns the propose-hash that reached a prevote
// quorum at round, and true, if any has. Per §4.2's tie-break note, if two
// distinct values both reached quorum (only possible with >=f+1 byzantine
// validators) which of them is returned is not defined (it follows map
// iteration order); callers must not treat
// this as sufficient for commit — only a precommit quorum commits.
func (a *Accumulator) PrevoteQuorumValue(round tcommon.Round) (ethcommon.Hash, bool) {
	return a.quorumValue(kindPrevote, round)
}

// PrecommitQuorumValue mirrors PrevoteQuorumValue for precommits.
func (a *Accumulator) PrecommitQuorumValue(round tcommon.Round) (ethcommon.Hash, bool) {
	return a.quorumValue(kindPrecommit, round)
}

func (a *Accumulator) quorumValue(kind voteKind, round tcommon.Round) (ethcommon.Hash, bool) {
	for vk := range a.reached {
		if vk.round == round && vk.kind == kind {
			return vk.value, true
		}
	}
	return ethcommon.Hash{}, false
}

// HasQuorumAbove reports whether any value at any round > r reached a
// quorum of the given kind, returning the highest such round and its value
// — the unlock-detection predicate of §4.1 invariant 2 (called with
// kindPrevote).
func (a *Accumulator) HasQuorumAbove(kind voteKind, r tcommon.Round) (round tcommon.Round, value ethcommon.Hash, ok bool) {
	best := tcommon.Round(-1)
	var bestValue ethcommon.Hash
	for vk := range a.reached {
		if vk.kind == kind && vk.round > r {
			if vk.round > best {
				best = vk.round
				bestValue = vk.value
			}
		}
	}
	if best < 0 {
		return 0, ethcommon.Hash{}, false
	}
	return best, bestValue, true
}

// HasAnyQuorum reports whether quorum was reached for kind at round on any
// value — used for §4.1's "Q at exactly (r, any subject)" round-progress
// evidence.
func (a *Accumulator) HasAnyQuorum(kind voteKind, round tcommon.Round) bool {
	return a.roundReached[round] != nil && a.roundReached[round][kind]
}

// Count returns the number of distinct validators who voted for value at
// (round, kind).
func (a *Accumulator) Count(kind voteKind, round tcommon.Round, value ethcommon.Hash) int {
	return len(a.byValue[voteKey{round: round, kind: kind, value: value}])
}

func kindName(k voteKind) string {
	if k == kindPrevote {
		return "prevote"
	}
	return "precommit"
}
