package core

import (
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/storage"

	tcommon "github.com/sigma67/tendercore/common"
)

// Step names the states of the per-(height,round) machine in §4.1.
type Step uint8

const (
	StepIdle Step = iota
	StepProposeCollected
	StepPrevoteQuorum
	StepPrecommitQuorum
	StepCommitted
)

func (s Step) String() string {
	switch s {
	case StepIdle:
		return "idle"
	case StepProposeCollected:
		return "propose-collected"
	case StepPrevoteQuorum:
		return "prevote-quorum"
	case StepPrecommitQuorum:
		return "precommit-quorum"
	case StepCommitted:
		return "committed"
	default:
		return "unknown"
	}
}

// ExecResult is the cached outcome of speculatively executing a complete
// propose (§4.6): three Keccak256 fingerprints (not Merkle roots) plus the
// per-tx results.
type ExecResult struct {
	StateHash   ethcommon.Hash
	TxRoot      ethcommon.Hash
	ResultsRoot ethcommon.Hash
	TxResults   []TxResult
}

// TxResult is a single transaction's execution outcome; a failed tx still
// advances state (§4.6) so Err is informational, not abortive.
type TxResult struct {
	Hash ethcommon.Hash
	Err  error
}

// ProposeEntry is the node's view of one nominated block body (§3:
// "proposes: map propose-hash -> {Propose msg, unknown-tx set, execution
// result cache, is-complete flag}").
type ProposeEntry struct {
	Signed     *message.Signed
	Propose    *message.Propose
	UnknownTxs map[ethcommon.Hash]struct{}
	Result     *ExecResult

	// Header is the block header computed alongside Result, cached so
	// commit doesn't recompute (and risk redrifting) its hash.
	Header *message.Header
	// Fork is the speculative-execution overlay Result was produced
	// against; retained until Commit merges it (§4.6).
	Fork storage.Fork

	// RequestedTxs snapshots the hash set a TransactionsRequest was last
	// issued for (§4.3), so the matching response can Satisfy the exact
	// same RequestData key once every hash in it is known.
	RequestedTxs []ethcommon.Hash
}

// Complete reports whether every referenced tx hash is known, i.e. the
// propose is ready for speculative execution (§4.1 "Propose").
func (p *ProposeEntry) Complete() bool { return len(p.UnknownTxs) == 0 }

// State is the per-height in-memory state of §3. A fresh State replaces
// the previous one on every commit; nothing survives a height boundary
// except what §4.7 persists explicitly.
type State struct {
	Height Height
	Round  Round
	Step   Step

	// LockedRound/LockedPropose implement the Tendermint-style lock of §3
	// invariant 2: LockedRound == -1 means unlocked.
	LockedRound   Round
	LockedPropose ethcommon.Hash

	// ValidRound/ValidValue track the most recent propose this node saw
	// reach prevote quorum, independent of whether it is locked — needed
	// to decide whether newer evidence permits an unlock (§4.1 "Prevote
	// aggregation").
	ValidRound Round
	ValidValue ethcommon.Hash

	HeightStartTime time.Time

	Proposes map[ethcommon.Hash]*ProposeEntry

	Prevotes   *Accumulator
	Precommits *Accumulator

	CommitteeSize int

	// expeditedProposeUsed guards the "at most one expedited rearm per
	// round" contract fixed by §9.
	expeditedProposeUsed map[Round]bool

	// roundPrevoteTimeoutArmed / roundPrecommitTimeoutArmed prevent
	// re-arming the same round's timeout twice when repeated quorum
	// notifications arrive for different values.
	roundPrevoteTimeoutArmed   map[Round]bool
	roundPrecommitTimeoutArmed map[Round]bool
}

// Height and Round are local aliases so this package reads naturally without a
// qualified tcommon. prefix throughout this package.
type Height = tcommon.Height
type Round = tcommon.Round

// NewState starts a fresh per-height state at round 1, unlocked.
func NewState(height Height, committeeSize int, start time.Time) *State {
	return &State{
		Height:                     height,
		Round:                      1,
		Step:                       StepIdle,
		LockedRound:                -1,
		ValidRound:                 -1,
		HeightStartTime:            start,
		Proposes:                   make(map[ethcommon.Hash]*ProposeEntry),
		Prevotes:                   NewAccumulator(committeeSize),
		Precommits:                 NewAccumulator(committeeSize),
		CommitteeSize:              committeeSize,
		expeditedProposeUsed:       make(map[Round]bool),
		roundPrevoteTimeoutArmed:   make(map[Round]bool),
		roundPrecommitTimeoutArmed: make(map[Round]bool),
	}
}

// EnterRound resets the per-round bookkeeping (but not the accumulators,
// which retain history for §4.1's "Q prevotes at a round > current"
// unlock detection) when advancing to round r.
func (s *State) EnterRound(r Round) {
	s.Round = r
	if s.Step != StepCommitted {
		s.Step = StepIdle
	}
}

// IsLocked reports whether this validator is currently locked on a propose.
func (s *State) IsLocked() bool { return s.LockedRound >= 0 }

// Lock records a lock on propose at round r (§4.1 "On precommit-issue, lock
// on P at round r").
func (s *State) Lock(propose ethcommon.Hash, r Round) {
	s.LockedPropose = propose
	s.LockedRound = r
	s.ValidValue = propose
	s.ValidRound = r
}

// Unlock clears the lock; reachable only via the higher-round-quorum
// evidence path of §4.1.
func (s *State) Unlock() {
	s.LockedRound = -1
	s.LockedPropose = ethcommon.Hash{}
}

// MayExpediteOnce reports and consumes the one-shot guard for §4.4's
// "Expedited propose" rule.
func (s *State) MayExpediteOnce(r Round) bool {
	if s.expeditedProposeUsed[r] {
		return false
	}
	s.expeditedProposeUsed[r] = true
	return true
}

// ArmPrevoteTimeoutOnce / ArmPrecommitTimeoutOnce guard the "fires once per
// round" timeout rearm rules of §4.4, keyed independently of the quorum
// value that triggered them.
func (s *State) ArmPrevoteTimeoutOnce(r Round) bool {
	if s.roundPrevoteTimeoutArmed[r] {
		return false
	}
	s.roundPrevoteTimeoutArmed[r] = true
	return true
}

func (s *State) ArmPrecommitTimeoutOnce(r Round) bool {
	if s.roundPrecommitTimeoutArmed[r] {
		return false
	}
	s.roundPrecommitTimeoutArmed[r] = true
	return true
}
