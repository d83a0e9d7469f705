// Package accountability turns the vote accumulator's equivocation
// detection (core.Equivocation) into a portable, independently
// verifiable Proof: the two conflicting signed messages a validator cast
// for the same (round, kind). It is adapted from the teacher's
// consensus/tendermint/accountability/types.go Proof/typedMessage
// pattern, trimmed to this repo's Non-goal of not modeling slashing or
// the AFD rule engine — only evidence capture and independent
// verification survive.
package accountability

import (
	"errors"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"

	tcommon "github.com/sigma67/tendercore/common"
	"github.com/sigma67/tendercore/core"
	"github.com/sigma67/tendercore/message"
)

// ErrNotEquivocation is returned by Verify when the two messages inside a
// Proof do not actually conflict.
var ErrNotEquivocation = errors.New("accountability: messages do not conflict")

// Proof is the evidence that one validator signed two distinct votes for
// the same (round, kind): §7's byzantine-indicative class, made concrete
// enough to hand to an external auditor without replaying the whole
// accumulator.
type Proof struct {
	Round  tcommon.Round
	Kind   string // "prevote" or "precommit"
	Author tcommon.ValidatorId
	First  *message.Signed
	Second *message.Signed
}

// FromEquivocation builds a Proof from the accumulator's own detection,
// recovering the two wire envelopes it kept opaque (core.SignedVote.Envelope)
// to avoid an import cycle between core and message.
func FromEquivocation(e *core.Equivocation) (*Proof, error) {
	first, ok := e.First.Envelope.(*message.Signed)
	if !ok {
		return nil, fmt.Errorf("accountability: equivocation.First envelope is %T, not *message.Signed", e.First.Envelope)
	}
	second, ok := e.Second.Envelope.(*message.Signed)
	if !ok {
		return nil, fmt.Errorf("accountability: equivocation.Second envelope is %T, not *message.Signed", e.Second.Envelope)
	}
	return &Proof{
		Round:  e.Round,
		Kind:   e.Kind,
		Author: e.Author,
		First:  first,
		Second: second,
	}, nil
}

// Verify independently re-derives the equivocation: both messages must
// carry valid signatures from the same author, decode to the same
// message kind (Prevote or Precommit) at the same round, and disagree on
// the voted value. A Proof that fails Verify is not evidence of anything
// and must be discarded by the caller, not forwarded.
func Verify(p *Proof) error {
	if err := message.Verify(p.First); err != nil {
		return fmt.Errorf("accountability: first message: %w", err)
	}
	if err := message.Verify(p.Second); err != nil {
		return fmt.Errorf("accountability: second message: %w", err)
	}
	if p.First.Author != p.Second.Author {
		return fmt.Errorf("%w: different authors", ErrNotEquivocation)
	}

	firstBody, err := p.First.Body()
	if err != nil {
		return fmt.Errorf("accountability: decode first message: %w", err)
	}
	secondBody, err := p.Second.Body()
	if err != nil {
		return fmt.Errorf("accountability: decode second message: %w", err)
	}

	round1, value1, ok := voteValue(firstBody)
	if !ok {
		return fmt.Errorf("%w: first message is not a vote", ErrNotEquivocation)
	}
	round2, value2, ok := voteValue(secondBody)
	if !ok {
		return fmt.Errorf("%w: second message is not a vote", ErrNotEquivocation)
	}
	if firstBody.Code() != secondBody.Code() {
		return fmt.Errorf("%w: different message kinds", ErrNotEquivocation)
	}
	if round1 != round2 || round1 != p.Round {
		return fmt.Errorf("%w: round mismatch", ErrNotEquivocation)
	}
	if value1 == value2 {
		return fmt.Errorf("%w: same value, not a conflict", ErrNotEquivocation)
	}
	return nil
}

func voteValue(body message.Body) (tcommon.Round, ethcommon.Hash, bool) {
	switch v := body.(type) {
	case *message.Prevote:
		return v.Round, v.ProposeHash, true
	case *message.Precommit:
		return v.Round, v.ProposeHash, true
	default:
		return 0, ethcommon.Hash{}, false
	}
}
