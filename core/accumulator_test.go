package core

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	tcommon "github.com/sigma67/tendercore/common"
)

func vote(author tcommon.ValidatorId, round tcommon.Round, value ethcommon.Hash) *SignedVote {
	return &SignedVote{Author: author, Round: round, Value: value}
}

func TestAccumulatorQuorum(t *testing.T) {
	// n=4, Quorum = floor(8/3)+1 = 3
	acc := NewAccumulator(4)
	require.Equal(t, 3, acc.Quorum())

	value := ethcommon.BytesToHash([]byte("v"))
	added, reached, equiv := acc.AddPrevote(vote(0, 1, value))
	require.True(t, added)
	require.False(t, reached)
	require.Nil(t, equiv)

	_, reached, _ = acc.AddPrevote(vote(1, 1, value))
	require.False(t, reached)

	_, reached, _ = acc.AddPrevote(vote(2, 1, value))
	require.True(t, reached, "third distinct vote should hit quorum")

	// a fourth vote for the same value must not re-report quorum
	_, reached, _ = acc.AddPrevote(vote(3, 1, value))
	require.False(t, reached)

	got, ok := acc.PrevoteQuorumValue(1)
	require.True(t, ok)
	require.Equal(t, value, got)
}

func TestAccumulatorIdempotentReplay(t *testing.T) {
	acc := NewAccumulator(4)
	value := ethcommon.BytesToHash([]byte("v"))

	added, _, equiv := acc.AddPrevote(vote(0, 1, value))
	require.True(t, added)
	require.Nil(t, equiv)

	added, _, equiv = acc.AddPrevote(vote(0, 1, value))
	require.False(t, added, "same author/round/value must be an idempotent replay")
	require.Nil(t, equiv)
}

func TestAccumulatorDetectsEquivocation(t *testing.T) {
	acc := NewAccumulator(4)
	valueA := ethcommon.BytesToHash([]byte("a"))
	valueB := ethcommon.BytesToHash([]byte("b"))

	added, _, equiv := acc.AddPrevote(vote(0, 1, valueA))
	require.True(t, added)
	require.Nil(t, equiv)

	added, _, equiv = acc.AddPrevote(vote(0, 1, valueB))
	require.False(t, added)
	require.NotNil(t, equiv)
	require.Equal(t, tcommon.ValidatorId(0), equiv.Author)
	require.Equal(t, "prevote", equiv.Kind)
	require.Equal(t, valueA, equiv.First.Value)
	require.Equal(t, valueB, equiv.Second.Value)
}

func TestAccumulatorHasQuorumAbove(t *testing.T) {
	acc := NewAccumulator(4)
	value := ethcommon.BytesToHash([]byte("v"))

	acc.AddPrevote(vote(0, 2, value))
	acc.AddPrevote(vote(1, 2, value))
	acc.AddPrevote(vote(2, 2, value))

	round, gotValue, found := acc.HasQuorumAbove(kindPrevote, 1)
	require.True(t, found)
	require.Equal(t, tcommon.Round(2), round)
	require.Equal(t, value, gotValue)

	_, _, found = acc.HasQuorumAbove(kindPrevote, 2)
	require.False(t, found, "round > 2 required, quorum is at round 2")
}

func TestAccumulatorPrecommitIndependentFromPrevote(t *testing.T) {
	acc := NewAccumulator(4)
	value := ethcommon.BytesToHash([]byte("v"))

	acc.AddPrevote(vote(0, 1, value))
	acc.AddPrevote(vote(1, 1, value))
	acc.AddPrevote(vote(2, 1, value))

	_, ok := acc.PrecommitQuorumValue(1)
	require.False(t, ok, "prevote quorum must not leak into precommit accounting")

	acc.AddPrecommit(vote(0, 1, value))
	acc.AddPrecommit(vote(1, 1, value))
	_, reached, _ := acc.AddPrecommit(vote(2, 1, value))
	require.True(t, reached)
}
