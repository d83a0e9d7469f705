package accountability

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	tcommon "github.com/sigma67/tendercore/common"
	"github.com/sigma67/tendercore/core"
	"github.com/sigma67/tendercore/message"
)

func mustPrevote(t *testing.T, round tcommon.Round, value ethcommon.Hash) (*message.Signed, ethcommon.Address) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	body := &message.Prevote{Height: 1, Round: round, ProposeHash: value, LockedRound: -1}
	signed, err := message.Sign(body, priv)
	require.NoError(t, err)
	return signed, crypto.PubkeyToAddress(priv.PublicKey)
}

func TestFromEquivocationAndVerify(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	valueA := ethcommon.BytesToHash([]byte("a"))
	valueB := ethcommon.BytesToHash([]byte("b"))

	bodyA := &message.Prevote{Height: 1, Round: 3, ProposeHash: valueA, LockedRound: -1}
	signedA, err := message.Sign(bodyA, priv)
	require.NoError(t, err)

	bodyB := &message.Prevote{Height: 1, Round: 3, ProposeHash: valueB, LockedRound: -1}
	signedB, err := message.Sign(bodyB, priv)
	require.NoError(t, err)

	author := tcommon.ValidatorId(2)
	equiv := &core.Equivocation{
		Round:  3,
		Kind:   "prevote",
		Author: author,
		First:  &core.SignedVote{Author: author, Round: 3, Value: valueA, Envelope: signedA},
		Second: &core.SignedVote{Author: author, Round: 3, Value: valueB, Envelope: signedB},
	}

	proof, err := FromEquivocation(equiv)
	require.NoError(t, err)
	require.Equal(t, tcommon.Round(3), proof.Round)
	require.Equal(t, author, proof.Author)

	require.NoError(t, Verify(proof))
}

func TestFromEquivocationRejectsOpaqueEnvelope(t *testing.T) {
	equiv := &core.Equivocation{
		Round:  1,
		Kind:   "prevote",
		Author: 0,
		First:  &core.SignedVote{Envelope: "not a *message.Signed"},
		Second: &core.SignedVote{Envelope: "also not one"},
	}
	_, err := FromEquivocation(equiv)
	require.Error(t, err)
}

func TestVerifyRejectsSameValue(t *testing.T) {
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	value := ethcommon.BytesToHash([]byte("only"))

	body := &message.Prevote{Height: 1, Round: 1, ProposeHash: value, LockedRound: -1}
	signed, err := message.Sign(body, priv)
	require.NoError(t, err)

	proof := &Proof{Round: 1, Kind: "prevote", Author: 0, First: signed, Second: signed}
	require.ErrorIs(t, Verify(proof), ErrNotEquivocation)
}

func TestVerifyRejectsDifferentAuthors(t *testing.T) {
	signedA, _ := mustPrevote(t, 1, ethcommon.BytesToHash([]byte("a")))
	signedB, _ := mustPrevote(t, 1, ethcommon.BytesToHash([]byte("b")))

	proof := &Proof{Round: 1, Kind: "prevote", Author: 0, First: signedA, Second: signedB}
	require.ErrorIs(t, Verify(proof), ErrNotEquivocation)
}
