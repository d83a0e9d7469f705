package message

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	fuzz "github.com/google/gofuzz"
	"github.com/stretchr/testify/require"

	tcommon "github.com/sigma67/tendercore/common"
)

// fuzzedPropose returns a structurally valid Propose with every field set
// from the fuzzer except the negative-round sentinels, which gofuzz has no
// notion of and which Propose/Prevote encode through an explicit nil-flag
// rather than the raw negative value.
func fuzzedPropose(f *fuzz.Fuzzer) *Propose {
	var p Propose
	f.Fuzz(&p.Height)
	f.Fuzz(&p.PrevHash)
	f.Fuzz(&p.TxHashes)
	p.Round = tcommon.Round(1)
	p.ValidRound = -1
	return &p
}

func TestSignVerifyRoundTrip(t *testing.T) {
	f := fuzz.New().NilChance(0).NumElements(0, 8)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		body := fuzzedPropose(f)
		signed, err := Sign(body, key)
		require.NoError(t, err)
		require.Equal(t, crypto.PubkeyToAddress(key.PublicKey), signed.Author)

		require.NoError(t, Verify(signed))

		// A fresh envelope carries no cached body, so Body decodes Payload.
		decoded, err := (&Signed{Author: signed.Author, Payload: signed.Payload, Signature: signed.Signature}).Body()
		require.NoError(t, err)
		got, ok := decoded.(*Propose)
		require.True(t, ok)
		require.Equal(t, body.Height, got.Height)
		require.Equal(t, body.PrevHash, got.PrevHash)
		require.Equal(t, body.TxHashes, got.TxHashes)
		require.Equal(t, tcommon.Round(-1), got.ValidRound)
	}
}

func TestVerifyRejectsTamperedPayload(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	body := &Propose{Height: 1, Round: 1, ValidRound: -1}
	signed, err := Sign(body, key)
	require.NoError(t, err)

	signed.Payload = append(signed.Payload, 0xff)
	require.ErrorIs(t, Verify(signed), ErrBadSignature)
}

func TestPrevoteNegativeLockedRoundRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	body := &Prevote{Height: 5, Round: 2, ProposeHash: ethcommon.BytesToHash([]byte("v")), LockedRound: -1}
	signed, err := Sign(body, key)
	require.NoError(t, err)

	decoded, err := (&Signed{Author: signed.Author, Payload: signed.Payload, Signature: signed.Signature}).Body()
	require.NoError(t, err)
	got, ok := decoded.(*Prevote)
	require.True(t, ok)
	require.Equal(t, tcommon.Round(-1), got.LockedRound)
	require.Equal(t, body.ProposeHash, got.ProposeHash)
}

func TestHeaderHashDeterministic(t *testing.T) {
	h1 := &Header{Height: 3, Proposer: 1, NumTxs: 2, Extra: map[string][]byte{"a": {1}, "b": {2}}}
	h2 := &Header{Height: 3, Proposer: 1, NumTxs: 2, Extra: map[string][]byte{"b": {2}, "a": {1}}}
	require.Equal(t, h1.Hash(), h2.Hash(), "map iteration order must not affect the header hash")

	h3 := &Header{Height: 4, Proposer: 1, NumTxs: 2}
	require.NotEqual(t, h1.Hash(), h3.Hash())
}
