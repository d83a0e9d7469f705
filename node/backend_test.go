package node

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	tcommon "github.com/sigma67/tendercore/common"
	"github.com/sigma67/tendercore/core"
	"github.com/sigma67/tendercore/mempool"
	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/peer/memnet"
	"github.com/sigma67/tendercore/service"
	"github.com/sigma67/tendercore/storage/memdb"
)

func newTestBackend(t *testing.T) *backend {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	store := memdb.New()
	registry := service.NewRegistry()
	pool := mempool.NewPool(registry, 100, 2)
	net := memnet.NewNetwork()
	channel := net.Join(crypto.PubkeyToAddress(priv.PublicKey), 16)

	committee := core.Committee{Members: []ethcommon.Address{crypto.PubkeyToAddress(priv.PublicKey)}}
	return newBackend(priv, store, registry, pool, channel, committee)
}

func TestBackendSignAndVerify(t *testing.T) {
	be := newTestBackend(t)
	digest := crypto.Keccak256([]byte("hello"))
	sig, err := be.Sign(digest)
	require.NoError(t, err)

	pub, err := crypto.SigToPub(digest, sig)
	require.NoError(t, err)
	require.Equal(t, be.Address(), crypto.PubkeyToAddress(*pub))
}

func TestBackendCommitAndLastHeader(t *testing.T) {
	be := newTestBackend(t)
	require.Nil(t, be.LastHeader())

	priv, err := crypto.GenerateKey()
	require.NoError(t, err)
	vote, err := message.Sign(&message.Precommit{Height: 1, Round: 0, BlockHash: ethcommon.Hash{0x1}}, priv)
	require.NoError(t, err)
	txHashes := []ethcommon.Hash{ethcommon.BytesToHash([]byte("tx-1"))}

	header := &message.Header{Height: 1, Proposer: 0}
	fork := be.Fork()
	require.NoError(t, be.Commit(fork, header, []*message.Signed{vote}, txHashes))

	last := be.LastHeader()
	require.NotNil(t, last)
	require.Equal(t, tcommon.Height(1), last.Height)
	require.Equal(t, header.Hash(), last.Hash())

	fromHeader := be.HeaderAt(1)
	require.NotNil(t, fromHeader)
	require.Equal(t, header.Hash(), fromHeader.Hash())

	precommits := be.PrecommitsAt(1)
	require.Len(t, precommits, 1)
	require.Equal(t, vote.Author, precommits[0].Author)

	require.Equal(t, txHashes, be.TxHashesAt(1))
	require.Nil(t, be.HeaderAt(2))
}

func TestBackendConsensusMessageCacheRoundTrip(t *testing.T) {
	be := newTestBackend(t)
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	body := &message.Prevote{Height: 1, Round: 0, ProposeHash: message.NilHash, LockedRound: -1}
	signed, err := message.Sign(body, priv)
	require.NoError(t, err)

	require.NoError(t, be.PersistConsensusMessage(1, signed))
	cached := be.ConsensusMessagesCache(1)
	require.Len(t, cached, 1)
	require.Equal(t, signed.Author, cached[0].Author)

	require.NoError(t, be.PersistRound(1, 2))
}
