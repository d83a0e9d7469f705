package core

import (
	"testing"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/sigma67/tendercore/external"
	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/peer"
	"github.com/sigma67/tendercore/service"
	"github.com/sigma67/tendercore/storage"
)

// stubBackend is a minimal core.Backend satisfying just enough of the
// interface to drive Handler.handleExternal in the external-command tests below; it
// records every SendTo/Gossip call instead of touching a real transport or
// store, the same role the teacher's backend_mock.go plays for its own
// core tests.
type stubBackend struct {
	self      ethcommon.Address
	committee Committee
	pool      TxSource

	gossiped []message.Body
}

func newStubBackend(t *testing.T, self ethcommon.Address, committee Committee, pool TxSource) *stubBackend {
	t.Helper()
	return &stubBackend{self: self, committee: committee, pool: pool}
}

func (b *stubBackend) Address() ethcommon.Address { return b.self }
func (b *stubBackend) Sign(digest []byte) ([]byte, error) {
	return append([]byte(nil), digest...), nil
}
func (b *stubBackend) Now() time.Time                                { return time.Now() }
func (b *stubBackend) Committee(Height) (Committee, error)           { return b.committee, nil }
func (b *stubBackend) LastHeader() *message.Header                         { return nil }
func (b *stubBackend) HeaderAt(Height) *message.Header                    { return nil }
func (b *stubBackend) PrecommitsAt(Height) []*message.Signed              { return nil }
func (b *stubBackend) TxHashesAt(Height) []ethcommon.Hash                 { return nil }
func (b *stubBackend) SendTo(ethcommon.Address, *message.Signed) error    { return nil }
func (b *stubBackend) Gossip(_ Committee, msg *message.Signed) {
	body, _ := msg.Body()
	b.gossiped = append(b.gossiped, body)
}
func (b *stubBackend) Connect(ethcommon.Address) error { return nil }

func (b *stubBackend) Fork() storage.Fork { return nil }
func (b *stubBackend) Execute(storage.Fork, service.Transaction) service.ExecutionResult {
	return service.ExecutionResult{}
}
func (b *stubBackend) Commit(storage.Fork, *message.Header, []*message.Signed, []ethcommon.Hash) error {
	return nil
}

func (b *stubBackend) Mempool() TxSource { return b.pool }

func (b *stubBackend) PersistConsensusMessage(Height, *message.Signed) error { return nil }
func (b *stubBackend) ConsensusMessagesCache(Height) []*message.Signed      { return nil }
func (b *stubBackend) PersistRound(Height, Round) error                    { return nil }

func newHandlerForTest(t *testing.T, pool TxSource) (*Handler, ethcommon.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	self := crypto.PubkeyToAddress(key.PublicKey)
	committee := Committee{Members: []ethcommon.Address{self}}

	backend := newStubBackend(t, self, committee, pool)
	apiCh := make(chan external.Message, 4)
	network := make(chan peer.Inbound)

	h, err := NewHandler(backend, self, Config{
		T1:                 time.Second,
		DT:                 100 * time.Millisecond,
		ProposeTimeout:      time.Second,
		MessageCacheSize:    64,
		RequestTrackerSize:  64,
		MaxTxsPerPropose:    10,
	}, nil, network, apiCh)
	require.NoError(t, err)
	return h, self
}

func TestHandlerAdmitTransactionGossipsOnSuccess(t *testing.T) {
	ctrl := gomock.NewController(t)
	pool := NewMockTxSource(ctrl)
	raw := []byte("tx-1")
	pool.EXPECT().Add(raw).Return(nil)
	pool.EXPECT().Len().Return(0).AnyTimes()

	h, _ := newHandlerForTest(t, pool)

	result := make(chan error, 1)
	h.handleExternal(external.SubmitTransaction{Raw: raw, Result: result})

	require.NoError(t, <-result)
	require.Len(t, h.backend.(*stubBackend).gossiped, 1)
	resp, ok := h.backend.(*stubBackend).gossiped[0].(*message.TransactionsResponse)
	require.True(t, ok)
	require.Equal(t, [][]byte{raw}, resp.Transactions)
}

func TestHandlerAdmitTransactionPropagatesError(t *testing.T) {
	ctrl := gomock.NewController(t)
	pool := NewMockTxSource(ctrl)
	raw := []byte("tx-bad")
	boom := service.ErrUnknownService
	pool.EXPECT().Add(raw).Return(boom)

	h, _ := newHandlerForTest(t, pool)
	result := make(chan error, 1)
	h.handleExternal(external.SubmitTransaction{Raw: raw, Result: result})

	require.ErrorIs(t, <-result, boom)
	require.Empty(t, h.backend.(*stubBackend).gossiped)
}

func TestHandlerRebroadcastGossipsEveryPooledTx(t *testing.T) {
	ctrl := gomock.NewController(t)
	pool := NewMockTxSource(ctrl)
	h1, h2 := ethcommon.BytesToHash([]byte("a")), ethcommon.BytesToHash([]byte("b"))
	pool.EXPECT().OrderedHashes(0).Return([]ethcommon.Hash{h1, h2})
	pool.EXPECT().Get(h1).Return(nil, []byte("raw-a"), true)
	pool.EXPECT().Get(h2).Return(nil, []byte("raw-b"), true)

	h, _ := newHandlerForTest(t, pool)
	h.handleExternal(external.Rebroadcast{})

	require.Len(t, h.backend.(*stubBackend).gossiped, 2)
}
