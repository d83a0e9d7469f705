package core

import (
	"testing"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/sigma67/tendercore/message"
)

func TestRequestTrackerDedup(t *testing.T) {
	tr := NewRequestTracker(16)
	data := message.RequestData{Kind: message.RequestBlock, Key: "1"}
	peerA := ethcommon.BytesToAddress([]byte{1})
	peerB := ethcommon.BytesToAddress([]byte{2})

	got, started := tr.Start(data, []ethcommon.Address{peerA, peerB})
	require.True(t, started)
	require.Equal(t, peerA, got)

	_, started = tr.Start(data, []ethcommon.Address{peerA, peerB})
	require.False(t, started, "identical in-flight request must be de-duplicated")
	require.True(t, tr.InFlight(data))
}

func TestRequestTrackerRetryRotatesAndExhausts(t *testing.T) {
	tr := NewRequestTracker(16)
	data := message.RequestData{Kind: message.RequestPropose, Key: "1"}
	peerA := ethcommon.BytesToAddress([]byte{1})
	peerB := ethcommon.BytesToAddress([]byte{2})

	_, started := tr.Start(data, []ethcommon.Address{peerA, peerB})
	require.True(t, started)

	next, ok := tr.Retry(data)
	require.True(t, ok)
	require.Equal(t, peerB, next)

	_, ok = tr.Retry(data)
	require.False(t, ok, "candidates exhausted, caller must cancel")
	require.False(t, tr.InFlight(data), "exhausted request is no longer tracked")
}

func TestRequestTrackerSatisfy(t *testing.T) {
	tr := NewRequestTracker(16)
	data := message.RequestData{Kind: message.RequestPrevotes, Key: "1"}
	peerA := ethcommon.BytesToAddress([]byte{1})

	tr.Start(data, []ethcommon.Address{peerA})
	require.True(t, tr.InFlight(data))

	tr.Satisfy(data)
	require.False(t, tr.InFlight(data))
}

func TestRequestTrackerNoCandidates(t *testing.T) {
	tr := NewRequestTracker(16)
	data := message.RequestData{Kind: message.RequestPeers, Key: "1"}

	_, started := tr.Start(data, nil)
	require.False(t, started)
	require.False(t, tr.InFlight(data))
}
