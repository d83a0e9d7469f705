package message

import (
	"fmt"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"

	tcommon "github.com/sigma67/tendercore/common"
)

// RequestKind distinguishes the five RequestData variants of §4.3.
type RequestKind uint8

const (
	RequestPropose RequestKind = iota
	RequestTransactions
	RequestPrevotes
	RequestBlock
	RequestPeers
)

// RequestData identifies one outstanding pull request. Two RequestData
// values are equal (and thus de-duplicated, §4.3 discipline) iff Kind and
// Key match; Key is a stable string built from the variant's fields so
// RequestData can be used as a map key.
type RequestData struct {
	Kind   RequestKind
	Key    string
	Height tcommon.Height
	Round  tcommon.Round
	Hash   ethcommon.Hash
}

// Timeout returns the per-variant deadline of §4.3.
func (d RequestData) Timeout(cfg RequestTimeouts) time.Duration {
	switch d.Kind {
	case RequestPropose:
		return cfg.Propose
	case RequestTransactions:
		return cfg.Transactions
	case RequestPrevotes:
		return cfg.Prevotes
	case RequestBlock:
		return cfg.Block
	case RequestPeers:
		return cfg.Peers
	default:
		return cfg.Propose
	}
}

// RequestTimeouts holds the five variant-specific request timeouts.
type RequestTimeouts struct {
	Propose      time.Duration
	Transactions time.Duration
	Prevotes     time.Duration
	Block        time.Duration
	Peers        time.Duration
}

// ProposeRequestData builds the RequestData for a missing Propose by hash.
func ProposeRequestData(hash ethcommon.Hash) RequestData {
	return RequestData{Kind: RequestPropose, Key: "propose:" + hash.Hex(), Hash: hash}
}

// TransactionsRequestData builds the RequestData for a set of missing tx
// hashes; Key is the joined, sorted hash list so that two requests for the
// same set de-duplicate regardless of discovery order.
func TransactionsRequestData(hashes []ethcommon.Hash) RequestData {
	sorted := append([]ethcommon.Hash(nil), hashes...)
	sortHashes(sorted)
	key := "txs:"
	for _, h := range sorted {
		key += h.Hex()
	}
	return RequestData{Kind: RequestTransactions, Key: key}
}

// PrevotesRequestData builds the RequestData for prevotes at (round, hash).
func PrevotesRequestData(round tcommon.Round, hash ethcommon.Hash) RequestData {
	return RequestData{Kind: RequestPrevotes, Key: fmt.Sprintf("prevotes:%d:%s", round, hash.Hex()), Round: round, Hash: hash}
}

// BlockRequestData builds the RequestData for a missing committed block.
func BlockRequestData(height tcommon.Height) RequestData {
	return RequestData{Kind: RequestBlock, Key: fmt.Sprintf("block:%d", height), Height: height}
}

// PeersRequestData is the single, heightless request for peer addresses.
var PeersRequestData = RequestData{Kind: RequestPeers, Key: "peers"}

func sortHashes(h []ethcommon.Hash) {
	for i := 1; i < len(h); i++ {
		for j := i; j > 0 && string(h[j-1].Bytes()) > string(h[j].Bytes()); j-- {
			h[j-1], h[j] = h[j], h[j-1]
		}
	}
}

// TransactionsRequest asks a peer for the raw bodies of the listed hashes.
type TransactionsRequest struct {
	Hashes []ethcommon.Hash
}

func (*TransactionsRequest) Code() Code { return TransactionsRequestCode }

// TransactionsResponse carries the signed transaction bytes that satisfy a
// TransactionsRequest.
type TransactionsResponse struct {
	Transactions [][]byte
}

func (*TransactionsResponse) Code() Code { return TransactionsResponseCode }

// ProposeRequest asks a peer for a Propose by its hash.
type ProposeRequest struct {
	Hash ethcommon.Hash
}

func (*ProposeRequest) Code() Code { return ProposeRequestCode }

// ProposeResponse carries the requested, still-signed Propose envelope.
type ProposeResponse struct {
	Propose *Signed
}

func (*ProposeResponse) Code() Code { return ProposeResponseCode }

// PrevotesRequest asks a peer for its prevotes at (round, hash).
type PrevotesRequest struct {
	Height tcommon.Height
	Round  tcommon.Round
	Hash   ethcommon.Hash
}

func (*PrevotesRequest) Code() Code { return PrevotesRequestCode }

// PeersRequest asks a peer for its known-peer list.
type PeersRequest struct{}

func (*PeersRequest) Code() Code { return PeersRequestCode }

// BlockRequest asks a peer for a committed block by height, used during
// catch-up when a message arrives for a future height (§4.1).
type BlockRequest struct {
	Height tcommon.Height
}

func (*BlockRequest) Code() Code { return BlockRequestCode }

// BlockResponse is the catch-up payload: a committed block, the quorum of
// precommits that justify it, and the transaction bodies it contains.
type BlockResponse struct {
	Block        *Block
	Precommits   []*Signed
	Transactions [][]byte
}

func (*BlockResponse) Code() Code { return BlockResponseCode }
