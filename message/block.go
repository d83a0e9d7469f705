package message

import (
	"io"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	tcommon "github.com/sigma67/tendercore/common"
)

// Header is a block header per §3: prev-hash, height, proposer, tx-count,
// state-hash, tx-hash and a free-form extra-headers map. The core fills
// TxHash with Keccak256 of the RLP-encoded ordered tx hash list and
// StateHash with Keccak256 over that and a results fingerprint; neither
// is a Merkle root, and StateHash is not a world-state root. The header
// alone determines the block-hash.
type Header struct {
	PrevHash  ethcommon.Hash
	Height    tcommon.Height
	Proposer  tcommon.ValidatorId
	NumTxs    uint32
	StateHash ethcommon.Hash
	TxHash    ethcommon.Hash
	Extra     map[string][]byte
}

// Hash returns the block-hash: the RLP-canonical hash of the header, kept
// distinct from the propose-hash (§3 glossary) because a header only
// exists after execution while a propose-hash exists the moment the
// transaction list is nominated.
func (h *Header) Hash() ethcommon.Hash {
	enc, err := rlp.EncodeToBytes(h)
	if err != nil {
		panic(err)
	}
	return ethcommon.BytesToHash(crypto.Keccak256(enc))
}

type rlpHeader struct {
	PrevHash   ethcommon.Hash
	Height     uint64
	Proposer   uint16
	NumTxs     uint32
	StateHash  ethcommon.Hash
	TxHash     ethcommon.Hash
	ExtraKeys  []string
	ExtraVals  [][]byte
}

func (h *Header) EncodeRLP(w io.Writer) error {
	keys := make([]string, 0, len(h.Extra))
	for k := range h.Extra {
		keys = append(keys, k)
	}
	sortStrings(keys)
	vals := make([][]byte, len(keys))
	for i, k := range keys {
		vals[i] = h.Extra[k]
	}
	return rlp.Encode(w, rlpHeader{
		PrevHash: h.PrevHash, Height: uint64(h.Height), Proposer: uint16(h.Proposer),
		NumTxs: h.NumTxs, StateHash: h.StateHash, TxHash: h.TxHash,
		ExtraKeys: keys, ExtraVals: vals,
	})
}

func (h *Header) DecodeRLP(s *rlp.Stream) error {
	var raw rlpHeader
	if err := s.Decode(&raw); err != nil {
		return err
	}
	h.PrevHash = raw.PrevHash
	h.Height = tcommon.Height(raw.Height)
	h.Proposer = tcommon.ValidatorId(raw.Proposer)
	h.NumTxs = raw.NumTxs
	h.StateHash = raw.StateHash
	h.TxHash = raw.TxHash
	if len(raw.ExtraKeys) > 0 {
		h.Extra = make(map[string][]byte, len(raw.ExtraKeys))
		for i, k := range raw.ExtraKeys {
			h.Extra[k] = raw.ExtraVals[i]
		}
	}
	return nil
}

// sortStrings avoids importing "sort" for its one call site; inlined for clarity.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j-1] > s[j]; j-- {
			s[j-1], s[j] = s[j], s[j-1]
		}
	}
}

// Block pairs a Header with the ordered transaction hashes that produced it.
type Block struct {
	Header   *Header
	TxHashes []ethcommon.Hash
}

func (b *Block) Code() Code { return 0 } // not sent standalone; embedded in BlockResponse
