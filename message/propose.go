package message

import (
	"errors"
	"io"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	tcommon "github.com/sigma67/tendercore/common"
)

// Propose is the proposer's nomination of a block body for (Height, Round):
// it lists only transaction hashes, per §4.6 — bodies are pulled from peers
// lacking them via TransactionsRequest.
type Propose struct {
	Height     tcommon.Height
	Round      tcommon.Round
	PrevHash   ethcommon.Hash
	ValidRound tcommon.Round // -1 if this propose carries no valid-round evidence
	TxHashes   []ethcommon.Hash
}

func (*Propose) Code() Code { return ProposeCode }

// Hash returns the propose-hash identifying this nomination, distinct from
// the eventual block-hash of the executed block (§3 glossary).
func (p *Propose) Hash() ethcommon.Hash {
	enc, err := rlp.EncodeToBytes(p)
	if err != nil {
		// Propose is always RLP-encodable; a failure here is a programming error.
		panic(err)
	}
	return ethcommon.BytesToHash(crypto.Keccak256(enc))
}

type rlpPropose struct {
	Height           uint64
	Round            uint64
	PrevHash         ethcommon.Hash
	ValidRound       uint64
	ValidRoundIsNil  bool
	TxHashes         []ethcommon.Hash
}

// EncodeRLP implements rlp.Encoder; ValidRound == -1 is encoded via an
// explicit nil flag since RLP cannot carry negative big integers (mirrors
// the teacher's Proposal.EncodeRLP handling of ValidRound).
func (p *Propose) EncodeRLP(w io.Writer) error {
	isNil, v := encodeOptionalRound(p.ValidRound)
	return rlp.Encode(w, rlpPropose{
		Height:          uint64(p.Height),
		Round:           uint64(p.Round),
		PrevHash:        p.PrevHash,
		ValidRound:      v,
		ValidRoundIsNil: isNil,
		TxHashes:        p.TxHashes,
	})
}

func (p *Propose) DecodeRLP(s *rlp.Stream) error {
	var raw rlpPropose
	if err := s.Decode(&raw); err != nil {
		return err
	}
	if raw.ValidRoundIsNil && raw.ValidRound != 0 {
		return errors.New("message: bad propose valid_round encoding")
	}
	p.Height = tcommon.Height(raw.Height)
	p.Round = tcommon.Round(raw.Round)
	p.PrevHash = raw.PrevHash
	p.ValidRound = decodeOptionalRound(raw.ValidRoundIsNil, raw.ValidRound)
	p.TxHashes = raw.TxHashes
	return nil
}
