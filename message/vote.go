package message

import (
	"io"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	tcommon "github.com/sigma67/tendercore/common"
)

// NilHash is the all-zero propose-hash that represents a Prevote/Precommit
// for NIL (§3 Messages).
var NilHash = ethcommon.Hash{}

// Prevote is the first vote step: a validator's attestation that it will
// vote for ProposeHash at (Height, Round), carrying the round it is locked
// on (or -1 if unlocked).
type Prevote struct {
	Height      tcommon.Height
	Round       tcommon.Round
	ProposeHash ethcommon.Hash
	LockedRound tcommon.Round
}

func (*Prevote) Code() Code { return PrevoteCode }

type rlpVote struct {
	Height          uint64
	Round           uint64
	ProposeHash     ethcommon.Hash
	LockedRound     uint64
	LockedRoundNil  bool
}

func (v *Prevote) EncodeRLP(w io.Writer) error {
	isNil, r := encodeOptionalRound(v.LockedRound)
	return rlp.Encode(w, rlpVote{uint64(v.Height), uint64(v.Round), v.ProposeHash, r, isNil})
}

func (v *Prevote) DecodeRLP(s *rlp.Stream) error {
	var raw rlpVote
	if err := s.Decode(&raw); err != nil {
		return err
	}
	v.Height = tcommon.Height(raw.Height)
	v.Round = tcommon.Round(raw.Round)
	v.ProposeHash = raw.ProposeHash
	v.LockedRound = decodeOptionalRound(raw.LockedRoundNil, raw.LockedRound)
	return nil
}

// Precommit is the second vote step. Time is the signer's wall-clock time
// in Unix seconds, carried in the signed vote; Header has no timestamp
// field, so blocks do not record it.
type Precommit struct {
	Height      tcommon.Height
	Round       tcommon.Round
	ProposeHash ethcommon.Hash
	BlockHash   ethcommon.Hash
	Time        uint64
}

func (*Precommit) Code() Code { return PrecommitCode }

func (p *Precommit) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{
		uint64(p.Height), uint64(p.Round), p.ProposeHash, p.BlockHash, p.Time,
	})
}

func (p *Precommit) DecodeRLP(s *rlp.Stream) error {
	var raw struct {
		Height      uint64
		Round       uint64
		ProposeHash ethcommon.Hash
		BlockHash   ethcommon.Hash
		Time        uint64
	}
	if err := s.Decode(&raw); err != nil {
		return err
	}
	p.Height = tcommon.Height(raw.Height)
	p.Round = tcommon.Round(raw.Round)
	p.ProposeHash = raw.ProposeHash
	p.BlockHash = raw.BlockHash
	p.Time = raw.Time
	return nil
}
