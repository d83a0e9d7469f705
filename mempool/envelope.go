// Package mempool implements the transaction pool and admission pipeline
// of §4.5: an envelope wraps a service-routed, signed transaction body;
// Pool verifies, decodes, deduplicates, validates and stores it, offering
// a bounded worker pool for the batch path (§9 "dynamic dispatch" and the
// Service capability boundary).
package mempool

import (
	"errors"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// ErrBadSignature is returned when an envelope's signature does not
// verify against its claimed signer (§4.5 step 1).
var ErrBadSignature = errors.New("mempool: bad transaction signature")

// envelope is the outer, service-agnostic wire format every pooled
// transaction arrives in: (service id, service-defined body, signer,
// signature). This is the "ProtocolMessage decoder yields a service-id
// and a service-defined body" of §3, made concrete at the mempool
// boundary so the generic service.Registry never has to parse raw bytes
// itself.
type envelope struct {
	ServiceID uint16
	Body      []byte
	Signer    ethcommon.Address
	Signature []byte
}

func (e *envelope) digest() ethcommon.Hash {
	enc, err := rlp.EncodeToBytes([]interface{}{e.ServiceID, e.Body})
	if err != nil {
		panic(err)
	}
	return ethcommon.BytesToHash(crypto.Keccak256(enc))
}

func decodeEnvelope(raw []byte) (*envelope, error) {
	var e envelope
	if err := rlp.DecodeBytes(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// EncodeEnvelope is the inverse of decodeEnvelope, exported so a Backend
// wiring together transaction submission and signing (outside this
// package) can build the raw bytes the pool's Add expects.
func EncodeEnvelope(serviceID uint16, body []byte, signer ethcommon.Address, signature []byte) ([]byte, error) {
	return rlp.EncodeToBytes(&envelope{ServiceID: serviceID, Body: body, Signer: signer, Signature: signature})
}

func (e *envelope) verify() error {
	digest := e.digest()
	pub, err := crypto.SigToPub(digest[:], e.Signature)
	if err != nil {
		return ErrBadSignature
	}
	if crypto.PubkeyToAddress(*pub) != e.Signer {
		return ErrBadSignature
	}
	return nil
}
