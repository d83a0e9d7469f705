// Package message defines the wire types of the consensus core: the
// Connect/Status/Propose/Prevote/Precommit family and the request/response
// pairs used to pull missing data from peers.
//
// Encoding follows the teacher's messages/messages.go: canonical RLP via
// github.com/ethereum/go-ethereum/rlp, with the same length-prefixed,
// injective layout §6 of the spec demands for signature portability.
// Negative rounds (no-lock / no-valid-round sentinels) cannot be RLP
// encoded directly, so each body encodes an explicit "is-nil" flag the way
// the teacher's Proposal.EncodeRLP does for ValidRound == -1.
package message

import (
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	tcommon "github.com/sigma67/tendercore/common"
)

// Code identifies the concrete message body carried in a Signed envelope.
type Code uint8

const (
	ConnectCode Code = iota
	StatusCode
	ProposeCode
	PrevoteCode
	PrecommitCode
	BlockResponseCode
	TransactionsRequestCode
	TransactionsResponseCode
	ProposeRequestCode
	ProposeResponseCode
	PrevotesRequestCode
	PeersRequestCode
	BlockRequestCode
)

func (c Code) String() string {
	switch c {
	case ConnectCode:
		return "Connect"
	case StatusCode:
		return "Status"
	case ProposeCode:
		return "Propose"
	case PrevoteCode:
		return "Prevote"
	case PrecommitCode:
		return "Precommit"
	case BlockResponseCode:
		return "BlockResponse"
	case TransactionsRequestCode:
		return "TransactionsRequest"
	case TransactionsResponseCode:
		return "TransactionsResponse"
	case ProposeRequestCode:
		return "ProposeRequest"
	case ProposeResponseCode:
		return "ProposeResponse"
	case PrevotesRequestCode:
		return "PrevotesRequest"
	case PeersRequestCode:
		return "PeersRequest"
	case BlockRequestCode:
		return "BlockRequest"
	default:
		return fmt.Sprintf("Code(%d)", uint8(c))
	}
}

var (
	// ErrBadSignature is returned when a Signed envelope's signature does
	// not verify against its claimed author.
	ErrBadSignature = errors.New("message: bad signature")
	// ErrUnknownCode is returned decoding an envelope with no matching body.
	ErrUnknownCode = errors.New("message: unrecognised code")
)

// Body is any message payload that can self-identify its Code and encode
// deterministically.
type Body interface {
	Code() Code
}

// Signed is the on-wire envelope: (author_pubkey, payload_bytes, signature)
// per §6's normative signed-message format. Payload is the canonical RLP
// encoding of (code, body); Hash is computed lazily and cached for the
// message-cache de-dup key used by the handler.
type Signed struct {
	Author    ethcommon.Address
	Payload   []byte
	Signature []byte

	hash *ethcommon.Hash
	body Body
}

// Hash returns Keccak256(Payload || Signature), used as the handler's
// duplicate-message cache key.
func (m *Signed) Hash() ethcommon.Hash {
	if m.hash != nil {
		return *m.hash
	}
	buf := make([]byte, 0, len(m.Payload)+len(m.Signature))
	buf = append(buf, m.Payload...)
	buf = append(buf, m.Signature...)
	h := ethcommon.BytesToHash(crypto.Keccak256(buf))
	m.hash = &h
	return h
}

// Body decodes (and caches) the payload into its concrete body type.
func (m *Signed) Body() (Body, error) {
	if m.body != nil {
		return m.body, nil
	}
	var wrapper struct {
		Code Code
		Raw  rlp.RawValue
	}
	if err := rlp.DecodeBytes(m.Payload, &wrapper); err != nil {
		return nil, fmt.Errorf("message: decode envelope: %w", err)
	}
	body, err := decodeBody(wrapper.Code, wrapper.Raw)
	if err != nil {
		return nil, err
	}
	m.body = body
	return body, nil
}

func decodeBody(code Code, raw rlp.RawValue) (Body, error) {
	var body Body
	switch code {
	case ConnectCode:
		body = new(Connect)
	case StatusCode:
		body = new(Status)
	case ProposeCode:
		body = new(Propose)
	case PrevoteCode:
		body = new(Prevote)
	case PrecommitCode:
		body = new(Precommit)
	case TransactionsRequestCode:
		body = new(TransactionsRequest)
	case TransactionsResponseCode:
		body = new(TransactionsResponse)
	case ProposeRequestCode:
		body = new(ProposeRequest)
	case ProposeResponseCode:
		body = new(ProposeResponse)
	case PrevotesRequestCode:
		body = new(PrevotesRequest)
	case PeersRequestCode:
		body = new(PeersRequest)
	case BlockRequestCode:
		body = new(BlockRequest)
	case BlockResponseCode:
		body = new(BlockResponse)
	default:
		return nil, ErrUnknownCode
	}
	if err := rlp.DecodeBytes(raw, body); err != nil {
		return nil, fmt.Errorf("message: decode body %s: %w", code, err)
	}
	return body, nil
}

// Encode produces the canonical payload for a body: (code, rlp(body)).
func Encode(body Body) ([]byte, error) {
	raw, err := rlp.EncodeToBytes(body)
	if err != nil {
		return nil, err
	}
	return rlp.EncodeToBytes(struct {
		Code Code
		Raw  rlp.RawValue
	}{body.Code(), raw})
}

// Sign encodes body, signs it with key, and returns the envelope. The
// author address is derived from the key, matching the teacher's
// Message.concrete(body, pubkey, secretkey) idiom.
func Sign(body Body, key *ecdsa.PrivateKey) (*Signed, error) {
	payload, err := Encode(body)
	if err != nil {
		return nil, err
	}
	digest := crypto.Keccak256(payload)
	sig, err := crypto.Sign(digest, key)
	if err != nil {
		return nil, err
	}
	return &Signed{
		Author:    crypto.PubkeyToAddress(key.PublicKey),
		Payload:   payload,
		Signature: sig,
		body:      body,
	}, nil
}

// Verify checks that Signature is a valid signature over Payload by Author,
// per §6 and the cryptographic error class of §7.
func Verify(m *Signed) error {
	digest := crypto.Keccak256(m.Payload)
	pub, err := crypto.SigToPub(digest, m.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if crypto.PubkeyToAddress(*pub) != m.Author {
		return ErrBadSignature
	}
	return nil
}

// EncodeRLP implements rlp.Encoder for the envelope itself (used when
// embedding Signed inside BlockResponse.Precommits).
func (m *Signed) EncodeRLP(w io.Writer) error {
	return rlp.Encode(w, []interface{}{m.Author, m.Payload, m.Signature})
}

// DecodeRLP implements rlp.Decoder for the envelope.
func (m *Signed) DecodeRLP(s *rlp.Stream) error {
	var raw struct {
		Author    ethcommon.Address
		Payload   []byte
		Signature []byte
	}
	if err := s.Decode(&raw); err != nil {
		return err
	}
	m.Author = raw.Author
	m.Payload = raw.Payload
	m.Signature = raw.Signature
	m.hash = nil
	m.body = nil
	return nil
}

// encodeOptionalRound / decodeOptionalRound are small helpers shared by Propose and Vote
// encodings to deal with the "-1 means absent" rounds the spec relies on
// (locked_round, valid_round).

const noRound tcommon.Round = -1

func encodeOptionalRound(r tcommon.Round) (isNil bool, value uint64) {
	if r < 0 {
		return true, 0
	}
	return false, uint64(r)
}

func decodeOptionalRound(isNil bool, value uint64) tcommon.Round {
	if isNil {
		return noRound
	}
	return tcommon.Round(value)
}
