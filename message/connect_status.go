package message

import ethcommon "github.com/ethereum/go-ethereum/common"

// Connect is a peer handshake advertisement.
type Connect struct {
	Addr string
	Time uint64
	UA   string
}

func (*Connect) Code() Code { return ConnectCode }

// Status is a progress beacon broadcast periodically (§4.4 Status timeout).
type Status struct {
	Height   uint64
	LastHash ethcommon.Hash
}

func (*Status) Code() Code { return StatusCode }
