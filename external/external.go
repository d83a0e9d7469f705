// Package external defines the external command surface (§6): the
// messages the HTTP/CLI-equivalent embedding program enqueues for the
// handler (add peer, submit transaction, enable/disable, rebroadcast,
// shutdown). It is a separate package so both node (which owns the
// unbounded API channel, §5) and core (which processes these events in
// its fused event loop) can depend on it without a cycle.
package external

import (
	ethcommon "github.com/ethereum/go-ethereum/common"
)

// Message is the sum type of commands accepted from the API surface,
// mirroring the teacher's ExternalMessage enum (node/mod.rs).
type Message interface {
	isExternalMessage()
}

// AddPeer requests a connection attempt to a known peer address.
type AddPeer struct {
	Address    string
	PublicKey  ethcommon.Address
}

func (AddPeer) isExternalMessage() {}

// SubmitTransaction admits a client-submitted transaction into the pool
// (§4.5 path (a)). Result carries the admission outcome back to the
// caller — fixing the open question in §9 ("the source's API transaction
// endpoint ignores the return value ... propagate the error").
type SubmitTransaction struct {
	Raw    []byte
	Result chan<- error
}

func (SubmitTransaction) isExternalMessage() {}

// Enable toggles consensus participation (leader duty and voting) without
// tearing down the node.
type Enable struct {
	On bool
}

func (Enable) isExternalMessage() {}

// Rebroadcast re-announces the full transaction pool to peers (§4.5 path
// (c)).
type Rebroadcast struct{}

func (Rebroadcast) isExternalMessage() {}

// Shutdown drains the handler and stops the event loop (§5 "Cancellation").
type Shutdown struct{}

func (Shutdown) isExternalMessage() {}
