// Package memnet is an in-process peer.Channel used by tests, mirroring
// the teacher's pattern of testing consensus logic over lightweight fake
// transports (e2e_test's in-process network harness) instead of real
// sockets.
package memnet

import (
	"sync"

	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/peer"
)

// Network is a shared in-process switchboard: every Channel registered on
// it can Send to any other by consensus address.
type Network struct {
	mu    sync.RWMutex
	nodes map[ethcommon.Address]*Channel
}

// NewNetwork returns an empty switchboard.
func NewNetwork() *Network {
	return &Network{nodes: make(map[ethcommon.Address]*Channel)}
}

// Channel is one node's view of the Network: it satisfies peer.Channel.
type Channel struct {
	net  *Network
	self ethcommon.Address
	in   chan peer.Inbound
}

// Join registers a new Channel for self on the network, buffering up to
// capacity inbound messages before Send blocks.
func (n *Network) Join(self ethcommon.Address, capacity int) *Channel {
	c := &Channel{net: n, self: self, in: make(chan peer.Inbound, capacity)}
	n.mu.Lock()
	n.nodes[self] = c
	n.mu.Unlock()
	return c
}

// Send delivers msg to peer's inbound channel if peer is joined to the
// same network; an unknown peer is silently dropped, the way a real
// transport drops a send to an address it has no open connection to.
func (c *Channel) Send(p ethcommon.Address, msg *message.Signed) error {
	c.net.mu.RLock()
	target, ok := c.net.nodes[p]
	c.net.mu.RUnlock()
	if !ok {
		return nil
	}
	target.in <- peer.Inbound{From: c.self, Msg: msg}
	return nil
}

// Connect is a no-op: every joined node is already reachable.
func (c *Channel) Connect(ethcommon.Address) error { return nil }

// Receive returns this node's inbound stream.
func (c *Channel) Receive() <-chan peer.Inbound { return c.in }
