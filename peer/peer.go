// Package peer defines the abstract peer channel (§6): the core never
// sees raw bytes or socket state, only send/receive of signed envelopes
// keyed by the peer's consensus public key.
package peer

import (
	ethcommon "github.com/ethereum/go-ethereum/common"

	"github.com/sigma67/tendercore/message"
)

// Inbound is one (peer, envelope) pair delivered by the transport.
type Inbound struct {
	From ethcommon.Address
	Msg  *message.Signed
}

// Channel is the transport capability the handler drives. Implementations
// own sockets, handshake, and framing; the core only calls these methods
// and drains Receive().
type Channel interface {
	// Send delivers msg to one peer.
	Send(peer ethcommon.Address, msg *message.Signed) error
	// Connect triggers a connection attempt to peer, looked up via the
	// configured ConnectList/saved-peers addresses.
	Connect(peer ethcommon.Address) error
	// Receive returns the stream of inbound envelopes. The channel is
	// closed when the transport shuts down.
	Receive() <-chan Inbound
}
