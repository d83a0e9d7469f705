// Package node assembles the concrete pieces (storage, mempool, peer
// transport, consensus handler) into one runnable process and exposes the
// external command surface applications embed this core through. It is
// the Go-idiomatic analogue of the original implementation's
// node::{NodeConfig, Configuration, EventsPoolCapacity, MemoryPoolConfig},
// adapted to the same channel-sizing concerns the teacher expresses
// through eth/ethconfig.Config and its package-level Defaults.
package node

import (
	"time"

	"github.com/sigma67/tendercore/core"
	"github.com/sigma67/tendercore/message"
)

// EventsPoolCapacity holds the node's channel-sizing knobs, mirroring the
// original's node::EventsPoolCapacity. New reads only APIRequestsCapacity:
// the inbound peer-message channel is the one peer.Channel.Receive
// returns, and core.Handler sizes its timeout channel itself.
type EventsPoolCapacity struct {
	// NetworkEventsCapacity names a bound for the inbound peer-message
	// channel (core.Handler's network source); New does not read it.
	NetworkEventsCapacity int
	// APIRequestsCapacity bounds the external-command channel (core.Handler's
	// api source).
	APIRequestsCapacity int
	// TimeoutCapacity names a bound for the scheduler's timeout-firing
	// channel; New does not read it (core.Handler's channel holds 64).
	TimeoutCapacity int
}

// DefaultEventsPoolCapacity matches the original's defaults: generous
// headroom on the network path, a smaller bound on operator-driven API
// calls, and a tight bound on timeouts (core defines six timeout kinds).
var DefaultEventsPoolCapacity = EventsPoolCapacity{
	NetworkEventsCapacity: 512,
	APIRequestsCapacity:   128,
	TimeoutCapacity:       16,
}

// MemoryPoolConfig configures the transaction pool and its admission
// pipeline (§4.5), the Go analogue of the original's MemoryPoolConfig.
type MemoryPoolConfig struct {
	// Capacity bounds the number of pending transactions (§4.5).
	Capacity int
	// VerificationConcurrency bounds how many envelope signatures are
	// checked in parallel (mempool.Verifier, §9 "bounded worker pool").
	VerificationConcurrency int
}

// DefaultMemoryPoolConfig is a reasonable single-process default.
var DefaultMemoryPoolConfig = MemoryPoolConfig{
	Capacity:                 8192,
	VerificationConcurrency:  4,
}

// Config is the complete configuration for a Node, the Go analogue of the
// original's NodeConfig: storage location, identity, network address, the
// consensus tunables core.Config already names, and the channel-sizing
// knobs above.
type Config struct {
	// DataDir is the leveldb path. Empty means use an in-memory store
	// (storage/memdb), suitable for tests and ephemeral nodes.
	DataDir string

	// ListenAddress is the address the peer transport binds to.
	ListenAddress string
	// ExternalAddress is advertised to peers during discovery/handshake.
	ExternalAddress string
	// PeerDiscovery lists bootstrap peer addresses. Node does not dial
	// them itself; nothing in this package reads the field.
	PeerDiscovery []string

	Consensus core.Config
	Mempool   MemoryPoolConfig
	Events    EventsPoolCapacity

	// Genesis is the header the store is seeded with if empty.
	Genesis *message.Header
}

// DefaultConsensusConfig matches the proportions §4.4 describes for
// RoundDuration without prescribing exact wall-clock values; callers
// tune T1/DT for their deployment's expected network latency.
var DefaultConsensusConfig = core.Config{
	T1:                        1 * time.Second,
	DT:                        500 * time.Millisecond,
	ProposeTimeout:            3 * time.Second,
	StatusInterval:            5 * time.Second,
	PeerExchangeInterval:      30 * time.Second,
	APIStateInterval:          1 * time.Second,
	ExpeditedProposeThreshold: 1,
	MaxTxsPerPropose:          1000,
	MessageCacheSize:          4096,
	RequestTrackerSize:        1024,
}

// DefaultConfig is a single-process development default: in-memory
// storage, no bootstrap peers, the consensus defaults above.
func DefaultConfig() Config {
	return Config{
		Consensus: DefaultConsensusConfig,
		Mempool:   DefaultMemoryPoolConfig,
		Events:    DefaultEventsPoolCapacity,
	}
}
