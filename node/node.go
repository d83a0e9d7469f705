package node

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/sigma67/tendercore/accountability"
	"github.com/sigma67/tendercore/core"
	"github.com/sigma67/tendercore/external"
	"github.com/sigma67/tendercore/mempool"
	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/peer"
	"github.com/sigma67/tendercore/service"
	"github.com/sigma67/tendercore/storage"
	"github.com/sigma67/tendercore/storage/leveldb"
	"github.com/sigma67/tendercore/storage/memdb"
	"github.com/sigma67/tendercore/validators"
)

// Node is the embedding process's entry point: it owns the concrete
// Backend, the consensus Handler, and the external command channel, the
// same role the original's node::Node plays over its NodeHandler. It is
// grounded on the teacher's eth.Ethereum, which likewise wires a
// BlockChain/TxPool/protocol manager trio behind one Start/Stop lifecycle.
type Node struct {
	cfg Config
	log log.Logger

	store   storage.Store
	backend *backend
	handler *core.Handler
	watcher *validators.Watcher

	apiCh         chan external.Message
	equivocations chan *core.Equivocation
	proofs        chan *accountability.Proof
}

// New constructs a Node. key is the node's consensus signing key;
// channel is the peer transport the embedder provides (a real libp2p/TCP
// implementation, or an in-process fake for tests); services lists every
// registered transaction service; genesisCommittee is the validator list
// the backend reports for every height. The validators.Watcher attached
// to the backend resolves its committee through that same backend, and
// Run refreshes it only once at startup, so it reports this list too.
func New(cfg Config, key *ecdsa.PrivateKey, channel peer.Channel, services []service.Service, genesisCommittee core.Committee, logger log.Logger) (*Node, error) {
	store, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	registry := service.NewRegistry(services...)
	pool := mempool.NewPool(registry, cfg.Mempool.Capacity, cfg.Mempool.VerificationConcurrency)
	be := newBackend(key, store, registry, pool, channel, genesisCommittee)

	if cfg.Genesis != nil && be.LastHeader() == nil {
		if err := seedGenesis(store, cfg.Genesis); err != nil {
			return nil, fmt.Errorf("node: seed genesis: %w", err)
		}
	}

	watcher := validators.NewWatcher(be)
	be.SetCommitteeSource(watcher)

	apiCh := make(chan external.Message, cfg.Events.APIRequestsCapacity)
	handler, err := core.NewHandler(be, be.Address(), cfg.Consensus, logger, channel.Receive(), apiCh)
	if err != nil {
		return nil, fmt.Errorf("node: build handler: %w", err)
	}

	equivocations := make(chan *core.Equivocation, 16)
	handler.SetEquivocations(equivocations)

	return &Node{
		cfg:           cfg,
		log:           logger,
		store:         store,
		backend:       be,
		handler:       handler,
		watcher:       watcher,
		apiCh:         apiCh,
		equivocations: equivocations,
		proofs:        make(chan *accountability.Proof, 16),
	}, nil
}

func openStore(dataDir string) (storage.Store, error) {
	if dataDir == "" {
		return memdb.New(), nil
	}
	return leveldb.Open(dataDir)
}

// seedGenesis installs genesis as height 0's committed header when the
// store is otherwise empty, so LastHeader/Committee resolve correctly on
// a fresh chain's very first round.
func seedGenesis(store storage.Store, genesis *message.Header) error {
	f := store.Fork()
	enc, err := rlp.EncodeToBytes(genesis)
	if err != nil {
		return err
	}
	f.Put(headerKeyFor(genesis.Height), enc)
	f.Put(headKey, encodeHeight(genesis.Height))
	return store.Merge(f)
}

// Run drives the node until ctx is cancelled or a Shutdown command
// arrives on the external command surface. It also seeds the committee
// watcher with the genesis height so Committee resolves before the first
// real commit.
func (n *Node) Run(ctx context.Context) error {
	if _, height := n.watcher.Current(); height == 0 {
		if last := n.backend.LastHeader(); last != nil {
			if err := n.watcher.Refresh(last.Height); err != nil {
				n.log.Warn("initial committee refresh failed", "err", err)
			}
		}
	}
	go n.convertEquivocations(ctx)
	n.handler.Run(ctx)
	return n.store.Close()
}

// convertEquivocations turns every Equivocation the handler reports into
// an independently verifiable accountability.Proof and forwards it on
// Proofs(), dropping (with a log line) anything that fails to convert —
// which only happens if the accumulator's opaque Envelope field was set
// to something other than a *message.Signed, a programming error upstream.
func (n *Node) convertEquivocations(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-n.equivocations:
			if !ok {
				return
			}
			proof, err := accountability.FromEquivocation(e)
			if err != nil {
				n.log.Error("discarding unconvertible equivocation", "err", err)
				continue
			}
			if err := accountability.Verify(proof); err != nil {
				n.log.Error("discarding equivocation that failed independent verification", "err", err)
				continue
			}
			select {
			case n.proofs <- proof:
			case <-ctx.Done():
				return
			default:
				n.log.Warn("accountability proof channel full, dropping proof", "author", proof.Author, "round", proof.Round)
			}
		}
	}
}

// SharedState exposes the handler's observable snapshot (height, round,
// step, enabled, pool size, last block hash) for an embedding API layer.
func (n *Node) SharedState() *core.SharedState { return n.handler.SharedState() }

// Proofs exposes independently-verified equivocation evidence (§7) for an
// embedding program to persist, relay, or surface to an operator.
func (n *Node) Proofs() <-chan *accountability.Proof { return n.proofs }

// --- external command surface (§5 "external API") --------------------

// Shutdown requests the event loop stop.
func (n *Node) Shutdown() {
	n.apiCh <- external.Shutdown{}
}

// Enable toggles whether this node participates as a validator (§4.1's
// "if not enabled, no vote is cast"), without tearing down the process.
func (n *Node) Enable(on bool) {
	n.apiCh <- external.Enable{On: on}
}

// AddPeer asks the transport to dial a new peer at address, identified by
// its consensus public key.
func (n *Node) AddPeer(address string, publicKey ethcommon.Address) {
	n.apiCh <- external.AddPeer{Address: address, PublicKey: publicKey}
}

// Rebroadcast asks the handler to regossip every pooled transaction
// (§4.5 "periodic rebroadcast").
func (n *Node) Rebroadcast() {
	n.apiCh <- external.Rebroadcast{}
}

// SubmitTransaction admits raw (an envelope: service id, body, signer,
// signature) through the mempool pipeline and reports the outcome on
// result, the same request/response shape the original's
// ExternalMessage::Transaction(tx) plus its api_sender ack models.
func (n *Node) SubmitTransaction(ctx context.Context, raw []byte) error {
	result := make(chan error, 1)
	select {
	case n.apiCh <- external.SubmitTransaction{Raw: raw, Result: result}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
