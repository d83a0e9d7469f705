package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/log"

	lru "github.com/hashicorp/golang-lru/v2"

	tcommon "github.com/sigma67/tendercore/common"
	"github.com/sigma67/tendercore/external"
	"github.com/sigma67/tendercore/message"
	"github.com/sigma67/tendercore/peer"
)

// Config collects the handler's tunables, all named in §4.4/§6.
type Config struct {
	// T1/DT drive RoundDuration's quadratic round-timeout growth.
	T1 time.Duration
	DT time.Duration

	ProposeTimeout time.Duration

	StatusInterval       time.Duration
	PeerExchangeInterval time.Duration
	APIStateInterval     time.Duration

	Requests message.RequestTimeouts

	// ExpeditedProposeThreshold names a pool-size threshold for an early
	// propose-timeout re-arm. The handler does not read it: the propose
	// timeout is always armed with ProposeTimeout and is never re-armed early.
	ExpeditedProposeThreshold int

	// MaxTxsPerPropose bounds how many hashes a leader nominates at once.
	MaxTxsPerPropose int

	// MessageCacheSize bounds the handler's seen-message de-dup cache.
	MessageCacheSize int

	// RequestTrackerSize bounds the in-flight request de-dup cache.
	RequestTrackerSize int
}

// Handler is the single-threaded consensus event loop of §4.1/§5: it fuses
// network messages, timeout firings, and external API commands through one
// goroutine's select statement, exactly as the teacher's core.handler
// drains its event channel, but widened to the three sources §5 names.
type Handler struct {
	backend Backend
	cfg     Config
	log     log.Logger

	self        ethcommon.Address
	selfID      ValidatorId
	isValidator bool

	committee Committee
	state     *State

	scheduler *Scheduler
	requests  *RequestTracker

	seen *lru.Cache[ethcommon.Hash, struct{}]

	network <-chan peer.Inbound
	api     <-chan external.Message
	timeout chan NodeTimeout

	enabled bool
	shared  *SharedState

	equivocations chan<- *Equivocation
}

// SharedState is the lock-protected snapshot of observable node state
// (§6 "Observable state"): the only data the embedding program may read
// from outside the handler's goroutine.
type SharedState struct {
	mu sync.RWMutex

	height    Height
	round     Round
	step      Step
	enabled   bool
	peerCount int
	poolSize  int
	lastHash  ethcommon.Hash
}

func newSharedState() *SharedState { return &SharedState{} }

func (s *SharedState) set(height Height, round Round, step Step, enabled bool, peerCount, poolSize int, lastHash ethcommon.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.height, s.round, s.step = height, round, step
	s.enabled = enabled
	s.peerCount = peerCount
	s.poolSize = poolSize
	s.lastHash = lastHash
}

// Snapshot returns a copy of the handler's observable state.
func (s *SharedState) Snapshot() (height Height, round Round, step Step, enabled bool, peerCount, poolSize int, lastHash ethcommon.Hash) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, s.round, s.step, s.enabled, s.peerCount, s.poolSize, s.lastHash
}

// NewHandler builds a handler for self, starting at the height following
// the backend's last committed header (§4.7 step 1).
func NewHandler(backend Backend, self ethcommon.Address, cfg Config, logger log.Logger, network <-chan peer.Inbound, api <-chan external.Message) (*Handler, error) {
	if logger == nil {
		logger = log.Root()
	}
	last := backend.LastHeader()
	startHeight := Height(0)
	if last != nil {
		startHeight = last.Height.Next()
	}
	committee, err := backend.Committee(startHeight)
	if err != nil {
		return nil, fmt.Errorf("core: resolve committee at height %s: %w", startHeight, err)
	}
	seen, err := lru.New[ethcommon.Hash, struct{}](cfg.MessageCacheSize)
	if err != nil {
		return nil, err
	}
	selfID, isValidator := committee.IndexOf(self)

	h := &Handler{
		backend:     backend,
		cfg:         cfg,
		log:         logger.New("module", "core"),
		self:        self,
		selfID:      selfID,
		isValidator: isValidator,
		committee:   committee,
		state:       NewState(startHeight, committee.Size(), backend.Now()),
		scheduler:   NewScheduler(),
		requests:    NewRequestTracker(cfg.RequestTrackerSize),
		seen:        seen,
		network:     network,
		api:         api,
		timeout:     make(chan NodeTimeout, 64),
		enabled:     true,
		shared:      newSharedState(),
	}
	return h, nil
}

// SharedState exposes the observable-state snapshot (§6).
func (h *Handler) SharedState() *SharedState { return h.shared }

// SetEquivocations attaches a channel that every detected Equivocation
// (§4.2/§7) is additionally sent to, non-blocking — the accountability
// package's consumer of this feed, wired by the embedding node. Call
// before Run; ch may be nil (the default) to disable forwarding.
func (h *Handler) SetEquivocations(ch chan<- *Equivocation) { h.equivocations = ch }

// Run drives the fused event loop until ctx is cancelled or a Shutdown
// command arrives (§5). It replays the consensus-messages cache for the
// current height before entering the loop (§4.7 step 3).
func (h *Handler) Run(ctx context.Context) {
	h.replayPersisted()
	h.armRoundTimeout()
	now := h.backend.Now()
	if h.cfg.StatusInterval > 0 {
		h.scheduler.Schedule(NodeTimeout{Kind: TimeoutStatus, Deadline: now.Add(h.cfg.StatusInterval)})
	}
	if h.cfg.PeerExchangeInterval > 0 {
		h.scheduler.Schedule(NodeTimeout{Kind: TimeoutPeerExchange, Deadline: now.Add(h.cfg.PeerExchangeInterval)})
	}
	if h.cfg.APIStateInterval > 0 {
		h.scheduler.Schedule(NodeTimeout{Kind: TimeoutUpdateAPIState, Deadline: now.Add(h.cfg.APIStateInterval)})
	}
	h.maybePropose()
	h.maybePrevote(h.state.Round)

	schedCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.scheduler.Run(schedCtx, h.timeout)

	for {
		select {
		case <-ctx.Done():
			return

		case in, ok := <-h.network:
			if !ok {
				h.network = nil
				continue
			}
			h.handleInbound(in)

		case t, ok := <-h.timeout:
			if !ok {
				h.timeout = nil
				continue
			}
			h.handleTimeout(t)

		case ev, ok := <-h.api:
			if !ok {
				h.api = nil
				continue
			}
			if _, shutdown := ev.(external.Shutdown); shutdown {
				return
			}
			h.handleExternal(ev)
		}
		h.publish()
	}
}

func (h *Handler) publish() {
	h.shared.set(h.state.Height, h.state.Round, h.state.Step, h.enabled, 0, h.backend.Mempool().Len(), h.lastHash())
}

func (h *Handler) lastHash() ethcommon.Hash {
	if last := h.backend.LastHeader(); last != nil {
		return last.Hash()
	}
	return ethcommon.Hash{}
}

func (h *Handler) replayPersisted() {
	for _, m := range h.backend.ConsensusMessagesCache(h.state.Height) {
		h.process(m, false)
	}
}

// --- inbound dispatch -------------------------------------------------

func (h *Handler) handleInbound(in peer.Inbound) {
	h.process(in.Msg, true)
}

// process applies the message-handling policy of §4.1: de-dup, signature
// and membership checks, height routing, then per-code dispatch. persist
// controls whether a newly-accepted consensus message is appended to the
// restart-replay cache (§4.7) — false while replaying that very cache.
func (h *Handler) process(m *message.Signed, persist bool) {
	if m == nil {
		return
	}
	hash := m.Hash()
	if _, ok := h.seen.Get(hash); ok {
		return // idempotent replay, §4.1
	}

	if err := message.Verify(m); err != nil {
		h.log.Debug("rejecting message with bad signature", "from", m.Author, "err", err)
		return
	}
	h.seen.Add(hash, struct{}{})

	body, err := m.Body()
	if err != nil {
		h.log.Debug("rejecting undecodable message", "from", m.Author, "err", err)
		return
	}

	if !h.authorAllowed(body, m.Author) {
		h.log.Debug("rejecting message from unknown author", "from", m.Author)
		return
	}

	switch b := body.(type) {
	case *message.Connect:
		h.handleConnect(m.Author, b)
	case *message.Status:
		h.handleStatus(m.Author, b)
	case *message.Propose:
		h.handlePropose(m, b, persist)
	case *message.Prevote:
		h.handleVote(m, kindPrevote, b.Height, b.Round, b.ProposeHash, persist)
	case *message.Precommit:
		h.handlePrecommitMsg(m, b, persist)
	case *message.TransactionsRequest:
		h.handleTransactionsRequest(m.Author, b)
	case *message.TransactionsResponse:
		h.handleTransactionsResponse(b)
	case *message.ProposeRequest:
		h.handleProposeRequest(m.Author, b)
	case *message.ProposeResponse:
		h.handleProposeResponse(b)
	case *message.PrevotesRequest:
		h.handlePrevotesRequest(m.Author, b)
	case *message.PeersRequest:
		h.handlePeersRequest(m.Author)
	case *message.BlockRequest:
		h.handleBlockRequest(m.Author, b)
	case *message.BlockResponse:
		h.handleBlockResponse(b)
	default:
		h.log.Debug("unhandled message body", "code", body.Code())
	}
}

// authorAllowed reports whether consensus messages (votes/propose) from
// addr are acceptable: membership in the current committee is required,
// but handshake/status/request traffic is not gated on it (§6 Channel
// abstraction serves any connected peer).
func (h *Handler) authorAllowed(body message.Body, addr ethcommon.Address) bool {
	switch body.(type) {
	case *message.Propose, *message.Prevote, *message.Precommit:
		_, ok := h.committee.IndexOf(addr)
		return ok
	default:
		return true
	}
}

func (h *Handler) handleConnect(from ethcommon.Address, c *message.Connect) {
	h.log.Trace("connect", "from", from, "addr", c.Addr, "ua", c.UA)
}

func (h *Handler) handleStatus(from ethcommon.Address, s *message.Status) {
	if Height(s.Height) > h.state.Height {
		h.requestBlock(from, h.state.Height)
	}
}

// --- votes --------------------------------------------------------------

// handleVote handles an incoming Prevote (precommits have their own
// routing in handlePrecommitMsg, since Precommit.Value there is split
// across ProposeHash/BlockHash).
func (h *Handler) handleVote(m *message.Signed, kind voteKind, height Height, round Round, value ethcommon.Hash, persist bool) {
	if !h.routeHeight(height) {
		return
	}
	author, _ := h.committee.IndexOf(m.Author)
	sv := &SignedVote{Author: author, Round: round, Value: value, Envelope: m}

	added, reached, equiv := h.state.Prevotes.AddPrevote(sv)
	if equiv != nil {
		h.reportEquivocation(equiv)
		return
	}
	if persist && added {
		_ = h.backend.PersistConsensusMessage(height, m)
	}
	if reached {
		h.onPrevoteQuorum(round, value)
	}
	h.checkRoundAdvance(round)
}

func (h *Handler) handlePrecommitMsg(m *message.Signed, p *message.Precommit, persist bool) {
	if !h.routeHeight(Height(p.Height)) {
		return
	}
	author, _ := h.committee.IndexOf(m.Author)
	sv := &SignedVote{Author: author, Round: Round(p.Round), Value: p.ProposeHash, Envelope: m}
	added, reached, equiv := h.state.Precommits.AddPrecommit(sv)
	if equiv != nil {
		h.reportEquivocation(equiv)
		return
	}
	if persist && added {
		_ = h.backend.PersistConsensusMessage(Height(p.Height), m)
	}
	if reached {
		h.onPrecommitQuorum(Round(p.Round), p.ProposeHash, p.BlockHash)
	}
	h.checkRoundAdvance(Round(p.Round))
}

func (h *Handler) reportEquivocation(e *Equivocation) {
	h.log.Warn("equivocation detected", "round", e.Round, "kind", e.Kind, "author", e.Author)
	if h.equivocations != nil {
		select {
		case h.equivocations <- e:
		default:
		}
	}
}

// routeHeight implements §4.1's height routing: messages for the current
// height are processed; a message for a higher height triggers catch-up
// via BlockRequest and is otherwise dropped (the per-height State cannot
// hold votes for a height it does not represent); a message for a lower
// height is stale and dropped silently.
func (h *Handler) routeHeight(height Height) bool {
	if height == h.state.Height {
		return true
	}
	if height > h.state.Height {
		h.requestBlock(ethcommon.Address{}, h.state.Height)
	}
	return false
}

// onPrevoteQuorum implements §4.1's "Prevote aggregation" rule.
func (h *Handler) onPrevoteQuorum(round Round, value ethcommon.Hash) {
	if round < h.state.Round {
		return
	}
	h.state.ValidRound = round
	h.state.ValidValue = value
	h.maybeUnlock()

	if value == message.NilHash {
		return
	}
	entry, ok := h.state.Proposes[value]
	if !ok || !entry.Complete() {
		h.requestMissingPropose(value)
		return
	}
	h.tryExecuteAndPrecommit(round, entry)
}

// onPrecommitQuorum implements §4.1's "Precommit rule"/"Commit".
func (h *Handler) onPrecommitQuorum(round Round, proposeHash, blockHash ethcommon.Hash) {
	if round < h.state.Round || h.state.Step == StepCommitted {
		return
	}
	if proposeHash == message.NilHash {
		return
	}
	entry, ok := h.state.Proposes[proposeHash]
	if !ok || entry.Result == nil || entry.Header == nil {
		h.requestMissingPropose(proposeHash)
		return
	}
	if entry.Header.Hash() != blockHash && blockHash != (ethcommon.Hash{}) {
		h.log.Error("precommit quorum references a block-hash we did not execute to", "propose", proposeHash)
		return
	}
	h.commit(round, entry)
}

// checkRoundAdvance implements §4.1's "Round advancement": Q precommits or
// prevotes at a round strictly greater than the current one is sufficient
// evidence to jump forward, even without knowing the value.
func (h *Handler) checkRoundAdvance(round Round) {
	if round <= h.state.Round {
		return
	}
	if h.state.Precommits.HasAnyQuorum(kindPrecommit, round) || h.state.Prevotes.HasAnyQuorum(kindPrevote, round) {
		h.enterRound(round)
	}
}

func (h *Handler) enterRound(r Round) {
	if h.state.Step == StepCommitted {
		return
	}
	h.state.EnterRound(r)
	h.maybeUnlock()
	h.log.Debug("entering round", "height", h.state.Height, "round", r)
	h.armRoundTimeout()
	h.maybePropose()
	h.maybePrevote(r)
}

// maybeUnlock implements §4.1 invariant 2's unlock path: a prevote quorum
// for a value other than the one this validator is locked on, reached at
// a round above the lock, clears the lock. This is re-checked on every
// round entry (covering evidence accumulated before the round actually
// began, e.g. via replay or out-of-order delivery) and immediately after
// any freshly observed prevote quorum.
func (h *Handler) maybeUnlock() {
	if !h.state.IsLocked() {
		return
	}
	_, value, ok := h.state.Prevotes.HasQuorumAbove(kindPrevote, h.state.LockedRound)
	if ok && value != h.state.LockedPropose {
		h.state.Unlock()
	}
}

func (h *Handler) armRoundTimeout() {
	deadline := h.state.HeightStartTime.Add(RoundDuration(h.state.Round, h.cfg.T1, h.cfg.DT))
	h.scheduler.Schedule(NodeTimeout{Kind: TimeoutRound, Height: h.state.Height, Round: h.state.Round, Deadline: deadline})
	h.scheduler.Schedule(NodeTimeout{Kind: TimeoutPropose, Height: h.state.Height, Round: h.state.Round, Deadline: h.backend.Now().Add(h.cfg.ProposeTimeout)})
}

// --- timeouts -------------------------------------------------------------

func (h *Handler) handleTimeout(t NodeTimeout) {
	switch t.Kind {
	case TimeoutRound:
		if t.Height == h.state.Height && t.Round == h.state.Round {
			h.enterRound(h.state.Round.Next())
		}
	case TimeoutPropose:
		if t.Height == h.state.Height && t.Round == h.state.Round && h.state.Step == StepIdle {
			h.prevoteNil(t.Round)
		}
	case TimeoutStatus:
		h.broadcastStatus()
		h.scheduler.Schedule(NodeTimeout{Kind: TimeoutStatus, Deadline: h.backend.Now().Add(h.cfg.StatusInterval)})
	case TimeoutPeerExchange:
		h.gossipBody(&message.Connect{Time: uint64(h.backend.Now().Unix())})
		h.scheduler.Schedule(NodeTimeout{Kind: TimeoutPeerExchange, Deadline: h.backend.Now().Add(h.cfg.PeerExchangeInterval)})
	case TimeoutUpdateAPIState:
		h.publish()
		h.scheduler.Schedule(NodeTimeout{Kind: TimeoutUpdateAPIState, Deadline: h.backend.Now().Add(h.cfg.APIStateInterval)})
	case TimeoutRequest:
		h.retryOrCancel(t.Request)
	}
}

func (h *Handler) broadcastStatus() {
	last := h.backend.LastHeader()
	status := &message.Status{Height: uint64(h.state.Height)}
	if last != nil {
		status.LastHash = last.Hash()
	}
	h.gossipBody(status)
}

// prevoteNil casts a nil prevote once the propose timeout lapses with no
// complete propose in hand (§4.4). The Step/round guard mirrors
// maybePrevote's so a propose completing immediately afterwards cannot
// trigger a second, self-equivocating prevote.
func (h *Handler) prevoteNil(round Round) {
	if h.state.Step != StepIdle || round != h.state.Round {
		return
	}
	h.state.Step = StepProposeCollected
	h.castPrevote(round, message.NilHash)
}

// --- external commands ----------------------------------------------------

func (h *Handler) handleExternal(ev external.Message) {
	switch e := ev.(type) {
	case external.AddPeer:
		_ = h.backend.Connect(e.PublicKey)
	case external.SubmitTransaction:
		err := h.admitTransaction(e.Raw)
		if e.Result != nil {
			select {
			case e.Result <- err:
			default:
			}
		}
	case external.Enable:
		h.enabled = e.On
		if h.enabled {
			h.maybePropose()
		}
	case external.Rebroadcast:
		h.rebroadcastPool()
	}
}

// --- requests from peers ---------------------------------------------------

func (h *Handler) handleTransactionsRequest(from ethcommon.Address, req *message.TransactionsRequest) {
	pool := h.backend.Mempool()
	resp := &message.TransactionsResponse{}
	for _, hash := range req.Hashes {
		if _, raw, ok := pool.Get(hash); ok {
			resp.Transactions = append(resp.Transactions, raw)
		}
	}
	h.sendBody(from, resp)
}

func (h *Handler) handleProposeRequest(from ethcommon.Address, req *message.ProposeRequest) {
	if entry, ok := h.state.Proposes[req.Hash]; ok {
		h.sendBody(from, &message.ProposeResponse{Propose: entry.Signed})
	}
}

// handlePrevotesRequest answers with this validator's own prevote for
// (req.Round, req.Hash), if one was cast — the wire protocol defines no
// bulk-vote response type (§4.3's RequestPrevotes variant), so the best
// this node can do is hand back its own vote rather than the full set it
// has accumulated; a requester typically fans this request out to
// several peers to approximate the quorum it is missing.
func (h *Handler) handlePrevotesRequest(from ethcommon.Address, req *message.PrevotesRequest) {
	if req.Height != h.state.Height {
		return
	}
	sv, ok := h.state.Prevotes.byAuthor[authorKey{round: req.Round, kind: kindPrevote, author: h.selfID}]
	if !ok || sv.Value != req.Hash {
		return
	}
	if signed, ok := sv.Envelope.(*message.Signed); ok {
		_ = h.backend.SendTo(from, signed)
	}
}

// handlePeersRequest is intentionally unimplemented: peer.Channel exposes
// no enumeration of known addresses, and no PeersResponse wire type
// exists to carry one back (§4.3's RequestPeers variant names the
// request but the protocol never specified its reply shape). Serving it
// would require extending both the Channel capability and the wire
// protocol, out of scope for this handler; see DESIGN.md.
func (h *Handler) handlePeersRequest(from ethcommon.Address) {
	_ = from
}

// handleBlockRequest serves §4.1's catch-up path: a committed header,
// its persisted justifying precommits, and the transaction bodies still
// held in the pool (already-committed heights often have none left,
// since commit evicts them, §4.6 — best effort beyond that).
func (h *Handler) handleBlockRequest(from ethcommon.Address, req *message.BlockRequest) {
	header := h.backend.HeaderAt(req.Height)
	if header == nil {
		return
	}
	precommits := h.backend.PrecommitsAt(req.Height)
	txHashes := h.backend.TxHashesAt(req.Height)

	pool := h.backend.Mempool()
	var txs [][]byte
	for _, hash := range txHashes {
		if _, raw, ok := pool.Get(hash); ok {
			txs = append(txs, raw)
		}
	}

	h.sendBody(from, &message.BlockResponse{
		Block:        &message.Block{Header: header, TxHashes: txHashes},
		Precommits:   precommits,
		Transactions: txs,
	})
}

// --- responses from peers --------------------------------------------------

func (h *Handler) handleTransactionsResponse(resp *message.TransactionsResponse) {
	errs := h.backend.Mempool().AddMany(resp.Transactions)
	for i, err := range errs {
		if err == nil {
			h.gossipBody(&message.TransactionsResponse{Transactions: [][]byte{resp.Transactions[i]}})
		}
	}
	h.tryCompletePendingProposes()
}

func (h *Handler) handleProposeResponse(resp *message.ProposeResponse) {
	if resp.Propose == nil {
		return
	}
	body, err := resp.Propose.Body()
	if err != nil {
		return
	}
	p, ok := body.(*message.Propose)
	if !ok {
		return
	}
	h.requests.Satisfy(message.ProposeRequestData(p.Hash()))
	h.process(resp.Propose, true)
}

// handleBlockResponse implements §4.3's catch-up response handling. A
// BlockResponse is only ever committed once its precommits independently
// verify against the requested height's committee and the header's own
// hash: a single peer's say-so is never sufficient evidence to finalize
// a block (§1/§8 invariant 1), mirroring the "mismatched responses are
// discarded" discipline §4.3 already applies to malformed replies.
func (h *Handler) handleBlockResponse(resp *message.BlockResponse) {
	if resp.Block == nil || resp.Block.Header == nil {
		return
	}
	if resp.Block.Header.Height != h.state.Height {
		return
	}
	headerHash := resp.Block.Header.Hash()
	if !h.verifyCatchUpPrecommits(headerHash, resp.Precommits) {
		h.log.Debug("discarding block response: precommits failed verification", "height", resp.Block.Header.Height)
		return
	}
	h.requests.Satisfy(message.BlockRequestData(resp.Block.Header.Height))
	h.backend.Mempool().AddMany(resp.Transactions)
	h.catchUpCommit(resp)
}

// verifyCatchUpPrecommits requires every precommit to carry a valid
// signature from a distinct current-committee member and to reference
// headerHash, and requires at least Quorum(n) of them (§4.3/§4.6).
func (h *Handler) verifyCatchUpPrecommits(headerHash ethcommon.Hash, precommits []*message.Signed) bool {
	seen := make(map[ethcommon.Address]struct{}, len(precommits))
	for _, signed := range precommits {
		if signed == nil {
			return false
		}
		if err := message.Verify(signed); err != nil {
			return false
		}
		if _, ok := h.committee.IndexOf(signed.Author); !ok {
			return false
		}
		if _, dup := seen[signed.Author]; dup {
			return false
		}
		seen[signed.Author] = struct{}{}

		body, err := signed.Body()
		if err != nil {
			return false
		}
		p, ok := body.(*message.Precommit)
		if !ok || p.BlockHash != headerHash {
			return false
		}
	}
	return len(seen) >= tcommon.Quorum(h.committee.Size())
}

// --- request helpers ---------------------------------------------------

func (h *Handler) requestMissingPropose(hash ethcommon.Hash) {
	data := message.ProposeRequestData(hash)
	h.issueRequest(data)
}

func (h *Handler) requestBlock(preferred ethcommon.Address, height Height) {
	data := message.BlockRequestData(height)
	candidates := h.candidatePeers(preferred)
	peerAddr, started := h.requests.Start(data, candidates)
	if !started {
		return
	}
	h.sendRequest(peerAddr, data)
}

func (h *Handler) issueRequest(data RequestData) {
	if h.requests.InFlight(data) {
		return
	}
	candidates := h.candidatePeers(ethcommon.Address{})
	peerAddr, started := h.requests.Start(data, candidates)
	if !started {
		return
	}
	h.sendRequest(peerAddr, data)
}

func (h *Handler) sendRequest(to ethcommon.Address, data RequestData) {
	var body message.Body
	switch data.Kind {
	case message.RequestPropose:
		body = &message.ProposeRequest{Hash: data.Hash}
	case message.RequestTransactions:
		return // composed per-hash-set by the caller; see requestTransactions
	case message.RequestPrevotes:
		body = &message.PrevotesRequest{Height: data.Height, Round: data.Round, Hash: data.Hash}
	case message.RequestBlock:
		body = &message.BlockRequest{Height: data.Height}
	case message.RequestPeers:
		body = &message.PeersRequest{}
	}
	h.sendBody(to, body)
	h.scheduler.Schedule(NodeTimeout{Kind: TimeoutRequest, Request: data, Deadline: h.backend.Now().Add(data.Timeout(h.cfg.Requests))})
}

func (h *Handler) retryOrCancel(data RequestData) {
	peerAddr, ok := h.requests.Retry(data)
	if !ok {
		return
	}
	h.sendRequest(peerAddr, data)
}

func (h *Handler) candidatePeers(preferred ethcommon.Address) []ethcommon.Address {
	var out []ethcommon.Address
	if preferred != (ethcommon.Address{}) {
		out = append(out, preferred)
	}
	for _, m := range h.committee.Members {
		if m != h.self && m != preferred {
			out = append(out, m)
		}
	}
	return out
}

// --- small send helpers -----------------------------------------------

// signBody builds the canonical payload for body and signs it through the
// Backend, which is the only party holding the consensus private key
// (§6). This mirrors message.Sign's own internals but delegates the ECDSA
// operation itself to Backend.Sign, keeping the key material out of core.
func (h *Handler) signBody(body message.Body) (*message.Signed, error) {
	payload, err := message.Encode(body)
	if err != nil {
		return nil, err
	}
	digest := crypto.Keccak256(payload)
	sig, err := h.backend.Sign(digest)
	if err != nil {
		return nil, err
	}
	return &message.Signed{Author: h.self, Payload: payload, Signature: sig}, nil
}

func (h *Handler) sendBody(to ethcommon.Address, body message.Body) {
	signed, err := h.signBody(body)
	if err != nil {
		h.log.Error("sign outgoing message", "err", err)
		return
	}
	_ = h.backend.SendTo(to, signed)
}

func (h *Handler) gossipBody(body message.Body) {
	signed, err := h.signBody(body)
	if err != nil {
		h.log.Error("sign outgoing message", "err", err)
		return
	}
	h.backend.Gossip(h.committee, signed)
}

// castPrevote signs, self-delivers, and broadcasts a Prevote for value at
// round (§4.1 "Prevote rule"/"nil prevote"). Self-delivery runs the vote
// through the normal accumulator path so quorum bookkeeping never special-
// cases the local validator's own vote.
func (h *Handler) castPrevote(round Round, value ethcommon.Hash) {
	if !h.isValidator || !h.enabled {
		return
	}
	body := &message.Prevote{Height: h.state.Height, Round: round, ProposeHash: value, LockedRound: h.state.LockedRound}
	signed, err := h.signBody(body)
	if err != nil {
		h.log.Error("sign prevote", "err", err)
		return
	}
	h.process(signed, true)
	h.backend.Gossip(h.committee, signed)
}

// castPrecommit mirrors castPrevote for the Precommit step (§4.1
// "Precommit rule").
func (h *Handler) castPrecommit(round Round, proposeHash, blockHash ethcommon.Hash) {
	if !h.isValidator || !h.enabled {
		return
	}
	body := &message.Precommit{
		Height:      h.state.Height,
		Round:       round,
		ProposeHash: proposeHash,
		BlockHash:   blockHash,
		Time:        uint64(h.backend.Now().Unix()),
	}
	signed, err := h.signBody(body)
	if err != nil {
		h.log.Error("sign precommit", "err", err)
		return
	}
	h.process(signed, true)
	h.backend.Gossip(h.committee, signed)
}

// admitTransaction forwards raw bytes to the pool's own admission pipeline
// (signature/decode/dedup/validate, §4.5 steps 1-5) and, on success,
// broadcasts the transaction to the committee (§4.5 step 6).
func (h *Handler) admitTransaction(raw []byte) error {
	if err := h.backend.Mempool().Add(raw); err != nil {
		return err
	}
	h.gossipBody(&message.TransactionsResponse{Transactions: [][]byte{raw}})
	return nil
}

func (h *Handler) rebroadcastPool() {
	pool := h.backend.Mempool()
	hashes := pool.OrderedHashes(0)
	for _, hash := range hashes {
		if _, raw, ok := pool.Get(hash); ok {
			h.gossipBody(&message.TransactionsResponse{Transactions: [][]byte{raw}})
		}
	}
}

func (h *Handler) tryCompletePendingProposes() {
	for hash, entry := range h.state.Proposes {
		if !entry.Complete() {
			h.pruneKnownTxs(entry)
		}
		if !entry.Complete() {
			continue
		}
		if value, ok := h.state.Prevotes.PrevoteQuorumValue(entry.Propose.Round); ok && value == hash {
			h.tryExecuteAndPrecommit(entry.Propose.Round, entry)
			continue
		}
		if entry.Propose.Round == h.state.Round {
			h.maybePrevote(h.state.Round)
		}
	}
}

// pruneKnownTxs drops now-known hashes from entry's unknown set (§4.3: a
// TransactionsResponse "merges into the corresponding in-memory store").
// If this completes the entry, the outstanding TransactionsRequest for
// the hash set it was issued against is satisfied so the tracker stops
// treating it as in flight.
func (h *Handler) pruneKnownTxs(entry *ProposeEntry) {
	pool := h.backend.Mempool()
	for txHash := range entry.UnknownTxs {
		if _, _, ok := pool.Get(txHash); ok {
			delete(entry.UnknownTxs, txHash)
		}
	}
	if entry.Complete() && entry.RequestedTxs != nil {
		h.requests.Satisfy(message.TransactionsRequestData(entry.RequestedTxs))
		entry.RequestedTxs = nil
	}
}
