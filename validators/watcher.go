// Package validators tracks the effective committee, refreshed whenever a
// caller invokes Refresh for a height; nothing in this package listens for
// commits itself. It
// is adapted from the teacher's eth/protocols/atc/committeeWatcher.go,
// which subscribed to a *core.BlockChain's chain-head feed; here the
// analogous source is whatever commits blocks (the node's Backend), and
// the watcher republishes committee changes on its own event.Feed so
// independent subscribers (an API layer, a metrics exporter) don't each
// have to re-resolve the committee themselves.
package validators

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/event"

	tcommon "github.com/sigma67/tendercore/common"
	"github.com/sigma67/tendercore/core"
)

// Source resolves the committee effective at a height, the same
// capability core.Backend.Committee exposes to the handler.
type Source interface {
	Committee(height tcommon.Height) (core.Committee, error)
}

// Update is published on every successful Refresh.
type Update struct {
	Height    tcommon.Height
	Committee core.Committee
}

// Watcher tracks the current committee and notifies subscribers on every
// Refresh.
type Watcher struct {
	mu      sync.RWMutex
	source  Source
	height  tcommon.Height
	current core.Committee

	feed  event.Feed
	scope event.SubscriptionScope
}

// NewWatcher returns a Watcher with no committee resolved yet; call
// Refresh once before reading Current.
func NewWatcher(source Source) *Watcher {
	return &Watcher{source: source}
}

// Refresh resolves the committee for height, stores it and publishes it
// as an Update, whether or not it differs from the previous one. In this
// repository only Node.Run calls it, once at startup.
func (w *Watcher) Refresh(height tcommon.Height) error {
	committee, err := w.source.Committee(height)
	if err != nil {
		return fmt.Errorf("validators: resolve committee at height %s: %w", height, err)
	}
	w.mu.Lock()
	w.height = height
	w.current = committee
	w.mu.Unlock()

	w.feed.Send(Update{Height: height, Committee: committee})
	return nil
}

// Current returns the most recently resolved committee and its height.
func (w *Watcher) Current() (core.Committee, tcommon.Height) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current, w.height
}

// Subscribe registers ch to receive every future Update. The returned
// Subscription must be Unsubscribed by the caller; Close tears down any
// subscription the caller forgets.
func (w *Watcher) Subscribe(ch chan<- Update) event.Subscription {
	return w.scope.Track(w.feed.Subscribe(ch))
}

// Close unsubscribes every outstanding subscriber.
func (w *Watcher) Close() {
	w.scope.Close()
}
