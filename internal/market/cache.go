// Package market caches the stock list, the user's favorites and the
// recently viewed stocks, and reconciles favorites with the backend.
package market

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/domain"
	"stockanalysis/internal/live"
	"stockanalysis/internal/localstore"
	"stockanalysis/internal/session"
)

// MaxRecentViewed bounds the recently viewed list.
const MaxRecentViewed = 10

// ErrToggleInFlight is returned when a favorite toggle for the same symbol
// has not finished yet.
var ErrToggleInFlight = errors.New("favorite toggle already in progress")

// API is the subset of the backend client the cache needs.
type API interface {
	Stocks(ctx context.Context) ([]apiclient.StockPayload, error)
	FavoriteSymbols(ctx context.Context) ([]string, error)
	AddFavorite(ctx context.Context, symbol string) (*apiclient.FavoriteResult, error)
	RemoveFavorite(ctx context.Context, symbol string) (*apiclient.FavoriteResult, error)
}

// Source tells where the current stock list came from.
type Source int

const (
	SourceNone Source = iota
	SourceLive
	SourcePlaceholder
)

// EventKind classifies cache change events.
type EventKind int

const (
	StocksChanged EventKind = iota
	FavoritesChanged
	RecentChanged
	LoadingChanged
)

// Event tells subscribers which part of the cache changed.
type Event struct {
	Kind EventKind
}

// Cache is the single owner of market data on the client. Reads return
// copies; network calls are made without holding its lock.
type Cache struct {
	api  API
	kv   localstore.Store
	log  *slog.Logger
	feed *live.Feed[Event]

	mu        sync.RWMutex
	stocks    []domain.StockRecord
	source    Source
	loading   bool
	favorites []string
	recent    []domain.StockRecord
	auth      session.Status
	// favGen changes on every authentication transition so a favorites
	// fetch or toggle started before it is not applied after it.
	favGen   uint64
	inflight map[string]bool
}

// New creates a cache and restores the favorites mirror and recently viewed
// list from kv.
func New(api API, kv localstore.Store, log *slog.Logger) *Cache {
	c := &Cache{
		api:      api,
		kv:       kv,
		log:      log.With("component", "market"),
		feed:     live.NewFeed[Event](),
		inflight: make(map[string]bool),
	}
	c.favorites = c.readMirror()

	var recent []domain.StockRecord
	if _, err := localstore.GetJSON(kv, localstore.KeyRecentlyViewed, &recent); err != nil {
		c.log.Warn("restoring recently viewed failed", "error", err)
	}
	if len(recent) > MaxRecentViewed {
		recent = recent[:MaxRecentViewed]
	}
	c.recent = recent
	return c
}

// ---------------------------------------------------------------------------
// Stock list
// ---------------------------------------------------------------------------

// Load fetches the public stock list and replaces the cached one. When the
// fetch fails the placeholder list is installed and the error returned; a
// response that is not a list installs an empty list.
func (c *Cache) Load(ctx context.Context) error {
	c.setLoading(true)
	defer c.setLoading(false)

	payload, err := c.api.Stocks(ctx)
	var (
		stocks []domain.StockRecord
		source = SourceLive
	)
	switch {
	case err == nil:
		stocks = FormatStocks(payload)
	case errors.Is(err, apiclient.ErrUnexpectedShape):
		c.log.Warn("stock list has an unexpected shape", "error", err)
		stocks = []domain.StockRecord{}
	default:
		c.log.Warn("loading stock list failed, using placeholder data", "error", err)
		stocks = Placeholder()
		source = SourcePlaceholder
	}

	c.mu.Lock()
	c.stocks = stocks
	c.source = source
	c.mu.Unlock()
	c.publish(StocksChanged)

	if source == SourcePlaceholder {
		return fmt.Errorf("loading stock list: %w", err)
	}
	return nil
}

func (c *Cache) setLoading(v bool) {
	c.mu.Lock()
	c.loading = v
	c.mu.Unlock()
	c.publish(LoadingChanged)
}

// Stocks returns the cached stock list.
func (c *Cache) Stocks() []domain.StockRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.stocks)
}

// Stock returns the cached record for symbol.
func (c *Cache) Stock(symbol string) (domain.StockRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.stocks {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return domain.StockRecord{}, false
}

// Source reports where the cached stock list came from.
func (c *Cache) Source() Source {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.source
}

// Loading reports whether a stock list fetch is in progress.
func (c *Cache) Loading() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loading
}

// ---------------------------------------------------------------------------
// Favorites
// ---------------------------------------------------------------------------

// Favorites returns the favorite symbols.
func (c *Cache) Favorites() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.favorites)
}

// IsFavorite reports whether symbol is a favorite.
func (c *Cache) IsFavorite(symbol string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Contains(c.favorites, symbol)
}

// ToggleFavorite adds or removes symbol on the server and, only when that
// succeeds, in memory and in the mirror. It returns whether symbol is now a
// favorite; on failure that is the unchanged previous state.
func (c *Cache) ToggleFavorite(ctx context.Context, symbol string) (bool, error) {
	c.mu.Lock()
	was := slices.Contains(c.favorites, symbol)
	if c.inflight[symbol] {
		c.mu.Unlock()
		return was, ErrToggleInFlight
	}
	c.inflight[symbol] = true
	gen := c.favGen
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.inflight, symbol)
		c.mu.Unlock()
	}()

	var err error
	if was {
		_, err = c.api.RemoveFavorite(ctx, symbol)
	} else {
		_, err = c.api.AddFavorite(ctx, symbol)
	}
	if err != nil {
		c.log.Warn("toggling favorite failed", "symbol", symbol, "error", err)
		return was, fmt.Errorf("toggle favorite %s: %w", symbol, err)
	}

	c.mu.Lock()
	if c.favGen != gen {
		c.mu.Unlock()
		return !was, nil
	}
	if was {
		c.favorites = slices.DeleteFunc(c.favorites, func(s string) bool { return s == symbol })
	} else if !slices.Contains(c.favorites, symbol) {
		c.favorites = append(c.favorites, symbol)
	}
	c.writeMirrorLocked()
	c.mu.Unlock()

	c.publish(FavoritesChanged)
	return !was, nil
}

// RefreshFavorites re-reads the mirror and then syncs with the server. It
// does nothing unless the session is authenticated.
func (c *Cache) RefreshFavorites(ctx context.Context) {
	c.mu.Lock()
	if c.auth != session.Authenticated {
		c.mu.Unlock()
		return
	}
	if mirror := c.readMirror(); len(mirror) > 0 {
		c.favorites = mirror
	}
	gen := c.favGen
	c.mu.Unlock()
	c.publish(FavoritesChanged)

	c.syncFavorites(ctx, gen)
}

// syncFavorites replaces the favorites with the server's list. On failure
// the mirror is used instead, and an empty mirror leaves memory as it is.
func (c *Cache) syncFavorites(ctx context.Context, gen uint64) {
	symbols, err := c.api.FavoriteSymbols(ctx)

	c.mu.Lock()
	if c.favGen != gen {
		c.mu.Unlock()
		return
	}
	if err != nil {
		c.log.Warn("loading favorites failed, keeping local copy", "error", err)
		if mirror := c.readMirror(); len(mirror) > 0 {
			c.favorites = mirror
		}
	} else {
		c.favorites = dedupe(symbols)
		c.writeMirrorLocked()
	}
	c.mu.Unlock()
	c.publish(FavoritesChanged)
}

func (c *Cache) readMirror() []string {
	var symbols []string
	if _, err := localstore.GetJSON(c.kv, localstore.KeyFavorites, &symbols); err != nil {
		c.log.Warn("reading favorites mirror failed", "error", err)
		return nil
	}
	return dedupe(symbols)
}

// writeMirrorLocked persists the favorites. c.mu must be held.
func (c *Cache) writeMirrorLocked() {
	if err := localstore.SetJSON(c.kv, localstore.KeyFavorites, c.favorites); err != nil {
		c.log.Warn("saving favorites mirror failed", "error", err)
	}
}

func dedupe(symbols []string) []string {
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Recently viewed
// ---------------------------------------------------------------------------

// AddToRecentViewed moves stock to the front of the recently viewed list,
// dropping any older entry for the same symbol and the oldest entry beyond
// MaxRecentViewed.
func (c *Cache) AddToRecentViewed(stock domain.StockRecord) {
	c.mu.Lock()
	recent := make([]domain.StockRecord, 0, MaxRecentViewed)
	recent = append(recent, stock)
	for _, r := range c.recent {
		if r.Symbol != stock.Symbol {
			recent = append(recent, r)
		}
	}
	if len(recent) > MaxRecentViewed {
		recent = recent[:MaxRecentViewed]
	}
	c.recent = recent
	if err := localstore.SetJSON(c.kv, localstore.KeyRecentlyViewed, recent); err != nil {
		c.log.Warn("saving recently viewed failed", "error", err)
	}
	c.mu.Unlock()
	c.publish(RecentChanged)
}

// RecentViewed returns the full recently viewed list, newest first.
func (c *Cache) RecentViewed() []domain.StockRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.recent)
}

// ---------------------------------------------------------------------------
// Session coupling
// ---------------------------------------------------------------------------

// SessionSource is what the cache needs from the session owner.
type SessionSource interface {
	Status() session.Status
	Resolved() bool
	Subscribe() (<-chan session.Event, func())
}

// OnSessionChange applies an authentication transition. Becoming
// authenticated loads the server's favorites; becoming unauthenticated
// clears them and their mirror. Callers pass only resolved states: an
// Unauthenticated status from before the startup check must not reach it.
func (c *Cache) OnSessionChange(ctx context.Context, status session.Status) {
	c.mu.Lock()
	prev := c.auth
	c.auth = status
	if status == prev && status != session.Unauthenticated {
		c.mu.Unlock()
		return
	}
	c.favGen++
	gen := c.favGen

	switch status {
	case session.Authenticated:
		c.mu.Unlock()
		c.syncFavorites(ctx, gen)
	case session.Unauthenticated:
		c.favorites = nil
		if err := c.kv.RemoveItem(localstore.KeyFavorites); err != nil {
			c.log.Warn("clearing favorites mirror failed", "error", err)
		}
		c.mu.Unlock()
		c.publish(FavoritesChanged)
	default:
		c.mu.Unlock()
		c.publish(LoadingChanged)
	}
}

// Run follows sess until ctx is cancelled or the session closes its feed.
func (c *Cache) Run(ctx context.Context, sess SessionSource) {
	events, cancel := sess.Subscribe()
	defer cancel()

	c.follow(ctx, sess)
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Kind == session.StateChanged {
				c.follow(ctx, sess)
			}
		}
	}
}

// follow applies the session's current state. Until the startup check has
// resolved, the mirror stays in place.
func (c *Cache) follow(ctx context.Context, sess SessionSource) {
	status := sess.Status()
	if status == session.Unauthenticated && !sess.Resolved() {
		return
	}
	c.OnSessionChange(ctx, status)
}

// Subscribe returns a channel of change events and a function that ends
// the subscription.
func (c *Cache) Subscribe() (<-chan Event, func()) {
	id, ch := c.feed.Subscribe(16)
	return ch, func() { c.feed.Unsubscribe(id) }
}

// Close ends every subscription.
func (c *Cache) Close() {
	c.feed.Close()
}

func (c *Cache) publish(kind EventKind) {
	c.feed.Publish(Event{Kind: kind})
}
