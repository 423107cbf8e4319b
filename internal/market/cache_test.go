package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/domain"
	"stockanalysis/internal/localstore"
	"stockanalysis/internal/session"
	"stockanalysis/internal/token"
)

type fakeAPI struct {
	mu        sync.Mutex
	stocks    []apiclient.StockPayload
	stocksErr error
	favs      []string
	favsErr   error
	toggleErr error
	gate      chan struct{} // when set, add/remove wait on it
}

func (f *fakeAPI) Stocks(context.Context) ([]apiclient.StockPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stocks, f.stocksErr
}

func (f *fakeAPI) FavoriteSymbols(context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.favs), f.favsErr
}

func (f *fakeAPI) AddFavorite(_ context.Context, symbol string) (*apiclient.FavoriteResult, error) {
	return f.toggle(symbol, true)
}

func (f *fakeAPI) RemoveFavorite(_ context.Context, symbol string) (*apiclient.FavoriteResult, error) {
	return f.toggle(symbol, false)
}

func (f *fakeAPI) toggle(symbol string, add bool) (*apiclient.FavoriteResult, error) {
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.toggleErr != nil {
		return nil, f.toggleErr
	}
	if add {
		f.favs = append(f.favs, symbol)
	} else {
		f.favs = slices.DeleteFunc(f.favs, func(s string) bool { return s == symbol })
	}
	return &apiclient.FavoriteResult{Message: "ok"}, nil
}

func payload(symbol, name, sector, price, change string, volume int64) apiclient.StockPayload {
	return apiclient.StockPayload{
		Symbol:      symbol,
		Name:        name,
		Sector:      sector,
		PriceChange: decimal.RequireFromString(change),
		LatestPrice: &apiclient.LatestPrice{
			ClosePrice: decimal.RequireFromString(price),
			Date:       "2025-01-10",
			Volume:     volume,
		},
	}
}

// fixture has 3 gainers and 2 losers.
func fixture() []apiclient.StockPayload {
	return []apiclient.StockPayload{
		payload("AAPL", "Apple Inc.", "Technology", "225.50", "5.20", 100),
		payload("GOOGL", "Alphabet Inc.", "Technology", "178.30", "-2.10", 200),
		payload("XOM", "Exxon Mobil", "Energy", "110.10", "1.00", 300),
		payload("TSLA", "Tesla Inc.", "Automotive", "415.80", "-12.40", 400),
		payload("JPM", "JPMorgan Chase", "Financial", "240.25", "0.75", 500),
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCache(t *testing.T, api *fakeAPI, kv localstore.Store) *Cache {
	t.Helper()
	c := New(api, kv, discardLogger())
	t.Cleanup(c.Close)
	return c
}

func mirror(t *testing.T, kv localstore.Store) []string {
	t.Helper()
	var got []string
	if _, err := localstore.GetJSON(kv, localstore.KeyFavorites, &got); err != nil {
		t.Fatalf("reading mirror: %v", err)
	}
	return got
}

func TestLoadReplacesStocks(t *testing.T) {
	api := &fakeAPI{stocks: fixture()}
	c := newTestCache(t, api, localstore.NewMemoryStore())

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.Stocks(); len(got) != 5 || got[0].Symbol != "AAPL" || got[0].Price != 225.5 {
		t.Errorf("Stocks = %+v", got)
	}
	if c.Source() != SourceLive || c.Loading() {
		t.Errorf("Source=%v Loading=%v", c.Source(), c.Loading())
	}

	api.mu.Lock()
	api.stocks = []apiclient.StockPayload{}
	api.mu.Unlock()
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := c.Stocks(); len(got) != 0 {
		t.Errorf("empty list not applied wholesale: %d stocks", len(got))
	}
}

func TestLoadFallsBackToPlaceholder(t *testing.T) {
	api := &fakeAPI{stocksErr: &apiclient.TransportError{Method: "GET", URL: "x", Err: errors.New("connection refused")}}
	c := newTestCache(t, api, localstore.NewMemoryStore())

	if err := c.Load(context.Background()); err == nil {
		t.Error("Load reported no error on fetch failure")
	}
	got := c.Stocks()
	var symbols []string
	for _, s := range got {
		symbols = append(symbols, s.Symbol)
	}
	want := []string{"AAPL", "GOOGL", "MSFT", "TSLA", "AMZN"}
	if !slices.Equal(symbols, want) {
		t.Errorf("placeholder symbols = %v, want %v", symbols, want)
	}
	if c.Loading() {
		t.Error("Loading still true after failed Load")
	}
	if c.Source() != SourcePlaceholder {
		t.Errorf("Source = %v, want placeholder", c.Source())
	}
}

func TestLoadUnexpectedShapeGivesEmptyList(t *testing.T) {
	api := &fakeAPI{stocksErr: fmt.Errorf("decoding: %w", apiclient.ErrUnexpectedShape)}
	c := newTestCache(t, api, localstore.NewMemoryStore())

	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(c.Stocks()) != 0 || c.Source() != SourceLive {
		t.Errorf("Stocks=%d Source=%v", len(c.Stocks()), c.Source())
	}
}

func TestFormatStockDefaults(t *testing.T) {
	r := FormatStock(apiclient.StockPayload{Symbol: "NEW", Name: "Newco"})
	if r.Price != 0 || r.Volume != 0 || r.MarketCap != "N/A" || r.Sector != "Unknown" ||
		r.Beta != 1.0 || r.Exchange != "N/A" || r.Industry != "N/A" || r.LastUpdate != "" {
		t.Errorf("FormatStock defaults = %+v", r)
	}
}

func TestToggleFavorite(t *testing.T) {
	api := &fakeAPI{}
	kv := localstore.NewMemoryStore()
	c := newTestCache(t, api, kv)
	ctx := context.Background()

	on, err := c.ToggleFavorite(ctx, "AAPL")
	if err != nil || !on {
		t.Fatalf("ToggleFavorite(add) = %v, %v", on, err)
	}
	if !c.IsFavorite("AAPL") || !slices.Equal(mirror(t, kv), []string{"AAPL"}) {
		t.Errorf("after add: favorites=%v mirror=%v", c.Favorites(), mirror(t, kv))
	}

	on, err = c.ToggleFavorite(ctx, "AAPL")
	if err != nil || on {
		t.Fatalf("ToggleFavorite(remove) = %v, %v", on, err)
	}
	if c.IsFavorite("AAPL") || len(mirror(t, kv)) != 0 {
		t.Errorf("after remove: favorites=%v mirror=%v", c.Favorites(), mirror(t, kv))
	}
}

func TestToggleFavoriteFailureLeavesState(t *testing.T) {
	kv := localstore.NewMemoryStore()
	if err := localstore.SetJSON(kv, localstore.KeyFavorites, []string{"MSFT"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	api := &fakeAPI{toggleErr: &apiclient.APIError{Status: 401, Message: "expired"}}
	c := newTestCache(t, api, kv)

	for _, sym := range []string{"AAPL", "MSFT"} {
		before := c.Favorites()
		on, err := c.ToggleFavorite(context.Background(), sym)
		if err == nil {
			t.Fatalf("ToggleFavorite(%s) succeeded", sym)
		}
		if on != slices.Contains(before, sym) {
			t.Errorf("ToggleFavorite(%s) = %v, want previous state", sym, on)
		}
		if !slices.Equal(c.Favorites(), before) || !slices.Equal(mirror(t, kv), []string{"MSFT"}) {
			t.Errorf("state changed after failure: favorites=%v mirror=%v", c.Favorites(), mirror(t, kv))
		}
	}
}

func TestToggleFavoriteInFlight(t *testing.T) {
	api := &fakeAPI{gate: make(chan struct{})}
	c := newTestCache(t, api, localstore.NewMemoryStore())

	done := make(chan error, 1)
	go func() {
		_, err := c.ToggleFavorite(context.Background(), "AAPL")
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for {
		c.mu.RLock()
		busy := c.inflight["AAPL"]
		c.mu.RUnlock()
		if busy {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("first toggle never started")
		}
		time.Sleep(time.Millisecond)
	}

	if _, err := c.ToggleFavorite(context.Background(), "AAPL"); !errors.Is(err, ErrToggleInFlight) {
		t.Errorf("second toggle error = %v, want ErrToggleInFlight", err)
	}
	close(api.gate)
	if err := <-done; err != nil {
		t.Fatalf("first toggle: %v", err)
	}
	if !c.IsFavorite("AAPL") {
		t.Error("AAPL not favorite after first toggle completed")
	}
}

func TestSessionReconcilesFavorites(t *testing.T) {
	kv := localstore.NewMemoryStore()
	if err := localstore.SetJSON(kv, localstore.KeyFavorites, []string{"MSFT", "MSFT", "TSLA"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	api := &fakeAPI{favs: []string{"AAPL", "GOOGL"}}
	c := newTestCache(t, api, kv)
	ctx := context.Background()

	if got := c.Favorites(); !slices.Equal(got, []string{"MSFT", "TSLA"}) {
		t.Errorf("mirror favorites = %v, want deduplicated [MSFT TSLA]", got)
	}

	c.OnSessionChange(ctx, session.Authenticated)
	if got := c.Favorites(); !slices.Equal(got, []string{"AAPL", "GOOGL"}) {
		t.Errorf("favorites after sync = %v", got)
	}
	if got := mirror(t, kv); !slices.Equal(got, []string{"AAPL", "GOOGL"}) {
		t.Errorf("mirror after sync = %v", got)
	}

	c.OnSessionChange(ctx, session.Unauthenticated)
	if len(c.Favorites()) != 0 {
		t.Errorf("favorites after logout = %v", c.Favorites())
	}
	if _, ok, _ := kv.GetItem(localstore.KeyFavorites); ok {
		t.Error("mirror kept after logout")
	}
}

func TestFavoritesSyncFailureKeepsMirror(t *testing.T) {
	kv := localstore.NewMemoryStore()
	if err := localstore.SetJSON(kv, localstore.KeyFavorites, []string{"TSLA"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	api := &fakeAPI{favsErr: errors.New("timeout")}
	c := newTestCache(t, api, kv)

	c.OnSessionChange(context.Background(), session.Authenticated)
	if got := c.Favorites(); !slices.Equal(got, []string{"TSLA"}) {
		t.Errorf("favorites after failed sync = %v, want mirror [TSLA]", got)
	}
	c.RefreshFavorites(context.Background())
	if got := c.Favorites(); !slices.Equal(got, []string{"TSLA"}) {
		t.Errorf("favorites after failed refresh = %v", got)
	}
}

func TestRecentViewed(t *testing.T) {
	kv := localstore.NewMemoryStore()
	c := newTestCache(t, &fakeAPI{}, kv)

	aapl := domain.StockRecord{Symbol: "AAPL", Price: 1}
	c.AddToRecentViewed(aapl)
	c.AddToRecentViewed(domain.StockRecord{Symbol: "AAPL", Price: 2})
	got := c.RecentViewed()
	if len(got) != 1 || got[0].Symbol != "AAPL" || got[0].Price != 2 {
		t.Errorf("after repeat view: %+v", got)
	}

	for i := 0; i < 11; i++ {
		c.AddToRecentViewed(domain.StockRecord{Symbol: fmt.Sprintf("S%02d", i)})
	}
	got = c.RecentViewed()
	if len(got) != MaxRecentViewed {
		t.Fatalf("len = %d, want %d", len(got), MaxRecentViewed)
	}
	if got[0].Symbol != "S10" || got[9].Symbol != "S01" {
		t.Errorf("order = %s..%s, want S10..S01", got[0].Symbol, got[9].Symbol)
	}
	if len(c.RecentViewedStocks()) != RecentViewedLimit {
		t.Errorf("RecentViewedStocks len = %d", len(c.RecentViewedStocks()))
	}

	// Restored by a new cache over the same storage.
	restored := newTestCache(t, &fakeAPI{}, kv)
	r := restored.RecentViewed()
	if len(r) != MaxRecentViewed {
		t.Fatalf("restored recent = %d entries", len(r))
	}
	if r[0].Symbol != "S10" {
		t.Errorf("restored first = %q, want S10", r[0].Symbol)
	}
}

func TestSearch(t *testing.T) {
	c := newTestCache(t, &fakeAPI{stocks: fixture()}, localstore.NewMemoryStore())
	if err := c.Load(context.Background()); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if got := c.Search(""); len(got) != 5 {
		t.Errorf("Search(\"\") = %d stocks, want 5", len(got))
	}
	var symbols []string
	for _, s := range c.Search("tech") {
		symbols = append(symbols, s.Symbol)
	}
	if !slices.Equal(symbols, []string{"AAPL", "GOOGL"}) {
		t.Errorf("Search(tech) = %v", symbols)
	}
	if got := c.Search("tsl"); len(got) != 1 || got[0].Symbol != "TSLA" {
		t.Errorf("Search(tsl) = %+v", got)
	}
	if got := c.Search("EXXON"); len(got) != 1 || got[0].Symbol != "XOM" {
		t.Errorf("Search(EXXON) = %+v", got)
	}
}

func TestStatistics(t *testing.T) {
	api := &fakeAPI{stocks: fixture(), favs: []string{"AAPL", "TSLA"}}
	c := newTestCache(t, api, localstore.NewMemoryStore())
	ctx := context.Background()
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.OnSessionChange(ctx, session.Authenticated)
	c.AddToRecentViewed(domain.StockRecord{Symbol: "AAPL"})

	st := c.Statistics()
	if st.TotalStocks != 5 || st.Gainers != 3 || st.Losers != 2 || st.FavoriteCount != 2 || st.RecentViewedCount != 1 {
		t.Errorf("Statistics = %+v", st)
	}
	if st.TotalValue != 641.3 {
		t.Errorf("TotalValue = %v, want 641.3", st.TotalValue)
	}
	if st.TotalVolume != 1500 {
		t.Errorf("TotalVolume = %d, want 1500", st.TotalVolume)
	}

	favs := c.FavoriteStocks()
	if len(favs) != 2 || favs[0].Symbol != "AAPL" || favs[1].Symbol != "TSLA" {
		t.Errorf("FavoriteStocks = %+v", favs)
	}
}

func TestLoadingState(t *testing.T) {
	c := newTestCache(t, &fakeAPI{stocks: fixture()}, localstore.NewMemoryStore())
	ctx := context.Background()

	if ls := c.LoadingState(); ls.StocksLoaded || !ls.FavoritesLoaded || ls.AllDataLoaded || ls.IsLoading {
		t.Errorf("initial LoadingState = %+v", ls)
	}
	c.OnSessionChange(ctx, session.Authenticating)
	if ls := c.LoadingState(); !ls.IsLoading {
		t.Errorf("LoadingState while authenticating = %+v", ls)
	}
	if err := c.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	c.OnSessionChange(ctx, session.Authenticated)
	if ls := c.LoadingState(); !ls.StocksLoaded || ls.FavoritesLoaded || !ls.AllDataLoaded || ls.IsLoading {
		t.Errorf("LoadingState after load = %+v", ls)
	}
}

type fakeSession struct {
	mu       sync.Mutex
	status   session.Status
	resolved bool
	ch       chan session.Event
}

func (s *fakeSession) Status() session.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *fakeSession) Resolved() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolved
}

func (s *fakeSession) Subscribe() (<-chan session.Event, func()) { return s.ch, func() {} }

func (s *fakeSession) set(st session.Status) {
	s.mu.Lock()
	s.status = st
	s.resolved = s.resolved || st != session.Authenticating
	s.mu.Unlock()
	s.ch <- session.Event{Kind: session.StateChanged, Status: st}
}

func TestRunFollowsSession(t *testing.T) {
	api := &fakeAPI{favs: []string{"AAPL"}}
	c := newTestCache(t, api, localstore.NewMemoryStore())
	sess := &fakeSession{ch: make(chan session.Event)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx, sess)
		close(done)
	}()

	waitFor := func(cond func() bool, what string) {
		t.Helper()
		deadline := time.Now().Add(2 * time.Second)
		for !cond() {
			if time.Now().After(deadline) {
				t.Fatalf("timed out waiting for %s", what)
			}
			time.Sleep(time.Millisecond)
		}
	}

	sess.set(session.Authenticated)
	waitFor(func() bool { return c.IsFavorite("AAPL") }, "favorites sync")
	sess.set(session.Unauthenticated)
	waitFor(func() bool { return len(c.Favorites()) == 0 }, "favorites cleared")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

// sessionAPI lets a real session.Manager restore a stored token.
type sessionAPI struct{}

func (sessionAPI) Login(context.Context, apiclient.Credentials) (*apiclient.LoginResult, error) {
	return nil, errors.New("not used")
}

func (sessionAPI) Logout(context.Context, string) error { return nil }

func (sessionAPI) UserInfo(context.Context) (*domain.User, error) {
	return &domain.User{ID: 1, Username: "alice"}, nil
}

func (sessionAPI) UserPermissions(context.Context) (*domain.PermissionSet, error) {
	return &domain.PermissionSet{Roles: []string{"viewer"}}, nil
}

func (sessionAPI) CheckPermissionChanges(context.Context) (*domain.PermissionChange, error) {
	return &domain.PermissionChange{}, nil
}

func TestRunBeforeStartupCheckKeepsMirror(t *testing.T) {
	kv := localstore.NewMemoryStore()
	if err := localstore.SetJSON(kv, localstore.KeyFavorites, []string{"TSLA"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	tokens := token.New(kv, discardLogger())
	tokens.Set("tok-1")
	sess := session.New(sessionAPI{}, tokens, discardLogger(), session.Options{PollInterval: time.Hour})
	t.Cleanup(sess.Close)

	c := newTestCache(t, &fakeAPI{favsErr: errors.New("timeout")}, kv)
	events, stop := c.Subscribe()
	defer stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The session has not been checked yet: its Unauthenticated status
	// must not clear the mirror.
	c.follow(ctx, sess)
	if got := c.Favorites(); !slices.Equal(got, []string{"TSLA"}) {
		t.Fatalf("favorites before startup check = %v, want [TSLA]", got)
	}
	if got := mirror(t, kv); !slices.Equal(got, []string{"TSLA"}) {
		t.Fatalf("mirror before startup check = %v, want [TSLA]", got)
	}

	done := make(chan struct{})
	go func() {
		c.Run(ctx, sess)
		close(done)
	}()
	if err := sess.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for synced := false; !synced; {
		select {
		case evt := <-events:
			synced = evt.Kind == FavoritesChanged
		case <-deadline:
			t.Fatal("timed out waiting for favorites sync")
		}
	}
	if got := c.Favorites(); !slices.Equal(got, []string{"TSLA"}) {
		t.Errorf("favorites after failed sync = %v, want mirror [TSLA]", got)
	}
	if got := mirror(t, kv); !slices.Equal(got, []string{"TSLA"}) {
		t.Errorf("mirror after failed sync = %v, want [TSLA]", got)
	}

	cancel()
	<-done
}

func TestRunClearsOnResolvedSignOut(t *testing.T) {
	kv := localstore.NewMemoryStore()
	if err := localstore.SetJSON(kv, localstore.KeyFavorites, []string{"TSLA"}); err != nil {
		t.Fatalf("SetJSON: %v", err)
	}
	tokens := token.New(kv, discardLogger())
	sess := session.New(sessionAPI{}, tokens, discardLogger(), session.Options{PollInterval: time.Hour})
	t.Cleanup(sess.Close)
	c := newTestCache(t, &fakeAPI{}, kv)
	ctx := context.Background()

	// No stored token: the startup check resolves to signed out.
	if err := sess.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	c.follow(ctx, sess)
	if len(c.Favorites()) != 0 {
		t.Errorf("favorites after resolved sign-out = %v", c.Favorites())
	}
	if _, ok, _ := kv.GetItem(localstore.KeyFavorites); ok {
		t.Error("mirror kept after resolved sign-out")
	}
}
