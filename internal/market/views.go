package market

import (
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"stockanalysis/internal/domain"
	"stockanalysis/internal/session"
)

// RecentViewedLimit is how many recently viewed stocks the summary view
// shows.
const RecentViewedLimit = 5

// Statistics summarizes the cached stock list.
type Statistics struct {
	TotalStocks       int     `json:"totalStocks"`
	FavoriteCount     int     `json:"favoriteCount"`
	RecentViewedCount int     `json:"recentViewedCount"`
	Gainers           int     `json:"gainers"`
	Losers            int     `json:"losers"`
	TotalValue        float64 `json:"totalValue"`
	TotalVolume       int64   `json:"totalVolume"`
}

// LoadingState describes how far the initial data load has progressed.
type LoadingState struct {
	StocksLoaded    bool `json:"stocksLoaded"`
	FavoritesLoaded bool `json:"favoritesLoaded"`
	AllDataLoaded   bool `json:"allDataLoaded"`
	IsLoading       bool `json:"isLoading"`
}

// FavoriteStocks returns the cached records whose symbol is a favorite, in
// stock list order.
func (c *Cache) FavoriteStocks() []domain.StockRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.favoriteStocksLocked()
}

func (c *Cache) favoriteStocksLocked() []domain.StockRecord {
	out := make([]domain.StockRecord, 0, len(c.favorites))
	for _, s := range c.stocks {
		if slices.Contains(c.favorites, s.Symbol) {
			out = append(out, s)
		}
	}
	return out
}

// RecentViewedStocks returns the most recent RecentViewedLimit entries.
func (c *Cache) RecentViewedStocks() []domain.StockRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.recent[:min(len(c.recent), RecentViewedLimit)])
}

// Statistics computes summary figures. TotalValue is the sum of favorite
// prices, TotalVolume the sum over every stock.
func (c *Cache) Statistics() Statistics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	favs := c.favoriteStocksLocked()
	st := Statistics{
		TotalStocks:       len(c.stocks),
		FavoriteCount:     len(favs),
		RecentViewedCount: min(len(c.recent), RecentViewedLimit),
	}
	for _, s := range c.stocks {
		switch {
		case s.Change > 0:
			st.Gainers++
		case s.Change < 0:
			st.Losers++
		}
		st.TotalVolume += s.Volume
	}

	total := decimal.Zero
	for _, s := range favs {
		total = total.Add(decimal.NewFromFloat(s.Price))
	}
	st.TotalValue = total.InexactFloat64()
	return st
}

// Search returns the stocks whose symbol, name or sector contains term,
// ignoring case. An empty term returns every stock.
func (c *Cache) Search(term string) []domain.StockRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if term == "" {
		return slices.Clone(c.stocks)
	}

	term = strings.ToLower(term)
	out := make([]domain.StockRecord, 0)
	for _, s := range c.stocks {
		if strings.Contains(strings.ToLower(s.Symbol), term) ||
			strings.Contains(strings.ToLower(s.Name), term) ||
			strings.Contains(strings.ToLower(s.Sector), term) {
			out = append(out, s)
		}
	}
	return out
}

// LoadingState reports load progress for the stock list and favorites.
func (c *Cache) LoadingState() LoadingState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	authed := c.auth == session.Authenticated
	authLoading := c.auth == session.Authenticating
	return LoadingState{
		StocksLoaded:    len(c.stocks) > 0,
		FavoritesLoaded: len(c.favorites) > 0 || !authed,
		AllDataLoaded:   len(c.stocks) > 0 && !authLoading,
		IsLoading:       c.loading || authLoading,
	}
}
