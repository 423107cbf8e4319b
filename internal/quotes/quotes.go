// Package quotes looks up latest trades through the Alpaca market data API.
package quotes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
)

// ErrDisabled is returned when no Alpaca credentials are configured.
var ErrDisabled = errors.New("quotes disabled: no alpaca api key configured")

// lookback covers weekends and holidays when finding the previous close.
const lookback = 10 * 24 * time.Hour

// MarketData is the part of the Alpaca market data client used here.
type MarketData interface {
	GetLatestTrades(symbols []string, req marketdata.GetLatestTradeRequest) (map[string]marketdata.Trade, error)
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// Quote is the latest trade of a symbol compared with the previous close.
type Quote struct {
	Symbol        string
	Price         float64
	Size          uint32
	Exchange      string
	Time          time.Time
	PrevClose     float64
	Change        float64
	ChangePercent float64
}

// Options configures a Client.
type Options struct {
	APIKey    string
	APISecret string
	DataURL   string
	Feed      string
}

// Client fetches quotes. A Client built without credentials is disabled.
type Client struct {
	md   MarketData
	feed string
	log  *slog.Logger
	now  func() time.Time
}

// New creates a Client. It returns a disabled client when opts has no key.
func New(opts Options, log *slog.Logger) *Client {
	c := &Client{feed: opts.Feed, log: log.With("component", "quotes"), now: time.Now}
	if opts.APIKey == "" {
		return c
	}
	mdOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		mdOpts.BaseURL = opts.DataURL
	}
	c.md = marketdata.NewClient(mdOpts)
	return c
}

// NewWithMarketData creates a Client over md.
func NewWithMarketData(md MarketData, feed string, log *slog.Logger) *Client {
	return &Client{md: md, feed: feed, log: log.With("component", "quotes"), now: time.Now}
}

// Enabled reports whether the client has credentials.
func (c *Client) Enabled() bool { return c.md != nil }

// Latest returns quotes for symbols in the order given. Symbols without a
// trade are left out.
func (c *Client) Latest(ctx context.Context, symbols []string) ([]Quote, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}
	if len(symbols) == 0 {
		return nil, nil
	}
	upper := make([]string, 0, len(symbols))
	for _, s := range symbols {
		if u := strings.ToUpper(s); !slices.Contains(upper, u) {
			upper = append(upper, u)
		}
	}

	trades, err := c.md.GetLatestTrades(upper, marketdata.GetLatestTradeRequest{Feed: c.feed})
	if err != nil {
		return nil, fmt.Errorf("GetLatestTrades: %w", err)
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	end := c.now()
	bars, err := c.md.GetMultiBars(upper, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     end.Add(-lookback),
		End:       end,
		Feed:      c.feed,
	})
	if err != nil {
		// Quotes are still useful without the change figures.
		c.log.Warn("loading daily bars failed", "error", err)
		bars = nil
	}

	out := make([]Quote, 0, len(upper))
	for _, sym := range upper {
		t, ok := trades[sym]
		if !ok {
			c.log.Debug("no trade for symbol", "symbol", sym)
			continue
		}
		q := Quote{
			Symbol:   sym,
			Price:    t.Price,
			Size:     t.Size,
			Exchange: t.Exchange,
			Time:     t.Timestamp,
		}
		if prev, ok := previousClose(bars[sym], t.Timestamp); ok {
			q.PrevClose = prev
			q.Change = t.Price - prev
			q.ChangePercent = q.Change / prev * 100
		}
		out = append(out, q)
	}
	return out, nil
}

// previousClose returns the close of the last bar dated before the trade's
// day.
func previousClose(bars []marketdata.Bar, trade time.Time) (float64, bool) {
	y, m, d := trade.UTC().Date()
	tradeDay := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Timestamp.Before(tradeDay) && bars[i].Close > 0 {
			return bars[i].Close, true
		}
	}
	return 0, false
}
