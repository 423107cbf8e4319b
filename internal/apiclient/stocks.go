package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"stockanalysis/internal/domain"
)

// ---------------------------------------------------------------------------
// Wire types
// ---------------------------------------------------------------------------

// LatestPrice is the most recent daily close attached to a stock.
type LatestPrice struct {
	ClosePrice decimal.Decimal `json:"close_price"`
	Date       string          `json:"date"`
	Volume     int64           `json:"volume"`
}

// StockPayload is a stock as the backend serializes it. Prices arrive as
// decimal strings or numbers.
type StockPayload struct {
	ID                 int64           `json:"id"`
	Symbol             string          `json:"symbol"`
	Name               string          `json:"name"`
	Exchange           string          `json:"exchange"`
	Sector             string          `json:"sector"`
	Industry           string          `json:"industry"`
	MarketCap          json.Number     `json:"market_cap"`
	Description        string          `json:"description"`
	PERatio            decimal.Decimal `json:"pe_ratio"`
	PBRatio            decimal.Decimal `json:"pb_ratio"`
	DividendYield      decimal.Decimal `json:"dividend_yield"`
	Beta               decimal.Decimal `json:"beta"`
	PriceChange        decimal.Decimal `json:"price_change"`
	PriceChangePercent decimal.Decimal `json:"price_change_percent"`
	LatestPrice        *LatestPrice    `json:"latest_price"`
	IsFavorited        bool            `json:"is_favorited"`
}

// FavoriteEntry is one row of the favorites list.
type FavoriteEntry struct {
	ID        int64        `json:"id"`
	Stock     StockPayload `json:"stock"`
	CreatedAt string       `json:"created_at"`
}

// FavoriteResult is the answer to a favorite add or remove.
type FavoriteResult struct {
	Message string `json:"message"`
}

type priceRow struct {
	Date       string          `json:"date"`
	OpenPrice  decimal.Decimal `json:"open_price"`
	HighPrice  decimal.Decimal `json:"high_price"`
	LowPrice   decimal.Decimal `json:"low_price"`
	ClosePrice decimal.Decimal `json:"close_price"`
	Volume     int64           `json:"volume"`
	MA5        decimal.Decimal `json:"ma_5"`
	MA10       decimal.Decimal `json:"ma_10"`
	MA20       decimal.Decimal `json:"ma_20"`
	MA50       decimal.Decimal `json:"ma_50"`
	EMA12      decimal.Decimal `json:"ema_12"`
	EMA26      decimal.Decimal `json:"ema_26"`
	MACD       decimal.Decimal `json:"macd"`
	RSI        decimal.Decimal `json:"rsi"`
}

func (r priceRow) bar() (domain.PriceBar, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return domain.PriceBar{}, fmt.Errorf("%w: bad price date %q", ErrUnexpectedShape, r.Date)
	}
	return domain.PriceBar{
		Date:   date,
		Open:   r.OpenPrice.InexactFloat64(),
		High:   r.HighPrice.InexactFloat64(),
		Low:    r.LowPrice.InexactFloat64(),
		Close:  r.ClosePrice.InexactFloat64(),
		Volume: r.Volume,
		MA5:    r.MA5.InexactFloat64(),
		MA10:   r.MA10.InexactFloat64(),
		MA20:   r.MA20.InexactFloat64(),
		MA50:   r.MA50.InexactFloat64(),
		EMA12:  r.EMA12.InexactFloat64(),
		EMA26:  r.EMA26.InexactFloat64(),
		MACD:   r.MACD.InexactFloat64(),
		RSI:    r.RSI.InexactFloat64(),
	}, nil
}

func bars(rows []priceRow) ([]domain.PriceBar, error) {
	out := make([]domain.PriceBar, 0, len(rows))
	for _, r := range rows {
		b, err := r.bar()
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Operations
// ---------------------------------------------------------------------------

// Stocks returns the public stock list. It is sent without credentials.
func (c *Client) Stocks(ctx context.Context) ([]StockPayload, error) {
	resp, err := c.Request(ctx, StocksList, RequestOptions{NoAuth: true})
	if err != nil {
		return nil, err
	}
	return decodeList[StockPayload](resp)
}

// StockDetail returns one stock.
func (c *Client) StockDetail(ctx context.Context, symbol string) (*StockPayload, error) {
	var s StockPayload
	opts := RequestOptions{PathParams: map[string]string{"symbol": symbol}}
	if err := c.do(ctx, StockDetail, opts, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StockPrices returns a stock's daily price history, newest first.
func (c *Client) StockPrices(ctx context.Context, symbol string) ([]domain.PriceBar, error) {
	resp, err := c.Request(ctx, StockPrices, RequestOptions{PathParams: map[string]string{"symbol": symbol}})
	if err != nil {
		return nil, err
	}
	rows, err := decodeList[priceRow](resp)
	if err != nil {
		return nil, err
	}
	return bars(rows)
}

// StockTechnical returns up to the last 100 days of indicator values. Only
// Date, Close and the indicator fields are populated.
func (c *Client) StockTechnical(ctx context.Context, symbol string) ([]domain.PriceBar, error) {
	resp, err := c.Request(ctx, StockTechnical, RequestOptions{PathParams: map[string]string{"symbol": symbol}})
	if err != nil {
		return nil, err
	}
	rows, err := decodeList[priceRow](resp)
	if err != nil {
		return nil, err
	}
	return bars(rows)
}

// ImportLogs returns the backend's data import history.
func (c *Client) ImportLogs(ctx context.Context) ([]domain.ImportLog, error) {
	resp, err := c.Request(ctx, StockImportLogs, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return decodeList[domain.ImportLog](resp)
}

// FavoriteList returns the authenticated user's favorites.
func (c *Client) FavoriteList(ctx context.Context) ([]FavoriteEntry, error) {
	resp, err := c.Request(ctx, FavoriteList, RequestOptions{})
	if err != nil {
		return nil, err
	}
	return decodeList[FavoriteEntry](resp)
}

// FavoriteSymbols returns the symbols of the authenticated user's favorites
// in server order.
func (c *Client) FavoriteSymbols(ctx context.Context) ([]string, error) {
	entries, err := c.FavoriteList(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Stock.Symbol != "" {
			out = append(out, e.Stock.Symbol)
		}
	}
	return out, nil
}

// AddFavorite marks symbol as a favorite. Adding an existing favorite
// succeeds.
func (c *Client) AddFavorite(ctx context.Context, symbol string) (*FavoriteResult, error) {
	return c.favorite(ctx, FavoriteAdd, symbol)
}

// RemoveFavorite unmarks symbol.
func (c *Client) RemoveFavorite(ctx context.Context, symbol string) (*FavoriteResult, error) {
	return c.favorite(ctx, FavoriteRemove, symbol)
}

func (c *Client) favorite(ctx context.Context, endpoint Endpoint, symbol string) (*FavoriteResult, error) {
	body := map[string]string{"symbol": symbol}
	var out FavoriteResult
	if err := c.do(ctx, endpoint, RequestOptions{Method: http.MethodPost, Data: body}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
