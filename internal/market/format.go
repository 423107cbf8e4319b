package market

import (
	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/domain"
)

// placeholderStocks is served when the stock list cannot be fetched.
var placeholderStocks = []domain.StockRecord{
	{Symbol: "AAPL", Name: "Apple Inc.", Price: 225.50, Change: 5.20, ChangePercent: 2.36, Volume: 12583424, Sector: "Technology", Exchange: "NASDAQ"},
	{Symbol: "GOOGL", Name: "Alphabet Inc.", Price: 178.30, Change: -2.10, ChangePercent: -1.16, Volume: 10542737, Sector: "Technology", Exchange: "NASDAQ"},
	{Symbol: "MSFT", Name: "Microsoft Corporation", Price: 465.20, Change: 8.90, ChangePercent: 1.95, Volume: 69851464, Sector: "Technology", Exchange: "NASDAQ"},
	{Symbol: "TSLA", Name: "Tesla Inc.", Price: 415.80, Change: -12.40, ChangePercent: -2.90, Volume: 12831514, Sector: "Automotive", Exchange: "NASDAQ"},
	{Symbol: "AMZN", Name: "Amazon.com Inc.", Price: 206.90, Change: 3.75, ChangePercent: 1.85, Volume: 96354935, Sector: "E-commerce", Exchange: "NASDAQ"},
}

// Placeholder returns a copy of the built-in fallback stock list.
func Placeholder() []domain.StockRecord {
	return append([]domain.StockRecord(nil), placeholderStocks...)
}

// FormatStock converts a backend stock into a StockRecord, filling display
// defaults for missing fields.
func FormatStock(p apiclient.StockPayload) domain.StockRecord {
	r := domain.StockRecord{
		Symbol:        p.Symbol,
		Name:          p.Name,
		Change:        p.PriceChange.InexactFloat64(),
		ChangePercent: p.PriceChangePercent.InexactFloat64(),
		MarketCap:     orDefault(marketCap(p), "N/A"),
		Sector:        orDefault(p.Sector, "Unknown"),
		PERatio:       p.PERatio.InexactFloat64(),
		DividendYield: p.DividendYield.InexactFloat64(),
		Beta:          1.0,
		Exchange:      orDefault(p.Exchange, "N/A"),
		Industry:      orDefault(p.Industry, "N/A"),
	}
	if !p.Beta.IsZero() {
		r.Beta = p.Beta.InexactFloat64()
	}
	if lp := p.LatestPrice; lp != nil {
		r.Price = lp.ClosePrice.InexactFloat64()
		r.Volume = lp.Volume
		r.LastUpdate = lp.Date
	}
	return r
}

// FormatStocks converts a backend stock list.
func FormatStocks(in []apiclient.StockPayload) []domain.StockRecord {
	out := make([]domain.StockRecord, 0, len(in))
	for _, p := range in {
		out = append(out, FormatStock(p))
	}
	return out
}

func marketCap(p apiclient.StockPayload) string {
	s := p.MarketCap.String()
	if s == "0" {
		return ""
	}
	return s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
