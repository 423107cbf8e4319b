// Package archive keeps downloaded price history in Parquet files, one file
// per symbol.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"stockanalysis/internal/domain"
)

// ErrInvalidSymbol is returned for symbols that cannot name a file under
// the data directory.
var ErrInvalidSymbol = errors.New("invalid symbol")

// ValidateSymbol rejects empty symbols and symbols containing path
// separators or "..".
func ValidateSymbol(symbol string) error {
	if symbol == "" || strings.ContainsAny(symbol, `/\`) || strings.Contains(symbol, "..") {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return nil
}

// Store writes and reads price history under DataDir.
type Store struct {
	DataDir string
}

// New creates a Store rooted at dataDir.
func New(dataDir string) *Store {
	return &Store{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// On-disk schema
// ---------------------------------------------------------------------------

// PriceRecord is the Parquet schema for one day of price history.
type PriceRecord struct {
	Symbol string  `parquet:"symbol"`
	Date   int64   `parquet:"date,timestamp(millisecond)"` // Unix ms, UTC midnight
	Open   float64 `parquet:"open"`
	High   float64 `parquet:"high"`
	Low    float64 `parquet:"low"`
	Close  float64 `parquet:"close"`
	Volume int64   `parquet:"volume"`
	MA5    float64 `parquet:"ma5"`
	MA10   float64 `parquet:"ma10"`
	MA20   float64 `parquet:"ma20"`
	MA50   float64 `parquet:"ma50"`
	EMA12  float64 `parquet:"ema12"`
	EMA26  float64 `parquet:"ema26"`
	MACD   float64 `parquet:"macd"`
	RSI    float64 `parquet:"rsi"`
}

func toRecord(symbol string, b domain.PriceBar) PriceRecord {
	return PriceRecord{
		Symbol: symbol,
		Date:   b.Date.UTC().UnixMilli(),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
		MA5:    b.MA5,
		MA10:   b.MA10,
		MA20:   b.MA20,
		MA50:   b.MA50,
		EMA12:  b.EMA12,
		EMA26:  b.EMA26,
		MACD:   b.MACD,
		RSI:    b.RSI,
	}
}

func (r PriceRecord) bar() domain.PriceBar {
	return domain.PriceBar{
		Date:   time.UnixMilli(r.Date).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
		MA5:    r.MA5,
		MA10:   r.MA10,
		MA20:   r.MA20,
		MA50:   r.MA50,
		EMA12:  r.EMA12,
		EMA26:  r.EMA26,
		MACD:   r.MACD,
		RSI:    r.RSI,
	}
}

// ---------------------------------------------------------------------------
// Read / write
// ---------------------------------------------------------------------------

// Write merges bars into symbol's file, replacing rows with the same date,
// and returns the number of rows now stored.
//
//	<DataDir>/prices/<SYMBOL>.parquet
func (s *Store) Write(_ context.Context, symbol string, bars []domain.PriceBar) (int, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return 0, err
	}
	path := s.Path(symbol)
	existing, err := readParquetFile[PriceRecord](path)
	if err != nil {
		return 0, fmt.Errorf("reading %s: %w", path, err)
	}
	if len(bars) == 0 {
		return len(existing), nil
	}

	incoming := make([]PriceRecord, 0, len(bars))
	for _, b := range bars {
		incoming = append(incoming, toRecord(strings.ToUpper(symbol), b))
	}
	merged := mergeRecords(existing, incoming)
	if err := writeParquetFile(path, merged); err != nil {
		return 0, fmt.Errorf("writing prices for %s: %w", symbol, err)
	}
	return len(merged), nil
}

// Read returns symbol's archived history in date order. A symbol that was
// never archived has no rows.
func (s *Store) Read(_ context.Context, symbol string) ([]domain.PriceBar, error) {
	if err := ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	records, err := readParquetFile[PriceRecord](s.Path(symbol))
	if err != nil {
		return nil, fmt.Errorf("reading prices for %s: %w", symbol, err)
	}
	bars := make([]domain.PriceBar, 0, len(records))
	for _, r := range records {
		bars = append(bars, r.bar())
	}
	return bars, nil
}

// Symbols lists the archived symbols.
func (s *Store) Symbols(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.DataDir, "prices"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if name, ok := strings.CutSuffix(e.Name(), ".parquet"); ok && !e.IsDir() {
			symbols = append(symbols, name)
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Path returns the file holding symbol's history. symbol must pass
// ValidateSymbol.
func (s *Store) Path(symbol string) string {
	return filepath.Join(s.DataDir, "prices", strings.ToUpper(symbol)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

// readParquetFile returns no rows for a missing file.
func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return parquet.ReadFile[T](path)
}

// mergeRecords deduplicates by date, preferring incoming rows, sorted by date.
func mergeRecords(existing, incoming []PriceRecord) []PriceRecord {
	seen := make(map[int64]PriceRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Date] = r
	}
	for _, r := range incoming {
		seen[r.Date] = r
	}

	merged := make([]PriceRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date < merged[j].Date
	})
	return merged
}
