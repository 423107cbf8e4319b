package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stockanalysis/internal/archive"
	"stockanalysis/internal/display"
	"stockanalysis/internal/domain"
	"stockanalysis/internal/market"
	"stockanalysis/internal/quotes"
	"stockanalysis/internal/util"
)

const (
	fetchAttempts = 3
	fetchBackoff  = 500 * time.Millisecond
)

func newStocksCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stocks",
		Short: "Browse the stock list",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every stock",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			a.restore(ctx)
			a.loadStocks(ctx)
			display.Stocks(a.out, a.cache.Stocks(), a.cache.IsFavorite)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "search TERM",
		Short: "Find stocks by symbol, name or sector",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			a.restore(ctx)
			a.loadStocks(ctx)
			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			display.Stocks(a.out, a.cache.Search(term), a.cache.IsFavorite)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show SYMBOL",
		Short: "Show one stock and remember it as recently viewed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			a.restore(ctx)
			symbol := strings.ToUpper(args[0])

			stock, err := a.lookupStock(ctx, symbol)
			if err != nil {
				return err
			}
			a.cache.AddToRecentViewed(stock)
			display.Stock(a.out, stock, a.cache.IsFavorite(symbol))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Summarize the stock list and favorites",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			a.restore(ctx)
			a.loadStocks(ctx)
			display.Statistics(a.out, a.cache.Statistics())
			return nil
		},
	})

	var (
		limit    int
		archived bool
	)
	prices := &cobra.Command{
		Use:   "prices SYMBOL",
		Short: "Show daily price history with indicators",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			symbol := strings.ToUpper(args[0])
			var (
				bars []domain.PriceBar
				err  error
			)
			if archived {
				bars, err = a.archive.Read(ctx, symbol)
			} else {
				bars, err = a.fetchPrices(ctx, symbol)
			}
			if err != nil {
				return err
			}
			if len(bars) == 0 {
				display.Dim(a.out, "no price history for "+symbol)
				return nil
			}
			display.Prices(a.out, bars, limit)
			return nil
		},
	}
	prices.Flags().IntVarP(&limit, "limit", "n", 20, "rows to show, 0 for all")
	prices.Flags().BoolVar(&archived, "archived", false, "read from the local archive instead of the backend")
	cmd.AddCommand(prices)

	var (
		favorites bool
		perMinute int
	)
	export := &cobra.Command{
		Use:   "export [SYMBOL...]",
		Short: "Archive price history to local Parquet files",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			symbols := make([]string, 0, len(args))
			for _, s := range args {
				symbols = append(symbols, strings.ToUpper(s))
			}
			if favorites {
				if err := a.requireLogin(ctx); err != nil {
					return err
				}
				symbols = append(symbols, a.cache.Favorites()...)
			}
			if len(symbols) == 0 {
				return errors.New("no symbols given")
			}
			return a.export(ctx, symbols, perMinute)
		},
	}
	export.Flags().BoolVar(&favorites, "favorites", false, "also export every favorite")
	export.Flags().IntVar(&perMinute, "rate", 60, "maximum price requests per minute")
	cmd.AddCommand(export)

	cmd.AddCommand(&cobra.Command{
		Use:   "archived",
		Short: "List symbols with a local price archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			symbols, err := a.archive.Symbols(cmd.Context())
			if err != nil {
				return err
			}
			if len(symbols) == 0 {
				display.Dim(a.out, "no archived symbols in "+a.cfg.Storage.DataDir)
				return nil
			}
			fmt.Fprintln(a.out, strings.Join(symbols, "\n"))
			return nil
		},
	})

	return cmd
}

// lookupStock finds symbol in the stock list, asking the backend directly
// when the list does not carry it.
func (a *app) lookupStock(ctx context.Context, symbol string) (domain.StockRecord, error) {
	a.loadStocks(ctx)
	if s, ok := a.cache.Stock(symbol); ok {
		return s, nil
	}
	p, err := a.client.StockDetail(ctx, symbol)
	if err != nil {
		return domain.StockRecord{}, fmt.Errorf("stock %s: %w", symbol, err)
	}
	return market.FormatStock(*p), nil
}

// fetchPrices loads a price history, retrying network failures.
func (a *app) fetchPrices(ctx context.Context, symbol string) ([]domain.PriceBar, error) {
	var bars []domain.PriceBar
	err := util.Retry(ctx, fetchAttempts, fetchBackoff, func(ctx context.Context) error {
		var err error
		bars, err = a.client.StockPrices(ctx, symbol)
		if err != nil && !isTransport(err) {
			return util.Permanent(err)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("prices for %s: %w", symbol, err)
	}
	return bars, nil
}

func (a *app) export(ctx context.Context, symbols []string, perMinute int) error {
	limiter := util.NewRateLimiter(perMinute, 5)
	seen := make(map[string]bool, len(symbols))
	var failed int
	for _, sym := range symbols {
		if seen[sym] {
			continue
		}
		seen[sym] = true
		if err := archive.ValidateSymbol(sym); err != nil {
			display.Error(a.out, err)
			failed++
			continue
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		bars, err := a.fetchPrices(ctx, sym)
		if err != nil {
			a.log.Warn("export failed", "symbol", sym, "error", err)
			display.Error(a.out, err)
			failed++
			continue
		}
		n, err := a.archive.Write(ctx, sym, bars)
		if err != nil {
			display.Error(a.out, err)
			failed++
			continue
		}
		display.Success(a.out, fmt.Sprintf("%s: %d rows in %s", sym, n, a.archive.Path(sym)))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d exports failed", failed, len(seen))
	}
	return nil
}

func newFavoritesCmd(get func() *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "favorites",
		Short: "Manage favorite stocks",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List favorite stocks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			a.loadStocks(ctx)
			display.Stocks(a.out, a.cache.FavoriteStocks(), a.cache.IsFavorite)
			if n := len(a.cache.Favorites()) - len(a.cache.FavoriteStocks()); n > 0 {
				display.Dim(a.out, fmt.Sprintf("%d favorites are not in the stock list", n))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "toggle SYMBOL",
		Short: "Add or remove a favorite",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, ctx := get(), cmd.Context()
			if err := a.requireLogin(ctx); err != nil {
				return err
			}
			symbol := strings.ToUpper(args[0])
			on, err := a.cache.ToggleFavorite(ctx, symbol)
			if err != nil {
				return err
			}
			if on {
				display.Success(a.out, symbol+" added to favorites")
			} else {
				display.Success(a.out, symbol+" removed from favorites")
			}
			return nil
		},
	})
	return cmd
}

func newRecentCmd(get func() *app) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently viewed stocks",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a := get()
			recent := a.cache.RecentViewedStocks()
			if all {
				recent = a.cache.RecentViewed()
			}
			display.Stocks(a.out, recent, a.cache.IsFavorite)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, fmt.Sprintf("show all %d remembered stocks", market.MaxRecentViewed))
	return cmd
}

func newQuoteCmd(get func() *app) *cobra.Command {
	return &cobra.Command{
		Use:   "quote SYMBOL...",
		Short: "Show latest trades from Alpaca market data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a := get()
			qs, err := a.quotes.Latest(cmd.Context(), args)
			if errors.Is(err, quotes.ErrDisabled) {
				display.Notice(a.out, "set ALPACA_API_KEY and ALPACA_API_SECRET to enable quotes")
				return nil
			}
			if err != nil {
				return err
			}
			display.Quotes(a.out, qs)
			return nil
		},
	}
}
