package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"stockanalysis/internal/admin"
	"stockanalysis/internal/apiclient"
	"stockanalysis/internal/archive"
	"stockanalysis/internal/config"
	"stockanalysis/internal/display"
	"stockanalysis/internal/localstore"
	"stockanalysis/internal/market"
	"stockanalysis/internal/quotes"
	"stockanalysis/internal/session"
	"stockanalysis/internal/token"
	"stockanalysis/internal/util"
)

const version = "0.1.0"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		display.Error(os.Stderr, err)
		os.Exit(1)
	}
}

// ---------------------------------------------------------------------------
// Application wiring
// ---------------------------------------------------------------------------

// app holds the client components shared by every command.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	kv      localstore.Store
	tokens  *token.Store
	client  *apiclient.Client
	sess    *session.Manager
	cache   *market.Cache
	planner *admin.Planner
	archive *archive.Store
	quotes  *quotes.Client
	out     io.Writer
}

func newApp(cfgPath string, debug bool, out io.Writer) (*app, error) {
	if cfgPath == "" {
		cfgPath = os.Getenv("STOCKANALYSIS_CONFIG")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if debug {
		cfg.Logging.Level = "debug"
		cfg.API.Debug = true
	}

	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.SQLitePath), 0o755); err != nil {
		log.Warn("creating state directory failed", "error", err)
	}
	// Local state is scoped to the backend it belongs to.
	kv, persistent := localstore.Open(cfg.Storage.SQLitePath, cfg.API.BaseURL, log)
	log.Debug("local storage opened", "path", cfg.Storage.SQLitePath, "persistent", persistent)

	tokens := token.New(kv, log)
	client := apiclient.New(apiclient.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Debug:   cfg.API.Debug,
	}, tokens, log)

	return &app{
		cfg:     cfg,
		log:     log,
		kv:      kv,
		tokens:  tokens,
		client:  client,
		sess:    session.New(client, tokens, log, session.Options{PollInterval: cfg.Session.PollInterval}),
		cache:   market.New(client, kv, log),
		planner: admin.New(client, log),
		archive: archive.New(cfg.Storage.DataDir),
		quotes: quotes.New(quotes.Options{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			DataURL:   cfg.Alpaca.DataURL,
			Feed:      cfg.Alpaca.Feed,
		}, log),
		out: out,
	}, nil
}

func (a *app) close() {
	a.sess.Close()
	a.cache.Close()
	if c, ok := a.kv.(io.Closer); ok {
		if err := c.Close(); err != nil {
			a.log.Warn("closing local storage failed", "error", err)
		}
	}
}

// restore runs the startup check for a stored token and tells the cache the
// outcome. A failed check is not an error for commands that work signed out.
func (a *app) restore(ctx context.Context) {
	if err := a.sess.Init(ctx); err != nil {
		display.Notice(a.out, "stored session is no longer valid, please log in again")
	}
	a.cache.OnSessionChange(ctx, a.sess.Status())
}

// requireLogin restores the session and fails unless it is authenticated.
func (a *app) requireLogin(ctx context.Context) error {
	a.restore(ctx)
	if err := a.sess.Require(); err != nil {
		return fmt.Errorf("%w: run `stockanalysis login` first", err)
	}
	return nil
}

// loadStocks fills the cache, noting when sample data is shown instead.
func (a *app) loadStocks(ctx context.Context) {
	if err := a.cache.Load(ctx); err != nil {
		a.log.Debug("stock list unavailable", "error", err)
		display.Notice(a.out, "backend unavailable, showing sample data")
	}
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func newRootCmd() *cobra.Command {
	var (
		cfgPath string
		debug   bool
		a       *app
	)

	root := &cobra.Command{
		Use:           "stockanalysis",
		Short:         "Stock analysis platform client",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			a, err = newApp(cfgPath, debug, cmd.OutOrStdout())
			return err
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a != nil {
				a.close()
			}
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "configuration file path (default $STOCKANALYSIS_CONFIG)")
	root.PersistentFlags().BoolVar(&debug, "debug", false, "log requests and debug output")

	get := func() *app { return a }
	root.AddCommand(
		newVersionCmd(),
		newLoginCmd(get),
		newLogoutCmd(get),
		newWhoamiCmd(get),
		newRegisterCmd(get),
		newPasswordCmd(get),
		newStocksCmd(get),
		newFavoritesCmd(get),
		newRecentCmd(get),
		newQuoteCmd(get),
		newPermissionsCmd(get),
		newRolesCmd(get),
		newUsersCmd(get),
		newImportsCmd(get),
		newModelsCmd(get),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "stockanalysis %s\n", version)
		},
	}
}

// isTransport reports whether err came from the network rather than the
// backend's answer.
func isTransport(err error) bool {
	var te *apiclient.TransportError
	return errors.As(err, &te)
}
