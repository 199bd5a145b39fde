package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/enveloppeapp/enveloppe-go/internal/cache"
	"github.com/enveloppeapp/enveloppe-go/internal/config"
	"github.com/enveloppeapp/enveloppe-go/internal/remote"
	"github.com/enveloppeapp/enveloppe-go/internal/store"
	syncengine "github.com/enveloppeapp/enveloppe-go/internal/sync"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// holder carries the effective configuration loaded by PersistentPreRunE.
var holder *config.Holder

// httpClientTimeout bounds every remote call; no unbounded blocking.
const httpClientTimeout = 30 * time.Second

// newRootCmd builds the fully-assembled root command. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "enveloppe-go",
		Short:   "Offline-first envelope budget sync client",
		Long:    "Tracks accounts, envelopes and transactions locally and propagates every mutation to the remote service when the network allows.",
		Version: version,
		// Silence cobra's default error/usage printing — main handles it.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			path := flagConfigPath
			if path == "" {
				path = config.DefaultPath()
			}

			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			holder = config.NewHolder(cfg, path)

			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newWipeCmd())

	return cmd
}

// buildLogger creates an slog.Logger from the config log level and CLI
// flags; flags always win. Text handler on a TTY, JSON otherwise.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	switch holder.Config().LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelWarn
	}

	opts := &slog.HandlerOptions{Level: level}

	if !flagJSON && isatty.IsTerminal(os.Stderr.Fd()) {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// buildService assembles the full engine from the loaded config: store,
// cache guard, remote client, worker, reconciler, connectivity monitor.
// The caller owns the returned service and must Close the store last.
func buildService(logger *slog.Logger) (*syncengine.Service, error) {
	cfg := holder.Config()

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}

	guard := cache.NewGuard(st, logger)

	token := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	client := remote.NewClient(cfg.RemoteBaseURL,
		&http.Client{Timeout: httpClientTimeout}, token, logger)

	worker := syncengine.NewWorker(st.Queue(), client, logger)
	reconciler := syncengine.NewReconciler(st, cfg.UserID, logger)

	poll, settle, resync := cfg.Durations()
	monitor := syncengine.NewMonitor(syncengine.MonitorConfig{
		Prober:         client,
		Worker:         worker,
		Logger:         logger,
		PollInterval:   poll,
		SettleDelay:    settle,
		ResyncInterval: resync,
		PushURL:        cfg.PushURL,
	})

	return syncengine.NewService(st, guard, worker, reconciler, monitor, logger), nil
}
