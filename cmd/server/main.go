package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"hls-cdnsim/internal/cdn"
	"hls-cdnsim/internal/platform/config"
	"hls-cdnsim/internal/platform/logger"
	"hls-cdnsim/internal/platform/metrics"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// serveFlags override the environment when set on the command line.
type serveFlags struct {
	port     string
	logLevel string
	store    string
}

func newRootCmd() *cobra.Command {
	var flags serveFlags

	root := &cobra.Command{
		Use:          "cdnsim",
		Short:        "Mock HLS CDN edge for player demos",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	}
	root.PersistentFlags().StringVar(&flags.port, "port", "", "listen port (overrides PORT)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	root.PersistentFlags().StringVar(&flags.store, "store", "", "memory or redis (overrides STORE_BACKEND)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), flags)
		},
	})
	root.AddCommand(newLadderCmd())
	return root
}

func loadConfig(flags serveFlags) config.Config {
	_ = config.Load()
	cfg := config.FromEnv()
	if flags.port != "" {
		cfg.Port = flags.port
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	if flags.store != "" {
		cfg.StoreBackend = flags.store
	}
	return cfg
}

func runServe(ctx context.Context, flags serveFlags) error {
	cfg := loadConfig(flags)
	log := logger.New(cfg.LogLevel, cfg.LogFormat)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	svc, err := newService(cfg, cdn.NewRepository(store), log)
	if err != nil {
		return err
	}
	met := metrics.New()
	h := cdn.NewHandler(svc, log, met)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           h.Routes(cfg.RateLimitPerMinute),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server starting",
			"port", cfg.Port,
			"store", cfg.StoreBackend,
			"edge_strategy", cfg.EdgeStrategy,
			"log_level", cfg.LogLevel,
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received, draining connections")

		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}

// openStore picks the session store backend. The returned func releases it.
func openStore(ctx context.Context, cfg config.Config) (cdn.Store, func(), error) {
	switch cfg.StoreBackend {
	case "", "memory":
		return cdn.NewInMemoryStore(), func() {}, nil
	case "redis":
		rs, err := cdn.NewRedisStore(ctx, cdn.RedisConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return rs, func() { _ = rs.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func newService(cfg config.Config, repo *cdn.Repository, log *slog.Logger) (*cdn.Service, error) {
	ladder := cdn.DefaultLadder()
	edges := cdn.DefaultEdges()

	selector, err := cdn.NewEdgeSelector(cfg.EdgeStrategy, edges)
	if err != nil {
		return nil, err
	}
	tokens, err := cdn.ParseTokenTiers(cfg.AuthTokens)
	if err != nil {
		return nil, err
	}
	audio, err := cdn.ParseAudioTracks(cfg.AudioTracks)
	if err != nil {
		return nil, err
	}

	return cdn.NewService(repo, cdn.Options{
		Ladder:              ladder,
		Edges:               edges,
		Selector:            selector,
		AudioTracks:         audio,
		SegmentDuration:     cfg.SegmentDurationSeconds,
		DefaultBandwidthBps: cfg.DefaultBandwidthBps,
		Validator:           cdn.NewTokenValidator(tokens, cfg.CDNTokenSecret, cfg.AuthTokenTTL, ladder),
		Logger:              log,
	}), nil
}
