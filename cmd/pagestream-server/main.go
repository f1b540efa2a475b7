// Command pagestream-server serves one product stream over HTTP. The local
// tier is an optional Redis or bolt mirror; the remote tier is an HTTP
// catalog or, without a remote URL, an in-memory demo catalog.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Sternrassler/pagestream/internal/catalog"
	"github.com/Sternrassler/pagestream/pkg/logging"
	"github.com/Sternrassler/pagestream/pkg/pagination"
	"github.com/Sternrassler/pagestream/pkg/source"
	"github.com/Sternrassler/pagestream/pkg/stream"
	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "pagestream-server",
		Short: "Serve a two-tier paged product stream over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configFile, cmd.Flags())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configFile, "config", "", "config file (default ./pagestream.yaml)")
	cmd.Flags().String("addr", ":8080", "listen address")
	cmd.Flags().Int("page-size", 20, "items per page")
	cmd.Flags().String("log-level", "info", "log level (debug, info, warn, error, disabled)")
	cmd.Flags().String("mirror", MirrorNone, "local mirror backend (none, redis, bolt)")
	cmd.Flags().String("redis-addr", "localhost:6379", "redis address for the redis mirror")
	cmd.Flags().String("bolt-path", "pagestream.db", "database file for the bolt mirror")
	cmd.Flags().String("remote-url", "", "remote catalog URL (empty: in-memory demo catalog)")
	cmd.Flags().Int("warm-pages", 0, "pages per direction preloaded into the mirror at startup")

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return cmd
}

func run(ctx context.Context, cfg Config) (err error) {
	level, _ := logging.ParseLevel(cfg.Log.Level)
	logging.Setup(logging.Config{Level: level, Pretty: cfg.Log.Pretty, Output: os.Stderr})
	logger := logging.NewLogger("server")

	t, err := buildTiers(ctx, cfg, logger)
	if err != nil {
		return err
	}

	if err := warmMirror(ctx, cfg, t, logger); err != nil {
		logger.Warn().Err(err).Msg("Mirror warm-up incomplete")
	}

	streamLogger := logging.NewLogger("stream")
	streamCfg := stream.DefaultConfig(cfg.Name)
	streamCfg.PageSize = cfg.PageSize
	streamCfg.Logger = &streamLogger

	products, err := stream.New(t.local, t.remote, streamCfg)
	if err != nil {
		return multierror.Append(err, t.close()).ErrorOrNil()
	}

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: newServer(products, t.ready, logger).routes(),
	}

	defer func() {
		var result *multierror.Error
		if err != nil {
			result = multierror.Append(result, err)
		}
		if cerr := products.Close(); cerr != nil {
			result = multierror.Append(result, fmt.Errorf("close stream: %w", cerr))
		}
		if cerr := t.close(); cerr != nil {
			result = multierror.Append(result, fmt.Errorf("close mirror: %w", cerr))
		}
		err = result.ErrorOrNil()
	}()

	if err := products.Refresh(); err != nil {
		return fmt.Errorf("initial refresh: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("Starting pagestream server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		watchSignals(gctx, products, logger)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Shutdown)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// warmMirror walks the remote into the local mirror when configured.
func warmMirror(ctx context.Context, cfg Config, t *tiers, logger zerolog.Logger) error {
	if cfg.Mirror.WarmPages == 0 {
		return nil
	}
	sink, ok := t.local.(source.Writer[catalog.Product])
	if !ok {
		return nil
	}

	walker := pagination.NewWalker(t.remote, sink, pagination.Config{
		PageSize: cfg.PageSize,
		MaxPages: cfg.Mirror.WarmPages,
		Timeout:  cfg.Remote.Timeout,
		Logger:   &logger,
	})
	result, err := walker.Walk(ctx)
	logger.Info().
		Int("items", result.Items).
		Int("backward_pages", result.Pages[source.Backward]).
		Int("forward_pages", result.Pages[source.Forward]).
		Msg("Mirror warmed")
	return err
}

// watchSignals logs every change of the unified signal until ctx is done.
func watchSignals(ctx context.Context, s *stream.Stream[catalog.Product], logger zerolog.Logger) {
	updates, cancel := s.Subscribe()
	defer cancel()

	last := s.Snapshot().Signal
	for {
		select {
		case <-ctx.Done():
			return
		case snap, ok := <-updates:
			if !ok {
				return
			}
			if snap.Signal == last {
				continue
			}
			last = snap.Signal

			event := logger.Info()
			if snap.Signal.Failed() {
				event = logger.Warn().Err(snap.Signal.Err)
			}
			event.
				Str("signal", snap.Signal.String()).
				Int("items", len(snap.Items)).
				Uint64("version", snap.Version).
				Msg("Stream signal changed")
		}
	}
}
