// Command warwatch serves galactic war status over MCP. It polls the
// upstream status API in the background and exposes the cached view through
// tools and resources on either a stdio or a streaming HTTP transport.
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

	"github.com/joeshaw/envdecode"
	"golang.org/x/sync/errgroup"

	"github.com/galactic-tools/warwatch/internal/engine"
	"github.com/galactic-tools/warwatch/internal/logctx"
	"github.com/galactic-tools/warwatch/server"
	"github.com/galactic-tools/warwatch/statecache"
	"github.com/galactic-tools/warwatch/stdio"
	"github.com/galactic-tools/warwatch/streaminghttp"
	"github.com/galactic-tools/warwatch/upstream"
)

// Config is loaded from the environment.
type Config struct {
	// Transport selects "stdio" or "http". ENV: WARWATCH_TRANSPORT
	Transport string `env:"WARWATCH_TRANSPORT,default=stdio"`
	// ListenAddr is the HTTP bind address. ENV: WARWATCH_LISTEN_ADDR
	ListenAddr string `env:"WARWATCH_LISTEN_ADDR,default=:8080"`
	// HTTPPath is the MCP mount path. ENV: WARWATCH_HTTP_PATH
	HTTPPath string `env:"WARWATCH_HTTP_PATH,default=/mcp"`
	// UpstreamURL is the war status API endpoint. ENV: WARWATCH_UPSTREAM_URL
	UpstreamURL string `env:"WARWATCH_UPSTREAM_URL,required"`
	// RefreshInterval paces the background poller. ENV: WARWATCH_REFRESH_INTERVAL
	RefreshInterval time.Duration `env:"WARWATCH_REFRESH_INTERVAL,default=30s"`
	// StaleAfter is the snapshot age past which results are flagged stale.
	// ENV: WARWATCH_STALE_AFTER
	StaleAfter time.Duration `env:"WARWATCH_STALE_AFTER,default=2m"`
	// LogLevel is one of debug, info, warn, error. ENV: WARWATCH_LOG_LEVEL
	LogLevel string `env:"WARWATCH_LOG_LEVEL,default=info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "warwatch:", err)
		os.Exit(1)
	}
}

func run() error {
	var cfg Config
	if err := envdecode.StrictDecode(&cfg); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// Logs go to stderr: on the stdio transport, stdout carries the protocol.
	log := slog.New(logctx.Handler{Handler: slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	})})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := upstream.NewClient(cfg.UpstreamURL, upstream.WithLogger(log))
	if err != nil {
		return fmt.Errorf("upstream: %w", err)
	}

	cache := statecache.New(client,
		statecache.WithRefreshInterval(cfg.RefreshInterval),
		statecache.WithStaleAfter(cfg.StaleAfter),
		statecache.WithLogger(log),
	)

	srv, err := server.New(cache, log)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	eng := engine.New(srv, engine.WithLogger(log))

	var transport func(ctx context.Context) error
	switch cfg.Transport {
	case "stdio":
		h := stdio.NewHandler(eng,
			stdio.WithLogger(log),
			stdio.WithChangeNotifications(cache, server.CurrentStatusURI, server.PlanetsURI),
		)
		transport = h.Serve

	case "http":
		h, err := streaminghttp.New(cfg.HTTPPath, eng,
			streaminghttp.WithLogger(log),
			streaminghttp.WithChangeNotifications(cache, server.CurrentStatusURI, server.PlanetsURI),
		)
		if err != nil {
			return fmt.Errorf("http transport: %w", err)
		}
		httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: h}
		transport = func(ctx context.Context) error {
			g, ctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				err := h.Run(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				log.Info("http.listen", slog.String("addr", cfg.ListenAddr), slog.String("path", cfg.HTTPPath))
				err := httpSrv.ListenAndServe()
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			})
			g.Go(func() error {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				return httpSrv.Shutdown(shutdownCtx)
			})
			return g.Wait()
		}

	default:
		return fmt.Errorf("unknown transport %q (want stdio or http)", cfg.Transport)
	}

	log.Info("warwatch.start",
		slog.String("transport", cfg.Transport),
		slog.String("upstream", cfg.UpstreamURL),
		slog.Duration("refresh_interval", cfg.RefreshInterval))

	return supervise(ctx, cache, transport)
}

// supervise runs the refresh loop alongside the transport. The cache gets
// its own context, canceled only once the transport has returned: end of
// input on stdio or an HTTP drain shuts the process down cleanly instead of
// leaving the poller ticking, and in-flight responses finish before the
// refresh loop stops.
func supervise(ctx context.Context, cache *statecache.Cache, transport func(ctx context.Context) error) error {
	g, ctx := errgroup.WithContext(ctx)
	cacheCtx, stopCache := context.WithCancel(context.Background())
	defer stopCache()

	g.Go(func() error {
		err := cache.Run(cacheCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	g.Go(func() error {
		defer stopCache()
		err := transport(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	return g.Wait()
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
