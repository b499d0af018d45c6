// Command matchqueue-server is the process entrypoint: it wires the
// registries, the UDP probe, the optional web-front cross-check client,
// the Queueing and Matchmaking services, and the two HTTP surfaces
// (introspection API, WebSocket Client Channel) together and runs them
// until a signal arrives. Modeled on the reference pack's
// cmd/gameserver/main.go: load config first (so the log level is known
// before anything else runs), build slog.Default from it, then run the
// two HTTP listeners under one errgroup bound to a cancellable root
// context. The matchmaking tick and the per-server processing loops run
// in their own goroutines and stop on the same root context.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/arcadequeue/matchqueue/internal/config"
	"github.com/arcadequeue/matchqueue/internal/introspection"
	"github.com/arcadequeue/matchqueue/internal/matchmaking"
	"github.com/arcadequeue/matchqueue/internal/probe"
	"github.com/arcadequeue/matchqueue/internal/queueing"
	"github.com/arcadequeue/matchqueue/internal/registry"
	"github.com/arcadequeue/matchqueue/internal/transport/ws"
	"github.com/arcadequeue/matchqueue/internal/webfront"
)

const ConfigPath = "config/matchqueue-server.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("MATCHQUEUE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	})))

	slog.Info("matchqueue-server starting",
		"bind", cfg.BindAddress, "port", cfg.Port,
		"channel_bind", cfg.ChannelBindAddress, "channel_port", cfg.ChannelPort)

	players := registry.NewPlayerRegistry()
	servers := registry.NewGameServerRegistry()
	prober := probe.New()

	var webfrontClient *webfront.Client
	if cfg.ConfirmJoinsWithWebfrontAPI {
		if cfg.WebfrontBaseURL == "" {
			return fmt.Errorf("confirm_joins_with_webfront_api is set but webfront_base_url is empty")
		}
		webfrontClient = webfront.New(cfg.WebfrontBaseURL, cfg.WebfrontTimeout, cfg.WebfrontCacheTTL)
		slog.Info("web-front cross-check enabled", "base_url", cfg.WebfrontBaseURL)
	}

	channels := ws.New(players, ws.Handlers{})

	queueingSvc := queueing.New(ctx, cfg, players, servers, channels, prober, webfrontClient)
	matchmakingSvc := matchmaking.New(ctx, cfg, players, queueingSvc, channels, prober)

	// channels' Handlers reference queueingSvc/matchmakingSvc, so they are
	// wired after construction to break the init cycle between the
	// transport and the services it drives.
	channels.SetHandlers(ws.Handlers{
		JoinQueue:               queueingSvc.JoinQueue,
		LeaveQueue:              queueingSvc.LeaveQueue,
		OnJoinAck:               queueingSvc.OnJoinAck,
		Disconnect:              queueingSvc.Disconnect,
		EnterMatchmaking:        matchmakingSvc.EnterMatchmaking,
		UpdateSearchPreferences: matchmakingSvc.UpdateSearchPreferences,
		LeaveMatchmaking:        matchmakingSvc.LeaveMatchmaking,
	})

	matchmakingSvc.Start()

	introspectionSrv := introspection.New(servers)
	introspectionHTTP := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port),
		Handler: introspectionSrv,
	}

	channelHTTP := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ChannelBindAddress, cfg.ChannelPort),
		Handler: channels,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting introspection API", "addr", introspectionHTTP.Addr)
		if err := introspectionHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("introspection API: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("starting client channel listener", "addr", channelHTTP.Addr)
		if err := channelHTTP.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("client channel listener: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("stopping HTTP listeners")
		_ = introspectionHTTP.Shutdown(context.Background())
		_ = channelHTTP.Shutdown(context.Background())
		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	queueingSvc.Shutdown()
	matchmakingSvc.Shutdown()

	return nil
}

// parseLogLevel converts a string log level to slog.Level, defaulting to
// Info when empty or unrecognized.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
