package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/motiveproxy/motiveproxy/internal/config"
	"github.com/motiveproxy/motiveproxy/internal/observe"
	"github.com/motiveproxy/motiveproxy/internal/session"
	"github.com/motiveproxy/motiveproxy/internal/web"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "motiveproxy",
		Short: "Rendezvous proxy that pairs two chat clients through one session",
		Long: "MotiveProxy exposes OpenAI- and Anthropic-compatible chat endpoints\n" +
			"and pairs the two clients that share a session id, relaying each\n" +
			"client's message as the other's reply.",
		RunE: run,
	}

	f := rootCmd.Flags()
	f.String("host", "0.0.0.0", "address to bind the HTTP server to")
	f.Int("port", 8000, "port for the HTTP server")
	f.String("log-level", "info", "log level (debug, info, warn, error)")
	f.Int("handshake-timeout", 30, "seconds the first client waits for its peer")
	f.Int("turn-timeout", 30, "seconds a client waits for the peer's next message")
	f.Int("session-ttl", 3600, "seconds of inactivity before a session expires")
	f.Int("max-sessions", 100, "maximum number of concurrent sessions")
	f.Bool("evict-idle-on-full", false, "evict the most idle session instead of rejecting when full")
	f.Int("cleanup-interval", 60, "seconds between expired-session sweeps")
	f.Int64("max-payload-bytes", 1048576, "maximum request body size in bytes")
	f.Bool("enable-metrics", true, "expose Prometheus metrics on /metrics")
	f.Bool("enable-rate-limiting", true, "enable per-client rate limiting")
	f.Int("rate-limit-per-minute", 60, "allowed requests per client per minute")
	f.Int("rate-limit-per-hour", 1000, "allowed requests per client per hour")
	f.Int("rate-limit-burst", 10, "allowed requests per client per 10-second burst")
	f.StringSlice("api-keys", nil, "API keys to require on requests (auth disabled when empty)")
	f.String("api-key-header", "X-API-Key", "header carrying the API key")

	// Viper keys use underscores so they match the env var suffix after
	// stripping the MOTIVEPROXY_ prefix.
	bindFlag := func(viperKey, flagName string) {
		_ = viper.BindPFlag(viperKey, f.Lookup(flagName))
	}
	bindFlag("host", "host")
	bindFlag("port", "port")
	bindFlag("log_level", "log-level")
	bindFlag("handshake_timeout_seconds", "handshake-timeout")
	bindFlag("turn_timeout_seconds", "turn-timeout")
	bindFlag("session_ttl_seconds", "session-ttl")
	bindFlag("max_sessions", "max-sessions")
	bindFlag("evict_idle_on_full", "evict-idle-on-full")
	bindFlag("cleanup_interval_seconds", "cleanup-interval")
	bindFlag("max_payload_bytes", "max-payload-bytes")
	bindFlag("enable_metrics", "enable-metrics")
	bindFlag("enable_rate_limiting", "enable-rate-limiting")
	bindFlag("rate_limit_per_minute", "rate-limit-per-minute")
	bindFlag("rate_limit_per_hour", "rate-limit-per-hour")
	bindFlag("rate_limit_burst", "rate-limit-burst")
	bindFlag("api_keys", "api-keys")
	bindFlag("api_key_header", "api-key-header")

	// MOTIVEPROXY_PORT -> "port", MOTIVEPROXY_MAX_SESSIONS -> "max_sessions".
	viper.SetEnvPrefix("MOTIVEPROXY")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	setupLogger(cfg.LogLevel)
	slog.Info("motiveproxy starting",
		"version", config.Version,
		"addr", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		"handshake_timeout_seconds", cfg.HandshakeTimeoutSeconds,
		"turn_timeout_seconds", cfg.TurnTimeoutSeconds,
		"session_ttl_seconds", cfg.SessionTTLSeconds,
		"max_sessions", cfg.MaxSessions,
		"rate_limiting", cfg.EnableRateLimiting,
		"auth", len(cfg.APIKeys) > 0,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	var metrics *observe.Metrics
	if cfg.EnableMetrics {
		shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
			ServiceVersion: config.Version,
		})
		if err != nil {
			return fmt.Errorf("init telemetry: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				slog.Warn("telemetry shutdown", "err", err)
			}
		}()
		metrics, err = observe.NewMetrics(otel.GetMeterProvider())
		if err != nil {
			return fmt.Errorf("init metrics: %w", err)
		}
	}

	mgr := session.NewManager(session.ManagerConfig{
		HandshakeTimeout: cfg.HandshakeTimeout(),
		TurnTimeout:      cfg.TurnTimeout(),
		SessionTTL:       cfg.SessionTTL(),
		MaxSessions:      cfg.MaxSessions,
		CleanupInterval:  cfg.CleanupInterval(),
		EvictIdleOnFull:  cfg.EvictIdleOnFull,
	}, metrics)

	webServer := web.New(&cfg, mgr, metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return webServer.Start()
	})
	g.Go(func() error {
		err := mgr.Run(gctx)
		if err == context.Canceled {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return webServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("motiveproxy: %w", err)
	}
	return nil
}

func setupLogger(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	})))
}
