// Command voicelink is the entry point for the voicelink real-time voice
// client: it captures the microphone, streams it to a live speech model and
// plays the replies gaplessly, with barge-in support.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voicelink/internal/capture"
	"github.com/MrWong99/voicelink/internal/config"
	"github.com/MrWong99/voicelink/internal/controller"
	"github.com/MrWong99/voicelink/internal/health"
	"github.com/MrWong99/voicelink/internal/observe"
	"github.com/MrWong99/voicelink/internal/resilience"
	"github.com/MrWong99/voicelink/pkg/audio/malgo"
	"github.com/MrWong99/voicelink/pkg/stream"
	geminilive "github.com/MrWong99/voicelink/pkg/stream/gemini"
)

// version is stamped by the build via -ldflags.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	muted := flag.Bool("muted", false, "start with the microphone muted")
	flag.Parse()

	// ── Environment ───────────────────────────────────────────────────────────
	// A .env file is optional; real environment variables win either way.
	if err := godotenv.Load(); err == nil {
		slog.Debug("loaded .env file")
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voicelink: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voicelink: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(logLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("voicelink starting",
		"version", version,
		"config", *configPath,
		"voice", cfg.Session.Voice,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Metrics ───────────────────────────────────────────────────────────────
	shutdownMetrics, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceVersion: version,
	})
	if err != nil {
		slog.Error("failed to initialise metrics", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			slog.Warn("metrics shutdown error", "err", err)
		}
	}()

	// ── Stream provider ───────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinStreams(reg)

	provider, err := reg.CreateStream(cfg.Stream)
	if err != nil {
		slog.Error("failed to create stream provider", "name", cfg.Stream.Provider, "err", err)
		return 1
	}
	slog.Info("stream provider created", "name", cfg.Stream.Provider, "model", cfg.Stream.Model)

	// ── Audio backend ─────────────────────────────────────────────────────────
	backend, err := malgo.NewBackend()
	if err != nil {
		slog.Error("failed to initialise audio backend", "err", err)
		return 1
	}
	defer backend.Close()

	// ── Session controller ────────────────────────────────────────────────────
	ctrl := controller.New(provider, backend, controllerOptions(cfg)...)

	// ── HTTP: /metrics + health probes ────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	if cfg.Server.MetricsAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.Server.MetricsAddr, ctrl)
		})
	}

	// ── Config hot reload ─────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			level.Set(logLevel(d.NewLogLevel))
			slog.Info("log level changed", "level", d.NewLogLevel)
		}
		if d.GainChanged {
			ctrl.SetGain(d.NewGain)
			slog.Info("playback gain changed", "gain", d.NewGain)
		}
		if d.NeedsReconnect {
			slog.Info("stream or session settings changed; they take effect on the next connect")
		}
	})
	if err != nil {
		slog.Error("failed to watch config", "err", err)
		return 1
	}
	defer watcher.Stop()

	// ── Connect ───────────────────────────────────────────────────────────────
	sessionDone := make(chan error, 1)
	connect := func(ctx context.Context) error {
		var failure error
		err := ctrl.Connect(ctx, controller.Config{
			Voice:        cfg.Session.Voice,
			Instructions: cfg.Session.Instructions,
		},
			func() { sessionDone <- failure },
			func(err error) { failure = err },
		)
		if err != nil {
			return err
		}
		ctrl.SetGain(watcher.Current().Playback.EffectiveGain())
		ctrl.SetMuted(*muted)
		return nil
	}
	if err := connect(ctx); err != nil {
		slog.Error("failed to connect", "err", err)
		return 1
	}

	slog.Info("session live — press Ctrl+C to hang up")

	// ── Wait for signal or remote hangup ──────────────────────────────────────
	// A dropped session is re-dialed with backoff; a clean remote hangup or a
	// local signal ends the process.
	reconnector := resilience.NewReconnector(resilience.ReconnectConfig{Name: "session"})
	exit := 0
loop:
	for {
		select {
		case <-ctx.Done():
			slog.Info("shutdown signal received, hanging up…")
			if err := ctrl.Disconnect(); err != nil {
				slog.Warn("disconnect error", "err", err)
			}
			break loop
		case err := <-sessionDone:
			if err == nil {
				slog.Info("remote end hung up")
				break loop
			}
			slog.Error("session dropped", "err", err)
			if rerr := reconnector.Do(ctx, connect); rerr != nil {
				if !errors.Is(rerr, context.Canceled) {
					slog.Error("could not re-establish session", "err", rerr)
					exit = 1
				}
				break loop
			}
		}
	}

	stop()
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("http server error", "err", err)
	}
	slog.Info("goodbye")
	return exit
}

// ── Stream provider wiring ────────────────────────────────────────────────────

// registerBuiltinStreams wires the stream provider factories that ship with
// voicelink into reg.
func registerBuiltinStreams(reg *config.Registry) {
	reg.RegisterStream("gemini-live", func(cfg config.StreamConfig) (stream.Provider, error) {
		var opts []geminilive.Option
		if cfg.Model != "" {
			opts = append(opts, geminilive.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, geminilive.WithBaseURL(cfg.BaseURL))
		}
		return geminilive.New(cfg.APIKey, opts...), nil
	})
}

// controllerOptions translates config tuning into controller options.
func controllerOptions(cfg *config.Config) []controller.Option {
	var opts []controller.Option
	if cfg.Capture.ChunkSize > 0 {
		opts = append(opts, controller.WithCaptureOptions(capture.WithChunkSize(cfg.Capture.ChunkSize)))
	}
	return opts
}

// ── HTTP server ───────────────────────────────────────────────────────────────

// serveHTTP runs the observability endpoint until ctx is cancelled: Prometheus
// metrics under /metrics plus liveness and readiness probes.
func serveHTTP(ctx context.Context, addr string, ctrl *controller.Controller) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())

	h := health.New(func() string { return ctrl.State().String() }, health.Checker{
		Name: "session",
		Check: func(context.Context) error {
			if st := ctrl.State(); st == controller.StateFailed {
				return fmt.Errorf("session state is %s", st)
			}
			return nil
		},
	})
	h.Register(mux)

	handler := observe.Middleware(observe.DefaultMetrics())(mux)
	srv := &http.Server{Addr: addr, Handler: handler}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("observability endpoint listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ── Logger ────────────────────────────────────────────────────────────────────

func logLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
