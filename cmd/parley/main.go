package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parley-ai/parley/internal/dotenv"
	"github.com/parley-ai/parley/pkg/core"
	"github.com/parley-ai/parley/pkg/core/chat"
	"github.com/parley-ai/parley/pkg/core/pricing"
	"github.com/parley-ai/parley/pkg/core/providers/gemini"
	"github.com/parley-ai/parley/pkg/core/providers/openai"
	"github.com/parley-ai/parley/pkg/core/voice"
	"github.com/parley-ai/parley/pkg/core/voice/speech"
	"github.com/parley-ai/parley/pkg/core/voice/stt"
	"github.com/parley-ai/parley/pkg/gateway/auth"
	"github.com/parley-ai/parley/pkg/gateway/billing"
	"github.com/parley-ai/parley/pkg/gateway/config"
	"github.com/parley-ai/parley/pkg/gateway/media"
	gatewayserver "github.com/parley-ai/parley/pkg/gateway/server"
	"github.com/parley-ai/parley/pkg/gateway/store"
	"github.com/parley-ai/parley/pkg/gateway/turn"
)

// turnStore narrows *store.Store to the pipeline's transaction interface.
type turnStore struct {
	*store.Store
}

func (s turnStore) BeginTurn(ctx context.Context) (turn.Tx, error) {
	return s.Store.BeginTurn(ctx)
}

func buildPrices(cfg config.Config) map[string]float64 {
	prices := pricing.DefaultPrices()
	for model, price := range cfg.ModelPrices {
		prices[model] = price
	}
	return prices
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := store.Migrate(ctx, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool)

	lib, err := media.New(cfg.MediaDir)
	if err != nil {
		return fmt.Errorf("media dir: %w", err)
	}

	registry := core.NewRegistry()
	openaiProvider := openai.New(cfg.OpenAIKey).WithBaseURL(cfg.OpenAIBaseURL)
	registry.Register(openaiProvider)
	if cfg.GeminiKey != "" {
		g, err := gemini.New(ctx, cfg.GeminiKey)
		if err != nil {
			return fmt.Errorf("gemini client: %w", err)
		}
		registry.Register(g)
	}

	speechClient := speech.New(cfg.SpeechKey).
		WithBaseURL(cfg.SpeechBaseURL).
		WithWSBaseURL(cfg.SpeechWSBaseURL)

	// A configured websocket endpoint switches synthesis to the streaming
	// session; otherwise each sentence is a one-shot HTTP request.
	var synth voice.Synthesizer = speechClient
	if cfg.SpeechWSBaseURL != "" {
		synth = speechClient.Streaming()
	}

	orchestrator := &turn.Orchestrator{
		Store:       turnStore{st},
		Media:       lib,
		Prompt:      &chat.ContextBuilder{MediaRoot: lib.Root},
		Transcriber: stt.NewWhisper(cfg.OpenAIKey).WithBaseURL(cfg.TranscriptionBaseURL),
		Providers:   registry,
		Gate:        pricing.NewGate(buildPrices(cfg)),
		Notifier:    billing.New(cfg.BillingURL, cfg.BillingSecret, cfg.BillingToken, nil),
		Synth:       synth,
		SpeechOpts: speech.Options{
			Model:      cfg.SpeechModel,
			Encoding:   cfg.SpeechEncoding,
			SampleRate: cfg.SpeechSampleRate,
		},
		BufferFrames: cfg.StreamBufferFrames,
		Logger:       logger,
	}

	srv := gatewayserver.New(cfg, logger, gatewayserver.Deps{
		Store:       st,
		Runner:      orchestrator,
		Transcriber: orchestrator.Transcriber,
		Media:       lib,
		Images:      openaiProvider,
		Verifier:    auth.NewVerifier(cfg.AuthSecret),
		Ping:        pool.Ping,
	})

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}

	logger.Info("starting parley", "addr", cfg.Addr)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("parley stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := dotenv.Load(".env"); err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	if err := run(ctx, logger); err != nil {
		fmt.Fprintf(stderr, "parley: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr))
}
