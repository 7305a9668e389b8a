// Command promptd serves the prompt evaluation and optimization API.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/promptforge/promptd/auth"
	"github.com/promptforge/promptd/breaker"
	"github.com/promptforge/promptd/config"
	"github.com/promptforge/promptd/evaluation"
	"github.com/promptforge/promptd/kernel"
	"github.com/promptforge/promptd/providers"
	"github.com/promptforge/promptd/reasoning"
	"github.com/promptforge/promptd/server"
	"github.com/promptforge/promptd/storage"
	"github.com/promptforge/promptd/utils"
)

const shutdownGrace = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "promptd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logger := utils.NewLogger(cfg.LogLevel)
	registry := providers.NewRegistry()

	// One shared limiter for all upstream calls. Zero disables limiting.
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.EvalParallelism)
	}

	factory := func(model, credential string) (kernel.Invoker, error) {
		provider, err := registry.Get(cfg.Provider, model, cfg.Endpoint, credential)
		if err != nil {
			return nil, err
		}
		return kernel.New(model, cfg.Endpoint, credential,
			kernel.WithProvider(provider),
			kernel.WithLogger(logger),
			kernel.WithTimeout(cfg.Timeout),
			kernel.WithRateLimiter(limiter),
			kernel.WithGenerationOption("temperature", cfg.Temperature),
			kernel.WithGenerationOption("max_tokens", cfg.MaxTokens),
		)
	}

	breakers := breaker.NewRegistry(breaker.Settings{
		Failures: cfg.BreakerFailures,
		Cooldown: cfg.BreakerCooldown,
	}, logger)
	store := storage.NewMemoryStore()

	coordinator, err := evaluation.NewCoordinator(factory, breakers, cfg.EvalParallelism,
		evaluation.WithLogger(logger),
		evaluation.WithStore(store),
		evaluation.WithScoringModel(cfg.ScoringModel),
	)
	if err != nil {
		return fmt.Errorf("create coordinator: %w", err)
	}
	defer coordinator.Close()

	srv := server.New(coordinator, reasoning.NewChain(breakers, logger), factory,
		server.WithLogger(logger),
		server.WithStore(store),
		server.WithVerifier(auth.NewVerifier(cfg.JWTSecret)),
	)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("promptd listening", "addr", httpServer.Addr, "provider", cfg.Provider)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
