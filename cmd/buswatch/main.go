package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gwlsn/buswatch/internal/api"
	"github.com/gwlsn/buswatch/internal/auth"
	"github.com/gwlsn/buswatch/internal/auth/oidc"
	"github.com/gwlsn/buswatch/internal/config"
	"github.com/gwlsn/buswatch/internal/identity"
	"github.com/gwlsn/buswatch/internal/identity/accounts"
	"github.com/gwlsn/buswatch/internal/identity/sessions"
	"github.com/gwlsn/buswatch/internal/logger"
	"github.com/redis/go-redis/v9"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "buswatch.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "buswatch: %v\n", err)
		os.Exit(1)
	}
	logger.Init(cfg.LogLevel, cfg.LogFormat)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("buswatch stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	factory, handlerOpts, cleanup, err := buildAdapters(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	cookies, err := buildCookies(cfg.Session)
	if err != nil {
		return err
	}

	handlerOpts = append(handlerOpts,
		api.WithLoginPath(cfg.LoginPath),
		api.WithInitTimeout(cfg.Session.InitTimeout),
		api.WithIdleTimeout(cfg.Session.IdleTimeout),
		api.WithSignup(cfg.Accounts.AllowSignup),
	)
	handler := api.NewHandler(factory, cookies, handlerOpts...)
	defer handler.Close()

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("buswatch listening", "addr", cfg.ListenAddr, "mode", cfg.Mode)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutdown signal received")
	// Closing the session stores first ends open session streams.
	handler.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	logger.Info("buswatch stopped cleanly")
	return nil
}

func buildCookies(cfg config.SessionConfig) (*sessions.Cookies, error) {
	secret := []byte(cfg.CookieSecret)
	if len(secret) == 0 {
		logger.Warn("No session.cookie_secret configured, sessions will not survive a restart")
		random, err := sessions.RandomSecret()
		if err != nil {
			return nil, err
		}
		secret = random
	}
	return sessions.NewCookies(secret, cfg.CookieSecure, cfg.TTL)
}

// buildAdapters returns the per-browser adapter factory for cfg.Mode plus the
// handler options it needs and a cleanup for the resources it opened.
func buildAdapters(ctx context.Context, cfg *config.Config) (api.AdapterFactory, []api.Option, func(), error) {
	if cfg.Mode == "demo" {
		logger.Warn("Demo mode: any credentials sign in as the demo operator")
		return func(string) auth.Adapter { return auth.NewNoopAdapter() }, nil, func() {}, nil
	}

	accountStore, err := accounts.Open(cfg.Accounts.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	closers := []func(){func() { _ = accountStore.Close() }}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	persister, closePersister := buildPersister(ctx, cfg.Session)
	closers = append(closers, closePersister)

	registry := oidc.NewRegistry()
	for name, p := range cfg.OAuth.Providers {
		flow, err := oidc.NewFlow(ctx, auth.ProviderKind(name), p.Issuer, p.ClientID, p.ClientSecret, p.RedirectURL, p.Scopes)
		if err != nil {
			// A provider that is down at startup is left off the login page.
			logger.Warn("OAuth provider unavailable", "provider", name, "error", err)
			continue
		}
		registry.Register(auth.ProviderKind(name), flow)
	}
	broker := oidc.NewBroker(registry, cfg.OAuth.PopupTimeout)

	backend := identity.NewBackend(accountStore, persister,
		identity.WithBroker(broker),
		identity.WithHashAlgo(cfg.Accounts.HashAlgo),
		identity.WithSessionTTL(cfg.Session.TTL),
	)
	if err := backend.BootstrapAccounts(ctx, cfg.Accounts.Bootstrap); err != nil {
		cleanup()
		return nil, nil, nil, err
	}

	opts := []api.Option{api.WithOAuth(broker, broker.Providers())}
	factory := func(id string) auth.Adapter { return backend.Session(id) }
	return factory, opts, cleanup, nil
}

func buildPersister(ctx context.Context, cfg config.SessionConfig) (sessions.Persister, func()) {
	if cfg.Backend != "redis" {
		return sessions.NewMemoryPersister(), func() {}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		// Not fatal: sign-in reports a network error until Redis is reachable.
		logger.Warn("Redis unreachable", "addr", cfg.RedisAddr, "error", err)
	}
	return sessions.NewRedisPersister(client, cfg.RedisPrefix), func() { _ = client.Close() }
}
