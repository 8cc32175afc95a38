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

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/layer-3/bnbvote/adapters/cards"
	"github.com/layer-3/bnbvote/adapters/events"
	"github.com/layer-3/bnbvote/adapters/store"
	"github.com/layer-3/bnbvote/adapters/tokenizer"
	"github.com/layer-3/bnbvote/config"
	"github.com/layer-3/bnbvote/ports"
	"github.com/layer-3/bnbvote/service"
	transport "github.com/layer-3/bnbvote/transport/http"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "bnbvote: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.LogFormat, cfg.LogLevel, os.Stdout)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Nonces, revocations and events are shared through Redis when it is
	// configured, otherwise they live in this process
	var (
		authStore ports.Store
		bus       *events.Bus
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse redis url: %w", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		authStore = store.NewRedisStore(redisClient)
		if bus, err = events.NewRedisBus(redisClient, logger); err != nil {
			return err
		}
		logger.Info("using redis for sessions and events", "addr", opts.Addr)
	} else {
		if authStore, err = store.NewMemoryStore(cfg.NonceCapacity, nil); err != nil {
			return err
		}
		bus = events.NewInMemoryBus(logger)
	}
	defer bus.Close()

	tok, err := tokenizer.NewJWTTokenizer([]byte(cfg.JWTSecret), nil)
	if err != nil {
		return err
	}

	repo, err := cards.Open(cfg.StoreURI, cfg.ConnectionOptions(), logger, nil)
	if err != nil {
		return err
	}
	defer repo.Close()

	repo.OnDisconnect(func(cause error) {
		logger.Warn("card store connection dropped", "error", cause)
	})
	go repo.Watch(ctx)

	// SIGHUP drops the card store connection, e.g. after the SQLite file was
	// restored or Redis failed over
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				repo.Reconnect(errors.New("reconnect requested by SIGHUP"))
			}
		}
	}()

	eventPub := events.NewWatermillPublisher(bus.Publisher)

	authService := service.NewAuthService(tok, authStore, eventPub, service.AuthConfig{
		AppName:    cfg.AppName,
		NonceTTL:   cfg.NonceTTL,
		SessionTTL: cfg.SessionTTL,
	}, logger)

	cardService := service.NewCardService(repo, eventPub, service.CardConfig{
		QueryTimeout:  cfg.QueryTimeout,
		CacheTTL:      cfg.CacheTTL,
		CacheCapacity: cfg.CacheCapacity,
	}, logger, nil)

	go func() {
		err := events.Listen(ctx, bus.Subscriber, events.Handlers{
			CardsChanged: func(ctx context.Context, e events.CardsChangedEvent) {
				cardService.InvalidateCache()
			},
			Logout: func(ctx context.Context, e events.LogoutEvent) {
				logger.Debug("session revoked", "address", e.Address, "session", e.TokenID)
			},
		}, logger)
		if err != nil {
			logger.Error("event listener stopped", "error", err)
		}
	}()

	router := transport.SetupRouter(transport.Dependencies{
		Auth:   authService,
		Cards:  cardService,
		Health: repo.State,
		Logger: logger,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", "addr", cfg.Addr, "store", repo.State().Phase.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
