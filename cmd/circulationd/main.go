package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"circulationd/internal/circulation"
	"circulationd/internal/config"
	"circulationd/internal/identity"
	"circulationd/internal/locking"
	"circulationd/internal/ratelimit"
	"circulationd/internal/server"
	"circulationd/internal/store"
	"circulationd/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	ledger, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init postgres store: %v", err)
	}

	var locks locking.KeyLock = locking.NewKeyMutex()
	if cfg.RedisAddr != "" {
		locks, err = locking.NewRedisKeyLock(locking.RedisKeyLockConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Fatalf("failed to init redis key lock: %v", err)
		}
	}

	coord, err := circulation.New(circulation.Config{
		Ledger: ledger,
		Locks:  locks,
		Logger: logger,
		Fines: circulation.FinePolicy{
			PerDayRate:         cfg.PerDayFineRate,
			DamagedBookFine:    cfg.DamagedBookFine,
			LostBookFine:       cfg.LostBookFine,
			MaxOutstandingFine: cfg.MaxOutstandingFine,
		},
		ReservationHoldDays: cfg.ReservationHoldDays,
		PickupDays:          cfg.PickupDays,
	})
	if err != nil {
		log.Fatalf("failed to init coordinator: %v", err)
	}

	jwtLeeway, err := config.ParseJWTLeeway(cfg.JWTLeeway)
	if err != nil {
		log.Fatalf("failed to parse jwt leeway: %v", err)
	}
	verifier, err := identity.NewVerifier(identity.Config{
		Secret:   cfg.JWTSecret,
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		Leeway:   jwtLeeway,
	})
	if err != nil {
		log.Fatalf("failed to init identity verifier: %v", err)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if cfg.RateLimitPerMinute > 0 {
		if cfg.RedisAddr != "" {
			limiter, err = ratelimit.NewRedisFixedWindowLimiter(
				cfg.RedisAddr, cfg.RedisPassword, "", cfg.RateLimitPerMinute, time.Minute)
		} else {
			limiter, err = ratelimit.NewMemoryFixedWindowLimiter(cfg.RateLimitPerMinute, time.Minute)
		}
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	srv, err := server.New(server.Config{
		Coordinator: coord,
		Verifier:    verifier,
		Limiter:     limiter,
	})
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}

	sweepInterval, _ := time.ParseDuration(cfg.SweepInterval)
	sweeper := circulation.NewSweeper(coord, sweepInterval, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	httpServer := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: srv.Router(),
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("circulation service listening", "port", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		err := sweeper.Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil {
		log.Fatalf("service stopped: %v", err)
	}
	logger.Info("circulation service stopped")
}
