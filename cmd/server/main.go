package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/bhosaleparag/dev-battle-sub000/internal/config"
	"github.com/bhosaleparag/dev-battle-sub000/internal/httpapi"
	"github.com/bhosaleparag/dev-battle-sub000/internal/hub"
	"github.com/bhosaleparag/dev-battle-sub000/internal/leaderboard"
	"github.com/bhosaleparag/dev-battle-sub000/internal/matchmaking"
	"github.com/bhosaleparag/dev-battle-sub000/internal/presence"
	"github.com/bhosaleparag/dev-battle-sub000/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()

	var store leaderboard.Store
	var ready httpapi.ReadyChecker
	if cfg.PostgresDSN != "" {
		db, err := gorm.Open(postgres.Open(cfg.PostgresDSN), &gorm.Config{})
		if err != nil {
			logger.Fatal("postgres connect failed", zap.Error(err))
		}
		pg, err := leaderboard.NewPostgresStore(db)
		if err != nil {
			logger.Fatal("leaderboard store init failed", zap.Error(err))
		}
		store = pg
		ready = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
		logger.Info("leaderboard backed by postgres")
	} else {
		store = leaderboard.NewMemoryStore()
		logger.Warn("POSTGRES_DSN not set, leaderboard is in-memory only")
	}

	boards := leaderboard.NewService(store, cfg.QueryTimeout, logger)

	h := hub.NewHub(ctx, hub.Config{
		CountdownSec:    cfg.CountdownSec,
		GraceWindow:     cfg.GraceWindow,
		ReplayBuffer:    cfg.ReplayBuffer,
		DefaultLimitSec: cfg.DefaultLimitSec,
	}, clock, boards, logger)

	tracker := presence.NewTracker(cfg.IdleAfter, clock, logger)
	tracker.Start()
	defer tracker.Stop()

	coord := session.NewCoordinator(session.Deps{
		Hub:          h,
		Presence:     tracker,
		Boards:       boards,
		Clock:        clock,
		Log:          logger,
		GraceWindow:  cfg.GraceWindow,
		QueryTimeout: cfg.QueryTimeout,
	})

	pool := matchmaking.NewPool(matchmaking.Config{
		BaseWindow: cfg.MatchBaseWindow,
		WidenStep:  cfg.MatchWidenStep,
		WidenEvery: cfg.MatchWidenEvery,
		MaxWindow:  cfg.MatchMaxWindow,
		SweepEvery: cfg.MatchSweepEvery,
	}, clock, coord.MatchFound, logger)
	coord.SetPool(pool)
	pool.Start()
	defer pool.Stop()

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: httpapi.SetupRoutes(ctx, coord, ready),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		h.Inbox() <- hub.ShutdownHub{}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}
