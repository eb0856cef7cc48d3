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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/wager-engine/internal/api"
	"github.com/atmx/wager-engine/internal/config"
	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/limits"
	"github.com/atmx/wager-engine/internal/metrics"
	"github.com/atmx/wager-engine/internal/odds"
	"github.com/atmx/wager-engine/internal/rng"
	"github.com/atmx/wager-engine/internal/round"
	"github.com/atmx/wager-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("wager-engine failed", "err", err)
		os.Exit(1)
	}
	fmt.Println("wager-engine stopped")
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	oddsCfg, err := config.LoadOdds(cfg.OddsFile)
	if err != nil {
		return err
	}
	calc, err := odds.NewCalculator(oddsCfg)
	if err != nil {
		return err
	}
	slog.Info("game math loaded",
		"expected_crash_point", calc.ExpectedCrashPoint(),
		"crash_return_at_2x", calc.CrashReturn(2),
		"mines_house_edge", oddsCfg.Mines.HouseEdge,
		"mines_tiles", oddsCfg.Mines.TotalTiles,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize stores ---
	history, session, cleanup, err := openStores(ctx, cfg)
	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()
	if err != nil {
		return err
	}

	// --- Ledger ---
	led, err := ledger.Open(ctx, history, session, ledger.Options{
		StartingBalance: cfg.StartingBalance,
		MaxTries:        cfg.PersistMaxTries,
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if err := led.Verify(); err != nil {
		slog.Warn("history statistics inconsistent", "err", err)
	}
	slog.Info("ledger ready", "balance", led.Balance().String(), "records", len(led.Records(0)))

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()

	// --- Round coordinator ---
	coord := round.NewCoordinator(round.Deps{
		Lock:     round.NewLock(),
		Ledger:   led,
		Odds:     calc,
		Source:   rng.Default(),
		Limiter:  limits.NewStakeLimiter(cfg.MinStake, cfg.MaxStake),
		Clock:    round.SystemClock,
		Notifier: wsHub,
	}, cfg.TopUpAmount)
	driver := round.NewDriver(coord, cfg.TickInterval, round.SystemClock)
	svc := api.NewService(coord)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if led.Degraded() {
			w.Write([]byte(`{"status":"degraded","service":"wager-engine"}`))
			return
		}
		w.Write([]byte(`{"status":"ok","service":"wager-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for live round events.
		r.Get("/ws", wsHub.HandleWS)

		// Commands are short; the timeout does not apply to the socket.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			svc.Register(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return wsHub.Run(gctx) })
	g.Go(func() error { return driver.Run(gctx) })
	g.Go(func() error {
		slog.Info("wager-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down wager-engine...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "err", err)
		}
		if err := led.Flush(shutdownCtx); err != nil {
			slog.Error("final ledger flush failed", "err", err)
		}
		return nil
	})

	return g.Wait()
}

// openStores picks the history and session stores from the configuration.
// History: PostgreSQL (optionally behind a Redis cache), else SQLite, else
// memory. Session balance: Redis with a TTL, else memory.
func openStores(ctx context.Context, cfg config.Config) (history, session store.KV, cleanup []func(), err error) {
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	switch {
	case cfg.DatabaseURL != "":
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, cleanup, fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, nil, cleanup, err
		}
		history = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			history = store.NewCachedStore(pg, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	case cfg.SQLitePath != "":
		lite, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, cleanup, err
		}
		cleanup = append(cleanup, func() { lite.Close() })
		history = lite
		slog.Info("using SQLite history store", "path", cfg.SQLitePath)
	default:
		slog.Warn("DATABASE_URL and SQLITE_PATH not set, using in-memory store (history will not persist)")
		history = store.NewMemoryStore()
	}

	if rdb != nil {
		session = store.NewRedisStore(rdb, "wager:session:", cfg.SessionTTL)
		slog.Info("session balance stored in Redis", "ttl", cfg.SessionTTL)
	} else {
		session = store.NewMemoryStore()
	}
	return history, session, cleanup, nil
}
