package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/mirror-engine/internal/api"
	"github.com/atmx/mirror-engine/internal/genesis"
	"github.com/atmx/mirror-engine/internal/host"
	"github.com/atmx/mirror-engine/internal/metrics"
	"github.com/atmx/mirror-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// --- Initialize store ---
	var kv store.KV
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(ctx, dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema setup failed", "err", err)
			os.Exit(1)
		}
		kv = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			kv = store.NewCachedStore(kv, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		kv = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Genesis ---
	var gen *genesis.Config
	if path := os.Getenv("GENESIS_FILE"); path != "" {
		var err error
		if gen, err = genesis.Load(path); err != nil {
			slog.Error("genesis load failed", "err", err)
			os.Exit(1)
		}
	} else {
		slog.Warn("GENESIS_FILE not set, starting an empty chain owned by \"owner\"")
		gen = genesis.Default("owner")
	}

	chain := host.NewChain(kv, gen.ChainOptions()...)
	if err := gen.Register(chain); err != nil {
		slog.Error("contract registration failed", "err", err)
		os.Exit(1)
	}
	if err := chain.Restore(ctx); err != nil {
		slog.Error("chain restore failed", "err", err)
		os.Exit(1)
	}
	if _, err := gen.Init(ctx, chain, kv); err != nil {
		slog.Error("genesis failed", "err", err)
		os.Exit(1)
	}
	metrics.BlockHeight.Set(float64(chain.Block().Height))

	// --- Rate limit for tx submission ---
	perMinute := 600.0
	if v := os.Getenv("TX_RATE_PER_MINUTE"); v != "" {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			slog.Error("invalid TX_RATE_PER_MINUTE", "value", v, "err", err)
			os.Exit(1)
		}
		perMinute = n
	}
	limiter := api.NewRateLimiter(perMinute, 20)

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run(ctx)

	// --- Gateway ---
	svc := api.NewService(chain, api.Addresses{
		Mint:       gen.Contracts.Mint,
		Collateral: gen.Contracts.Collateral,
	}, gen.BlockInterval, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
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
		fmt.Fprintf(w, `{"status":"ok","service":"mirror-engine","height":%d}`, chain.Block().Height)
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		svc.Routes(r, limiter)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("mirror-engine listening", "port", port, "height", chain.Block().Height)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down mirror-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stop()
	fmt.Println("mirror-engine stopped")
}
