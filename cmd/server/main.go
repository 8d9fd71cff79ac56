package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/redis/go-redis/v9"

	"github.com/boxmeout/pool-engine/internal/auth"
	"github.com/boxmeout/pool-engine/internal/config"
	"github.com/boxmeout/pool-engine/internal/event"
	"github.com/boxmeout/pool-engine/internal/metrics"
	"github.com/boxmeout/pool-engine/internal/store"
	"github.com/boxmeout/pool-engine/internal/token"
	"github.com/boxmeout/pool-engine/internal/trade"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "config load failed:", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	ctx := context.Background()

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.Database.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Database.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)

		pg := store.NewPostgresStore(pool)
		if err := pg.EnsureSchema(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.Redis.URL != "" {
			opt, err := redis.ParseURL(cfg.Redis.URL)
			if err != nil {
				slog.Error("invalid redis url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, time.Duration(cfg.Redis.TTLSeconds)*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Event publishing ---
	var publisher event.Publisher
	if cfg.NATS.URL != "" {
		nc, err := nats.Connect(cfg.NATS.URL, nats.Name("pool-engine"))
		if err != nil {
			slog.Error("nats connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, nc.Close)

		js, err := jetstream.New(nc)
		if err != nil {
			slog.Error("jetstream init failed", "err", err)
			os.Exit(1)
		}
		if err := event.EnsureStream(ctx, js); err != nil {
			slog.Error("jetstream stream setup failed", "err", err)
			os.Exit(1)
		}
		publisher = event.NewNATSPublisher(js)
		slog.Info("NATS event publishing enabled")
	}

	// --- Collateral ledger ---
	ledger := token.NewMemoryLedger()

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Engine ---
	capAmount, err := cfg.LiquidityCap()
	if err != nil {
		slog.Error("invalid liquidity cap", "err", err)
		os.Exit(1)
	}
	engine, err := trade.NewEngine(trade.Config{
		FeeBps:               cfg.Engine.FeeBps,
		MaxLiquidityCap:      capAmount,
		MinLiquidityFloorBps: cfg.Engine.MinLiquidityFloorBps,
	}, st, ledger, wsHub, publisher)
	if err != nil {
		slog.Error("engine init failed", "err", err)
		os.Exit(1)
	}
	handler := trade.NewHandler(engine)

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
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-API-Key")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"pool-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	requireKey := auth.Middleware(cfg.Server.APIKey)

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time odds updates.
		r.Get("/ws", wsHub.HandleWS)

		// Pool queries.
		r.Get("/pools", handler.ListPools)
		r.Get("/pools/{marketID}", handler.GetPool)
		r.Get("/pools/{marketID}/odds", handler.GetOdds)
		r.Get("/pools/{marketID}/quote", handler.QuoteBuy)
		r.Get("/pools/{marketID}/trades", handler.GetTradeHistory)
		r.Get("/pools/{marketID}/analytics", handler.GetAnalytics)
		r.Get("/pools/{marketID}/liquidity/{provider}", handler.GetLPPosition)
		r.Get("/analytics", handler.GetGlobalAnalytics)
		r.Get("/traders/{trader}/trades", handler.GetTraderHistory)
		r.Get("/balances/{account}", handler.GetBalance)

		// Mutating routes require the API key when one is configured.
		r.Group(func(r chi.Router) {
			r.Use(requireKey)

			r.Post("/pools", handler.CreatePool)
			r.Post("/pools/{marketID}/liquidity", handler.AddLiquidity)
			r.Post("/pools/{marketID}/liquidity/withdraw", handler.RemoveLiquidity)
			r.Post("/trades/buy", handler.Buy)
			r.Post("/trades/sell", handler.Sell)

			if cfg.Engine.DevFaucet {
				slog.Warn("dev faucet enabled; collateral can be minted freely")
				r.Post("/faucet", handler.Faucet)
			}
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("pool-engine listening", "port", cfg.Server.Port)
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

	slog.Info("shutting down pool-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("pool-engine stopped")
}

func logLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
