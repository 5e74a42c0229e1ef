package main

import (
	"context"
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
	"github.com/shopspring/decimal"

	"github.com/arcboost/stimulus-engine/internal/feed"
	"github.com/arcboost/stimulus-engine/internal/metrics"
	"github.com/arcboost/stimulus-engine/internal/monitor"
	"github.com/arcboost/stimulus-engine/internal/negotiation"
	"github.com/arcboost/stimulus-engine/internal/preset"
	"github.com/arcboost/stimulus-engine/internal/settlement"
	"github.com/arcboost/stimulus-engine/internal/sim"
	"github.com/arcboost/stimulus-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	vatRate := decimal.NewFromFloat(0.07)
	if raw := os.Getenv("VAT_RATE"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil || parsed.IsNegative() {
			slog.Error("invalid VAT_RATE", "value", raw)
			os.Exit(1)
		}
		vatRate = parsed
	}

	confirmTimeout := envDuration("CONFIRM_TIMEOUT", 10*time.Second)
	settleDelay := envDuration("SETTLE_DELAY", 0)

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
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
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Live feed hub ---
	hub := feed.NewHub()
	go hub.Run()

	// --- Negotiation + settlement ---
	confirmer := &settlement.SimConfirmer{Delay: settleDelay}
	machine := negotiation.NewMachine(st, confirmer, hub, confirmTimeout)
	negotiationSvc := negotiation.NewService(machine)
	ledger := settlement.NewLedger(st, machine, hub)
	mon := monitor.NewMonitor(st, vatRate)

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
		w.Write([]byte(`{"status":"ok","service":"stimulus-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	// Pure simulation engine.
	r.Route("/api/sim", func(r chi.Router) {
		r.Get("/presets", preset.HandleList)
		r.Post("/run", sim.HandleRun)
	})

	// Negotiation lifecycle + settlement ledger.
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/deals", negotiationSvc.CreateDeal)
		r.Post("/deals/{dealID}/turns", negotiationSvc.SubmitTurn)
		r.Post("/deals/{dealID}/admit", negotiationSvc.Admit)
		r.Post("/deals/{dealID}/settle", negotiationSvc.Settle)
		r.Post("/deals/{dealID}/abort", negotiationSvc.Abort)
		r.Post("/deals/{dealID}/fail", negotiationSvc.Fail)

		r.Post("/transactions", ledger.HandleRecord)
	})

	// Read-only monitor surface.
	r.Route("/api/mon", func(r chi.Router) {
		r.Get("/ws", hub.HandleWS)
		r.Get("/transactions", mon.HandleTransactions)
		r.Get("/deals", mon.HandleDeals)
		r.Get("/deals/{dealID}/turns", mon.HandleTurns)
		r.Get("/metrics", mon.HandleMetrics)
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
		slog.Info("stimulus-engine listening", "port", port, "vat_rate", vatRate.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down stimulus-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("stimulus-engine stopped")
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		slog.Error("invalid duration", "env", name, "value", raw)
		os.Exit(1)
	}
	return d
}
