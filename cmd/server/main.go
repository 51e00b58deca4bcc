package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"syncmesh/internal/crypto/secretbox"
	"syncmesh/internal/ingest/freshness"
	"syncmesh/internal/ingest/handler"
	"syncmesh/internal/ingest/metrics"
	"syncmesh/internal/ingest/service"
	eventstore "syncmesh/internal/ingest/store/event"
	noncestore "syncmesh/internal/ingest/store/nonce"
	sourcestore "syncmesh/internal/ingest/store/source"
	"syncmesh/internal/notify"
	"syncmesh/internal/platform/config"
	"syncmesh/internal/platform/httpserver"
	"syncmesh/internal/platform/kafka"
	"syncmesh/internal/platform/logger"
	"syncmesh/internal/platform/postgres"
	"syncmesh/internal/platform/redis"
	"syncmesh/internal/ratelimit"
	"syncmesh/internal/signature/registry"
	"syncmesh/internal/signature/verifier"
	"syncmesh/internal/syncqueue"
)

const (
	shutdownTimeout = 10 * time.Second
	drainInterval   = 30 * time.Second
	nonceGCInterval = time.Hour
)

// main wires dependencies and runs the server lifecycle. Business logic
// lives in the internal services; anything here should read like a parts
// list.
func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	db, err := postgres.Open(cfg.PostgresURL)
	if err != nil {
		log.Error("postgres unavailable", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	rc, err := redis.New(cfg.RedisURL)
	if err != nil {
		log.Error("redis unavailable", "error", err)
		os.Exit(1)
	}
	if rc != nil {
		defer rc.Close()
	}

	producer, err := kafka.NewProducer(cfg.KafkaBrokers, log)
	if err != nil {
		log.Error("kafka unavailable", "error", err)
		os.Exit(1)
	}
	if producer != nil {
		defer producer.Close()
	}

	// The master secret is read exactly once, here. When present, event
	// metadata is sealed at rest under per-source derivation contexts.
	var secrets *secretbox.Box
	if cfg.MasterSecret != "" {
		if secrets, err = secretbox.New(cfg.MasterSecret); err != nil {
			log.Error("master secret rejected", "error", err)
			os.Exit(1)
		}
	}

	// Durable stores when postgres is configured, in-memory otherwise.
	// The memory variants are for single-instance and local runs only.
	var (
		sources sourcestore.Store
		nonces  noncestore.Store
		events  eventstore.Store
	)
	if db != nil {
		sources = sourcestore.NewPostgres(db)
		nonces = noncestore.NewPostgres(db)
		events = eventstore.NewPostgres(db)
	} else {
		log.Warn("no postgres configured, using in-memory stores")
		sources = sourcestore.NewMemoryStore()
		nonces = noncestore.NewMemoryStore()
		events = eventstore.NewMemoryStore()
	}

	var buckets ratelimit.BucketStore
	if rc != nil {
		buckets = ratelimit.NewRedisBucketStore(rc.Client)
	} else {
		buckets = ratelimit.NewMemoryBucketStore()
	}

	var notifier service.Notifier = notify.NopNotifier{}
	if producer != nil {
		notifier = notify.NewKafka(producer, cfg.KafkaTopic, log)
	}

	gateway := service.New(service.Config{
		Enabled:  cfg.IngestEnabled,
		Limiter:  ratelimit.NewLimiter(buckets, cfg.RateLimitPerWindow, cfg.RateLimitWindow),
		Guard:    freshness.New(cfg.FreshnessWindow),
		Sources:  sources,
		Nonces:   nonces,
		Events:   events,
		Notifier: notifier,
		Secrets:  secrets,
		Metrics:  metrics.New(),
		Logger:   log,
	})

	router := chi.NewRouter()
	router.Use(chimiddleware.RequestID)
	router.Use(chimiddleware.RealIP)
	router.Use(chimiddleware.Recoverer)
	router.Get("/healthz", healthHandler(db, rc))
	router.Handle("/metrics", promhttp.Handler())
	handler.New(gateway, log).Register(router)

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting syncmesh", "addr", cfg.Addr, "ingest_enabled", cfg.IngestEnabled)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	// Background drain of the write-sync queue, only when a target is
	// configured. The backfill CLI covers catch-up; this loop keeps the
	// steady-state queue short. Every drained envelope is verified against
	// the signer registry before it leaves.
	if db != nil && cfg.SyncTargetURL != "" {
		engine := syncqueue.NewEngine(
			syncqueue.NewPostgres(db),
			syncqueue.NewHTTPTarget(cfg.SyncTargetURL, cfg.SyncTargetTimeout),
			newEnvelopeVerifier(db, cfg),
			log,
		)
		g.Go(func() error {
			return drainLoop(ctx, engine, log)
		})
	}

	// Replay nonces only matter inside the freshness window; everything
	// older is dead weight.
	g.Go(func() error {
		return nonceGCLoop(ctx, nonces, cfg.FreshnessWindow, log)
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

func drainLoop(ctx context.Context, engine *syncqueue.Engine, log *slog.Logger) error {
	ticker := time.NewTicker(drainInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			report, err := engine.Drain(ctx, syncqueue.DefaultDrainLimit)
			if err != nil {
				log.Error("queue drain failed", "error", err)
				continue
			}
			if report.Succeeded+report.Skipped+report.Failed > 0 {
				log.Info("queue drained",
					"succeeded", report.Succeeded,
					"skipped", report.Skipped,
					"failed", report.Failed)
			}
		}
	}
}

func nonceGCLoop(ctx context.Context, nonces noncestore.Store, window time.Duration, log *slog.Logger) error {
	ticker := time.NewTicker(nonceGCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cutoff := time.Now().Add(-2 * window)
			removed, err := nonces.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				log.Error("nonce cleanup failed", "error", err)
				continue
			}
			if removed > 0 {
				log.Info("expired nonces removed", "count", removed)
			}
		}
	}
}

// newEnvelopeVerifier builds signature verification over the durable signer
// registry, with remote co-verification when an authority is configured.
func newEnvelopeVerifier(db *sql.DB, cfg config.Config) *verifier.Verifier {
	var remote verifier.CoVerifier
	if cfg.CoVerifyURL != "" {
		remote = verifier.NewHTTPCoVerifier(cfg.CoVerifyURL, cfg.CoVerifyChain, cfg.CoVerifyTimeout)
	}
	return verifier.New(registry.NewPostgres(db), remote)
}

func healthHandler(db *sql.DB, rc *redis.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				http.Error(w, "postgres unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		if rc != nil {
			if err := rc.Health(ctx); err != nil {
				http.Error(w, "redis unreachable", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
