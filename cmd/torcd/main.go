// Command torcd is the TORC daemon: it wires the Store, LedgerClient, and
// every capability (Saga Manager, Recovery Pipeline, Escrow Protocol, Event
// Ingestor, Reconciliation Engine, Health Aggregator) together and runs
// their background loops alongside the thin admin/health HTTP surface and
// the Escrow Protocol's HTTP entrypoint.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/escrow"
	"github.com/jcmexdev/torc/internal/escrowapi"
	"github.com/jcmexdev/torc/internal/health"
	"github.com/jcmexdev/torc/internal/healthapi"
	"github.com/jcmexdev/torc/internal/idempotency"
	"github.com/jcmexdev/torc/internal/ingest"
	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/publish"
	"github.com/jcmexdev/torc/internal/reconcile"
	"github.com/jcmexdev/torc/internal/recovery"
	"github.com/jcmexdev/torc/internal/saga"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/store/sqlite"
	"github.com/jcmexdev/torc/internal/telemetry"
)

func main() {
	telemetry.InitLogger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdown, err := telemetry.SetupTracer(ctx, getEnv("OTEL_SERVICE_NAME", "torcd"))
	if err != nil {
		slog.Error("failed to initialise tracer", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(shutdownCtx); err != nil {
			slog.Error("tracer shutdown error", "error", err)
		}
	}()

	st, err := sqlite.Open(getEnv("TORC_DB_PATH", "torc.db"))
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("store close error", "error", err)
		}
	}()

	cfg := config.FromEnv()
	lc, closeLedger := buildLedgerClient()
	defer closeLedger()

	sagas := saga.New(st)

	registry := recovery.NewRegistry()
	registry.Register(store.OpEscrowRelease, &recovery.EscrowReleaseHandler{Ledger: lc, Store: st})
	registry.Register(store.OpFinancingPipeline, &recovery.FinancingPipelineHandler{Ledger: lc})
	registry.Register(store.OpEventProcessing, &recovery.EventProcessingHandler{Store: st})

	pipeline := recovery.New(st, sagas, registry, cfg)
	worker := recovery.NewWorker(pipeline, sagas, st, cfg)

	ingestor := ingest.New(lc, st, sagas, pipeline)
	recon := reconcile.New(lc, st, cfg)
	agg := health.New(st)

	sink := buildPublishSink()
	idem := buildIdempotencyCache()
	protocol := escrow.New(lc, st, cfg, buildArbitrators(), sink)
	escrowRouter := escrowapi.NewRouter(escrowapi.NewHandler(protocol, st, idem))

	// The admin/health surface and the Escrow Protocol's RPC entrypoint are
	// two independent chi routers sharing one listener; each owns its own
	// full request paths, so no prefix stripping is needed between them.
	mux := http.NewServeMux()
	mux.Handle("/escrows", escrowRouter)
	mux.Handle("/escrows/", escrowRouter)
	mux.Handle("/", healthapi.NewRouter(st, agg, recon))
	httpServer := &http.Server{
		Addr:              ":" + getEnv("PORT", "8090"),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go worker.Run(ctx)
	go recon.Schedule(ctx)
	go func() {
		if err := ingestor.Run(ctx); err != nil {
			slog.ErrorContext(ctx, "event ingestor stopped", "error", err)
		}
	}()
	go func() {
		slog.Info("torcd http surface running", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down: workers finish their current tick, no new ticks accepted")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("http server shutdown error", "error", err)
	}
}

// buildLedgerClient dials the external ledger sidecar when LEDGER_GRPC_ADDR
// is set, otherwise falls back to the in-memory client used by the in-repo
// demo and by cmd/reconcilectl. The gRPC adapter does not support Events
// (see internal/ledger/grpcclient.go); torcd still starts with it, but the
// Event Ingestor's subscription loop exits immediately and logs why.
func buildLedgerClient() (ledger.Client, func()) {
	addr := os.Getenv("LEDGER_GRPC_ADDR")
	if addr == "" {
		return ledger.NewFake(), func() {}
	}
	gc, err := ledger.DialGRPC(addr)
	if err != nil {
		slog.Error("failed to dial ledger sidecar", "addr", addr, "error", err)
		os.Exit(1)
	}
	return gc, func() {
		if err := gc.Close(); err != nil {
			slog.Error("ledger connection close error", "error", err)
		}
	}
}

// buildPublishSink publishes escrow domain events to Redis Pub/Sub when
// TORC_REDIS_ADDR is set, otherwise falls back to discarding them — same
// fallback shape as buildLedgerClient.
func buildPublishSink() publish.Sink {
	addr := os.Getenv("TORC_REDIS_ADDR")
	if addr == "" {
		return publish.NopSink{}
	}
	return publish.NewRedisSink(addr)
}

// buildIdempotencyCache backs escrowapi's Create dedupe with Redis when
// TORC_REDIS_ADDR is set; without it the handler skips dedupe entirely
// rather than fail startup over an optional fast path.
func buildIdempotencyCache() idempotency.Cache {
	addr := os.Getenv("TORC_REDIS_ADDR")
	if addr == "" {
		return nil
	}
	return idempotency.NewRedisCache(addr, getEnv("OTEL_SERVICE_NAME", "torcd"))
}

// buildArbitrators seeds the dispute arbitrator registry from
// TORC_ARBITRATORS, a comma-separated list of ledger addresses. The ledger
// itself owns arbitrator registration in production (spec.md §1); this is
// the in-repo demo's static stand-in.
func buildArbitrators() escrow.ArbitratorRegistry {
	raw := os.Getenv("TORC_ARBITRATORS")
	if raw == "" {
		return escrow.NewStaticRegistry()
	}
	return escrow.NewStaticRegistry(strings.Split(raw, ",")...)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
