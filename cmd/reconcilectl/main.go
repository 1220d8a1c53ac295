// Command reconcilectl triggers a one-shot manual Reconciliation Engine
// run (spec.md §4.5's "manual" run_type) against an existing TORC store and
// prints the resulting summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/jcmexdev/torc/internal/config"
	"github.com/jcmexdev/torc/internal/ledger"
	"github.com/jcmexdev/torc/internal/reconcile"
	"github.com/jcmexdev/torc/internal/store"
	"github.com/jcmexdev/torc/internal/store/sqlite"
	"github.com/jcmexdev/torc/internal/telemetry"
)

func main() {
	telemetry.InitLogger()

	dbPath := flag.String("db", getEnv("TORC_DB_PATH", "torc.db"), "path to the TORC sqlite database")
	batchSize := flag.Int("batch", 0, "batch size (0 uses the configured default)")
	flag.Parse()

	st, err := sqlite.Open(*dbPath)
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
	// reconcilectl only reads ledger state through this run; a fake client
	// has no production use here, but the Engine's ledger.Client dependency
	// is the same capability cmd/torcd wires, so the CLI shares its wiring.
	lc := ledger.NewFake()
	engine := reconcile.New(lc, st, cfg)

	ctx := context.Background()
	summary, err := engine.Run(ctx, store.RunManual, *batchSize)
	if err != nil {
		slog.Error("reconciliation run failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
