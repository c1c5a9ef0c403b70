// Command refresh runs a single refresh cycle and exits. It fetches every
// configured feed, writes the per-state CSV files and the SQLite snapshot, and
// optionally writes the rejection report as JSON.
//
// Usage:
//
//	go run ./cmd/refresh \
//	  -data-dir data \
//	  -snapshot-db data/STATE_SNAPSHOT.db \
//	  -rejections data/rejections.json
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/covid-state-etl/internal/adapter/feed"
	"github.com/couchcryptid/covid-state-etl/internal/adapter/snapshot"
	"github.com/couchcryptid/covid-state-etl/internal/config"
	"github.com/couchcryptid/covid-state-etl/internal/observability"
	"github.com/couchcryptid/covid-state-etl/internal/pipeline"
	"github.com/couchcryptid/covid-state-etl/internal/store"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	dataDir := flag.String("data-dir", cfg.DataDir, "output directory for per-state CSV files")
	snapshotDB := flag.String("snapshot-db", cfg.SnapshotDB, "output path for the SQLite snapshot")
	rejections := flag.String("rejections", "", "optional output path for the rejection report JSON")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := sharedobs.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	client := feed.NewClient(cfg.FetchTimeout, cfg.CacheDir, logger, metrics)
	ref, loaders := pipeline.Sources(cfg, client)
	p := pipeline.New(ref, loaders, store.New(), logger, metrics,
		pipeline.WithPrecedence(cfg.Precedence),
		pipeline.WithArtifacts(snapshot.NewCSVWriter(*dataDir), snapshot.NewSQLiteStore(*snapshotDB)),
	)

	snap, err := p.Refresh(ctx)
	if err != nil {
		return err
	}

	for _, code := range snap.StateCodes() {
		ts := snap.States[code]
		log.Printf("%s: %d days (%s to %s), %d metrics", code, ts.Len(),
			ts.Start().Format("2006-01-02"), ts.End().Format("2006-01-02"), len(ts.Metrics))
	}
	log.Printf("total: %d states, %d rejected observations", len(snap.States), snap.Rejections.Total)

	if *rejections != "" {
		if err := writeJSON(*rejections, snap.Rejections); err != nil {
			return fmt.Errorf("write rejections: %w", err)
		}
		log.Printf("wrote %s", *rejections)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}
