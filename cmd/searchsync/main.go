// Command searchsync runs one WB search-texts sync: it pulls
// search-performance analytics for every catalog nm_id from the
// seller-analytics API and upserts canonical rows into Postgres.
// A cron-like invoker is expected to schedule it; the process exits
// non-zero on any unrecovered error.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/sellerlab/wb-search-sync/internal/config"
	"github.com/sellerlab/wb-search-sync/internal/httpx"
	"github.com/sellerlab/wb-search-sync/internal/ingest"
	"github.com/sellerlab/wb-search-sync/internal/metrics"
	"github.com/sellerlab/wb-search-sync/internal/store"
	"github.com/sellerlab/wb-search-sync/internal/utils"
	"github.com/sellerlab/wb-search-sync/internal/wbapi"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	log := logger.With(slog.String("run_id", uuid.NewString()))

	m := metrics.New()
	if cfg.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           httpx.NewRouter(log, m),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Error("ops server", slog.String("err", err.Error()))
			}
		}()
		log.Info("ops server listening", slog.String("addr", cfg.MetricsAddr))
	}

	ctx := context.Background()

	st, err := store.Open(ctx, cfg.Conninfo, cfg.CatalogTable, cfg.PgMaxConns)
	if err != nil {
		log.Error("storage unavailable", slog.String("err", err.Error()))
		os.Exit(1)
	}
	defer st.Close()
	if err := st.EnsureSchema(ctx); err != nil {
		log.Error("schema", slog.String("err", err.Error()))
		os.Exit(1)
	}

	client := wbapi.NewClient(wbapi.Options{
		BaseURL:       cfg.BaseURL,
		APIKey:        cfg.APIKey,
		Limit:         cfg.Limit,
		FallbackLimit: cfg.FallbackLimit,
		Timeout:       cfg.HTTPTimeout,
		Retry: utils.Backoff{
			Base:        cfg.BackoffBase,
			Max:         cfg.BackoffMax,
			Jitter:      time.Second,
			MaxAttempts: cfg.MaxAttempts,
		},
	}, log, m)

	p := ingest.NewPipeline(client, st, cfg, log, m)

	start := time.Now()
	sum, err := p.Run(ctx)
	m.RunDuration.Set(time.Since(start).Seconds())
	if err != nil {
		log.Error("run failed",
			slog.String("err", err.Error()),
			slog.Duration("elapsed", time.Since(start)))
		os.Exit(1)
	}

	log.Info("run complete",
		slog.Int("items", sum.TotalItems()),
		slog.Int("upserted", sum.TotalUpserted()),
		slog.Int64("pruned", sum.Pruned),
		slog.Duration("elapsed", time.Since(start)))
}
