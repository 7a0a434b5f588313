package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sellerlab/wb-search-sync/internal/config"
	"github.com/sellerlab/wb-search-sync/internal/metrics"
	"github.com/sellerlab/wb-search-sync/internal/models"
	"github.com/sellerlab/wb-search-sync/internal/wbapi"
)

// Fetcher is the upstream API seam; satisfied by *wbapi.Client.
type Fetcher interface {
	FetchSearchTexts(ctx context.Context, period models.Period, nmIDs []int64, orderBy string) ([]wbapi.RawItem, error)
}

// Sink is the storage seam; satisfied by *store.Postgres.
type Sink interface {
	ListNmIDs(ctx context.Context) ([]int64, error)
	UpsertSearchTexts(ctx context.Context, rows []models.SearchTextRow) (int, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Pipeline drives one run: resolve identifiers, then for every ranking
// variant walk the batches sequentially — fetch, normalize, upsert —
// with a pacing pause between consecutive API calls. The first fetch or
// storage failure aborts the whole run; completed batches stay committed.
type Pipeline struct {
	fetch Fetcher
	sink  Sink
	cfg   config.Config
	log   *slog.Logger
	m     *metrics.Metrics

	sleep func(time.Duration)
	now   func() time.Time
}

func NewPipeline(fetch Fetcher, sink Sink, cfg config.Config, log *slog.Logger, m *metrics.Metrics) *Pipeline {
	return &Pipeline{
		fetch: fetch,
		sink:  sink,
		cfg:   cfg,
		log:   log,
		m:     m,
		sleep: time.Sleep,
		now:   time.Now,
	}
}

func (p *Pipeline) Run(ctx context.Context) (models.RunSummary, error) {
	var sum models.RunSummary

	ids, err := p.resolveIDs(ctx)
	if err != nil {
		return sum, err
	}
	batches := SplitBatches(ids, p.cfg.BatchSize)
	p.log.Info("run plan",
		slog.String("period_start", p.cfg.Period.StartStr()),
		slog.String("period_end", p.cfg.Period.EndStr()),
		slog.Int("nm_ids", len(ids)),
		slog.Int("batches", len(batches)),
		slog.Any("variants", p.cfg.Variants))

	call := 0
	for _, orderBy := range p.cfg.Variants {
		vs := models.VariantSummary{OrderBy: orderBy}
		for i, batch := range batches {
			if call > 0 {
				p.log.Debug("pacing pause", slog.Duration("pause", p.cfg.Pause))
				p.sleep(p.cfg.Pause)
			}
			call++

			items, err := p.fetch.FetchSearchTexts(ctx, p.cfg.Period, batch, orderBy)
			if err != nil {
				return sum, fmt.Errorf("fetch %s batch %d/%d: %w", orderBy, i+1, len(batches), err)
			}
			p.m.ItemsFetched.Add(float64(len(items)))

			rows := BuildRows(p.cfg.Period, orderBy, items, p.now().UTC(), p.cfg.StoreRaw)

			n, err := p.sink.UpsertSearchTexts(ctx, rows)
			if err != nil {
				return sum, fmt.Errorf("upsert %s batch %d/%d: %w", orderBy, i+1, len(batches), err)
			}
			p.m.RowsUpserted.Add(float64(n))

			vs.Items += len(items)
			vs.Rows += len(rows)
			vs.Upserted += n
			p.log.Info("batch done",
				slog.String("variant", orderBy),
				slog.Int("batch", i+1),
				slog.Int("of", len(batches)),
				slog.Int("items", len(items)),
				slog.Int("upserted", n))
		}
		sum.Variants = append(sum.Variants, vs)
	}

	if p.cfg.RetentionDays > 0 {
		sum.Pruned, err = p.prune(ctx)
		if err != nil {
			return sum, err
		}
	}
	return sum, nil
}

func (p *Pipeline) resolveIDs(ctx context.Context) ([]int64, error) {
	if len(p.cfg.NmIDs) > 0 {
		p.log.Info("using NM_IDS override", slog.Int("count", len(p.cfg.NmIDs)))
		return p.cfg.NmIDs, nil
	}
	ids, err := p.sink.ListNmIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve identifiers: %w", err)
	}
	return ids, nil
}

func (p *Pipeline) prune(ctx context.Context) (int64, error) {
	t := p.now().In(p.cfg.Location)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	cutoff := day.AddDate(0, 0, -p.cfg.RetentionDays)

	n, err := p.sink.PruneBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune: %w", err)
	}
	p.m.RowsPruned.Add(float64(n))
	p.log.Info("retention prune",
		slog.String("cutoff", cutoff.Format(models.DateLayout)),
		slog.Int64("deleted", n))
	return n, nil
}
