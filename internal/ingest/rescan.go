package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/keyword"
	"github.com/JakeFAU/disclosure-monitor/internal/metrics"
)

// DefaultRescanBatch is the page size used when walking stored disclosures.
const DefaultRescanBatch = 500

// RescanStats summarizes a rescan.
type RescanStats struct {
	Keywords      int `json:"keywords"`
	Scanned       int `json:"scanned"`
	Matched       int `json:"matched"`
	AlertsCreated int `json:"alerts_created"`
}

// Rescanner re-matches every stored disclosure against the current keyword
// list and records alerts that do not exist yet.
type Rescanner struct {
	store     crawler.RescanStore
	keywords  keyword.Source
	batchSize int
	logger    *zap.Logger
}

// NewRescanner builds a Rescanner.
func NewRescanner(store crawler.RescanStore, keywords keyword.Source, batchSize int, logger *zap.Logger) (*Rescanner, error) {
	if store == nil {
		return nil, fmt.Errorf("rescan store is required")
	}
	if keywords == nil {
		return nil, fmt.Errorf("keyword source is required")
	}
	if batchSize <= 0 {
		batchSize = DefaultRescanBatch
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rescanner{store: store, keywords: keywords, batchSize: batchSize, logger: logger}, nil
}

// Run walks all disclosures in id order. Running it twice creates no
// additional alerts.
func (r *Rescanner) Run(ctx context.Context) (RescanStats, error) {
	kws, err := r.keywords.Load(ctx)
	if err != nil {
		return RescanStats{}, fmt.Errorf("load keywords: %w", err)
	}
	matcher := keyword.NewMatcher(kws)
	stats := RescanStats{Keywords: matcher.Len()}
	if matcher.Len() == 0 {
		r.logger.Info("keyword list empty, nothing to rescan")
		return stats, nil
	}

	var after int64
	for {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		batch, err := r.store.ListDisclosureTexts(ctx, after, r.batchSize)
		if err != nil {
			return stats, fmt.Errorf("list disclosures after %d: %w", after, err)
		}
		if len(batch) == 0 {
			break
		}
		for _, row := range batch {
			stats.Scanned++
			matched := matcher.Match(row.Subject, row.Content)
			if len(matched) == 0 {
				continue
			}
			stats.Matched++
			created, err := r.store.InsertAlerts(ctx, row.ID, matched)
			if err != nil {
				return stats, fmt.Errorf("insert alerts for disclosure %d: %w", row.ID, err)
			}
			stats.AlertsCreated += len(created)
		}
		after = batch[len(batch)-1].ID
		r.logger.Debug("rescan progress", zap.Int64("after_id", after), zap.Int("scanned", stats.Scanned))
	}

	metrics.ObserveAlerts("rescan", stats.AlertsCreated)
	r.logger.Info("rescan complete",
		zap.Int("keywords", stats.Keywords),
		zap.Int("scanned", stats.Scanned),
		zap.Int("matched", stats.Matched),
		zap.Int("alerts_created", stats.AlertsCreated),
	)
	return stats, nil
}
