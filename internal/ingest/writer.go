// Package ingest turns normalized disclosures into stored rows and keyword
// alerts, and backfills alerts when the keyword list grows.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/keyword"
	"github.com/JakeFAU/disclosure-monitor/internal/metrics"
)

// Options select the write semantics of a Writer.
type Options struct {
	// Source labels metrics and notifications, e.g. "crawl" or "daily".
	Source    string
	Conflict  crawler.ConflictPolicy
	AlertMode crawler.AlertMode
	// Topic receives one notification per created alert. Empty disables publishing.
	Topic string
}

// Writer persists one disclosure at a time with the alerts its text matches.
type Writer struct {
	store     crawler.DisclosureStore
	matcher   *keyword.Matcher
	publisher crawler.Publisher
	clock     crawler.Clock
	opts      Options
	logger    *zap.Logger
}

// NewWriter builds a Writer. publisher and clock may be nil.
func NewWriter(
	store crawler.DisclosureStore,
	matcher *keyword.Matcher,
	publisher crawler.Publisher,
	clock crawler.Clock,
	opts Options,
	logger *zap.Logger,
) (*Writer, error) {
	if store == nil {
		return nil, fmt.Errorf("disclosure store is required")
	}
	if matcher == nil {
		matcher = keyword.NewMatcher(nil)
	}
	switch opts.Conflict {
	case "":
		opts.Conflict = crawler.ConflictIgnore
	case crawler.ConflictIgnore, crawler.ConflictUpdateName:
	default:
		return nil, fmt.Errorf("unknown conflict policy %q", opts.Conflict)
	}
	switch opts.AlertMode {
	case "":
		opts.AlertMode = crawler.AlertsOnInsert
	case crawler.AlertsOnInsert, crawler.AlertsOnUpsert:
	default:
		return nil, fmt.Errorf("unknown alert mode %q", opts.AlertMode)
	}
	if opts.Source == "" {
		opts.Source = "crawl"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Writer{
		store:     store,
		matcher:   matcher,
		publisher: publisher,
		clock:     clock,
		opts:      opts,
		logger:    logger,
	}, nil
}

// Ingest implements crawler.Ingestor.
func (w *Writer) Ingest(ctx context.Context, d crawler.Disclosure) (crawler.WriteResult, error) {
	req := crawler.WriteRequest{
		Disclosure: d,
		Conflict:   w.opts.Conflict,
		AlertMode:  w.opts.AlertMode,
		Keywords:   w.matcher.Match(d.Subject, d.Content),
	}
	res, err := w.store.Save(ctx, req)
	if err != nil {
		metrics.ObserveDisclosure(w.opts.Source, "failed")
		return crawler.WriteResult{}, fmt.Errorf("save disclosure %s %s: %w", d.CompanyCode, d.PublishDate, err)
	}
	metrics.ObserveDisclosure(w.opts.Source, writeOutcome(res))
	metrics.ObserveAlerts(w.opts.Source, len(res.AlertsCreated))

	if len(res.AlertsCreated) > 0 {
		w.logger.Info("keyword alerts created",
			zap.Int64("disclosure_id", res.ID),
			zap.String("company_code", d.CompanyCode),
			zap.String("subject", d.Subject),
			zap.Strings("keywords", res.AlertsCreated),
		)
		d.ID = res.ID
		w.notify(ctx, d, res.AlertsCreated)
	}
	return res, nil
}

func (w *Writer) notify(ctx context.Context, d crawler.Disclosure, keywords []string) {
	if w.publisher == nil || w.opts.Topic == "" {
		return
	}
	for _, kw := range keywords {
		msg := crawler.AlertNotification{
			DisclosureID: d.ID,
			Keyword:      kw,
			Market:       d.Market,
			CompanyCode:  d.CompanyCode,
			CompanyName:  d.CompanyName,
			PublishDate:  d.PublishDate,
			Subject:      d.Subject,
			Source:       w.opts.Source,
		}
		if w.clock != nil {
			msg.CreatedAt = w.clock.Now()
		}
		if _, err := w.publisher.Publish(ctx, w.opts.Topic, msg); err != nil {
			w.logger.Warn("alert notification failed",
				zap.Int64("disclosure_id", d.ID),
				zap.String("keyword", kw),
				zap.Error(err),
			)
		}
	}
}

func writeOutcome(res crawler.WriteResult) string {
	switch {
	case res.Inserted:
		return "inserted"
	case res.ID != 0:
		return "updated"
	default:
		return "existing"
	}
}
