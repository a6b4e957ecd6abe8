package crawler

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/checkpoint"
	"github.com/JakeFAU/disclosure-monitor/internal/clock/system"
	"github.com/JakeFAU/disclosure-monitor/internal/hash/sha256"
	iduuid "github.com/JakeFAU/disclosure-monitor/internal/id/uuid"
	"github.com/JakeFAU/disclosure-monitor/internal/metrics"
	"github.com/JakeFAU/disclosure-monitor/internal/normalize"
)

// Deps bundles the collaborators an Engine drives.
type Deps struct {
	Client      ArchiveClient
	Lists       ListParser
	Details     DetailParser
	Ingestor    Ingestor
	Checkpoints checkpoint.Store
	Policy      AdvancePolicy
	// Quarantine receives raw detail pages that could not be parsed. Optional.
	Quarantine BlobStore
	Clock      Clock
	Pauser     Pauser
	Logger     *zap.Logger
}

// RunStats summarizes one call to Engine.Run.
type RunStats struct {
	RunID     string            `json:"run_id"`
	Start     checkpoint.Cursor `json:"start"`
	End       checkpoint.Cursor `json:"end"`
	Pages     int               `json:"pages"`
	Persisted int               `json:"persisted"`
	Inserted  int               `json:"inserted"`
	Alerts    int               `json:"alerts"`
}

// Engine walks the archive from the persisted cursor down to the floor year.
type Engine struct {
	cfg  EngineConfig
	deps Deps
}

// NewEngine validates cfg and deps and returns a ready Engine.
func NewEngine(cfg EngineConfig, deps Deps) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Client == nil:
		return nil, fmt.Errorf("archive client is required")
	case deps.Lists == nil || deps.Details == nil:
		return nil, fmt.Errorf("list and detail parsers are required")
	case deps.Ingestor == nil:
		return nil, fmt.Errorf("ingestor is required")
	case deps.Checkpoints == nil:
		return nil, fmt.Errorf("checkpoint store is required")
	}
	if deps.Policy == nil {
		deps.Policy = ThresholdPolicy{Threshold: DefaultSuccessThreshold}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if deps.Pauser == nil {
		deps.Pauser = TimerPauser{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps}, nil
}

// Run crawls until the cursor passes the floor year, the archive blocks the
// client, or ctx is canceled. Month-level failures are logged and the month
// is retried after the configured cooldown.
func (e *Engine) Run(ctx context.Context) (RunStats, error) {
	start, err := e.deps.Checkpoints.Load(ctx)
	if err != nil {
		return RunStats{}, fmt.Errorf("load checkpoint: %w", err)
	}
	runID := iduuid.NewRunID().String()
	r := &run{
		Engine: e,
		logger: e.deps.Logger.With(zap.String("run_id", runID)),
		cursor: start.Normalize(),
	}
	r.stats.RunID = runID
	r.stats.Start = r.cursor
	r.logger.Info("crawl started",
		zap.Stringer("cursor", r.cursor),
		zap.Int("floor_year", e.cfg.FloorYear),
		zap.String("advance_policy", e.deps.Policy.Name()),
	)

	err = r.loop(ctx)
	r.stats.End = r.cursor
	switch {
	case err == nil:
		r.logger.Info("crawl reached floor year",
			zap.Stringer("cursor", r.cursor),
			zap.Int("persisted", r.stats.Persisted),
			zap.Int("alerts", r.stats.Alerts),
		)
	case errors.Is(err, ErrBlocked):
		metrics.ObserveBlock()
		r.logger.Error("archive served block page, stopping", zap.Stringer("cursor", r.cursor), zap.Error(err))
	default:
		r.logger.Warn("crawl interrupted", zap.Stringer("cursor", r.cursor), zap.Error(err))
	}
	return r.stats, err
}

type run struct {
	*Engine
	logger *zap.Logger
	cursor checkpoint.Cursor
	stats  RunStats
}

func (r *run) loop(ctx context.Context) error {
	for r.cursor.Year >= r.cfg.FloorYear {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.stepMonth(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, ErrBlocked) {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		r.logger.Error("month failed, retrying after cooldown",
			zap.Stringer("cursor", r.cursor),
			zap.Duration("cooldown", r.cfg.MonthCooldown),
			zap.Error(err),
		)
		r.deps.Pauser.Pause(ctx, r.cfg.MonthCooldown)
	}
	return nil
}

// stepMonth finishes the cursor's month, or rolls the year when the month
// is exhausted. Panics are converted to errors so the month is retried.
func (r *run) stepMonth(ctx context.Context) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic while crawling %s: %v", r.cursor, rec)
		}
	}()

	if r.cursor.Month < 1 {
		return r.commit(ctx, r.cursor.NextYear())
	}
	for r.cursor.MarketIndex < len(r.cfg.Markets) {
		if err := r.crawlMarket(ctx); err != nil {
			return err
		}
		if err := r.commit(ctx, r.cursor.NextMarket()); err != nil {
			return err
		}
	}
	r.logger.Info("month complete", zap.Int("year", r.cursor.Year), zap.Int("month", r.cursor.Month))
	return r.commit(ctx, r.cursor.NextMonth())
}

func (r *run) crawlMarket(ctx context.Context) error {
	market := r.cfg.Markets[r.cursor.MarketIndex]
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := ListQuery{Year: r.cursor.Year, Month: r.cursor.Month, Market: market, Page: r.cursor.Page}
		body, err := r.deps.Client.FetchList(ctx, q)
		if err != nil {
			metrics.ObserveListPage(market.Kind, listOutcome(err))
			return fmt.Errorf("fetch list %s: %w", q, err)
		}
		page, err := r.deps.Lists.ParseList(body)
		if err != nil {
			metrics.ObserveListPage(market.Kind, "parse_error")
			return fmt.Errorf("parse list %s: %w", q, err)
		}
		if page.NoData {
			metrics.ObserveListPage(market.Kind, "no_data")
			r.logger.Info("no disclosures for market", zap.Stringer("query", q))
			return nil
		}
		metrics.ObserveListPage(market.Kind, "ok")
		r.stats.Pages++

		succeeded, err := r.processPage(ctx, q, page.Candidates)
		if err != nil {
			return err
		}
		total := len(page.Candidates)
		advanced := r.deps.Policy.Advance(succeeded, total)
		metrics.ObservePageDecision(advanced)
		if !advanced {
			r.logger.Warn("page below success threshold, retrying",
				zap.Stringer("query", q),
				zap.Int("succeeded", succeeded),
				zap.Int("candidates", total),
				zap.Duration("cooldown", r.cfg.PageCooldown),
			)
			r.deps.Pauser.Pause(ctx, r.cfg.PageCooldown)
			continue
		}
		r.logger.Info("page complete",
			zap.Stringer("query", q),
			zap.Int("total_pages", page.TotalPages),
			zap.Int("succeeded", succeeded),
			zap.Int("candidates", total),
		)
		if r.cursor.Page >= page.TotalPages {
			return nil
		}
		if err := r.commit(ctx, r.cursor.NextPage()); err != nil {
			return err
		}
	}
}

// processPage fetches every candidate through the worker pool, then writes
// the successful ones one at a time. It returns the number persisted.
func (r *run) processPage(ctx context.Context, q ListQuery, candidates []Candidate) (int, error) {
	results, err := fetchDetails(ctx, r.cfg.Workers, candidates, func(ctx context.Context, c Candidate) detailResult {
		return r.processCandidate(ctx, q, c)
	})
	if err != nil {
		return 0, fmt.Errorf("detail pages for %s: %w", q, err)
	}

	succeeded := 0
	for _, res := range results {
		metrics.ObserveDetail(res.outcome)
		if res.err != nil {
			r.logger.Warn("detail skipped",
				zap.Stringer("query", q),
				zap.String("company_code", res.candidate.CompanyCode),
				zap.String("company_name", res.candidate.CompanyName),
				zap.String("seq_no", res.candidate.Params.SeqNo),
				zap.Error(res.err),
			)
			if len(res.raw) > 0 {
				r.quarantine(ctx, q, res)
			}
			continue
		}
		written, err := r.deps.Ingestor.Ingest(ctx, res.disclosure)
		if err != nil {
			r.logger.Warn("disclosure write failed",
				zap.Stringer("query", q),
				zap.String("company_code", res.candidate.CompanyCode),
				zap.String("subject", res.disclosure.Subject),
				zap.Error(err),
			)
			continue
		}
		succeeded++
		r.stats.Persisted++
		if written.Inserted {
			r.stats.Inserted++
		}
		r.stats.Alerts += len(written.AlertsCreated)
	}
	return succeeded, nil
}

func (r *run) processCandidate(ctx context.Context, q ListQuery, c Candidate) detailResult {
	body, err := r.deps.Client.FetchDetail(ctx, c.Params)
	if err != nil {
		outcome := "fetch_error"
		if errors.Is(err, ErrBlocked) {
			outcome = "blocked"
		}
		return detailResult{candidate: c, outcome: outcome, err: fmt.Errorf("fetch detail: %w", err)}
	}
	detail, err := r.deps.Details.ParseDetail(body)
	if err != nil {
		return detailResult{candidate: c, raw: body, outcome: "parse_error", err: err}
	}
	publishDate, err := normalize.Date(c.Params.SpokeDate)
	if err != nil {
		return detailResult{candidate: c, outcome: "normalize_error", err: err}
	}
	return detailResult{
		candidate: c,
		outcome:   "ok",
		disclosure: Disclosure{
			Market:      q.Market.Name,
			CompanyCode: c.CompanyCode,
			CompanyName: c.CompanyName,
			PublishDate: publishDate,
			PublishTime: normalize.Time(c.Params.SpokeTime),
			Subject:     detail.Subject,
			Content:     detail.Content,
			SourceDate:  r.deps.Clock.Now(),
			RawParams:   c.Params.String(),
		},
	}
}

func (r *run) quarantine(ctx context.Context, q ListQuery, res detailResult) {
	if r.deps.Quarantine == nil {
		return
	}
	key := fmt.Sprintf("quarantine/%d-%02d/%s/%s-%s-%s.html",
		q.Year, q.Month, q.Market.Kind, res.candidate.CompanyCode, res.candidate.Params.SeqNo, sha256.Short(res.raw))
	uri, err := r.deps.Quarantine.PutObject(ctx, key, "text/html; charset=utf-8", res.raw)
	if err != nil {
		r.logger.Warn("quarantine write failed", zap.String("key", key), zap.Error(err))
		return
	}
	r.logger.Info("detail page quarantined", zap.String("uri", uri))
}

// commit persists next and only then adopts it as the in-memory cursor.
func (r *run) commit(ctx context.Context, next checkpoint.Cursor) error {
	if !r.cursor.Before(next) {
		return fmt.Errorf("cursor would move backwards from %s to %s", r.cursor, next)
	}
	if err := r.deps.Checkpoints.Save(ctx, next); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", next, err)
	}
	r.cursor = next
	metrics.SetCursor(next.Year, next.Month, next.MarketIndex, next.Page)
	return nil
}

func listOutcome(err error) string {
	if errors.Is(err, ErrBlocked) {
		return "blocked"
	}
	return "error"
}
