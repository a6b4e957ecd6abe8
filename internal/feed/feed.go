// Package feed ingests the exchanges' official daily announcement feeds. It
// complements the archive crawl with same-day records and refreshes company
// names on rows the crawl already stored.
package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/normalize"
)

// Default feed endpoints.
const (
	DefaultTWSEURL = "https://openapi.twse.com.tw/v1/opendata/t187ap04_L"
	DefaultTPExURL = "https://www.tpex.org.tw/openapi/v1/mopsfin_t187ap04_O"
)

var errSkipRecord = errors.New("record skipped")

// Getter fetches a URL body.
type Getter interface {
	Get(ctx context.Context, rawURL string) ([]byte, error)
}

// Source is one exchange feed and the market label its rows are stored under.
type Source struct {
	Market string `mapstructure:"market"`
	URL    string `mapstructure:"url"`
}

// DefaultSources returns the listed and OTC feeds.
func DefaultSources() []Source {
	return []Source{
		{Market: "TWSE", URL: DefaultTWSEURL},
		{Market: "TPEx", URL: DefaultTPExURL},
	}
}

// Record is one feed row after field aliases are resolved.
type Record struct {
	CompanyCode string
	CompanyName string
	Date        string
	Time        string
	Subject     string
	Content     string
}

// Field names vary between the two exchanges and over time.
var (
	codeFields    = []string{"公司代號", "SecuritiesCompanyCode"}
	nameFields    = []string{"公司名稱", "CompanyName"}
	dateFields    = []string{"發言日期", "Date"}
	timeFields    = []string{"發言時間"}
	subjectFields = []string{"主旨", "主旨 "}
	contentFields = []string{"說明"}
)

// ParseRecords decodes a feed body, a JSON array of flat objects.
func ParseRecords(body []byte) ([]Record, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var rows []map[string]any
	if err := dec.Decode(&rows); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}
	out := make([]Record, 0, len(rows))
	for _, row := range rows {
		out = append(out, Record{
			CompanyCode: pick(row, codeFields),
			CompanyName: pick(row, nameFields),
			Date:        pick(row, dateFields),
			Time:        pick(row, timeFields),
			Subject:     pick(row, subjectFields),
			Content:     pick(row, contentFields),
		})
	}
	return out, nil
}

func pick(row map[string]any, keys []string) string {
	for _, k := range keys {
		v, ok := row[k]
		if !ok || v == nil {
			continue
		}
		if s := strings.TrimSpace(fmt.Sprint(v)); s != "" {
			return s
		}
	}
	return ""
}

// Disclosure converts a record. Rows without a company code or a readable
// date are rejected with errSkipRecord.
func (r Record) Disclosure(market string) (crawler.Disclosure, error) {
	if r.CompanyCode == "" {
		return crawler.Disclosure{}, fmt.Errorf("%w: missing company code", errSkipRecord)
	}
	raw := strings.NewReplacer("/", "", "-", "").Replace(r.Date)
	date, err := normalize.Date(raw)
	if err != nil {
		return crawler.Disclosure{}, fmt.Errorf("%w: %v", errSkipRecord, err)
	}
	return crawler.Disclosure{
		Market:      market,
		CompanyCode: r.CompanyCode,
		CompanyName: r.CompanyName,
		PublishDate: date,
		PublishTime: normalize.Time(r.Time),
		Subject:     r.Subject,
		Content:     r.Content,
	}, nil
}

// Stats summarizes one feed run.
type Stats struct {
	Records  int `json:"records"`
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Alerts   int `json:"alerts"`
}

func (s *Stats) add(o Stats) {
	s.Records += o.Records
	s.Inserted += o.Inserted
	s.Updated += o.Updated
	s.Skipped += o.Skipped
	s.Failed += o.Failed
	s.Alerts += o.Alerts
}

// Runner fetches every configured source and writes its rows.
type Runner struct {
	client   Getter
	ingestor crawler.Ingestor
	sources  []Source
	clock    crawler.Clock
	logger   *zap.Logger
}

// NewRunner builds a Runner. Empty sources fall back to DefaultSources.
func NewRunner(client Getter, ingestor crawler.Ingestor, sources []Source, clock crawler.Clock, logger *zap.Logger) (*Runner, error) {
	if client == nil {
		return nil, fmt.Errorf("feed client is required")
	}
	if ingestor == nil {
		return nil, fmt.Errorf("ingestor is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if len(sources) == 0 {
		sources = DefaultSources()
	}
	for i, s := range sources {
		if s.Market == "" || s.URL == "" {
			return nil, fmt.Errorf("feed.sources[%d]: market and url are required", i)
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{client: client, ingestor: ingestor, sources: sources, clock: clock, logger: logger}, nil
}

// Run processes all sources. A source that cannot be fetched or decoded does
// not stop the others; its error is returned joined with the rest.
func (r *Runner) Run(ctx context.Context) (Stats, error) {
	var (
		total Stats
		errs  []error
	)
	for _, src := range r.sources {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		stats, err := r.runSource(ctx, src)
		total.add(stats)
		if err != nil {
			r.logger.Error("feed source failed", zap.String("market", src.Market), zap.String("url", src.URL), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", src.Market, err))
		}
	}
	r.logger.Info("daily feed complete",
		zap.Int("records", total.Records),
		zap.Int("inserted", total.Inserted),
		zap.Int("updated", total.Updated),
		zap.Int("skipped", total.Skipped),
		zap.Int("failed", total.Failed),
		zap.Int("alerts", total.Alerts),
	)
	return total, errors.Join(errs...)
}

func (r *Runner) runSource(ctx context.Context, src Source) (Stats, error) {
	var stats Stats
	body, err := r.client.Get(ctx, src.URL)
	if err != nil {
		return stats, fmt.Errorf("fetch feed: %w", err)
	}
	records, err := ParseRecords(body)
	if err != nil {
		return stats, err
	}
	stats.Records = len(records)
	r.logger.Info("processing feed", zap.String("market", src.Market), zap.Int("records", len(records)))

	today := r.clock.Now()
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		d, err := rec.Disclosure(src.Market)
		if err != nil {
			stats.Skipped++
			r.logger.Debug("feed record skipped", zap.String("company_code", rec.CompanyCode), zap.Error(err))
			continue
		}
		d.SourceDate = today
		res, err := r.ingestor.Ingest(ctx, d)
		if err != nil {
			stats.Failed++
			r.logger.Warn("feed record not stored",
				zap.String("company_code", d.CompanyCode),
				zap.String("company_name", d.CompanyName),
				zap.Error(err),
			)
			continue
		}
		if res.Inserted {
			stats.Inserted++
		} else if res.ID != 0 {
			stats.Updated++
		}
		stats.Alerts += len(res.AlertsCreated)
	}
	return stats, nil
}
