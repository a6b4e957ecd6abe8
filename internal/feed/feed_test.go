package feed

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	collyfetcher "github.com/JakeFAU/disclosure-monitor/internal/fetcher/colly"
)

const twseBody = `[
 {"發言日期":"1140115","發言時間":"65141","公司代號":"2330","公司名稱":"台積電","主旨 ":"董事會決議減資","說明":"辦理現金減資"},
 {"發言日期":"114/01/15","發言時間":"173000","公司代號":"2317","公司名稱":"鴻海","主旨":"公告處分資產","說明":""},
 {"發言日期":"","公司代號":"1101","公司名稱":"台泥","主旨":"no date"},
 {"發言日期":"1140115","公司代號":"","公司名稱":"unknown","主旨":"no code"}
]`

const tpexBody = `[
 {"Date":"1140116","發言時間":90000,"SecuritiesCompanyCode":"6488","CompanyName":"環球晶","主旨":"澄清媒體報導","說明":"無"}
]`

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

type stubGetter struct {
	bodies map[string]string
	errs   map[string]error
}

func (g stubGetter) Get(_ context.Context, rawURL string) ([]byte, error) {
	if err := g.errs[rawURL]; err != nil {
		return nil, err
	}
	return []byte(g.bodies[rawURL]), nil
}

type recordingIngestor struct {
	got  []crawler.Disclosure
	fail map[string]bool
	seen map[string]bool
}

func (r *recordingIngestor) Ingest(_ context.Context, d crawler.Disclosure) (crawler.WriteResult, error) {
	if r.fail[d.CompanyCode] {
		return crawler.WriteResult{}, errors.New("constraint violation")
	}
	r.got = append(r.got, d)
	if r.seen == nil {
		r.seen = map[string]bool{}
	}
	key := d.CompanyCode + d.PublishDate + d.PublishTime + d.Subject
	res := crawler.WriteResult{ID: int64(len(r.got)), Inserted: !r.seen[key]}
	r.seen[key] = true
	if d.CompanyCode == "2330" {
		res.AlertsCreated = []string{"減資"}
	}
	return res, nil
}

func TestParseRecordsResolvesAliases(t *testing.T) {
	recs, err := ParseRecords([]byte(tpexBody))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Record{
		CompanyCode: "6488",
		CompanyName: "環球晶",
		Date:        "1140116",
		Time:        "90000",
		Subject:     "澄清媒體報導",
		Content:     "無",
	}, recs[0])

	recs, err = ParseRecords([]byte(twseBody))
	require.NoError(t, err)
	assert.Equal(t, "董事會決議減資", recs[0].Subject)

	_, err = ParseRecords([]byte(`{"not":"an array"}`))
	assert.Error(t, err)
}

func TestRecordDisclosure(t *testing.T) {
	d, err := Record{CompanyCode: "2317", Date: "114/01/15", Time: "173000", Subject: "s"}.Disclosure("TWSE")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", d.PublishDate)
	assert.Equal(t, "17:30:00", d.PublishTime)
	assert.Equal(t, "TWSE", d.Market)
	assert.Empty(t, d.RawParams)

	d, err = Record{CompanyCode: "2317", Date: "2025-01-15"}.Disclosure("TWSE")
	require.NoError(t, err)
	assert.Equal(t, "2025-01-15", d.PublishDate)
	assert.Equal(t, "00:00:00", d.PublishTime)

	_, err = Record{Date: "1140115"}.Disclosure("TWSE")
	assert.ErrorIs(t, err, errSkipRecord)
	_, err = Record{CompanyCode: "1101", Date: "abc"}.Disclosure("TWSE")
	assert.ErrorIs(t, err, errSkipRecord)
}

func TestRunnerProcessesAllSources(t *testing.T) {
	now := time.Date(2025, 1, 16, 18, 30, 0, 0, time.UTC)
	getter := stubGetter{bodies: map[string]string{"twse": twseBody, "tpex": tpexBody}}
	ing := &recordingIngestor{}
	r, err := NewRunner(getter, ing, []Source{{Market: "TWSE", URL: "twse"}, {Market: "TPEx", URL: "tpex"}}, fixedClock{now}, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{Records: 5, Inserted: 3, Skipped: 2, Alerts: 1}, stats)

	require.Len(t, ing.got, 3)
	assert.Equal(t, "2330", ing.got[0].CompanyCode)
	assert.Equal(t, "06:51:41", ing.got[0].PublishTime)
	assert.Equal(t, now, ing.got[0].SourceDate)
	assert.Equal(t, "TPEx", ing.got[2].Market)
	assert.Equal(t, "09:00:00", ing.got[2].PublishTime)
}

func TestRunnerContinuesPastFailures(t *testing.T) {
	getter := stubGetter{
		bodies: map[string]string{"tpex": tpexBody, "twse": twseBody},
		errs:   map[string]error{"down": errors.New("connection refused")},
	}
	ing := &recordingIngestor{fail: map[string]bool{"2317": true}}
	r, err := NewRunner(getter, ing, []Source{
		{Market: "X", URL: "down"},
		{Market: "TWSE", URL: "twse"},
		{Market: "TPEx", URL: "tpex"},
	}, fixedClock{time.Now()}, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "X: fetch feed")
	assert.Equal(t, 1, stats.Failed)
	assert.Equal(t, 2, stats.Inserted)
}

func TestRunnerSecondRunUpdates(t *testing.T) {
	getter := stubGetter{bodies: map[string]string{"tpex": tpexBody}}
	ing := &recordingIngestor{}
	r, err := NewRunner(getter, ing, []Source{{Market: "TPEx", URL: "tpex"}}, fixedClock{time.Now()}, nil)
	require.NoError(t, err)

	_, err = r.Run(context.Background())
	require.NoError(t, err)
	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Inserted)
	assert.Equal(t, 1, stats.Updated)
}

func TestNewRunnerValidation(t *testing.T) {
	clock := fixedClock{time.Now()}
	_, err := NewRunner(nil, &recordingIngestor{}, nil, clock, nil)
	assert.Error(t, err)
	_, err = NewRunner(stubGetter{}, nil, nil, clock, nil)
	assert.Error(t, err)
	_, err = NewRunner(stubGetter{}, &recordingIngestor{}, nil, nil, nil)
	assert.Error(t, err)
	_, err = NewRunner(stubGetter{}, &recordingIngestor{}, []Source{{Market: "TWSE"}}, clock, nil)
	assert.Error(t, err)

	r, err := NewRunner(stubGetter{}, &recordingIngestor{}, nil, clock, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSources(), r.sources)
}

func TestRunnerWithCollyClient(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(tpexBody))
	}))
	defer srv.Close()

	client := collyfetcher.New(collyfetcher.Config{Timeout: 5 * time.Second})
	ing := &recordingIngestor{}
	r, err := NewRunner(client, ing, []Source{{Market: "TPEx", URL: srv.URL}}, fixedClock{time.Now()}, nil)
	require.NoError(t, err)

	stats, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Inserted)
	require.Len(t, ing.got, 1)
	assert.Equal(t, "環球晶", ing.got[0].CompanyName)
}
