package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/disclosure-monitor/internal/api"
	"github.com/JakeFAU/disclosure-monitor/internal/checkpoint"
	"github.com/JakeFAU/disclosure-monitor/internal/config"
	"github.com/JakeFAU/disclosure-monitor/internal/crawler"
	"github.com/JakeFAU/disclosure-monitor/internal/feed"
	"github.com/JakeFAU/disclosure-monitor/internal/ingest"
)

type fakeApp struct {
	cfg       config.Config
	crawl     crawler.RunStats
	crawlErr  error
	daily     feed.Stats
	dailyErr  error
	rescan    ingest.RescanStats
	rescanErr error
	closed    bool
}

func (f *fakeApp) Close() { f.closed = true }
func (f *fakeApp) Logger() *zap.Logger { return zap.NewNop() }
func (f *fakeApp) Config() config.Config { return f.cfg }

func (f *fakeApp) RunCrawl(context.Context) (crawler.RunStats, error) {
	return f.crawl, f.crawlErr
}

func (f *fakeApp) RunDaily(context.Context) (feed.Stats, error) {
	return f.daily, f.dailyErr
}

func (f *fakeApp) RunRescan(context.Context) (ingest.RescanStats, error) {
	return f.rescan, f.rescanErr
}

func (f *fakeApp) APIServer(context.Context) (*api.Server, *api.RescanTrigger) {
	return nil, nil
}

type fakeMigrator struct {
	ups, downs int
	closed     bool
}

func (m *fakeMigrator) Up(context.Context) error { m.ups++; return nil }
func (m *fakeMigrator) Down(context.Context) error { m.downs++; return nil }
func (m *fakeMigrator) Version(context.Context) (int64, error) { return 3, nil }
func (m *fakeMigrator) Close() error { m.closed = true; return nil }

// withFakeApp swaps the application factory for the duration of the test.
func withFakeApp(t *testing.T, fake *fakeApp) *int {
	t.Helper()
	calls := 0
	orig := newApp
	newApp = func(context.Context, config.Config, *zap.Logger) (App, error) {
		calls++
		return fake, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &calls
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootRegistersSubcommands(t *testing.T) {
	root := newRootCmd()
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"crawl", "daily", "rescan", "migrate", "serve"} {
		assert.Contains(t, names, want)
	}
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestCrawlPrintsSummary(t *testing.T) {
	fake := &fakeApp{crawl: crawler.RunStats{RunID: "r-1", Pages: 4, Persisted: 31}}
	withFakeApp(t, fake)

	out, err := execute(t, "crawl")
	require.NoError(t, err)
	assert.Contains(t, out, `"run_id": "r-1"`)
	assert.Contains(t, out, `"persisted": 31`)
	assert.True(t, fake.closed)
}

func TestCrawlBlockedExitsWithCooldownAdvice(t *testing.T) {
	fake := &fakeApp{
		crawl:    crawler.RunStats{End: checkpoint.Cursor{Year: 114, Month: 9, Page: 3}},
		crawlErr: crawler.ErrBlocked,
	}
	withFakeApp(t, fake)

	_, err := execute(t, "crawl")
	require.ErrorIs(t, err, crawler.ErrBlocked)
	assert.Contains(t, err.Error(), "114/09")
	assert.Contains(t, err.Error(), "wait at least 30m0s")
	assert.True(t, fake.closed)
}

func TestCrawlInterruptedIsNotAnError(t *testing.T) {
	withFakeApp(t, &fakeApp{crawlErr: context.Canceled})

	_, err := execute(t, "crawl")
	require.NoError(t, err)
}

func TestDailyReportsSourceFailureAfterSummary(t *testing.T) {
	withFakeApp(t, &fakeApp{
		daily:    feed.Stats{Records: 12, Inserted: 10},
		dailyErr: errors.New("TPEx: status 503"),
	})

	out, err := execute(t, "daily")
	require.ErrorContains(t, err, "TPEx")
	assert.Contains(t, out, `"records": 12`)
}

func TestRescanPrintsSummary(t *testing.T) {
	withFakeApp(t, &fakeApp{rescan: ingest.RescanStats{Keywords: 2, Scanned: 40, AlertsCreated: 3}})

	out, err := execute(t, "rescan")
	require.NoError(t, err)
	assert.Contains(t, out, `"alerts_created": 3`)
}

func TestMigrateSkipsApplicationServices(t *testing.T) {
	calls := withFakeApp(t, &fakeApp{})
	m := &fakeMigrator{}
	orig := openMigrator
	openMigrator = func(string, *zap.Logger) (migrator, error) { return m, nil }
	t.Cleanup(func() { openMigrator = orig })

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Equal(t, 1, m.ups)
	assert.True(t, m.closed)
	assert.Equal(t, "schema version 3\n", out)
	assert.Zero(t, *calls)

	_, err = execute(t, "migrate", "down")
	require.NoError(t, err)
	assert.Equal(t, 1, m.downs)

	_, err = execute(t, "migrate", "sideways")
	require.Error(t, err)
}
