package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/disclosure-monitor/internal/checkpoint"
	"github.com/JakeFAU/disclosure-monitor/internal/hash/sha256"
)

type listReply struct {
	page ListPage
	err  error
}

// fakeArchive serves scripted list replies keyed by query and echoes the
// sequence number as the detail body.
type fakeArchive struct {
	mu          sync.Mutex
	lists       map[string][]listReply
	detailErrs  map[string]error
	listCalls   []ListQuery
	detailCalls int
}

func (f *fakeArchive) FetchList(_ context.Context, q ListQuery) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls = append(f.listCalls, q)
	replies := f.lists[q.String()]
	if len(replies) == 0 {
		return json.Marshal(ListPage{NoData: true})
	}
	r := replies[0]
	if len(replies) > 1 {
		f.lists[q.String()] = replies[1:]
	}
	if r.err != nil {
		return nil, r.err
	}
	return json.Marshal(r.page)
}

func (f *fakeArchive) FetchDetail(_ context.Context, p DetailParams) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	if err := f.detailErrs[p.SeqNo]; err != nil {
		return nil, err
	}
	return []byte(p.SeqNo), nil
}

type jsonListParser struct{}

func (jsonListParser) ParseList(body []byte) (ListPage, error) {
	var page ListPage
	err := json.Unmarshal(body, &page)
	return page, err
}

type echoDetailParser struct {
	unparseable map[string]bool
}

func (p echoDetailParser) ParseDetail(body []byte) (Detail, error) {
	if p.unparseable[string(body)] {
		return Detail{}, fmt.Errorf("no table: %w", ErrUnparseable)
	}
	return Detail{Subject: "subject " + string(body), Content: "content"}, nil
}

type fakeIngestor struct {
	mu    sync.Mutex
	calls []Disclosure
	fn    func(call int, d Disclosure) (WriteResult, error)
}

func (f *fakeIngestor) Ingest(_ context.Context, d Disclosure) (WriteResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, d)
	if f.fn == nil {
		return WriteResult{ID: int64(len(f.calls)), Inserted: true}, nil
	}
	return f.fn(len(f.calls), d)
}

type memCheckpoints struct {
	mu    sync.Mutex
	cur   checkpoint.Cursor
	saves []checkpoint.Cursor
}

func (m *memCheckpoints) Load(context.Context) (checkpoint.Cursor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cur, nil
}

func (m *memCheckpoints) Save(_ context.Context, c checkpoint.Cursor) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cur = c
	m.saves = append(m.saves, c)
	return nil
}

type recordingPauser struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (p *recordingPauser) Pause(_ context.Context, d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delays = append(p.delays, d)
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (m *memBlobs) PutObject(_ context.Context, path, _ string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.objects == nil {
		m.objects = make(map[string][]byte)
	}
	m.objects[path] = data
	return "memory://" + path, nil
}

var (
	listed   = Market{Kind: "L", Name: "上市"}
	otc      = Market{Kind: "O", Name: "上櫃"}
	startPos = checkpoint.Cursor{Year: 115, Month: 1, MarketIndex: 0, Page: 1}
)

func candidates(n int) []Candidate {
	out := make([]Candidate, n)
	for i := range out {
		out[i] = Candidate{
			CompanyCode: fmt.Sprintf("%04d", 1101+i),
			CompanyName: fmt.Sprintf("公司%d", i),
			Params: DetailParams{
				SeqNo:     fmt.Sprintf("%d", i+1),
				SpokeTime: "93000",
				SpokeDate: "1150105",
				CompanyID: fmt.Sprintf("%04d", 1101+i),
				TypeK:     "sii",
			},
		}
	}
	return out
}

type harness struct {
	archive     *fakeArchive
	ingestor    *fakeIngestor
	checkpoints *memCheckpoints
	pauser      *recordingPauser
	blobs       *memBlobs
	details     echoDetailParser
	markets     []Market
}

func newHarness() *harness {
	return &harness{
		archive:     &fakeArchive{lists: map[string][]listReply{}, detailErrs: map[string]error{}},
		ingestor:    &fakeIngestor{},
		checkpoints: &memCheckpoints{cur: startPos},
		pauser:      &recordingPauser{},
		blobs:       &memBlobs{},
		details:     echoDetailParser{unparseable: map[string]bool{}},
		markets:     []Market{listed},
	}
}

func (h *harness) engine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(EngineConfig{
		Markets:       h.markets,
		FloorYear:     115,
		Workers:       3,
		PageCooldown:  30 * time.Second,
		MonthCooldown: 20 * time.Second,
	}, Deps{
		Client:      h.archive,
		Lists:       jsonListParser{},
		Details:     h.details,
		Ingestor:    h.ingestor,
		Checkpoints: h.checkpoints,
		Quarantine:  h.blobs,
		Pauser:      h.pauser,
	})
	require.NoError(t, err)
	return e
}

func query(m Market, page int) string {
	return ListQuery{Year: 115, Month: 1, Market: m, Page: page}.String()
}

func TestEngineAdvancesWhenThresholdMet(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{{page: ListPage{TotalPages: 1, Candidates: candidates(10)}}}
	h.ingestor.fn = func(call int, _ Disclosure) (WriteResult, error) {
		if call%2 == 0 {
			return WriteResult{}, errors.New("constraint violation")
		}
		return WriteResult{ID: int64(call), Inserted: true}, nil
	}

	stats, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.archive.listCalls, 1)
	assert.Equal(t, 5, stats.Persisted)
	assert.Equal(t, []checkpoint.Cursor{
		{Year: 115, Month: 1, MarketIndex: 1, Page: 1},
		{Year: 115, Month: 0, MarketIndex: 0, Page: 1},
		{Year: 114, Month: 12, MarketIndex: 0, Page: 1},
	}, h.checkpoints.saves)
	assert.Empty(t, h.pauser.delays)
}

func TestEngineRetriesPageBelowThreshold(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{{page: ListPage{TotalPages: 1, Candidates: candidates(10)}}}
	h.ingestor.fn = func(call int, _ Disclosure) (WriteResult, error) {
		if call <= 10 && call > 3 {
			return WriteResult{}, errors.New("connection lost")
		}
		return WriteResult{ID: int64(call)}, nil
	}

	stats, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	assert.Len(t, h.archive.listCalls, 2, "page should be fetched again after the cooldown")
	assert.Equal(t, 20, h.archive.detailCalls)
	assert.Equal(t, []time.Duration{30 * time.Second}, h.pauser.delays)
	assert.Equal(t, 13, stats.Persisted)
	assert.Equal(t, checkpoint.Cursor{Year: 114, Month: 12, MarketIndex: 0, Page: 1}, h.checkpoints.cur)
}

func TestEngineStopsOnBlockedListWithoutAdvancing(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{{err: ErrBlocked}}

	_, err := h.engine(t).Run(context.Background())
	require.ErrorIs(t, err, ErrBlocked)

	assert.Empty(t, h.checkpoints.saves)
	assert.Empty(t, h.ingestor.calls)
	assert.Equal(t, startPos, h.checkpoints.cur)
}

func TestEngineStopsOnBlockedDetailWithoutPersisting(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{{page: ListPage{TotalPages: 3, Candidates: candidates(6)}}}
	h.archive.detailErrs["4"] = fmt.Errorf("post: %w", ErrBlocked)

	_, err := h.engine(t).Run(context.Background())
	require.ErrorIs(t, err, ErrBlocked)

	assert.Empty(t, h.ingestor.calls, "nothing from a blocked page may be written")
	assert.Empty(t, h.checkpoints.saves)
}

func TestEngineRetriesMonthAfterListFailure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{
		{err: &HTTPStatusError{StatusCode: 503, URL: "list"}},
		{page: ListPage{TotalPages: 1, Candidates: candidates(2)}},
	}

	stats, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{20 * time.Second}, h.pauser.delays)
	assert.Equal(t, 2, stats.Persisted)
	assert.Len(t, h.archive.listCalls, 2)
}

func TestEngineRetriesMonthAfterPanic(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{{page: ListPage{TotalPages: 2, Candidates: candidates(2)}}}
	h.ingestor.fn = func(call int, _ Disclosure) (WriteResult, error) {
		if call == 1 {
			panic("assignment to entry in nil map")
		}
		return WriteResult{ID: int64(call), Inserted: true}, nil
	}

	stats, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []time.Duration{20 * time.Second}, h.pauser.delays)
	assert.Equal(t, 2, stats.Persisted)
	assert.Len(t, h.ingestor.calls, 3)

	var page1 int
	for _, q := range h.archive.listCalls {
		if q.String() == query(listed, 1) {
			page1++
		}
	}
	assert.Equal(t, 2, page1, "the month restarts from the unadvanced cursor")
	require.NotEmpty(t, h.checkpoints.saves)
	assert.Equal(t, checkpoint.Cursor{Year: 115, Month: 1, MarketIndex: 0, Page: 2}, h.checkpoints.saves[0],
		"the panicking attempt must not move the cursor")
	assert.Equal(t, checkpoint.Cursor{Year: 114, Month: 12, MarketIndex: 0, Page: 1}, h.checkpoints.cur)
}

func TestEngineWalksPagesAndMarkets(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.markets = []Market{listed, otc}
	h.archive.lists[query(listed, 1)] = []listReply{{page: ListPage{TotalPages: 2, Candidates: candidates(1)}}}
	h.archive.lists[query(listed, 2)] = []listReply{{page: ListPage{TotalPages: 2, Candidates: candidates(1)}}}
	h.archive.lists[query(otc, 1)] = []listReply{{page: ListPage{TotalPages: 1, Candidates: nil}}}

	_, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []checkpoint.Cursor{
		{Year: 115, Month: 1, MarketIndex: 0, Page: 2},
		{Year: 115, Month: 1, MarketIndex: 1, Page: 1},
		{Year: 115, Month: 1, MarketIndex: 2, Page: 1},
		{Year: 115, Month: 0, MarketIndex: 0, Page: 1},
		{Year: 114, Month: 12, MarketIndex: 0, Page: 1},
	}, h.checkpoints.saves)
	require.Len(t, h.ingestor.calls, 2)
	assert.Equal(t, "上市", h.ingestor.calls[0].Market)
}

func TestEngineResumesFromPersistedCursor(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.markets = []Market{listed, otc}
	h.checkpoints.cur = checkpoint.Cursor{Year: 115, Month: 1, MarketIndex: 1, Page: 3}

	_, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	require.NotEmpty(t, h.archive.listCalls)
	first := h.archive.listCalls[0]
	assert.Equal(t, otc, first.Market)
	assert.Equal(t, 3, first.Page)
}

func TestEngineBuildsNormalizedDisclosure(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{{page: ListPage{TotalPages: 1, Candidates: candidates(1)}}}

	_, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, h.ingestor.calls, 1)
	d := h.ingestor.calls[0]
	assert.Equal(t, "1101", d.CompanyCode)
	assert.Equal(t, "2026-01-05", d.PublishDate)
	assert.Equal(t, "09:30:00", d.PublishTime)
	assert.Equal(t, "subject 1", d.Subject)
	assert.Equal(t, "seq_no=1&spoke_time=93000&spoke_date=1150105&co_id=1101&TYPEK=sii", d.RawParams)
}

func TestEngineQuarantinesUnparseableDetail(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.archive.lists[query(listed, 1)] = []listReply{{page: ListPage{TotalPages: 1, Candidates: candidates(2)}}}
	h.details.unparseable["2"] = true

	stats, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, stats.Persisted)
	assert.Contains(t, h.blobs.objects, "quarantine/115-01/L/1102-2-"+sha256.Short([]byte("2"))+".html")
}

func TestEngineHonorsCancellation(t *testing.T) {
	t.Parallel()

	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.engine(t).Run(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, h.checkpoints.saves)
}

func TestEngineStopsBelowFloorYear(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.checkpoints.cur = checkpoint.Cursor{Year: 114, Month: 12, MarketIndex: 0, Page: 1}

	_, err := h.engine(t).Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.archive.listCalls)
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(EngineConfig{}, Deps{})
	require.Error(t, err)

	_, err = NewEngine(EngineConfig{Markets: DefaultMarkets(), FloorYear: 114, Workers: 3}, Deps{})
	require.Error(t, err)
}
