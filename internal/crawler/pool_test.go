package crawler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchDetailsTurnsPanicIntoUnitFailure(t *testing.T) {
	t.Parallel()

	cs := candidates(4)
	results, err := fetchDetails(context.Background(), 2, cs, func(_ context.Context, c Candidate) detailResult {
		if c.Params.SeqNo == "3" {
			var m map[string]int
			m["boom"]++
		}
		return detailResult{candidate: c, outcome: "ok"}
	})
	require.NoError(t, err)
	require.Len(t, results, 4)

	for i, res := range results {
		assert.Equal(t, cs[i].Params.SeqNo, res.candidate.Params.SeqNo)
		if res.candidate.Params.SeqNo == "3" {
			assert.Equal(t, "panic", res.outcome)
			assert.ErrorContains(t, res.err, "detail worker panic")
			continue
		}
		assert.Equal(t, "ok", res.outcome)
		assert.NoError(t, res.err)
	}
}

func TestFetchDetailsStopsOnBlock(t *testing.T) {
	t.Parallel()

	var started atomic.Int32
	_, err := fetchDetails(context.Background(), 1, candidates(5), func(ctx context.Context, c Candidate) detailResult {
		started.Add(1)
		if c.Params.SeqNo == "1" {
			return detailResult{candidate: c, outcome: "blocked", err: ErrBlocked}
		}
		if ctx.Err() != nil {
			return detailResult{candidate: c, outcome: "fetch_error", err: ctx.Err()}
		}
		return detailResult{candidate: c, outcome: "ok"}
	})
	require.ErrorIs(t, err, ErrBlocked)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), started.Load(), "queued workers must not start after a block")
}
