package crawler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestThresholdPolicy(t *testing.T) {
	t.Parallel()

	p := ThresholdPolicy{Threshold: DefaultSuccessThreshold}
	assert.True(t, p.Advance(5, 10))
	assert.True(t, p.Advance(4, 10))
	assert.False(t, p.Advance(3, 10))
	assert.True(t, p.Advance(0, 0))
}

func TestAllOrNothingPolicy(t *testing.T) {
	t.Parallel()

	p := AllOrNothingPolicy{}
	assert.True(t, p.Advance(10, 10))
	assert.False(t, p.Advance(9, 10))
	assert.True(t, p.Advance(0, 0))
}

func TestNewAdvancePolicy(t *testing.T) {
	t.Parallel()

	p, err := NewAdvancePolicy("", 0.4)
	require.NoError(t, err)
	assert.Equal(t, "threshold", p.Name())

	p, err = NewAdvancePolicy("all_or_nothing", 0)
	require.NoError(t, err)
	assert.Equal(t, "all_or_nothing", p.Name())

	_, err = NewAdvancePolicy("threshold", 1.5)
	require.Error(t, err)

	_, err = NewAdvancePolicy("coin_flip", 0.4)
	require.Error(t, err)
}
