package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kvk-tracker/internal/tier"
)

func TestThresholdRefresh(t *testing.T) {
	h := newHarness(t)
	h.season(t)

	first, err := h.thresholds.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Version)
	assert.Equal(t, tier.MethodPercentile, first.Method)
	assert.Equal(t, 4, first.Population)
	assert.Equal(t, first, h.thresholds.Current())

	// every stored label agrees with the new snapshot
	for _, id := range []string{"k1", "k2", "k3", "k4"} {
		s := h.summary(t, id)
		assert.Equal(t, tier.Classify(*s.Score, first), s.Tier, id)
	}

	second, err := h.thresholds.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, first.Cuts, second.Cuts)
}

func TestThresholdRefreshEmpty(t *testing.T) {
	h := newHarness(t)

	got, err := h.thresholds.Refresh(t.Context())
	require.NoError(t, err)
	assert.Equal(t, tier.MethodFixed, got.Method)
	assert.Equal(t, tier.FixedCuts, got.Cuts)
}

func TestThresholdLoad(t *testing.T) {
	h := newHarness(t)
	h.season(t)

	saved, err := h.thresholds.Refresh(t.Context())
	require.NoError(t, err)

	// a fresh process starts from fixed cuts until Load runs
	h.holder.Store(tier.FixedThresholds())
	require.NoError(t, h.thresholds.Load(t.Context()))

	got := h.thresholds.Current()
	assert.Equal(t, saved.Version, got.Version)
	assert.Equal(t, saved.Cuts, got.Cuts)
}
