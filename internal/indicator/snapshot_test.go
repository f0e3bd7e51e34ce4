package indicator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptrend-engine/internal/model"
)

func TestBuildSnapshot_TooFewBars(t *testing.T) {
	_, ok := BuildSnapshot(risingBars(MinSnapshotBars-1), 3600)
	assert.False(t, ok)
}

func TestBuildSnapshot_Uptrend(t *testing.T) {
	bars := risingBars(400)
	snap, ok := BuildSnapshot(bars, 3600)
	require.True(t, ok)

	last := bars[len(bars)-1]
	assert.Equal(t, "NSE:TEST", snap.Key())
	assert.Equal(t, 3600, snap.TF)
	assert.Equal(t, last.TS, snap.TS)
	assert.Equal(t, last.Close, snap.Close)

	v := snap.EMA.Values()
	for i := 1; i < len(v); i++ {
		assert.Greater(t, v[i-1], v[i], "EMA order at %d", i)
	}
	for i, s := range snap.Slopes.Values() {
		assert.Greater(t, s, 0.0, "slope %d should be positive", i)
	}

	assert.InDelta(t, 2.0, snap.ATR, 1e-9)
	assert.InDelta(t, 2.0, snap.ATRMean20, 1e-9)
	assert.InDelta(t, 100.0, snap.ADX, 1e-9)
	assert.InDelta(t, 0.0, snap.ADXSlope10, 1e-9)
	assert.InDelta(t, 100.0, snap.RSI, 1e-9)
	assert.InDelta(t, 0.0, snap.VolumeZ, 1e-9, "constant volume has zero z-score")
}

func TestBuildSnapshot_SlopeIsPercentPerBar(t *testing.T) {
	bars := risingBars(60)
	snap, ok := BuildSnapshot(bars, 3600)
	require.True(t, ok)

	ema20 := EMASeries(model.Closes(bars), 20)
	want := EMASlopeNormalized(ema20, SlopeWindow) * 100
	assert.InDelta(t, want, snap.Slopes.E20, 1e-12)
}

func TestComputeSeries_Lengths(t *testing.T) {
	bars := risingBars(50)
	s := ComputeSeries(bars)
	assert.Len(t, s.Closes, 50)
	assert.Len(t, s.ATR, 50)
	assert.Len(t, s.ADX, 50)
	assert.Len(t, s.RSI, 50)
	for i := range s.EMAs {
		assert.Len(t, s.EMAs[i], 50)
	}
	assert.Empty(t, ComputeSeries(bars[:1]).Closes)
}
