package tfbuilder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptrend-engine/internal/model"
)

// nseOpen is 09:15 IST expressed as seconds past a UTC hour boundary.
const nseOpen = 45 * 60

// makeBar creates a test 1-minute bar at the given time.
func makeBar(token string, ts time.Time, open, high, low, close_, vol float64) model.Bar {
	return model.Bar{
		Token:    token,
		Exchange: "NSE",
		TF:       60,
		TS:       ts,
		Open:     open,
		High:     high,
		Low:      low,
		Close:    close_,
		Volume:   vol,
	}
}

func TestBuilder_HourlyFromMinutes(t *testing.T) {
	b, err := New(3600, nseOpen)
	require.NoError(t, err)
	base := time.Date(2026, 3, 2, 3, 45, 0, 0, time.UTC) // 09:15 IST

	for i := 0; i < 60; i++ {
		f := float64(i)
		_, ok := b.Add(makeBar("SBIN", base.Add(time.Duration(i)*time.Minute), 500+f, 510+f, 490+f, 505+f, 100))
		require.False(t, ok, "no bar closes inside the first bucket (minute %d)", i)
	}

	c, ok := b.Add(makeBar("SBIN", base.Add(time.Hour), 600, 610, 590, 605, 100))
	require.True(t, ok)
	assert.Equal(t, 3600, c.TF)
	assert.True(t, c.TS.Equal(base), "bucket starts at session open")
	assert.Equal(t, 500.0, c.Open)
	assert.Equal(t, 564.0, c.Close) // 505 + 59
	assert.Equal(t, 569.0, c.High)  // 510 + 59
	assert.Equal(t, 490.0, c.Low)
	assert.Equal(t, 6000.0, c.Volume)

	rest := b.Flush()
	require.Len(t, rest, 1)
	assert.True(t, rest[0].TS.Equal(base.Add(time.Hour)))
	assert.Empty(t, b.Flush())
}

func TestBuilder_MultipleTokensIndependent(t *testing.T) {
	b, err := New(300, 0)
	require.NoError(t, err)
	base := time.Unix(1700000000-1700000000%300, 0).UTC()

	b.Add(makeBar("SBIN", base, 1, 1, 1, 1, 1))
	b.Add(makeBar("INFY", base, 2, 2, 2, 2, 1))
	_, ok := b.Add(makeBar("INFY", base.Add(5*time.Minute), 3, 3, 3, 3, 1))
	assert.True(t, ok, "INFY rolls over")
	_, ok = b.Add(makeBar("SBIN", base.Add(time.Minute), 4, 4, 4, 4, 1))
	assert.False(t, ok, "SBIN still forming")
}

func TestBuilder_StaleBarDropped(t *testing.T) {
	b, err := New(300, 0)
	require.NoError(t, err)
	var stale int
	b.OnStale = func(model.Bar) { stale++ }
	base := time.Unix(1700000100-1700000100%300, 0).UTC()

	b.Add(makeBar("SBIN", base.Add(10*time.Minute), 10, 10, 10, 10, 1))
	_, ok := b.Add(makeBar("SBIN", base, 1, 99, 1, 1, 1))
	assert.False(t, ok)
	assert.Equal(t, 1, stale)

	out := b.Flush()
	require.Len(t, out, 1)
	assert.Equal(t, 10.0, out[0].High, "stale bar must not touch the forming bar")
}

func TestBucket_NegativeOffsetNormalized(t *testing.T) {
	a, err := New(3600, nseOpen)
	require.NoError(t, err)
	b, err := New(3600, nseOpen-3600)
	require.NoError(t, err)
	ts := time.Date(2026, 3, 2, 5, 10, 0, 0, time.UTC)
	assert.Equal(t, a.Bucket(ts), b.Bucket(ts))
	assert.Equal(t, time.Date(2026, 3, 2, 4, 45, 0, 0, time.UTC).Unix(), a.Bucket(ts))
}

func TestResample(t *testing.T) {
	base := time.Date(2026, 3, 2, 3, 45, 0, 0, time.UTC)
	var in []model.Bar
	for i := 0; i < 150; i++ {
		in = append(in, makeBar("SBIN", base.Add(time.Duration(i)*time.Minute), 1, 2, 0.5, 1.5, 10))
	}
	out, err := Resample(in, 3600, nseOpen)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, 600.0, out[0].Volume)
	assert.Equal(t, 300.0, out[2].Volume)

	_, err = New(0, 0)
	assert.Error(t, err)
}
