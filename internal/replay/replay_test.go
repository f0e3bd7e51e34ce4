package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptrend-engine/internal/model"
	"uptrend-engine/internal/regime"
)

type memBars []model.Bar

func (m memBars) ReadBars(_ context.Context, _, _ string, _ int, afterTS int64) ([]model.Bar, error) {
	var out []model.Bar
	for _, b := range m {
		if b.TS.Unix() > afterTS {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m memBars) ReadLastBars(_ context.Context, _, _ string, _ int, n int) ([]model.Bar, error) {
	if n > len(m) {
		n = len(m)
	}
	return m[len(m)-n:], nil
}

var pos = model.Position{Exchange: "NSE", Token: "2885", TF: 3600, Active: true}

// riseThenFall builds up bars climbing 0.5/bar followed by down bars
// falling 0.5/bar.
func riseThenFall(up, down int) memBars {
	t0 := time.Date(2025, 6, 2, 3, 45, 0, 0, time.UTC)
	bars := make(memBars, 0, up+down)
	c := 100.0
	for i := 0; i < up+down; i++ {
		if i < up {
			c += 0.5
		} else {
			c -= 0.5
		}
		bars = append(bars, model.Bar{
			Token: "2885", Exchange: "NSE", TF: 3600,
			TS:   t0.Add(time.Duration(i) * time.Hour),
			Open: c, High: c + 0.6, Low: c - 0.6, Close: c, Volume: 1000,
		})
	}
	return bars
}

// sessionTimes respaces bars onto an NSE-like session: seven hourly bars
// from 09:15 IST per day with an overnight gap between days.
func sessionTimes(bars memBars) memBars {
	day0 := time.Date(2025, 6, 2, 3, 45, 0, 0, time.UTC)
	out := make(memBars, len(bars))
	for i, b := range bars {
		b.TS = day0.Add(time.Duration(i/7)*24*time.Hour + time.Duration(i%7)*time.Hour)
		out[i] = b
	}
	return out
}

func newReplayer(bars memBars) *Replayer {
	return New(bars, regime.NewEngine(regime.DefaultParams()), Config{Window: 700, Warmup: 350, MaxHistory: 3000})
}

func TestReplay_UptrendThenCollapse(t *testing.T) {
	bars := riseThenFall(400, 250)
	var seen int
	sum, err := newReplayer(bars).Run(context.Background(), pos, bars[399].TS.Unix(), func(Step) { seen++ })
	require.NoError(t, err)

	assert.Equal(t, 650, sum.Bars)
	assert.Equal(t, 251, sum.Evaluated)
	assert.Equal(t, sum.Evaluated, seen)
	require.NotEmpty(t, sum.Steps)

	first := sum.Steps[0]
	assert.Equal(t, regime.S3, first.State)
	assert.Equal(t, regime.StateNone, first.PrevState)
	assert.True(t, first.TS.Equal(bars[399].TS))

	require.NotNil(t, sum.Final)
	assert.Equal(t, regime.S0, sum.Final.State)
	assert.Nil(t, sum.FinalMeta.RegimeStart, "meta clears when S3 ends")
	assert.GreaterOrEqual(t, sum.Transitions, 2)

	var exit *Step
	for i := range sum.Steps {
		if sum.Steps[i].PrevState == regime.S3 && sum.Steps[i].State == regime.S0 {
			exit = &sum.Steps[i]
			break
		}
	}
	require.NotNil(t, exit, "S3 must end in S0")
	assert.Contains(t, exit.Flags, "exit_position")
	assert.NotEmpty(t, exit.ExitReason)

	total := 0
	for _, n := range sum.BarsInState {
		total += n
	}
	assert.Equal(t, sum.Evaluated, total)
}

func TestReplay_BarsSinceEntryAcrossSessions(t *testing.T) {
	bars := sessionTimes(riseThenFall(410, 0))
	sum, err := newReplayer(bars).Run(context.Background(), pos, bars[399].TS.Unix(), nil)
	require.NoError(t, err)
	assert.Equal(t, 11, sum.Evaluated)

	require.NotNil(t, sum.Final)
	require.Equal(t, regime.S3, sum.Final.State)
	require.NotNil(t, sum.FinalMeta.RegimeStart)
	assert.True(t, sum.FinalMeta.RegimeStart.Equal(bars[399].TS))
	assert.Equal(t, 10, sum.Final.Diagnostics.S3.BarsSinceEntry)
}

func TestReplay_NoBars(t *testing.T) {
	sum, err := newReplayer(nil).Run(context.Background(), pos, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Evaluated)
	assert.Nil(t, sum.Final)
}

func TestReplay_TooFewBars(t *testing.T) {
	sum, err := newReplayer(riseThenFall(20, 0)).Run(context.Background(), pos, 0, nil)
	require.NoError(t, err)
	assert.Zero(t, sum.Evaluated)
}

func TestReplay_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sum, err := newReplayer(riseThenFall(100, 0)).Run(ctx, pos, 0, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, sum)
	assert.Zero(t, sum.Evaluated)
}
