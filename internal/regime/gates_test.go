package regime

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptrend-engine/internal/scoring"
)

func TestDiscountThreshold(t *testing.T) {
	e := newEngine()
	tests := []struct {
		name string
		edx  float64
		x    float64
		want float64
	}{
		// .60 + 0 − (.10 − 0)
		{"calm at anchor", 0.3, 0, 0.50},
		// .60 + 0 − (.10 − .15)
		{"calm at ema144", 0.3, 1, 0.65},
		// supp = .10 × (.6−.5)/.2 = .05; pos = .10 − .075
		{"ramp", 0.6, 0.5, 0.625},
		// supp .15; pos .10
		{"hot", 0.8, 0, 0.65},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _, _ := e.discountThreshold(tt.edx, tt.x)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestBarsSinceEntry(t *testing.T) {
	start := t0
	s := snap(0, bullishEMAs)
	assert.Equal(t, 0, barsSinceEntry(&start, s, nil))

	s.TS = t0.Add(150 * time.Minute)
	assert.Equal(t, 2, barsSinceEntry(&start, s, nil))

	s.TF, s.TS = 900, t0.Add(90*time.Minute)
	assert.Equal(t, 6, barsSinceEntry(&start, s, nil))

	assert.Equal(t, -1, barsSinceEntry(nil, s, nil))
	s.TS = t0.Add(-time.Hour)
	assert.Equal(t, -1, barsSinceEntry(&start, s, nil))
	s.TF, s.TS = 0, t0
	assert.Equal(t, -1, barsSinceEntry(&start, s, nil))
}

func TestBarsSinceEntry_CountsHistoryBars(t *testing.T) {
	start := t0
	s := snap(0, bullishEMAs)
	s.TS = t0.Add(19 * time.Hour)

	hist := scoring.NewHistory(barsAt(t0.Add(-time.Hour), t0, t0.Add(time.Hour), t0.Add(19*time.Hour)), t0.Unix())
	assert.Equal(t, 2, barsSinceEntry(&start, s, hist))

	// Bars newer than the snapshot are not counted.
	hist = scoring.NewHistory(barsAt(t0, t0.Add(time.Hour), t0.Add(19*time.Hour), t0.Add(20*time.Hour)), t0.Unix())
	assert.Equal(t, 2, barsSinceEntry(&start, s, hist))

	// No regime bars: elapsed time.
	hist = scoring.NewHistory(barsAt(t0.Add(-2*time.Hour), t0.Add(-time.Hour)), t0.Unix())
	assert.Equal(t, 19, barsSinceEntry(&start, s, hist))
	assert.Equal(t, 19, barsSinceEntry(&start, s, &scoring.History{}))
}

func TestBuyGate_Reasons(t *testing.T) {
	e := newEngine()

	s := snap(110, mixedEMAs)
	assert.Equal(t, "outside_halo", e.buyGate(s, nil, anchorEMA60(s), 1).Reason)

	s = snap(97.5, mixedEMAs)
	s.Slopes.E30, s.Slopes.E60 = -0.1, -0.1
	assert.Equal(t, "slope_rolling_over", e.buyGate(s, nil, anchorEMA60(s), 1).Reason)

	s = snap(97.5, mixedEMAs)
	s.RSISlope10, s.ADXSlope10 = -3, -3
	g := e.buyGate(s, nil, anchorEMA60(s), 1)
	assert.Equal(t, "ts_below_min", g.Reason)
	assert.False(t, g.Pass)

	s = snap(97.5, mixedEMAs)
	s.ATR = 0
	assert.Equal(t, "atr_non_positive", e.buyGate(s, nil, anchorEMA60(s), 1).Reason)
}

func TestSlopeOK(t *testing.T) {
	assert.True(t, anchor{slope: -1, fasterSlope: 0.1}.slopeOK())
	assert.True(t, anchor{slope: 0, fasterSlope: -1}.slopeOK())
	assert.False(t, anchor{slope: -0.1, fasterSlope: 0}.slopeOK())
}

func TestOrderConditions(t *testing.T) {
	assert.True(t, bullish(snap(0, bullishEMAs).EMA))
	assert.False(t, bearish(snap(0, bullishEMAs).EMA))
	assert.True(t, bearish(snap(0, bearishEMAs).EMA))
	assert.True(t, fastBandAtBottom(snap(0, bearishEMAs).EMA))
	assert.False(t, fastBandAtBottom(snap(0, mixedEMAs).EMA))
	assert.True(t, fastBandAboveMid(snap(0, mixedEMAs).EMA))
	assert.True(t, allBelowAnchor(snap(0, [6]float64{90, 91, 89, 95, 97, 100}).EMA))
}

func TestState_TextRoundTrip(t *testing.T) {
	for _, s := range []State{S0, S1, S2, S3, S4} {
		got, ok := ParseState(s.String())
		require.True(t, ok)
		assert.Equal(t, s, got)
	}
	_, ok := ParseState("")
	assert.False(t, ok)
	assert.Equal(t, "State(42)", State(42).String())
}

func TestPayload_JSONRejectsNonFinite(t *testing.T) {
	p := Payload{State: S3, Scores: Scores{OX: math.Inf(1)}}
	_, err := p.JSON()
	assert.Error(t, err)
}

func TestPayload_JSON(t *testing.T) {
	start := t0.Add(-time.Hour)
	res := newEngine().Evaluate(Input{Snapshot: snap(129.6, bullishEMAs), Prev: prevPayload(S3), Meta: Meta{RegimeStart: &start}})

	data, err := res.Payload.JSON()
	require.NoError(t, err)

	var decoded Payload
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, S3, decoded.State)
	assert.Equal(t, S3, decoded.PrevState)
	assert.Equal(t, res.Payload.Flags, decoded.Flags)
	assert.Equal(t, 130.0, decoded.EMAs["ema20"])
	require.NotNil(t, decoded.Diagnostics.S3)
	assert.Nil(t, decoded.Diagnostics.S0)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "S3", raw["state"])
	flags := raw["flags"].(map[string]any)
	assert.Contains(t, flags, "first_dip_buy_flag")
}

func TestFlags_Raised(t *testing.T) {
	assert.Empty(t, Flags{}.Raised())
	assert.Equal(t, []string{"buy_signal", "exit_position"}, Flags{BuySignal: true, ExitPosition: true}.Raised())
}
