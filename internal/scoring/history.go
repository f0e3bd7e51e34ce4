package scoring

import (
	"time"

	"uptrend-engine/internal/indicator"
	"uptrend-engine/internal/model"
)

// History is the bar history behind EDX and the DX curl. Bars before
// StartIdx are warm-up bars that let the EMAs settle; the regime window
// starts at StartIdx.
type History struct {
	Bars     []model.Bar
	StartIdx int

	series *indicator.Series
}

// NewHistory builds a History whose window starts at the first bar at or
// after start.
func NewHistory(bars []model.Bar, start int64) *History {
	idx := len(bars)
	for i, b := range bars {
		if b.TS.Unix() >= start {
			idx = i
			break
		}
	}
	return &History{Bars: bars, StartIdx: idx}
}

// WindowLen is the number of bars since the regime start.
func (h *History) WindowLen() int {
	if h == nil || h.StartIdx >= len(h.Bars) {
		return 0
	}
	if h.StartIdx < 0 {
		return len(h.Bars)
	}
	return len(h.Bars) - h.StartIdx
}

// BarsAfter counts the bars with start < TS <= ts. ok is false when the
// history holds no regime bars.
func (h *History) BarsAfter(start, ts time.Time) (n int, ok bool) {
	if h.WindowLen() == 0 {
		return 0, false
	}
	for _, b := range h.Bars {
		if b.TS.After(start) && !b.TS.After(ts) {
			n++
		}
	}
	return n, true
}

// Series returns the indicator series over all bars, computed once.
func (h *History) Series() indicator.Series {
	if h == nil {
		return indicator.Series{}
	}
	if h.series == nil {
		s := indicator.ComputeSeries(h.Bars)
		h.series = &s
	}
	return *h.series
}

// EMA144 returns the EMA144 series, nil when unavailable.
func (h *History) EMA144() []float64 {
	return h.Series().EMAs[3]
}
