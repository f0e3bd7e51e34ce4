// Package tfbuilder resamples finer closed bars into a coarser timeframe.
// Buckets are aligned to an offset from the Unix epoch so sessions that do
// not open on the hour (NSE opens 09:15 IST) still get session-aligned bars.
package tfbuilder

import (
	"fmt"
	"time"

	"uptrend-engine/internal/model"
)

// formingBar is the in-progress bar of one instrument.
type formingBar struct {
	bucket int64 // bucket start (Unix seconds)
	bar    model.Bar
}

// Builder folds bars into TF buckets. One Builder serves many instruments
// but is not safe for concurrent use.
type Builder struct {
	tf     int64
	offset int64

	states map[string]*formingBar

	// Metrics hooks
	OnBar   func(b model.Bar) // called on every closed TF bar (optional)
	OnStale func(b model.Bar) // called when an out-of-order input bar is dropped (optional)
}

// New creates a Builder for tf seconds with bucket starts at offset seconds
// past each tf boundary.
func New(tf int, offset int64) (*Builder, error) {
	if tf <= 0 {
		return nil, fmt.Errorf("tf must be > 0, got %d", tf)
	}
	return &Builder{
		tf:     int64(tf),
		offset: ((offset % int64(tf)) + int64(tf)) % int64(tf),
		states: make(map[string]*formingBar, 16),
	}, nil
}

// Bucket returns the start of the bucket holding ts.
func (b *Builder) Bucket(ts time.Time) int64 {
	u := ts.Unix() - b.offset
	start := u - ((u%b.tf)+b.tf)%b.tf
	return start + b.offset
}

// Add folds one input bar. When the bar opens a new bucket the previous
// bucket's bar is returned with ok=true. Bars older than the forming
// bucket are dropped.
func (b *Builder) Add(in model.Bar) (closed model.Bar, ok bool) {
	bucket := b.Bucket(in.TS)
	key := in.Key()
	st, exists := b.states[key]

	if exists && bucket < st.bucket {
		if b.OnStale != nil {
			b.OnStale(in)
		}
		return model.Bar{}, false
	}

	if exists && bucket > st.bucket {
		closed, ok = st.bar, true
		if b.OnBar != nil {
			b.OnBar(closed)
		}
		exists = false
	}

	if !exists {
		b.states[key] = &formingBar{
			bucket: bucket,
			bar: model.Bar{
				Token:    in.Token,
				Exchange: in.Exchange,
				TF:       int(b.tf),
				TS:       time.Unix(bucket, 0).UTC(),
				Open:     in.Open,
				High:     in.High,
				Low:      in.Low,
				Close:    in.Close,
				Volume:   in.Volume,
			},
		}
		return closed, ok
	}

	fb := &st.bar
	if in.High > fb.High {
		fb.High = in.High
	}
	if in.Low < fb.Low {
		fb.Low = in.Low
	}
	fb.Close = in.Close
	fb.Volume += in.Volume
	return closed, ok
}

// Flush returns the forming bars and resets the builder. The last bucket
// may be incomplete; callers decide whether to keep it.
func (b *Builder) Flush() []model.Bar {
	out := make([]model.Bar, 0, len(b.states))
	for key, st := range b.states {
		out = append(out, st.bar)
		if b.OnBar != nil {
			b.OnBar(st.bar)
		}
		delete(b.states, key)
	}
	return out
}

// Resample folds ordered bars of one instrument into tf bars, including
// the final (possibly partial) bucket.
func Resample(bars []model.Bar, tf int, offset int64) ([]model.Bar, error) {
	b, err := New(tf, offset)
	if err != nil {
		return nil, err
	}
	var out []model.Bar
	for _, in := range bars {
		if c, ok := b.Add(in); ok {
			out = append(out, c)
		}
	}
	return append(out, b.Flush()...), nil
}
