package regengine

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"uptrend-engine/internal/model"
	"uptrend-engine/internal/tfbuilder"
)

// BarSink receives imported bars; the SQLite writer's batching loop
// satisfies it.
type BarSink interface {
	Run(ctx context.Context, barCh <-chan model.Bar) int
}

// LevelSink replaces the S/R levels of an instrument.
type LevelSink interface {
	ReplaceLevels(ctx context.Context, exchange, token string, levels []model.SRLevel) error
}

// ImportSpec describes one bar import. When SourceTF is set and finer than
// TF, input rows are SourceTF bars resampled into TF buckets that start
// BucketOffset seconds past each TF boundary.
type ImportSpec struct {
	Exchange     string
	Token        string
	TF           int
	SourceTF     int
	BucketOffset int64
}

// ImportBarsCSV streams "ts,open,high,low,close,volume" rows into sink.
// ts is unix seconds or RFC3339. A header row is skipped. It returns the
// number of bars committed.
func ImportBarsCSV(ctx context.Context, r io.Reader, sink BarSink, spec ImportSpec) (int, error) {
	if spec.TF <= 0 {
		return 0, fmt.Errorf("tf must be > 0, got %d", spec.TF)
	}
	rowTF := spec.TF
	var resampler *tfbuilder.Builder
	if spec.SourceTF > 0 && spec.SourceTF != spec.TF {
		if spec.SourceTF > spec.TF || spec.TF%spec.SourceTF != 0 {
			return 0, fmt.Errorf("source tf %d does not divide tf %d", spec.SourceTF, spec.TF)
		}
		var err error
		if resampler, err = tfbuilder.New(spec.TF, spec.BucketOffset); err != nil {
			return 0, err
		}
		rowTF = spec.SourceTF
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	barCh := make(chan model.Bar, 1024)
	done := make(chan int, 1)
	go func() { done <- sink.Run(ctx, barCh) }()

	send := func(b model.Bar) bool {
		select {
		case barCh <- b:
			return true
		case <-ctx.Done():
			return false
		}
	}

	var parseErr error
	line := 0
	for parseErr == nil {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			parseErr = fmt.Errorf("line %d: %w", line, err)
			break
		}
		if line == 1 && isHeader(rec) {
			continue
		}
		b, err := parseBar(rec, spec.Exchange, spec.Token, rowTF)
		if err != nil {
			parseErr = fmt.Errorf("line %d: %w", line, err)
			break
		}
		if resampler != nil {
			var ok bool
			if b, ok = resampler.Add(b); !ok {
				continue
			}
		}
		if !send(b) {
			parseErr = ctx.Err()
		}
	}
	if resampler != nil && parseErr == nil {
		for _, b := range resampler.Flush() {
			if !send(b) {
				parseErr = ctx.Err()
				break
			}
		}
	}
	close(barCh)
	committed := <-done
	return committed, parseErr
}

// ReadLevelsCSV parses "price,strength" rows. A header row is skipped.
func ReadLevelsCSV(r io.Reader, exchange, token string) ([]model.SRLevel, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	recs, err := cr.ReadAll()
	if err != nil {
		return nil, err
	}
	var out []model.SRLevel
	for i, rec := range recs {
		if i == 0 && isHeader(rec) {
			continue
		}
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: want price,strength", i+1)
		}
		price, err1 := strconv.ParseFloat(rec[0], 64)
		strength, err2 := strconv.ParseFloat(rec[1], 64)
		if err1 != nil || err2 != nil || price <= 0 {
			return nil, fmt.Errorf("line %d: bad level %v", i+1, rec)
		}
		out = append(out, model.SRLevel{Exchange: exchange, Token: token, Price: price, Strength: strength})
	}
	return out, nil
}

func isHeader(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
	if err == nil {
		return false
	}
	_, err = time.Parse(time.RFC3339, strings.TrimSpace(rec[0]))
	return err != nil
}

func parseBar(rec []string, exchange, token string, tf int) (model.Bar, error) {
	if len(rec) < 6 {
		return model.Bar{}, fmt.Errorf("want 6 fields, got %d", len(rec))
	}
	ts, err := parseTS(rec[0])
	if err != nil {
		return model.Bar{}, err
	}
	var v [5]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return model.Bar{}, fmt.Errorf("field %d: %w", i+2, err)
		}
		v[i] = f
	}
	return model.Bar{
		Token:    token,
		Exchange: exchange,
		TF:       tf,
		TS:       ts,
		Open:     v[0],
		High:     v[1],
		Low:      v[2],
		Close:    v[3],
		Volume:   v[4],
	}, nil
}

func parseTS(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(n, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("ts %q: want unix seconds or RFC3339", s)
	}
	return t.UTC(), nil
}
