// Package swing detects alternating swing highs and lows with an ATR-scaled
// zigzag. A reversal is confirmed once price moves ATR×multiple away from the
// running extreme in the opposite direction.
package swing

// Kind marks a pivot as a swing high or swing low.
type Kind int

const (
	Low Kind = iota
	High
)

func (k Kind) String() string {
	if k == High {
		return "high"
	}
	return "low"
}

// Pivot is a confirmed swing point.
type Pivot struct {
	Index int     `json:"index"`
	Price float64 `json:"price"`
	Kind  Kind    `json:"kind"`
}

// DefaultATRMultiple is the reversal threshold used by EDX structure scoring.
const DefaultATRMultiple = 1.5

// Detect returns confirmed pivots in index order; kinds alternate. Bars whose
// ATR is ≤ 0 can extend the running extreme but never confirm a reversal.
// Series of unequal length are truncated to the shortest.
func Detect(highs, lows, atr []float64, multiple float64) []Pivot {
	n := len(highs)
	if len(lows) < n {
		n = len(lows)
	}
	if len(atr) < n {
		n = len(atr)
	}
	if n == 0 {
		return nil
	}

	var pivots []Pivot
	dir := 0 // 0 unknown, 1 up-leg, -1 down-leg
	hiIdx, loIdx := 0, 0
	hi, lo := highs[0], lows[0]

	for i := 1; i < n; i++ {
		thr := atr[i] * multiple
		canTurn := thr > 0

		switch dir {
		case 0:
			if highs[i] > hi {
				hi, hiIdx = highs[i], i
			}
			if lows[i] < lo {
				lo, loIdx = lows[i], i
			}
			if !canTurn {
				continue
			}
			if loIdx < hiIdx && hi-lo >= thr {
				pivots = append(pivots, Pivot{Index: loIdx, Price: lo, Kind: Low})
				dir = 1
			} else if hiIdx < loIdx && hi-lo >= thr {
				pivots = append(pivots, Pivot{Index: hiIdx, Price: hi, Kind: High})
				dir = -1
			}

		case 1:
			if highs[i] > hi {
				hi, hiIdx = highs[i], i
				continue
			}
			if canTurn && hi-lows[i] >= thr {
				pivots = append(pivots, Pivot{Index: hiIdx, Price: hi, Kind: High})
				dir = -1
				lo, loIdx = lows[i], i
			}

		case -1:
			if lows[i] < lo {
				lo, loIdx = lows[i], i
				continue
			}
			if canTurn && highs[i]-lo >= thr {
				pivots = append(pivots, Pivot{Index: loIdx, Price: lo, Kind: Low})
				dir = 1
				hi, hiIdx = highs[i], i
			}
		}
	}
	return pivots
}

// Structure counts pivots and how many of them progressed upward.
type Structure struct {
	Highs       int `json:"highs"`
	Lows        int `json:"lows"`
	HigherHighs int `json:"higher_highs"`
	HigherLows  int `json:"higher_lows"`
}

// Pairs is the number of consecutive same-kind comparisons available.
func (s Structure) Pairs() int {
	p := 0
	if s.Highs > 1 {
		p += s.Highs - 1
	}
	if s.Lows > 1 {
		p += s.Lows - 1
	}
	return p
}

// Summarize counts higher highs and higher lows across pivots.
func Summarize(pivots []Pivot) Structure {
	var s Structure
	var lastHigh, lastLow float64
	for _, p := range pivots {
		switch p.Kind {
		case High:
			if s.Highs > 0 && p.Price > lastHigh {
				s.HigherHighs++
			}
			s.Highs++
			lastHigh = p.Price
		case Low:
			if s.Lows > 0 && p.Price > lastLow {
				s.HigherLows++
			}
			s.Lows++
			lastLow = p.Price
		}
	}
	return s
}
