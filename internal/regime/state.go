// Package regime classifies an instrument into one of five uptrend regimes
// and raises the entry, trim and exit flags that belong to each regime.
//
// The Engine is pure: every call to Evaluate takes the latest snapshot, the
// previous payload and meta, and returns a new payload and meta. Callers own
// persistence.
package regime

import "fmt"

// State is a regime classification.
type State int

const (
	StateNone State = iota // no previous classification
	S0                     // pure downtrend
	S1                     // primer: fast band reclaimed the mid EMA
	S2                     // defensive: price above the slow anchor
	S3                     // trending: full bullish EMA order
	S4                     // unclassified, watch only
)

var stateNames = map[State]string{
	StateNone: "",
	S0:        "S0",
	S1:        "S1",
	S2:        "S2",
	S3:        "S3",
	S4:        "S4",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Valid reports whether s is one of S0..S4.
func (s State) Valid() bool {
	return s >= S0 && s <= S4
}

// ParseState parses "S0".."S4". Anything else yields StateNone and false.
func ParseState(v string) (State, bool) {
	for s, n := range stateNames {
		if s != StateNone && n == v {
			return s, true
		}
	}
	return StateNone, false
}

// MarshalText encodes the state as its name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a state name. Unknown names decode to StateNone so
// a corrupt or legacy payload bootstraps instead of failing.
func (s *State) UnmarshalText(b []byte) error {
	st, _ := ParseState(string(b))
	*s = st
	return nil
}
