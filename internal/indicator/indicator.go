// Package indicator provides the numeric building blocks of the regime engine.
//
// Series functions take closes or bars ordered oldest → newest and return
// values of the same orientation. Streaming types (EMA, RSI) back the series
// functions and can be fed one value at a time. Nothing here allocates shared
// state, so every function is safe for concurrent use.
package indicator

// Default lookbacks used when building an IndicatorSnapshot.
const (
	SlopeWindow     = 10
	ATRPeriod       = 14
	ATRMeanWindow   = 20
	ADXPeriod       = 14
	RSIPeriod       = 14
	VolumeZWindow   = 20
	SepDeltaLag     = 5
	MinSnapshotBars = 30
)
