package model

import "fmt"

// Timeframe is a closed set of candle durations.
type Timeframe string

const (
	Timeframe1Min  Timeframe = "1MIN"
	Timeframe5Min  Timeframe = "5MIN"
	Timeframe15Min Timeframe = "15MIN"
	Timeframe1Hr   Timeframe = "1HR"
	Timeframe4Hr   Timeframe = "4HR"
	Timeframe12Hr  Timeframe = "12HR"
	TimeframeDay   Timeframe = "D"
)

// timeframeMillis maps each timeframe to its duration in milliseconds.
var timeframeMillis = map[Timeframe]int64{
	Timeframe1Min:  60_000,
	Timeframe5Min:  5 * 60_000,
	Timeframe15Min: 15 * 60_000,
	Timeframe1Hr:   60 * 60_000,
	Timeframe4Hr:   4 * 60 * 60_000,
	Timeframe12Hr:  12 * 60 * 60_000,
	TimeframeDay:   24 * 60 * 60_000,
}

// timeframeIntervals maps each timeframe to the exchange kline interval string.
var timeframeIntervals = map[Timeframe]string{
	Timeframe1Min:  "1m",
	Timeframe5Min:  "5m",
	Timeframe15Min: "15m",
	Timeframe1Hr:   "1h",
	Timeframe4Hr:   "4h",
	Timeframe12Hr:  "12h",
	TimeframeDay:   "1d",
}

// Valid reports whether tf is one of the known timeframes.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMillis[tf]
	return ok
}

// Millis returns the timeframe duration in milliseconds, 0 for unknown.
func (tf Timeframe) Millis() int64 {
	return timeframeMillis[tf]
}

// Interval returns the exchange kline interval string ("1m", "4h", ...).
func (tf Timeframe) Interval() string {
	return timeframeIntervals[tf]
}

// AlignMs floors tMs to the open time of the tf candle containing it.
// The result always satisfies AlignMs(t) % Millis() == 0.
func (tf Timeframe) AlignMs(tMs int64) int64 {
	ms := tf.Millis()
	if ms == 0 {
		return tMs
	}
	return tMs - tMs%ms
}

// ParseTimeframe validates a raw timeframe string.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if !tf.Valid() {
		return "", fmt.Errorf("timeframe: unknown %q", s)
	}
	return tf, nil
}
