// Package loadmodel computes an edge gateway's load score (§4.3): a
// weighted sum of CPU utilization, memory utilization, and a logistic
// station-count pressure term, clamped to [0,1].
package loadmodel

import (
	"math"
	"sync"
	"time"
)

// Weights are the load formula's tunables, sourced from the reference
// gateway's station_load defaults.
type Weights struct {
	CPU      float64 // w_cpu
	Mem      float64 // w_mem
	Stations float64 // w_stations
	Steepness float64 // k
	Midpoint  float64 // m
}

// DefaultWeights matches spec §4.3.
func DefaultWeights() Weights {
	return Weights{
		CPU:       0.4,
		Mem:       0.3,
		Stations:  0.3,
		Steepness: 1,
		Midpoint:  5,
	}
}

// Sample is one raw observation of the host's resource utilization.
type Sample struct {
	CPUUtil      float64 // fraction [0,1]
	MemUtil      float64 // fraction [0,1]
	StationCount int
}

// Score computes the load value for a sample under the given weights.
func Score(w Weights, s Sample) float64 {
	stationPressure := 1 / (1 + math.Exp(-w.Steepness*(float64(s.StationCount)-w.Midpoint)))
	load := w.CPU*s.CPUUtil + w.Mem*s.MemUtil + w.Stations*stationPressure
	if load < 0 {
		return 0
	}
	if load > 1 {
		return 1
	}
	return load
}

// Model tracks an edge's current load, recomputing no more often than
// every 30s (§4.3) regardless of how often Update is called — callers
// typically call Update on every ping but the expensive parts (host
// CPU/mem sampling) are supplied by the caller, so this only gates the
// published value.
type Model struct {
	weights           Weights
	overloadThreshold float64
	minInterval       time.Duration

	mu       sync.Mutex
	current  float64
	lastCalc time.Time
}

// New constructs a Model. overloadThreshold defaults to 0.85 per §4.3
// if zero is passed.
func New(weights Weights, overloadThreshold float64, minInterval time.Duration) *Model {
	if overloadThreshold == 0 {
		overloadThreshold = 0.85
	}
	if minInterval == 0 {
		minInterval = 30 * time.Second
	}
	return &Model{
		weights:           weights,
		overloadThreshold: overloadThreshold,
		minInterval:       minInterval,
	}
}

// Update recomputes the load from s if the minimum recompute interval
// has elapsed since the last call, otherwise it is a no-op and the
// previously published value stands. now is supplied by the caller
// rather than time.Now() so tests can drive it deterministically.
func (m *Model) Update(now time.Time, s Sample) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastCalc.IsZero() && now.Sub(m.lastCalc) < m.minInterval {
		return
	}

	m.current = Score(m.weights, s)
	m.lastCalc = now
}

// Current returns the last published load value.
func (m *Model) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Overloaded reports whether the current load exceeds the overload
// threshold — an edge in this state MUST refuse new pings (§4.3, §7
// Overloaded).
func (m *Model) Overloaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current > m.overloadThreshold
}
