// Package backoff implements jittered exponential backoff for
// persistence retries (§7): a base delay, a multiplier, a ceiling, and
// +/- jitter applied as a fraction of the current delay. The broker
// reuses Config to carry its reconnect intervals but does not run a
// Sequence.
package backoff

import (
	"math/rand"
	"time"
)

// Config holds the backoff tunables.
type Config struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	Jitter     float64 // fraction of the current delay, e.g. 0.25
}

// Default is the persistence façade's retry policy: 1s, doubling,
// capped at 60s, with 25% jitter.
func Default() Config {
	return Config{
		Initial:    1 * time.Second,
		Max:        60 * time.Second,
		Multiplier: 2.0,
		Jitter:     0.25,
	}
}

// Sequence produces successive delays starting at cfg.Initial, each
// jittered by +/- cfg.Jitter and capped at cfg.Max.
type Sequence struct {
	cfg     Config
	current time.Duration
}

// NewSequence starts a fresh backoff sequence.
func NewSequence(cfg Config) *Sequence {
	return &Sequence{cfg: cfg, current: cfg.Initial}
}

// Next returns the next jittered delay and advances the sequence.
func (s *Sequence) Next() time.Duration {
	delay := s.current
	jitter := time.Duration(float64(delay) * s.cfg.Jitter * (rand.Float64()*2 - 1))

	s.current = time.Duration(float64(s.current) * s.cfg.Multiplier)
	if s.current > s.cfg.Max {
		s.current = s.cfg.Max
	}

	out := delay + jitter
	if out < 0 {
		out = 0
	}
	return out
}

// Reset returns the sequence to its initial delay.
func (s *Sequence) Reset() {
	s.current = s.cfg.Initial
}
