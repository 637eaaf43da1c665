package ingest

import (
	"context"
	"encoding/json"
	"log"
	"time"
)

// StationState is the shape the batch cycle persists to the
// short-lived store — kept local so ingest does not import
// statestore's Redis-specific type directly.
type StationState struct {
	Data       map[string]map[string]float64
	Metadata   json.RawMessage
	Latitude   float64
	Longitude  float64
	Altitude   float64
	LastActive string
}

// StateStore is the narrow short-lived store capability the batch
// cycle needs.
type StateStore interface {
	Get(ctx context.Context, stationID string) (*StationState, error)
	Put(ctx context.Context, stationID string, state StationState) error
}

// InferenceFunc runs a configured inference call over a station's
// merged sensor tree (§4.6 "treated as opaque external services") and
// returns the tree to persist — which may be the input unchanged.
type InferenceFunc func(ctx context.Context, stationID string, sensors map[string]map[string]float64) (map[string]map[string]float64, error)

// BatchCycle runs the merger's periodic flush (§4.6): snapshot the
// buffer, merge with the state store, run inference, write back, then
// evict stations that have gone inactive.
type BatchCycle struct {
	buffer        *Buffer
	store         StateStore
	inference     InferenceFunc
	activeTimeout time.Duration
}

// NewBatchCycle constructs a BatchCycle. inference may be nil to skip
// that step entirely.
func NewBatchCycle(buffer *Buffer, store StateStore, inference InferenceFunc, activeTimeout time.Duration) *BatchCycle {
	return &BatchCycle{buffer: buffer, store: store, inference: inference, activeTimeout: activeTimeout}
}

// Run executes one batch cycle. It is idempotent: running it twice
// with no new frames between calls leaves the state store
// byte-identical, since merging is a pure union of existing and
// snapshot sensor trees and inference is deterministic over the same
// input (§8 invariant 3).
func (bc *BatchCycle) Run(ctx context.Context, now time.Time) {
	snapshots := bc.buffer.SnapshotAll()

	for _, snap := range snapshots {
		bc.flushOne(ctx, snap)

		if last, ok := bc.buffer.LastActive(snap.StationID); ok {
			if now.Sub(last) > bc.activeTimeout {
				bc.buffer.Evict(snap.StationID)
			}
		}
	}
}

func (bc *BatchCycle) flushOne(ctx context.Context, snap Snapshot) {
	existing, err := bc.store.Get(ctx, snap.StationID)
	if err != nil {
		log.Printf("ingest: batch get station=%s failed: %v", snap.StationID, err)
		return
	}

	merged := mergeSensorTrees(existing, snap.Sensors)

	if bc.inference != nil {
		out, err := bc.inference(ctx, snap.StationID, merged)
		if err != nil {
			log.Printf("ingest: inference station=%s failed: %v", snap.StationID, err)
		} else {
			merged = out
		}
	}

	state := StationState{
		Data:       merged,
		Latitude:   snap.Metadata.Latitude,
		Longitude:  snap.Metadata.Longitude,
		Altitude:   snap.Metadata.Altitude,
		LastActive: snap.Metadata.LastActive.UTC().Format(time.RFC3339),
	}

	if err := bc.store.Put(ctx, snap.StationID, state); err != nil {
		log.Printf("ingest: batch put station=%s failed: %v", snap.StationID, err)
	}
}

// mergeSensorTrees overlays snapshot values onto whatever is already
// cached, last-write-wins per (sensor, measurement) — snapshot always
// wins since it reflects the most recently accepted frames.
func mergeSensorTrees(existing *StationState, snapshot map[string]map[string]float64) map[string]map[string]float64 {
	out := make(map[string]map[string]float64)

	if existing != nil {
		for sensor, measurements := range existing.Data {
			m := make(map[string]float64, len(measurements))
			for k, v := range measurements {
				m[k] = v
			}
			out[sensor] = m
		}
	}

	for sensor, measurements := range snapshot {
		m, ok := out[sensor]
		if !ok {
			m = make(map[string]float64, len(measurements))
			out[sensor] = m
		}
		for k, v := range measurements {
			m[k] = v
		}
	}

	return out
}
