// Package statestore is the short-lived key/value store (§6): one
// hash per station, TTL-bound to active_station_timeout, backed by
// Redis.
package statestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StationState is the hash stored at key `station:{id}`.
type StationState struct {
	Data       json.RawMessage `json:"data"`     // sensor -> measurement -> value tree
	Metadata   json.RawMessage `json:"metadata"` // last_active/target_id/rssi etc.
	Latitude   float64         `json:"latitude"`
	Longitude  float64         `json:"longitude"`
	Altitude   float64         `json:"altitude"`
	LastActive string          `json:"last_active"`
}

// Store wraps a Redis client with the station-hash schema.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// New constructs a Store against an already-configured redis.Client.
func New(rdb *redis.Client, ttl time.Duration) *Store {
	return &Store{rdb: rdb, ttl: ttl}
}

func stationKey(id string) string {
	return fmt.Sprintf("station:%s", id)
}

// Get reads a station's state. Returns (nil, nil) if the key has
// expired or was never written.
func (s *Store) Get(ctx context.Context, stationID string) (*StationState, error) {
	vals, err := s.rdb.HGetAll(ctx, stationKey(stationID)).Result()
	if err != nil {
		return nil, fmt.Errorf("statestore get %s: %w", stationID, err)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	st := &StationState{
		Data:       json.RawMessage(vals["data"]),
		Metadata:   json.RawMessage(vals["metadata"]),
		LastActive: vals["last_active"],
	}
	fmt.Sscanf(vals["latitude"], "%g", &st.Latitude)
	fmt.Sscanf(vals["longitude"], "%g", &st.Longitude)
	fmt.Sscanf(vals["altitude"], "%g", &st.Altitude)
	return st, nil
}

// Put writes a station's state and (re)sets its TTL — every write
// refreshes the eviction clock, which is what keeps an actively
// reporting station resident in the store.
func (s *Store) Put(ctx context.Context, stationID string, st StationState) error {
	key := stationKey(stationID)

	fields := map[string]interface{}{
		"data":       string(st.Data),
		"metadata":   string(st.Metadata),
		"latitude":   st.Latitude,
		"longitude":  st.Longitude,
		"altitude":   st.Altitude,
		"last_active": st.LastActive,
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, s.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("statestore put %s: %w", stationID, err)
	}
	return nil
}

// Delete evicts a station's state immediately, before its TTL
// naturally expires.
func (s *Store) Delete(ctx context.Context, stationID string) error {
	if err := s.rdb.Del(ctx, stationKey(stationID)).Err(); err != nil {
		return fmt.Errorf("statestore delete %s: %w", stationID, err)
	}
	return nil
}
