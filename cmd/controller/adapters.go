package main

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/iotwx/meshnet/internal/ingest"
	"github.com/iotwx/meshnet/internal/persistence"
	"github.com/iotwx/meshnet/internal/statestore"
)

// persistenceAdapter narrows a *persistence.Client down to
// ingest.PersistenceFacade, translating between the façade's wire
// types (Station/Reading) and the merger's local StationFields/
// ReadingRecord shapes.
type persistenceAdapter struct {
	client *persistence.Client
}

func (a persistenceAdapter) UpsertStation(ctx context.Context, f ingest.StationFields) error {
	return a.client.UpsertStation(ctx, persistence.Station{
		StationID:    f.StationID,
		Latitude:     f.Latitude,
		Longitude:    f.Longitude,
		Altitude:     f.Altitude,
		FirstName:    f.FirstName,
		LastName:     f.LastName,
		Email:        f.Email,
		Organization: f.Organization,
	})
}

func (a persistenceAdapter) InsertReading(ctx context.Context, r ingest.ReadingRecord) error {
	return a.client.InsertReading(ctx, persistence.Reading{
		StationID:      r.StationID,
		EdgeID:         r.EdgeID,
		SensorModel:    r.Sensor,
		SensorProtocol: r.Protocol,
		Measurement:    r.Measurement,
		Value:          r.Value,
		RSSI:           r.RSSI,
		Latitude:       r.Latitude,
		Longitude:      r.Longitude,
		Altitude:       r.Altitude,
		Timestamp:      r.Timestamp,
	})
}

func (a persistenceAdapter) UpdateStationLastActive(ctx context.Context, id, timestamp string) error {
	return a.client.UpdateStationLastActive(ctx, id, timestamp)
}

// stateStoreAdapter narrows a *statestore.Store down to
// ingest.StateStore, translating between Redis's flat hash encoding
// (json.RawMessage sensor tree) and the batch cycle's in-memory
// sensor -> measurement -> value map.
type stateStoreAdapter struct {
	store *statestore.Store
}

func (a stateStoreAdapter) Get(ctx context.Context, stationID string) (*ingest.StationState, error) {
	st, err := a.store.Get(ctx, stationID)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, nil
	}

	data := make(map[string]map[string]float64)
	if len(st.Data) > 0 {
		if err := json.Unmarshal(st.Data, &data); err != nil {
			return nil, err
		}
	}

	return &ingest.StationState{
		Data:       data,
		Metadata:   st.Metadata,
		Latitude:   st.Latitude,
		Longitude:  st.Longitude,
		Altitude:   st.Altitude,
		LastActive: st.LastActive,
	}, nil
}

func (a stateStoreAdapter) Put(ctx context.Context, stationID string, state ingest.StationState) error {
	data, err := json.Marshal(state.Data)
	if err != nil {
		return err
	}

	return a.store.Put(ctx, stationID, statestore.StationState{
		Data:       data,
		Metadata:   state.Metadata,
		Latitude:   state.Latitude,
		Longitude:  state.Longitude,
		Altitude:   state.Altitude,
		LastActive: state.LastActive,
	})
}

func newRedisClient(addr string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
}
