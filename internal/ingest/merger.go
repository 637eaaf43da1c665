package ingest

import (
	"context"
	"log"
	"time"

	"github.com/iotwx/meshnet/internal/protocol"
)

// PersistenceFacade is the narrow set of calls the merger needs
// (§4.8): upsert a station, insert a reading, bump last_active.
type PersistenceFacade interface {
	UpsertStation(ctx context.Context, fields StationFields) error
	InsertReading(ctx context.Context, r ReadingRecord) error
	UpdateStationLastActive(ctx context.Context, id, timestamp string) error
}

// StationFields and ReadingRecord are the merger's view of the
// persistence façade's payload shapes — kept local to this package so
// ingest does not import persistence's HTTP wire types directly.
type StationFields struct {
	StationID    string
	Latitude     float64
	Longitude    float64
	Altitude     float64
	FirstName    string
	LastName     string
	Email        string
	Organization string
}

type ReadingRecord struct {
	StationID   string
	EdgeID      string
	Sensor      string
	Protocol    string
	Measurement string
	Value       float64
	RSSI        int
	Latitude    float64
	Longitude   float64
	Altitude    float64
	Timestamp   string
}

// Merger classifies inbound envelopes and updates the SensorBuffer
// (§4.6). Every sensor reading goes into the buffer; it is also
// inserted durably (with a last_active update) only once the station's
// lat, lon and alt are all known, otherwise it is held in the buffer
// until they arrive. station_info frames are upserted directly.
type Merger struct {
	buffer      *Buffer
	persistence PersistenceFacade
}

// NewMerger wires a Buffer to a persistence façade.
func NewMerger(buffer *Buffer, persistence PersistenceFacade) *Merger {
	return &Merger{buffer: buffer, persistence: persistence}
}

// Handle classifies one envelope and applies it (§4.6).
func (m *Merger) Handle(ctx context.Context, env protocol.Envelope, now time.Time) {
	switch env.Type() {
	case "keep_alive", "disconnect":
		return
	case "station_info":
		m.handleStationInfo(ctx, env, now)
	case "sensor_data":
		m.handleSensorData(ctx, env, now)
	}
}

func (m *Merger) handleStationInfo(ctx context.Context, env protocol.Envelope, now time.Time) {
	stationID := env.StationID()
	meta := extractMetadata(env, now)

	m.buffer.UpsertStationInfo(stationID, meta)

	fields := StationFields{
		StationID: stationID,
		Latitude:  meta.Latitude,
		Longitude: meta.Longitude,
		Altitude:  meta.Altitude,
	}
	if fn, ok := env["firstname"].(string); ok {
		fields.FirstName = fn
	}
	if ln, ok := env["lastname"].(string); ok {
		fields.LastName = ln
	}
	if e, ok := env["email"].(string); ok {
		fields.Email = e
	}
	if o, ok := env["organization"].(string); ok {
		fields.Organization = o
	}

	if err := m.persistence.UpsertStation(ctx, fields); err != nil {
		log.Printf("ingest: upsert station %s failed: %v", stationID, err)
	}
}

func (m *Merger) handleSensorData(ctx context.Context, env protocol.Envelope, now time.Time) {
	stationID := env.StationID()
	sensor, _ := env["sensor"].(string)
	measurement, _ := env["measurement"].(string)
	value, _ := asFloat(env["reading_value"])

	m.buffer.MergeReading(stationID, sensor, measurement, value, extractMetadata(env, now))

	// A sensor_data frame never itself carries lat/lon/alt (§4.1: those
	// tokens are station_info-only) — the durability gate must consult
	// the station's accumulated metadata, which keeps whatever a prior
	// station_info frame established, not this envelope alone.
	meta, ok := m.buffer.Metadata(stationID)
	if !ok || !meta.Located() {
		return // held in the buffer until coordinates arrive
	}

	if m.persistence == nil {
		return
	}

	record := ReadingRecord{
		StationID:   stationID,
		EdgeID:      meta.EdgeID,
		Sensor:      sensor,
		Measurement: measurement,
		Value:       value,
		RSSI:        meta.RSSI,
		Latitude:    meta.Latitude,
		Longitude:   meta.Longitude,
		Altitude:    meta.Altitude,
		Timestamp:   envTimestamp(env),
	}
	if p, ok := env["sensor_protocol"].(string); ok {
		record.Protocol = p
	}

	if err := m.persistence.InsertReading(ctx, record); err != nil {
		log.Printf("ingest: insert reading station=%s sensor=%s measurement=%s failed: %v",
			stationID, sensor, measurement, err)
	}

	if err := m.persistence.UpdateStationLastActive(ctx, stationID, record.Timestamp); err != nil {
		log.Printf("ingest: update last_active station=%s failed: %v", stationID, err)
	}
}

func extractMetadata(env protocol.Envelope, now time.Time) Metadata {
	meta := Metadata{LastActive: now}

	if rssi, ok := asFloat(env["rssi"]); ok {
		meta.RSSI = int(rssi)
	}
	if edgeID, ok := env["edge_id"].(string); ok {
		meta.EdgeID = edgeID
	}
	if target, ok := env["target_id"].(string); ok {
		meta.TargetID = target
	}

	lat, latOK := asFloat(env["latitude"])
	lon, lonOK := asFloat(env["longitude"])
	alt, altOK := asFloat(env["altitude"])
	if latOK && lonOK && altOK {
		meta.Latitude = lat
		meta.Longitude = lon
		meta.Altitude = alt
		meta.HasCoords = true
	}

	return meta
}

func envTimestamp(env protocol.Envelope) string {
	if ts, ok := env["timestamp"].(string); ok {
		return ts
	}
	return ""
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
