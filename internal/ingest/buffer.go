// Package ingest implements the ingestion merger (§4.6): classifies
// inbound broker envelopes, merges sensor readings into a per-station
// SensorBuffer (writing located readings to the persistence façade as
// they arrive), and flushes that buffer to the short-lived state store
// on a fixed batch cycle.
package ingest

import (
	"sync"
	"time"
)

// Metadata mirrors the non-sensor fields tracked alongside a
// station's readings (§3 SensorBuffer).
type Metadata struct {
	LastActive time.Time
	EdgeID     string
	TargetID   string
	RSSI       int
	Latitude   float64
	Longitude  float64
	Altitude   float64
	HasCoords  bool
}

// Located reports whether this station's position is known — readings
// without coordinates stay buffered rather than durably written
// (§4.6, SUPPLEMENTED "GPS-gated visibility").
func (m Metadata) Located() bool {
	return m.HasCoords
}

// stationBuffer is one station's merged sensor tree plus metadata.
type stationBuffer struct {
	sensors  map[string]map[string]float64 // sensor -> measurement -> value
	metadata Metadata
}

func newStationBuffer() *stationBuffer {
	return &stationBuffer{sensors: make(map[string]map[string]float64)}
}

// Buffer is the in-memory SensorBuffer (§3), last-write-wins per
// (station, sensor, measurement).
type Buffer struct {
	mu       sync.Mutex
	stations map[string]*stationBuffer
}

// NewBuffer constructs an empty Buffer.
func NewBuffer() *Buffer {
	return &Buffer{stations: make(map[string]*stationBuffer)}
}

// MergeReading applies one sensor reading: buffer[station][sensor][measurement] = value.
func (b *Buffer) MergeReading(stationID, sensor, measurement string, value float64, meta Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb, ok := b.stations[stationID]
	if !ok {
		sb = newStationBuffer()
		b.stations[stationID] = sb
	}

	if _, ok := sb.sensors[sensor]; !ok {
		sb.sensors[sensor] = make(map[string]float64)
	}
	sb.sensors[sensor][measurement] = value

	sb.metadata = mergeMetadata(sb.metadata, meta)
}

// UpsertStationInfo merges identity/coordinate metadata without
// touching any sensor values (§4.6 station_info handling).
func (b *Buffer) UpsertStationInfo(stationID string, meta Metadata) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb, ok := b.stations[stationID]
	if !ok {
		sb = newStationBuffer()
		b.stations[stationID] = sb
	}
	sb.metadata = mergeMetadata(sb.metadata, meta)
}

// mergeMetadata overlays any fields present on update onto existing,
// preserving previously known coordinates when update carries none.
func mergeMetadata(existing, update Metadata) Metadata {
	out := existing
	if !update.LastActive.IsZero() {
		out.LastActive = update.LastActive
	}
	if update.EdgeID != "" {
		out.EdgeID = update.EdgeID
	}
	if update.TargetID != "" {
		out.TargetID = update.TargetID
	}
	if update.RSSI != 0 {
		out.RSSI = update.RSSI
	}
	if update.HasCoords {
		out.Latitude = update.Latitude
		out.Longitude = update.Longitude
		out.Altitude = update.Altitude
		out.HasCoords = true
	}
	return out
}

// Metadata returns a station's current accumulated metadata — merged
// across every station_info and sensor_data envelope seen for it so
// far, not just the most recent one. ok is false if the station has
// no buffered state yet. Coordinates normally arrive once via a
// station_info frame and must keep gating every later sensor_data
// frame, so callers deciding whether a reading is locatable should
// consult this rather than a single envelope's own fields.
func (b *Buffer) Metadata(stationID string) (Metadata, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sb, ok := b.stations[stationID]
	if !ok {
		return Metadata{}, false
	}
	return sb.metadata, true
}

// Snapshot is an immutable copy of one station's buffered state, used
// by the batch cycle so it never holds the lock during slow I/O.
type Snapshot struct {
	StationID string
	Sensors   map[string]map[string]float64
	Metadata  Metadata
}

// SnapshotAll copies every station's buffered state under one lock
// acquisition (§4.6 batch step 1).
func (b *Buffer) SnapshotAll() []Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Snapshot, 0, len(b.stations))
	for id, sb := range b.stations {
		sensors := make(map[string]map[string]float64, len(sb.sensors))
		for sensor, measurements := range sb.sensors {
			m := make(map[string]float64, len(measurements))
			for k, v := range measurements {
				m[k] = v
			}
			sensors[sensor] = m
		}
		out = append(out, Snapshot{StationID: id, Sensors: sensors, Metadata: sb.metadata})
	}
	return out
}

// Evict removes a station's buffer entirely (§4.6 batch step 3).
func (b *Buffer) Evict(stationID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.stations, stationID)
}

// LastActive returns the station's last-active time and whether it is
// known at all.
func (b *Buffer) LastActive(stationID string) (time.Time, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sb, ok := b.stations[stationID]
	if !ok {
		return time.Time{}, false
	}
	return sb.metadata.LastActive, true
}
