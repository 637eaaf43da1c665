package controller

import (
	"context"
	"testing"
	"time"

	"github.com/iotwx/meshnet/internal/assignment"
	"github.com/iotwx/meshnet/internal/ingest"
)

type fakeBroker struct {
	handler func(topic string, payload []byte)
}

func (b *fakeBroker) SubscribeReadings(handler func(topic string, payload []byte)) error {
	b.handler = handler
	return nil
}

type fakePersistence struct {
	stations []ingest.StationFields
	readings []ingest.ReadingRecord
}

func (f *fakePersistence) UpsertStation(ctx context.Context, fields ingest.StationFields) error {
	f.stations = append(f.stations, fields)
	return nil
}

func (f *fakePersistence) InsertReading(ctx context.Context, r ingest.ReadingRecord) error {
	f.readings = append(f.readings, r)
	return nil
}

func (f *fakePersistence) UpdateStationLastActive(ctx context.Context, id, timestamp string) error {
	return nil
}

type fakeStateStore struct {
	data map[string]ingest.StationState
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{data: make(map[string]ingest.StationState)}
}

func (f *fakeStateStore) Get(ctx context.Context, stationID string) (*ingest.StationState, error) {
	st, ok := f.data[stationID]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeStateStore) Put(ctx context.Context, stationID string, state ingest.StationState) error {
	f.data[stationID] = state
	return nil
}

type fakeAssignPublisher struct {
	directives []string
}

func (f *fakeAssignPublisher) PublishDirective(ctx context.Context, edgeID, stationID, status string) error {
	f.directives = append(f.directives, edgeID+":"+stationID+":"+status)
	return nil
}

func newTestController() (*Controller, *fakeBroker, *fakePersistence) {
	b := &fakeBroker{}
	persistence := &fakePersistence{}
	buffer := ingest.NewBuffer()
	merger := ingest.NewMerger(buffer, persistence)
	batchCycle := ingest.NewBatchCycle(buffer, newFakeStateStore(), nil, time.Hour)
	assignCtrl := assignment.New(assignment.DefaultConfig(), &fakeAssignPublisher{}, nil)

	cfg := Config{
		BatchInterval:        time.Hour,
		ActiveStationTimeout: time.Hour,
		EdgeTimeout:          time.Hour,
		SweepInterval:        time.Hour,
	}
	c := New(cfg, b, merger, batchCycle, assignCtrl)
	return c, b, persistence
}

func TestHandleMessageRoutesSensorDataAndAssignment(t *testing.T) {
	c, b, persistence := newTestController()
	ctx := context.Background()

	if err := c.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	stationInfo := []byte(`{
		"station_id": "S1", "edge_id": "E1", "type": "station_info",
		"rssi": -60.0, "latitude": 40.1, "longitude": -105.2, "altitude": 1600.0
	}`)
	b.handler("iotwx/S1", stationInfo)

	payload := []byte(`{
		"station_id": "S1", "edge_id": "E1", "type": "sensor_data",
		"sensor": "bme680", "measurement": "tmp", "reading_value": 21.5,
		"rssi": -60.0
	}`)

	b.handler("iotwx/S1", payload)

	if len(persistence.readings) != 1 {
		t.Fatalf("expected 1 durable reading, got %d", len(persistence.readings))
	}
	if persistence.readings[0].EdgeID != "E1" {
		t.Fatalf("reading edge_id = %q, want E1", persistence.readings[0].EdgeID)
	}

	loads := c.assignCtrl.EdgeLoads()
	if _, ok := loads["E1"]; !ok {
		t.Fatalf("expected E1 registered with the assignment controller, got %+v", loads)
	}
}

func TestHandleMessageIgnoresMalformedPayload(t *testing.T) {
	c, b, persistence := newTestController()
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	b.handler("iotwx/S1", []byte("not json"))

	if len(persistence.stations) != 0 || len(persistence.readings) != 0 {
		t.Fatalf("malformed payload should not reach persistence")
	}
}

func TestSweepEvictsStaleStationsAndEdges(t *testing.T) {
	c, b, _ := newTestController()
	c.cfg.ActiveStationTimeout = time.Millisecond
	c.cfg.EdgeTimeout = time.Millisecond

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer c.Stop()

	payload := []byte(`{"station_id": "S1", "edge_id": "E1", "type": "keep_alive", "rssi": -60.0}`)
	b.handler("iotwx/S1", payload)

	time.Sleep(2 * time.Millisecond)
	c.sweep(context.Background())

	c.mu.Lock()
	_, stationKnown := c.lastSeenStation["S1"]
	_, edgeKnown := c.lastSeenEdge["E1"]
	c.mu.Unlock()

	if stationKnown || edgeKnown {
		t.Fatalf("expected stale station/edge to be swept")
	}
}
