package protocol

import (
	"encoding/json"
	"reflect"
	"testing"
	"time"
)

func TestDecodeEncodeRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"ping", `{"sid":"stn-1","t":"A","ty":"2"}`},
		{"pong", `{"sid":"edge-1","t":"B","ty":"1","l":0.42,"rssi":-87,"rc":0,"to":"stn-1"}`},
		{"keep_alive", `{"sid":"edge-1","t":"C","to":"stn-1"}`},
		{"disconnect", `{"sid":"stn-1","t":"D"}`},
		{"station_info", `{"sid":"stn-1","t":"E","fn":"A","ln":"B","lat":40.1,"lon":-105.2}`},
		{"sensor_data", `{"sid":"stn-1","t":"F","s":"bme280","m":"tmp","d":21.5,"ts":"2026-07-30T00:00:00Z"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, err := Decode([]byte(tc.raw))
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}

			out, err := f.Encode()
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}

			var want, got map[string]interface{}
			if err := json.Unmarshal([]byte(tc.raw), &want); err != nil {
				t.Fatalf("unmarshal fixture: %v", err)
			}
			if err := json.Unmarshal(out, &got); err != nil {
				t.Fatalf("unmarshal round-trip: %v", err)
			}

			if !reflect.DeepEqual(want, got) {
				t.Fatalf("round-trip mismatch: want %v, got %v", want, got)
			}
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", `not json at all`},
		{"missing sid", `{"t":"A"}`},
		{"non-string sid", `{"sid":5,"t":"A"}`},
		{"empty sid", `{"sid":"","t":"A"}`},
		{"missing t", `{"sid":"stn-1"}`},
		{"unknown t", `{"sid":"stn-1","t":"Z"}`},
		{"sensor data missing s", `{"sid":"stn-1","t":"F","m":"tmp","d":1}`},
		{"sensor data missing m", `{"sid":"stn-1","t":"F","s":"bme280","d":1}`},
		{"sensor data missing d", `{"sid":"stn-1","t":"F","s":"bme280","m":"tmp"}`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			if err == nil {
				t.Fatalf("expected MalformedFrame, got nil")
			}
			if _, ok := err.(*MalformedFrame); !ok {
				t.Fatalf("expected *MalformedFrame, got %T", err)
			}
		})
	}
}

func TestFrameAccessors(t *testing.T) {
	f := NewPong("edge-1", "stn-1", 0.3, -90, 1)

	if f.Type() != FrameTypePong {
		t.Fatalf("Type() = %q, want %q", f.Type(), FrameTypePong)
	}
	if f.ID() != "edge-1" {
		t.Fatalf("ID() = %q, want edge-1", f.ID())
	}
	to, ok := f.Target()
	if !ok || to != "stn-1" {
		t.Fatalf("Target() = (%q, %v), want (stn-1, true)", to, ok)
	}
	if f.AllowRelay() {
		t.Fatalf("AllowRelay() = true, want false (absent token defaults false)")
	}

	disc := NewDisconnect("stn-1")
	if _, ok := disc.Target(); ok {
		t.Fatalf("disconnect frame should have no target")
	}
}

func TestExpandFillsTimestampAndRSSI(t *testing.T) {
	f, err := Decode([]byte(`{"sid":"stn-1","t":"F","s":"bme280","m":"tmp","d":21.5}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	env := Expand(f, -95, now)

	if env.Type() != "sensor_data" {
		t.Fatalf("Type() = %q, want sensor_data", env.Type())
	}
	if env.StationID() != "stn-1" {
		t.Fatalf("StationID() = %q, want stn-1", env.StationID())
	}
	if env["rssi"] != -95 {
		t.Fatalf("rssi = %v, want -95", env["rssi"])
	}
	if env["timestamp"] != "2026-07-30T12:00:00Z" {
		t.Fatalf("timestamp = %v, want filled-in now", env["timestamp"])
	}
	if env["sensor"] != "bme280" || env["measurement"] != "tmp" || env["reading_value"] != 21.5 {
		t.Fatalf("expanded sensor fields missing: %+v", env)
	}
}

func TestExpandPreservesExistingTimestamp(t *testing.T) {
	f, err := Decode([]byte(`{"sid":"stn-1","t":"F","s":"bme280","m":"tmp","d":21.5,"ts":"2026-01-01T00:00:00Z"}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	env := Expand(f, -95, time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC))
	if env["timestamp"] != "2026-01-01T00:00:00Z" {
		t.Fatalf("timestamp = %v, want the frame's original ts", env["timestamp"])
	}
}
