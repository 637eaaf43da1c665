package protocol

import (
	"encoding/json"
	"time"
)

// TokenFullName maps every wire token to the full name used on the
// broker envelope (§4.1). It must stay exhaustive: any token a Frame
// can legally carry needs an entry here to be expanded. Expand passes
// a token with no entry through under its own name.
var TokenFullName = map[string]string{
	"sid":  "station_id",
	"t":    "type",
	"ty":   "device_type",
	"l":    "load",
	"rssi": "ping_rssi",
	"rc":   "relay_count",
	"to":   "target_id",
	"r":    "allow_relay",
	"s":    "sensor",
	"m":    "measurement",
	"d":    "reading_value",
	"ts":   "timestamp",
	"fn":   "firstname",
	"ln":   "lastname",
	"e":    "email",
	"o":    "organization",
	"lat":  "latitude",
	"lon":  "longitude",
	"al":   "altitude",
	"p":    "sensor_protocol",

	// Sensor-specific measurement tokens (§4.1).
	"tmp":  "temperature",
	"rh":   "relative_humidity",
	"pre":  "pressure",
	"uvs":  "uv_light",
	"als":  "ambient_light",
	"pm0":  "pm10_standard",
	"pm1":  "pm25_standard",
	"pm2":  "pm100_standard",
	"pm3":  "pm10_env",
	"pm4":  "pm25_env",
	"pm5":  "pm100_env",
	"pm6":  "partcount_03um",
	"pm7":  "partcount_05um",
	"pm8":  "partcount_10um",
	"pm9":  "partcount_25um",
	"pm10": "partcount_50um",
	"pm11": "partcount_100um",
	"ra":   "rainfall_accumulated",
	"re":   "rainfall_event",
	"rt":   "rainfall_total",
	"ri":   "rain_intensity",
	"gr":   "gas_resistance",
	"C02":  "co2_concentration",
}

// frameTypeFullName maps the single-char "t" token value to the full
// type name used on the broker envelope.
var frameTypeFullName = map[string]string{
	FrameTypePing:        "ping",
	FrameTypePong:        "pong",
	FrameTypeKeepAlive:   "keep_alive",
	FrameTypeDisconnect:  "disconnect",
	FrameTypeStationInfo: "station_info",
	FrameTypeSensorData:  "sensor_data",
}

// Envelope is the broker-side expansion of a Frame: full field names,
// plus the two transport additions "rssi" (observed by the edge) and
// "timestamp" (filled in if the frame omitted it).
type Envelope map[string]interface{}

// Expand converts a decoded LoRa Frame into a broker Envelope. rssi is
// the signal strength the receiving edge observed for this packet
// (distinct from the frame's own "rssi" token, which — on pong frames
// only — carries the RSSI the edge measured for the triggering ping).
func Expand(f Frame, rssi int, now time.Time) Envelope {
	env := make(Envelope, len(f)+2)
	for token, value := range f {
		full, ok := TokenFullName[token]
		if !ok {
			full = token
		}
		if token == "t" {
			if s, ok := value.(string); ok {
				if name, ok := frameTypeFullName[s]; ok {
					env[full] = name
					continue
				}
			}
		}
		env[full] = value
	}

	env["rssi"] = rssi

	if ts, ok := env["timestamp"].(string); !ok || ts == "" {
		env["timestamp"] = now.UTC().Format(time.RFC3339)
	}

	return env
}

// Encode serializes the envelope for publication on the broker.
func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(map[string]interface{}(e))
}

// Type returns the envelope's full type name ("ping", "sensor_data", ...).
func (e Envelope) Type() string {
	t, _ := e["type"].(string)
	return t
}

// StationID returns the envelope's station_id field.
func (e Envelope) StationID() string {
	id, _ := e["station_id"].(string)
	return id
}
