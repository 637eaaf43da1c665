// Package persistence is the narrow HTTP JSON façade onto the
// external station/reading store (§4.8). It is deliberately not a
// full CRUD client: get_station, upsert_station, insert_reading,
// update_station_last_active are the only operations the rest of the
// pipeline needs.
package persistence

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iotwx/meshnet/internal/backoff"
)

// Station is the durable record shape (§3).
type Station struct {
	StationID    string  `json:"station_id"`
	Latitude     float64 `json:"latitude,omitempty"`
	Longitude    float64 `json:"longitude,omitempty"`
	Altitude     float64 `json:"altitude,omitempty"`
	FirstName    string  `json:"firstname,omitempty"`
	LastName     string  `json:"lastname,omitempty"`
	Email        string  `json:"email,omitempty"`
	Organization string  `json:"organization,omitempty"`
	AssignedEdge string  `json:"assigned_edge,omitempty"`
	LastActive   string  `json:"last_active,omitempty"`
}

// Reading is one append-only measurement record (§3).
type Reading struct {
	StationID      string  `json:"station_id"`
	EdgeID         string  `json:"edge_id"`
	SensorModel    string  `json:"sensor_model"`
	SensorProtocol string  `json:"sensor_protocol,omitempty"`
	Measurement    string  `json:"measurement"`
	Value          float64 `json:"value"`
	RSSI           int     `json:"rssi"`
	Latitude       float64 `json:"latitude"`
	Longitude      float64 `json:"longitude"`
	Altitude       float64 `json:"altitude"`
	Timestamp      string  `json:"timestamp"`
}

// Config holds the façade's endpoint and retry tunables.
type Config struct {
	BaseURL    string
	Timeout    time.Duration // per-call timeout, default 5s (§5)
	MaxRetries int           // bounded retries on PersistenceTransient, default 3 (§7)
	Backoff    backoff.Config
}

// DefaultConfig matches the spec's defaults.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:    baseURL,
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		Backoff:    backoff.Default(),
	}
}

// Client is the persistence façade.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs a Client.
func New(cfg Config) *Client {
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// GetStation fetches a station by id. A 404 surfaces as
// (nil, nil) — "unknown" is not an error condition callers must
// distinguish from failure.
func (c *Client) GetStation(ctx context.Context, id string) (*Station, error) {
	var out Station
	found, err := c.doWithRetry(ctx, http.MethodGet, "/api/stations/"+id, nil, &out)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &out, nil
}

// UpsertStation creates or updates a station record.
func (c *Client) UpsertStation(ctx context.Context, s Station) error {
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/stations", s, nil)
	return err
}

// InsertReading appends one reading.
func (c *Client) InsertReading(ctx context.Context, r Reading) error {
	_, err := c.doWithRetry(ctx, http.MethodPost, "/api/readings", r, nil)
	return err
}

// UpdateStationLastActive bumps a station's last_active timestamp.
func (c *Client) UpdateStationLastActive(ctx context.Context, id, timestamp string) error {
	body := struct {
		LastActive string `json:"last_active"`
	}{LastActive: timestamp}
	_, err := c.doWithRetry(ctx, http.MethodPut, "/api/stations/"+id, body, nil)
	return err
}

// doWithRetry performs one HTTP call, retrying PersistenceTransient
// failures up to MaxRetries times with jittered exponential backoff.
// PersistenceLogical (4xx) is never retried. found is false only for
// a 404 on a GET.
func (c *Client) doWithRetry(ctx context.Context, method, path string, body, out interface{}) (found bool, err error) {
	seq := backoff.NewSequence(c.cfg.Backoff)

	for attempt := 0; ; attempt++ {
		found, err = c.do(ctx, method, path, body, out)
		if err == nil {
			return found, nil
		}

		var logical *PersistenceLogical
		if asPersistenceLogical(err, &logical) {
			return false, err
		}

		if attempt >= c.cfg.MaxRetries {
			return false, err
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(seq.Next()):
		}
	}
}

func asPersistenceLogical(err error, target **PersistenceLogical) bool {
	if pl, ok := err.(*PersistenceLogical); ok {
		*target = pl
		return true
	}
	return false
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) (found bool, err error) {
	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return false, fmt.Errorf("encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reqBody)
	if err != nil {
		return false, fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, &PersistenceTransient{Cause: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound && method == http.MethodGet:
		return false, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return false, &PersistenceLogical{StatusCode: resp.StatusCode, Body: string(respBody)}
	case resp.StatusCode >= 500:
		return false, &PersistenceTransient{Cause: fmt.Errorf("status %d: %s", resp.StatusCode, respBody)}
	}

	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
	}
	return true, nil
}
