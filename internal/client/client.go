// Package client implements the HTTP client the lumio CLI uses to talk to
// a running device.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/lumio-dev/lumio/internal/provision"
)

const (
	// DefaultBaseURL is the mDNS address a freshly provisioned device
	// announces itself under.
	DefaultBaseURL = "http://lumio.local"

	envBaseURL = "LUMIO_BASE_URL"

	defaultTimeout = 10 * time.Second
)

// BaseURL resolves the device address from LUMIO_BASE_URL, falling back to
// the mDNS hostname.
func BaseURL() string {
	if v := os.Getenv(envBaseURL); v != "" {
		return v
	}
	return DefaultBaseURL
}

// Status mirrors the device /status.json response.
type Status struct {
	State         string            `json:"state"`
	Retries       int               `json:"retries"`
	Occupancy     int               `json:"occupancy"`
	RosterSize    int               `json:"roster_size"`
	IndicatorMode string            `json:"indicator_mode"`
	UptimeSeconds float64           `json:"uptime_seconds"`
	Version       string            `json:"version"`
	Events        map[string]uint64 `json:"events,omitempty"`
}

// Client talks to the device HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New creates a client for the given base URL. An empty URL uses BaseURL().
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = BaseURL()
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: defaultTimeout},
	}
}

// Status fetches /status.json.
func (c *Client) Status(ctx context.Context) (Status, error) {
	var status Status
	if err := c.getJSON(ctx, "/status.json", &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// Settings fetches /settings.json. The password field is redacted by the
// device and never round-trips.
func (c *Client) Settings(ctx context.Context) (provision.Settings, error) {
	var settings provision.Settings
	if err := c.getJSON(ctx, "/settings.json", &settings); err != nil {
		return provision.Settings{}, err
	}
	return settings, nil
}

// Save posts the given settings to /save, form-encoded the way the portal
// does. The device may reboot in response to credential changes.
func (c *Client) Save(ctx context.Context, fields map[string]string) error {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var body bytes.Buffer
	for _, key := range keys {
		if body.Len() > 0 {
			body.WriteByte('&')
		}
		body.WriteString(url.QueryEscape(key))
		body.WriteByte('=')
		body.WriteString(url.QueryEscape(fields[key]))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/save", &body)
	if err != nil {
		return fmt.Errorf("client: build save request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: save settings: %w", err)
	}
	defer resp.Body.Close()

	// The portal answers 303 on plain saves and 200 with a reboot notice
	// when credentials changed.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusSeeOther {
		return fmt.Errorf("client: save settings: %s", readError(resp))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("client: build request for %s: %w", path, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("client: GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("client: GET %s: %s", path, readError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("client: decode %s response: %w", path, err)
	}
	return nil
}

// readError extracts the JSON error envelope if present, otherwise reports
// the HTTP status.
func readError(resp *http.Response) string {
	data, err := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
	if err == nil {
		var payload struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			return fmt.Sprintf("%s (HTTP %d)", payload.Error, resp.StatusCode)
		}
	}
	return fmt.Sprintf("HTTP %d", resp.StatusCode)
}
