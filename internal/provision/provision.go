// Package provision implements the settings read/apply contract consumed by
// the HTTP portal.
package provision

import (
	"context"
	"fmt"
	"net/url"
	"sort"

	"github.com/google/uuid"

	configstore "github.com/lumio-dev/lumio/internal/config/store"
	"github.com/lumio-dev/lumio/internal/eventbus"
	"github.com/lumio-dev/lumio/internal/indicator"
)

// RedactedPassword is returned in place of the stored password on every
// read path. The device never needs to display the real value.
const RedactedPassword = "********"

// Settings is the read view of the provisioning surface.
type Settings struct {
	SSID     string `json:"ssid"`
	Password string `json:"pass"`
	LEDColor string `json:"led_color"`
}

// ApplyResult reports the outcome of an ApplySettings call. Field failures
// are collected per key; a bad field never aborts the remaining fields.
type ApplyResult struct {
	Saved          []string
	FieldErrors    map[string]string
	RebootRequired bool
}

// fieldLimits maps accepted form keys to the maximum stored length.
var fieldLimits = map[string]int{
	configstore.KeySSID:     configstore.MaxSSIDLen,
	configstore.KeyPassword: configstore.MaxPasswordLen,
	configstore.KeyLEDColor: configstore.MaxLEDColorLen,
}

// rebootKeys are the settings whose change invalidates the current network
// identity. Saving any of them requires a restart of the state machine,
// implemented as a full daemon restart.
var rebootKeys = map[string]bool{
	configstore.KeySSID:     true,
	configstore.KeyPassword: true,
}

// Service exposes settings reads and writes over the config store.
type Service struct {
	store *configstore.Store
	bus   *eventbus.Bus
}

// New creates a provisioning service.
func New(store *configstore.Store, bus *eventbus.Bus) *Service {
	return &Service{store: store, bus: bus}
}

// GetSettings returns the current settings with defaults applied for
// missing keys. The password is redacted; only its presence is conveyed
// (an empty string means none has been saved).
func (s *Service) GetSettings(ctx context.Context) (Settings, error) {
	stored, err := s.store.LoadSettings(ctx,
		configstore.KeySSID, configstore.KeyPassword, configstore.KeyLEDColor)
	if err != nil {
		return Settings{}, fmt.Errorf("provision: load settings: %w", err)
	}

	out := Settings{
		SSID:     stored[configstore.KeySSID],
		LEDColor: stored[configstore.KeyLEDColor],
	}
	if out.LEDColor == "" {
		out.LEDColor = indicator.DefaultColorSetting
	}
	if stored[configstore.KeyPassword] != "" {
		out.Password = RedactedPassword
	}
	return out, nil
}

// ApplySettings percent-decodes, validates, and persists each form field
// independently. Unknown keys and malformed values are recorded in
// FieldErrors without affecting the other fields. RebootRequired is set
// when a network-identity key was saved; the caller is expected to flush
// its response and then trigger the restart.
func (s *Service) ApplySettings(ctx context.Context, fields map[string]string) (ApplyResult, error) {
	result := ApplyResult{FieldErrors: make(map[string]string)}

	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		limit, known := fieldLimits[key]
		if !known {
			result.FieldErrors[key] = "unknown setting"
			continue
		}

		value, err := url.QueryUnescape(fields[key])
		if err != nil {
			result.FieldErrors[key] = fmt.Sprintf("malformed encoding: %v", err)
			continue
		}

		if len(value) > limit {
			result.FieldErrors[key] = fmt.Sprintf("value exceeds %d bytes", limit)
			continue
		}

		if err := s.store.SaveSetting(ctx, key, value); err != nil {
			result.FieldErrors[key] = err.Error()
			continue
		}

		result.Saved = append(result.Saved, key)
		if rebootKeys[key] {
			result.RebootRequired = true
		}
	}

	if len(result.Saved) > 0 {
		eventbus.PublishWithOpts(ctx, s.bus, eventbus.Settings.Applied, eventbus.SourceProvisioning,
			eventbus.SettingsAppliedEvent{
				Keys:           append([]string(nil), result.Saved...),
				RebootRequired: result.RebootRequired,
			},
			eventbus.WithCorrelationID(uuid.NewString()))
	}

	return result, nil
}
