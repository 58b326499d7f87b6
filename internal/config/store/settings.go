package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Well-known setting keys and the capacity of the fixed buffers they are
// read into on the device. A stored value longer than its capacity is
// reported as an error rather than truncated.
const (
	KeySSID     = "ssid"
	KeyPassword = "pass"
	KeyLEDColor = "led_color"

	MaxSSIDLen     = 31
	MaxPasswordLen = 63
	MaxLEDColorLen = 7
)

// SaveSetting upserts a single key/value pair for the device.
func (s *Store) SaveSetting(ctx context.Context, key, value string) error {
	return s.SaveSettings(ctx, map[string]string{key: value})
}

// SaveSettings upserts the provided key/value pairs in one transaction.
func (s *Store) SaveSettings(ctx context.Context, values map[string]string) error {
	if len(values) == 0 {
		return nil
	}

	return s.withTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
            INSERT INTO settings (device_name, key, value, updated_at)
            VALUES (?, ?, ?, CURRENT_TIMESTAMP)
            ON CONFLICT(device_name, key) DO UPDATE SET
                value = excluded.value,
                updated_at = CURRENT_TIMESTAMP
        `)
		if err != nil {
			return fmt.Errorf("store: prepare save settings: %w", err)
		}
		defer stmt.Close()

		for key, value := range values {
			if strings.TrimSpace(key) == "" {
				return errors.New("store: setting key must not be empty")
			}
			if _, err := stmt.ExecContext(ctx, s.deviceName, key, value); err != nil {
				return fmt.Errorf("store: exec save setting %q: %w", key, err)
			}
		}
		return nil
	})
}

// LoadSetting returns the value stored under key. A missing key yields a
// NotFoundError. When maxLen is positive, a stored value longer than maxLen
// is an error: settings are read into fixed buffers on the device and
// truncating a credential would corrupt it silently.
func (s *Store) LoadSetting(ctx context.Context, key string, maxLen int) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `
        SELECT value FROM settings WHERE device_name = ? AND key = ?
    `, s.deviceName, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", NotFoundError{Key: key}
	}
	if err != nil {
		return "", fmt.Errorf("store: load setting %q: %w", key, err)
	}

	if maxLen > 0 && len(value) > maxLen {
		return "", fmt.Errorf("store: setting %q is %d bytes, exceeds capacity %d", key, len(value), maxLen)
	}

	return value, nil
}

// LoadSettings returns key/value settings for the device. Optional keys
// limit the selection to specific entries; missing keys are simply absent
// from the result.
func (s *Store) LoadSettings(ctx context.Context, keys ...string) (map[string]string, error) {
	query := `SELECT key, value FROM settings WHERE device_name = ?`
	args := []any{s.deviceName}

	if len(keys) > 0 {
		placeholders := strings.TrimRight(strings.Repeat("?,", len(keys)), ",")
		query += fmt.Sprintf(" AND key IN (%s)", placeholders)
		for _, key := range keys {
			args = append(args, key)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: load settings: %w", err)
	}
	defer rows.Close()

	result := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: scan settings row: %w", err)
		}
		result[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: iterate settings rows: %w", err)
	}

	return result, nil
}
