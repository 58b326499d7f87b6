package store

import (
	"context"
	"database/sql"
	"time"
)

// ChangeEvent reports that at least one setting changed since the last poll.
type ChangeEvent struct {
	Marker string // MAX(updated_at) across the settings table
}

// Watch polls the settings table for changes and emits events on the
// returned channel. The caller must cancel ctx to terminate the watcher.
// The provided interval is clamped to a minimum of 500ms to avoid excessive
// polling.
func (s *Store) Watch(ctx context.Context, interval time.Duration) (<-chan ChangeEvent, error) {
	if s == nil {
		return nil, sql.ErrConnDone
	}

	if interval <= 0 {
		interval = time.Second
	}
	if interval < 500*time.Millisecond {
		interval = 500 * time.Millisecond
	}

	out := make(chan ChangeEvent, 1)

	last, err := s.changeMarker(ctx)
	if err != nil {
		return nil, err
	}

	go func() {
		defer close(out)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				next, err := s.changeMarker(ctx)
				if err != nil {
					continue
				}
				if next != last {
					last = next
					select {
					case out <- ChangeEvent{Marker: next}:
					default:
					}
				}
			}
		}
	}()

	return out, nil
}

func (s *Store) changeMarker(ctx context.Context) (string, error) {
	var marker string
	err := s.db.QueryRowContext(ctx, `
        SELECT IFNULL(MAX(updated_at), '')
        FROM settings
        WHERE device_name = ?
    `, s.deviceName).Scan(&marker)
	if err != nil {
		return "", err
	}
	return marker, nil
}
