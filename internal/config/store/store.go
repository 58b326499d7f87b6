package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lumio-dev/lumio/internal/config"
)

const defaultBusyTimeout = 5 * time.Second

// Options describes parameters for opening a settings store.
type Options struct {
	DeviceName string // Logical device name (defaults to config.DefaultDevice)
	DBPath     string // Optional override for settings.db path (primarily for tests)
}

// Store provides access to the persisted device settings database.
//
// All writes go through transactions on a single SQLite connection, so a
// concurrent load observes either the old or the new value of a setting,
// never a partial write.
type Store struct {
	db         *sql.DB
	deviceName string
	dbPath     string
}

// NotFoundError indicates a requested setting does not exist.
type NotFoundError struct {
	Key string
}

func (e NotFoundError) Error() string {
	if e.Key == "" {
		return "setting not found"
	}
	return fmt.Sprintf("setting %s not found", e.Key)
}

// IsNotFound returns true when err is (or wraps) a NotFoundError.
func IsNotFound(err error) bool {
	var target NotFoundError
	return errors.As(err, &target)
}

// Open initialises the settings store for the given device.
func Open(opts Options) (*Store, error) {
	if opts.DeviceName == "" {
		opts.DeviceName = config.DefaultDevice
	}

	dbPath := opts.DBPath
	if dbPath == "" {
		paths, err := config.EnsureDeviceDirs(opts.DeviceName)
		if err != nil {
			return nil, fmt.Errorf("store: ensure device directories: %w", err)
		}
		dbPath = paths.ConfigDB
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("store: open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if err := seedDevice(ctx, db, opts.DeviceName); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{
		db:         db,
		deviceName: opts.DeviceName,
		dbPath:     dbPath,
	}, nil
}

// Close finalises the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DeviceName returns the logical device associated with the store.
func (s *Store) DeviceName() string {
	return s.deviceName
}

// Path returns the filesystem path of the backing database.
func (s *Store) Path() string {
	return s.dbPath
}

func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback failed after %v: %w", err, rbErr)
		}
		return err
	}

	return tx.Commit()
}
