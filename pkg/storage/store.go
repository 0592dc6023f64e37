// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

// Package storage persists decoded readings into the measurement table.
//
// Every call opens its own connection and closes it before returning, so a
// database restart between two cycles is invisible to the daemon.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/rs/zerolog"
)

var (
	// ErrSchemaUnready is returned when the measurement table cannot be ensured
	ErrSchemaUnready = errors.New("schema unready")
	// ErrPersistenceFailure is returned when a reading cannot be stored
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrInvalidSensorCount is returned for a sensor count below one
	ErrInvalidSensorCount = errors.New("sensor count must be at least 1")
)

// Config contains the discrete connection parameters of the measurement database
type Config struct {
	Platform   string
	Host       string
	Port       int
	User       string
	Password   string
	Database   string
	MaxSensors int
}

// Opener opens a database handle; the store closes it after each call
type Opener func(ctx context.Context) (*sql.DB, error)

// Option configures a Store
type Option func(*Store)

// WithOpener replaces the default sql.Open + ping opener
func WithOpener(open Opener) Option {
	return func(s *Store) {
		s.open = open
	}
}

// WithClock replaces time.Now for row timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Store implements schema management, inserts and the dashboard read contract
type Store struct {
	dialect    Dialect
	maxSensors int
	open       Opener
	now        func() time.Time
	logger     zerolog.Logger
}

// Record is one stored measurement row
type Record struct {
	Time    time.Time
	Event   string
	Sensors []sql.NullFloat64 // indexed by sensor index
}

// New creates a store for the configured platform
func New(cfg Config, logger zerolog.Logger, opts ...Option) (*Store, error) {
	dialect, err := LookupDialect(cfg.Platform)
	if err != nil {
		return nil, err
	}

	s := &Store{
		dialect:    dialect,
		maxSensors: cfg.MaxSensors,
		now:        time.Now,
		logger:     logger.With().Str("component", "storage").Str("platform", dialect.Name).Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.open == nil {
		dsn, err := dialect.DSN(cfg)
		if err != nil {
			return nil, err
		}
		s.open = defaultOpener(dialect.Driver, dsn)
	}

	return s, nil
}

// defaultOpener validates the connection by pinging before returning the handle
func defaultOpener(driver, dsn string) Opener {
	return func(ctx context.Context) (*sql.DB, error) {
		db, err := sql.Open(driver, dsn)
		if err != nil {
			return nil, fmt.Errorf("open connection: %w", err)
		}
		db.SetMaxOpenConns(1)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping: %w", err)
		}
		return db, nil
	}
}

// Dialect returns the dialect in use
func (s *Store) Dialect() Dialect {
	return s.dialect
}

// MaxSensors returns the configured schema width
func (s *Store) MaxSensors() int {
	return s.maxSensors
}

// withConn runs fn on a fresh connection and always closes it
func (s *Store) withConn(ctx context.Context, fn func(db *sql.DB) error) error {
	db, err := s.open(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			s.logger.Warn().Err(cerr).Msg("closing database connection")
		}
	}()
	return fn(db)
}

// EnsureSchema creates the measurement table with maxSensors sensor columns if it does not exist
func (s *Store) EnsureSchema(ctx context.Context, maxSensors int) error {
	if maxSensors < 1 {
		s.logger.Error().Int("max_sensors", maxSensors).Msg("unable to init db")
		return fmt.Errorf("%w: %w (got %d)", ErrSchemaUnready, ErrInvalidSensorCount, maxSensors)
	}

	query := createTableSQL(s.dialect, maxSensors)
	s.logger.Info().Str("query", query).Msg("initializing db")

	err := s.withConn(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSchemaUnready, err)
	}
	return nil
}

// DropSchema removes the measurement table if it exists
func (s *Store) DropSchema(ctx context.Context) error {
	err := s.withConn(ctx, func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, dropTableSQL())
		return err
	})
	if err != nil {
		return fmt.Errorf("drop %s: %w", TableName, err)
	}
	s.logger.Info().Str("table", TableName).Msg("dropped measurement table")
	return nil
}

// Insert stores one reading as a new row listing exactly the sensor columns it carries.
// Values are converted here; a non-numeric value or out of range index fails
// before any connection is opened.
func (s *Store) Insert(ctx context.Context, pairs []moist_protocol.Pair) error {
	if errs := moist_protocol.ValidateReading(pairs, s.maxSensors); len(errs) > 0 {
		messages := make([]string, len(errs))
		for i, e := range errs {
			messages[i] = e.Message
		}
		return fmt.Errorf("%w: %s", ErrPersistenceFailure, strings.Join(messages, "; "))
	}

	indices := make([]int, len(pairs))
	args := make([]any, 0, len(pairs)+2)
	args = append(args, s.now(), moist_protocol.EventEntry)
	for i, p := range pairs {
		v, err := moist_protocol.ParseValue(p.Value)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
		}
		indices[i] = p.Index
		args = append(args, v)
	}

	query := insertSQL(s.dialect, indices)
	s.logger.Debug().Str("query", query).Interface("args", args).Msg("inserting into db")

	err := s.withConn(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistenceFailure, err)
	}
	return nil
}

// Query returns the "entry" rows stored between since and until, oldest first
func (s *Store) Query(ctx context.Context, since, until time.Time) ([]Record, error) {
	if s.maxSensors < 1 {
		return nil, ErrInvalidSensorCount
	}

	var records []Record
	err := s.withConn(ctx, func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx, selectSQL(s.dialect, s.maxSensors), moist_protocol.EventEntry, since, until)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var rawTime any
			rec := Record{Sensors: make([]sql.NullFloat64, s.maxSensors)}
			dest := make([]any, 0, s.maxSensors+2)
			dest = append(dest, &rawTime, &rec.Event)
			for i := range rec.Sensors {
				dest = append(dest, &rec.Sensors[i])
			}
			if err := rows.Scan(dest...); err != nil {
				return err
			}
			if rec.Time, err = scanTime(rawTime); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", TableName, err)
	}
	return records, nil
}

// timeLayouts covers the text encodings drivers use when they do not return time.Time
var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
}

func scanTime(v any) (time.Time, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case []byte:
		return parseTimeText(string(t))
	case string:
		return parseTimeText(t)
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unsupported time value %T", v)
}

func parseTimeText(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable time %q", s)
}
