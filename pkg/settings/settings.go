// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

// Package settings owns the live-reloadable settings document of the daemon.
//
// The document lives in the run directory as settings.json. It is re-read on
// every acquisition cycle, so editing it changes the poll interval without a
// restart. A missing or unparsable document is replaced with defaults.
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// FileName is the settings document name inside the run directory
const FileName = "settings.json"

// DefaultLoopDelaySeconds is used when no document exists
const DefaultLoopDelaySeconds = 10

// ErrConfigUnavailable is returned when the document exists but cannot be used
var ErrConfigUnavailable = errors.New("settings unavailable")

// Settings is an immutable snapshot of the settings document
type Settings struct {
	LoopDelaySeconds float64 `json:"loop_delay_seconds"`
}

// document is the on-disk form; a nil field means the key is absent
type document struct {
	LoopDelaySeconds *float64 `json:"loop_delay_seconds"`
}

// Defaults returns the settings written when no document is found
func Defaults() Settings {
	return Settings{LoopDelaySeconds: DefaultLoopDelaySeconds}
}

// LoopDelay returns the poll interval as a duration
func (s Settings) LoopDelay() time.Duration {
	return time.Duration(s.LoopDelaySeconds * float64(time.Second))
}

// Validate reports whether the snapshot can drive the acquisition loop
func (s Settings) Validate() error {
	if math.IsNaN(s.LoopDelaySeconds) || math.IsInf(s.LoopDelaySeconds, 0) {
		return fmt.Errorf("loop_delay_seconds must be finite, got %v", s.LoopDelaySeconds)
	}
	if s.LoopDelaySeconds < 0 {
		return fmt.Errorf("loop_delay_seconds must not be negative, got %v", s.LoopDelaySeconds)
	}
	return nil
}

// Store loads, saves and clears the settings document
type Store struct {
	mu     sync.Mutex
	dir    string
	path   string
	logger zerolog.Logger
}

// NewStore creates a store for the settings document in rundir
func NewStore(rundir string, logger zerolog.Logger) *Store {
	return &Store{
		dir:    rundir,
		path:   filepath.Join(rundir, FileName),
		logger: logger.With().Str("component", "settings").Logger(),
	}
}

// Path returns the location of the settings document
func (s *Store) Path() string {
	return s.path
}

// Load reads the settings document.
// A missing, unparsable or incomplete document yields the defaults, which are
// written back as a best-effort side effect. A document that cannot be read
// yields the defaults only if they can be written in its place.
func (s *Store) Load() (Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn().Err(err).Str("path", s.path).Msg("settings unreadable, loading defaults")
			defaults, werr := s.restoreDefaults()
			if werr != nil {
				return Settings{}, fmt.Errorf("%w: read %s: %v", ErrConfigUnavailable, s.path, err)
			}
			return defaults, nil
		}
		s.logger.Info().Str("path", s.path).Msg("no settings found, loading defaults")
		defaults, _ := s.restoreDefaults()
		return defaults, nil
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn().Err(err).Str("path", s.path).Msg("settings unparsable, loading defaults")
		defaults, _ := s.restoreDefaults()
		return defaults, nil
	}
	if doc.LoopDelaySeconds == nil {
		s.logger.Warn().Str("path", s.path).Msg("settings missing loop_delay_seconds, loading defaults")
		defaults, _ := s.restoreDefaults()
		return defaults, nil
	}
	loaded := Settings{LoopDelaySeconds: *doc.LoopDelaySeconds}

	if err := loaded.Validate(); err != nil {
		return Settings{}, fmt.Errorf("%w: %s: %v", ErrConfigUnavailable, s.path, err)
	}

	return loaded, nil
}

// restoreDefaults writes the defaults back and returns them along with the
// write error, if any. Must be called with s.mu held.
func (s *Store) restoreDefaults() (Settings, error) {
	defaults := Defaults()
	if err := s.write(defaults); err != nil {
		s.logger.Error().Err(err).Str("path", s.path).Msg("could not save default settings")
		return defaults, err
	}
	s.logger.Info().Str("path", s.path).Msg("saved default settings")
	return defaults, nil
}

// Save validates and atomically replaces the settings document
func (s *Store) Save(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(settings)
}

// Clear removes the settings document.
// Returns true if a document existed.
func (s *Store) Clear() (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info().Str("path", s.path).Msg("settings file does not exist, no change")
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("remove %s: %w", s.path, err)
	}
	s.logger.Info().Str("path", s.path).Msg("removed settings file")
	return true, nil
}

// write replaces the document through a temp file so readers never see a partial write
func (s *Store) write(settings Settings) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	data, err := json.MarshalIndent(settings, "", "    ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, FileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close settings: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace settings: %w", err)
	}
	return nil
}
