// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

// Package acquisition drives the request/reply cycle: it paces triggers
// against the live poll interval, reads one reply per request and hands
// decoded readings to a sink.
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fchabrun/moist/pkg/link"
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/fchabrun/moist/pkg/settings"
	"github.com/rs/zerolog"
)

// State is the request state of the loop
type State int

const (
	StateIdle State = iota
	StateRequestSent
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRequestSent:
		return "REQUEST_SENT"
	}
	return "UNKNOWN"
}

const (
	DefaultTickInterval  = 50 * time.Millisecond
	DefaultReplyTimeout  = 5 * time.Second
	DefaultSettingsRetry = 5 * time.Second
	DefaultSchemaRetry   = 5 * time.Second
)

// Link is the device side of the exchange
type Link interface {
	Trigger() error
	Available() int
	Discard() int
	ReadLine(ctx context.Context) (string, error)
}

// SettingsSource supplies the settings snapshot for each cycle
type SettingsSource interface {
	Load() (settings.Settings, error)
}

// Sink receives every successfully decoded reading
type Sink interface {
	Store(ctx context.Context, r *moist_protocol.Reading) error
}

// SinkFunc adapts a function to a Sink
type SinkFunc func(ctx context.Context, r *moist_protocol.Reading) error

// Store calls f(ctx, r)
func (f SinkFunc) Store(ctx context.Context, r *moist_protocol.Reading) error {
	return f(ctx, r)
}

// Option configures a Loop
type Option func(*Loop)

// WithTickInterval sets how often the state machine is stepped
func WithTickInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.tickInterval = d
		}
	}
}

// WithReplyTimeout sets how long a request may stay outstanding
func WithReplyTimeout(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.replyTimeout = d
		}
	}
}

// WithSettingsRetry sets the wait between settings loads while no snapshot exists
func WithSettingsRetry(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.settingsRetry = d
		}
	}
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		l.now = now
	}
}

// WithObserver registers a callback for loop events
func WithObserver(o Observer) Option {
	return func(l *Loop) {
		l.observers = append(l.observers, o)
	}
}

// WithStatsInterval logs the statistics summary every d (0 disables)
func WithStatsInterval(d time.Duration) Option {
	return func(l *Loop) {
		l.statsInterval = d
	}
}

// Loop is the acquisition state machine. Run must be called from one goroutine only.
type Loop struct {
	link     Link
	settings SettingsSource
	sink     Sink
	logger   zerolog.Logger
	stats    *Statistics

	tickInterval  time.Duration
	replyTimeout  time.Duration
	settingsRetry time.Duration
	statsInterval time.Duration
	now           func() time.Time
	observers     []Observer

	state    State
	sent     bool
	lastSend time.Time
	snapshot *settings.Settings
}

// New creates a loop in StateIdle with no settings snapshot
func New(lnk Link, src SettingsSource, sink Sink, logger zerolog.Logger, opts ...Option) *Loop {
	l := &Loop{
		link:          lnk,
		settings:      src,
		sink:          sink,
		logger:        logger.With().Str("component", "acquisition").Logger(),
		stats:         NewStatistics(),
		tickInterval:  DefaultTickInterval,
		replyTimeout:  DefaultReplyTimeout,
		settingsRetry: DefaultSettingsRetry,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// State returns the current request state
func (l *Loop) State() State {
	return l.state
}

// Statistics returns the loop counters
func (l *Loop) Statistics() *Statistics {
	return l.stats
}

// Settings returns the snapshot in use, if any
func (l *Loop) Settings() (settings.Settings, bool) {
	if l.snapshot == nil {
		return settings.Settings{}, false
	}
	return *l.snapshot, true
}

// Run steps the state machine every tick until ctx is done or the link fails.
// Steady-state failures are logged and counted; only a dead link ends the loop.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.tickInterval)
	defer ticker.Stop()

	var statsC <-chan time.Time
	if l.statsInterval > 0 {
		statsTicker := time.NewTicker(l.statsInterval)
		defer statsTicker.Stop()
		statsC = statsTicker.C
	}

	l.logger.Info().
		Dur("tick", l.tickInterval).
		Dur("reply_timeout", l.replyTimeout).
		Msg("acquisition loop started")

	for {
		if err := l.tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error().Err(err).Msg("acquisition loop stopped")
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-statsC:
			l.logger.Info().Msg("\n" + l.stats.String())
		case <-ticker.C:
		}
	}
}

// tick advances the state machine by at most one transition
func (l *Loop) tick(ctx context.Context) error {
	switch l.state {
	case StateIdle:
		return l.tickIdle(ctx)
	case StateRequestSent:
		return l.tickRequestSent(ctx)
	}
	return fmt.Errorf("invalid state %d", l.state)
}

func (l *Loop) tickIdle(ctx context.Context) error {
	if l.sent && l.snapshot != nil && l.now().Sub(l.lastSend) < l.snapshot.LoopDelay() {
		return nil
	}

	if err := l.refreshSettings(ctx); err != nil {
		return err
	}

	// A reply that missed its deadline must not answer the next request
	if n := l.link.Discard(); n > 0 {
		l.logger.Warn().Int("bytes", n).Msg("discarded late reply")
	}

	if err := l.link.Trigger(); err != nil {
		return fmt.Errorf("trigger request: %w", err)
	}

	l.lastSend = l.now()
	l.sent = true
	l.state = StateRequestSent
	l.logger.Debug().Msg("request sent")
	l.emit(Event{Type: EventRequestSent})
	return nil
}

// refreshSettings replaces the snapshot, keeps the previous one on failure,
// or blocks until a first snapshot can be loaded
func (l *Loop) refreshSettings(ctx context.Context) error {
	for {
		s, err := l.settings.Load()
		if err == nil {
			if l.snapshot == nil || *l.snapshot != s {
				l.logger.Info().Float64("loop_delay_seconds", s.LoopDelaySeconds).Msg("settings loaded")
			}
			l.snapshot = &s
			l.emit(Event{Type: EventSettingsLoaded, Settings: s})
			return nil
		}

		if l.snapshot != nil {
			l.logger.Warn().Err(err).
				Float64("loop_delay_seconds", l.snapshot.LoopDelaySeconds).
				Msg("settings unavailable, keeping previous snapshot")
			l.emit(Event{Type: EventSettingsFallback, Settings: *l.snapshot, Err: err})
			return nil
		}

		l.logger.Error().Err(err).Dur("retry", l.settingsRetry).Msg("no settings available, retrying")
		timer := time.NewTimer(l.settingsRetry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func (l *Loop) tickRequestSent(ctx context.Context) error {
	if l.link.Available() == 0 {
		if l.now().Sub(l.lastSend) >= l.replyTimeout {
			l.state = StateIdle
			l.logger.Warn().Dur("timeout", l.replyTimeout).Msg("no reply, request abandoned")
			l.emit(Event{Type: EventReplyMissed, Err: fmt.Errorf("no reply within %s", l.replyTimeout)})
		}
		return nil
	}

	line, err := l.link.ReadLine(ctx)
	l.state = StateIdle
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, link.ErrLinkClosed) {
			return err
		}
		l.logger.Warn().Err(err).Msg("reply read failed")
		l.emit(Event{Type: EventReplyMissed, Err: err})
		return nil
	}

	l.emit(Event{Type: EventReplyReceived, Line: line})
	l.handleReply(ctx, line)
	return nil
}

// handleReply decodes and stores one reply; failures drop the reading
func (l *Loop) handleReply(ctx context.Context, line string) {
	reading, err := moist_protocol.ParseReading(line)
	if err != nil {
		l.logger.Warn().Err(err).Str("line", line).Msg("dropping malformed reply")
		l.emit(Event{Type: EventDecodeError, Line: line, Err: err})
		return
	}

	if err := l.sink.Store(ctx, reading); err != nil {
		l.logger.Error().Err(err).Str("line", line).Msg("unable to store reading")
		l.emit(Event{Type: EventPersistFailure, Line: line, Reading: reading, Err: err})
		return
	}

	l.logger.Debug().Str("line", line).Int("sensors", len(reading.Pairs())).Msg("reading stored")
	l.emit(Event{Type: EventReadingStored, Line: line, Reading: reading})
}

func (l *Loop) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = l.now()
	}
	l.stats.Record(ev)
	for _, o := range l.observers {
		o(ev)
	}
}
