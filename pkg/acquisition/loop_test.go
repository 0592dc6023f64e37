// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

package acquisition

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/fchabrun/moist/pkg/link"
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/fchabrun/moist/pkg/settings"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================
// Fakes
// ============================================================

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

type fakeLink struct {
	triggers   int
	discarded  []string
	triggerErr error
	replies    []string
	readErr    error
}

func (f *fakeLink) Trigger() error {
	if f.triggerErr != nil {
		return f.triggerErr
	}
	f.triggers++
	return nil
}

func (f *fakeLink) Available() int {
	if f.readErr != nil {
		return 1
	}
	if len(f.replies) == 0 {
		return 0
	}
	return len(f.replies[0]) + 1
}

func (f *fakeLink) Discard() int {
	n := 0
	for _, r := range f.replies {
		n += len(r) + 1
	}
	f.discarded = append(f.discarded, f.replies...)
	f.replies = nil
	return n
}

func (f *fakeLink) ReadLine(context.Context) (string, error) {
	if f.readErr != nil {
		err := f.readErr
		f.readErr = nil
		return "", err
	}
	line := f.replies[0]
	f.replies = f.replies[1:]
	return line, nil
}

type fakeSettings struct {
	calls    int
	failures int // the first n loads fail
	err      error
	current  settings.Settings
}

func (f *fakeSettings) Load() (settings.Settings, error) {
	f.calls++
	if f.err != nil {
		return settings.Settings{}, f.err
	}
	if f.calls <= f.failures {
		return settings.Settings{}, settings.ErrConfigUnavailable
	}
	return f.current, nil
}

type fakeSink struct {
	stored []*moist_protocol.Reading
	err    error
}

func (f *fakeSink) Store(_ context.Context, r *moist_protocol.Reading) error {
	if f.err != nil {
		return f.err
	}
	f.stored = append(f.stored, r)
	return nil
}

type harness struct {
	clock    *fakeClock
	link     *fakeLink
	settings *fakeSettings
	sink     *fakeSink
	loop     *Loop
}

func newHarness(delay float64, opts ...Option) *harness {
	h := &harness{
		clock:    &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
		link:     &fakeLink{},
		settings: &fakeSettings{current: settings.Settings{LoopDelaySeconds: delay}},
		sink:     &fakeSink{},
	}
	opts = append([]Option{WithClock(h.clock.now), WithSettingsRetry(time.Millisecond)}, opts...)
	h.loop = New(h.link, h.settings, h.sink, zerolog.Nop(), opts...)
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	require.NoError(t, h.loop.tick(context.Background()))
}

// ============================================================
// Pacing Tests
// ============================================================

func TestFirstTickTriggers(t *testing.T) {
	h := newHarness(10)

	h.tick(t)

	assert.Equal(t, 1, h.link.triggers)
	assert.Equal(t, StateRequestSent, h.loop.State())
	assert.Equal(t, 1, h.settings.calls, "settings refreshed before sending")
}

func TestSingleOutstandingRequest(t *testing.T) {
	h := newHarness(0)

	h.tick(t)
	for i := 0; i < 10; i++ {
		h.clock.advance(100 * time.Millisecond)
		h.tick(t)
	}

	assert.Equal(t, 1, h.link.triggers)
	assert.Equal(t, StateRequestSent, h.loop.State())
}

func TestReplyReturnsToIdle(t *testing.T) {
	h := newHarness(10)

	h.tick(t)
	h.link.replies = []string{"0:519 1:400"}
	h.tick(t)

	assert.Equal(t, StateIdle, h.loop.State())
	require.Len(t, h.sink.stored, 1)
	assert.Equal(t, []moist_protocol.Pair{{Index: 0, Value: "519"}, {Index: 1, Value: "400"}}, h.sink.stored[0].Pairs())
	assert.Equal(t, "0:519 1:400", h.sink.stored[0].Raw())
}

func TestZeroDelayRetriggersEveryIdleTick(t *testing.T) {
	h := newHarness(0)

	for i := 0; i < 5; i++ {
		h.tick(t)
		h.link.replies = []string{fmt.Sprintf("0:%d", i)}
		h.tick(t)
	}

	assert.Equal(t, 5, h.link.triggers)
	assert.Len(t, h.sink.stored, 5)
	assert.Equal(t, 5, h.settings.calls, "settings read once per cycle")
}

func TestDelayPacesRequests(t *testing.T) {
	h := newHarness(10)

	h.tick(t)
	h.link.replies = []string{"0:1"}
	h.tick(t)

	h.clock.advance(9 * time.Second)
	h.tick(t)
	assert.Equal(t, 1, h.link.triggers)

	h.clock.advance(time.Second)
	h.tick(t)
	assert.Equal(t, 2, h.link.triggers)
}

func TestDelayChangeAppliesNextCycle(t *testing.T) {
	h := newHarness(10)

	h.tick(t)
	h.link.replies = []string{"0:1"}
	h.tick(t)

	h.settings.current = settings.Settings{LoopDelaySeconds: 1}
	h.clock.advance(10 * time.Second)
	h.tick(t)
	h.link.replies = []string{"0:1"}
	h.tick(t)

	h.clock.advance(time.Second)
	h.tick(t)
	assert.Equal(t, 3, h.link.triggers)

	snapshot, ok := h.loop.Settings()
	require.True(t, ok)
	assert.Equal(t, 1.0, snapshot.LoopDelaySeconds)
}

// ============================================================
// Reply Timeout Tests
// ============================================================

func TestReplyTimeoutForcesIdle(t *testing.T) {
	h := newHarness(0, WithReplyTimeout(5*time.Second))

	h.tick(t)
	h.clock.advance(4 * time.Second)
	h.tick(t)
	assert.Equal(t, StateRequestSent, h.loop.State())

	h.clock.advance(time.Second)
	h.tick(t)
	assert.Equal(t, StateIdle, h.loop.State())
	assert.Equal(t, uint64(1), h.loop.Statistics().Snapshot().MissedReplies)

	h.tick(t)
	assert.Equal(t, 2, h.link.triggers, "next cycle issues a new request")
}

func TestLateReplyIsNotAttributedToNextRequest(t *testing.T) {
	h := newHarness(5, WithReplyTimeout(5*time.Second))

	h.tick(t)
	h.clock.advance(5 * time.Second)
	h.tick(t)
	require.Equal(t, StateIdle, h.loop.State())

	// The board answers the abandoned request after its deadline
	h.link.replies = []string{"0:111"}
	h.clock.advance(5 * time.Second)
	h.tick(t)
	require.Equal(t, 2, h.link.triggers)
	assert.Equal(t, []string{"0:111"}, h.link.discarded)

	h.tick(t)
	assert.Empty(t, h.sink.stored, "late reply dropped")
	assert.Equal(t, StateRequestSent, h.loop.State())

	h.link.replies = []string{"0:222"}
	h.tick(t)
	require.Len(t, h.sink.stored, 1)
	assert.Equal(t, "0:222", h.sink.stored[0].Raw())
}

func TestReadTimeoutCountsAsMissed(t *testing.T) {
	h := newHarness(0)

	h.tick(t)
	h.link.readErr = fmt.Errorf("%w: discarded 3 bytes of incomplete frame", link.ErrReadTimeout)
	h.tick(t)

	assert.Equal(t, StateIdle, h.loop.State())
	assert.Equal(t, uint64(1), h.loop.Statistics().Snapshot().MissedReplies)
	assert.Empty(t, h.sink.stored)
}

// ============================================================
// Failure Policy Tests
// ============================================================

func TestDecodeErrorDropsReading(t *testing.T) {
	h := newHarness(0)

	h.tick(t)
	h.link.replies = []string{"0513"}
	h.tick(t)

	assert.Equal(t, StateIdle, h.loop.State())
	assert.Empty(t, h.sink.stored)
	assert.Equal(t, uint64(1), h.loop.Statistics().Snapshot().DecodeErrors)

	h.tick(t)
	h.link.replies = []string{"0:513"}
	h.tick(t)
	assert.Len(t, h.sink.stored, 1, "loop continues after a malformed reply")
}

func TestPersistFailureDropsReading(t *testing.T) {
	h := newHarness(0)
	h.sink.err = errors.New("database down")

	var events []EventType
	h.loop.observers = append(h.loop.observers, func(ev Event) { events = append(events, ev.Type) })

	h.tick(t)
	h.link.replies = []string{"0:1"}
	h.tick(t)

	c := h.loop.Statistics().Snapshot()
	assert.Equal(t, uint64(1), c.PersistFailures)
	assert.Equal(t, uint64(0), c.Stored)
	assert.Equal(t, StateIdle, h.loop.State())
	assert.Contains(t, events, EventPersistFailure)
}

func TestTriggerFailureIsFatal(t *testing.T) {
	h := newHarness(0)
	h.link.triggerErr = fmt.Errorf("%w: write request: device gone", link.ErrLinkUnavailable)

	err := h.loop.tick(context.Background())
	assert.ErrorIs(t, err, link.ErrLinkUnavailable)
	assert.Equal(t, StateIdle, h.loop.State())
}

func TestClosedLinkIsFatal(t *testing.T) {
	h := newHarness(0)

	h.tick(t)
	h.link.readErr = fmt.Errorf("%w: EOF", link.ErrLinkClosed)
	err := h.loop.tick(context.Background())
	assert.ErrorIs(t, err, link.ErrLinkClosed)
}

// ============================================================
// Settings Refresh Tests
// ============================================================

func TestSettingsFallbackKeepsSnapshot(t *testing.T) {
	h := newHarness(0)

	h.tick(t)
	h.link.replies = []string{"0:1"}
	h.tick(t)

	h.settings.err = settings.ErrConfigUnavailable
	h.tick(t)

	assert.Equal(t, 2, h.link.triggers)
	assert.Equal(t, uint64(1), h.loop.Statistics().Snapshot().SettingsFallbacks)
	snapshot, ok := h.loop.Settings()
	require.True(t, ok)
	assert.Equal(t, 0.0, snapshot.LoopDelaySeconds)
}

func TestSettingsBlockUntilFirstSnapshot(t *testing.T) {
	h := newHarness(3)
	h.settings.failures = 2

	h.tick(t)

	assert.Equal(t, 3, h.settings.calls)
	assert.Equal(t, 1, h.link.triggers)
}

func TestSettingsBlockHonorsCancellation(t *testing.T) {
	h := newHarness(3, WithSettingsRetry(time.Hour))
	h.settings.err = settings.ErrConfigUnavailable

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := h.loop.tick(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, h.link.triggers)
}

// ============================================================
// Run / WaitForSchema Tests
// ============================================================

func TestRunStopsOnCancel(t *testing.T) {
	lnk := &fakeLink{}
	src := &fakeSettings{current: settings.Settings{LoopDelaySeconds: 60}}
	loop := New(lnk, src, &fakeSink{}, zerolog.Nop(), WithTickInterval(time.Millisecond))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	err := loop.Run(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRunReturnsOnTriggerFailure(t *testing.T) {
	lnk := &fakeLink{triggerErr: link.ErrLinkUnavailable}
	loop := New(lnk, &fakeSettings{}, &fakeSink{}, zerolog.Nop(), WithTickInterval(time.Millisecond))

	err := loop.Run(context.Background())
	assert.ErrorIs(t, err, link.ErrLinkUnavailable)
}

func TestWaitForSchemaRetries(t *testing.T) {
	h := newHarness(0)

	attempts := 0
	ensure := func(context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection refused")
		}
		return nil
	}

	require.NoError(t, h.loop.WaitForSchema(context.Background(), ensure, time.Millisecond))
	assert.Equal(t, 3, attempts)
	assert.Equal(t, uint64(3), h.loop.Statistics().Snapshot().SchemaAttempts)
}

func TestWaitForSchemaHonorsCancellation(t *testing.T) {
	h := newHarness(0)

	ctx, cancel := context.WithCancel(context.Background())
	ensure := func(context.Context) error {
		cancel()
		return errors.New("connection refused")
	}

	err := h.loop.WaitForSchema(ctx, ensure, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
}
