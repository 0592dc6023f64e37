// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

package link

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDevice is a Connection backed by a pipe: the test plays the board
type fakeDevice struct {
	r *io.PipeReader
	w *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
	resets  int
}

func newFakeDevice() *fakeDevice {
	r, w := io.Pipe()
	return &fakeDevice{r: r, w: w}
}

func (d *fakeDevice) Read(p []byte) (int, error) { return d.r.Read(p) }

func (d *fakeDevice) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written.Write(p)
}

func (d *fakeDevice) Close() error { return d.r.Close() }

func (d *fakeDevice) ResetInputBuffer() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.resets++
	return nil
}

// reply plays a frame from the board; errors only happen once the link is closed
func (d *fakeDevice) reply(s string) {
	_, _ = d.w.Write([]byte(s))
}

func (d *fakeDevice) requests() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written.String()
}

func newTestLink(t *testing.T, timeout time.Duration) (*Link, *fakeDevice) {
	dev := newFakeDevice()
	l := New(dev, WithReadTimeout(timeout))
	t.Cleanup(func() { _ = l.Close() })
	return l, dev
}

func TestTriggerWritesRequestMarker(t *testing.T) {
	l, dev := newTestLink(t, time.Second)

	require.NoError(t, l.Trigger())
	require.NoError(t, l.Trigger())
	assert.Equal(t, "11", dev.requests())
}

func TestReadLineTrimsTrailingControl(t *testing.T) {
	l, dev := newTestLink(t, time.Second)

	go dev.reply("0:519 1:400\r\n")

	line, err := l.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0:519 1:400", line)
}

func TestReadLineSplitsBufferedFrames(t *testing.T) {
	l, dev := newTestLink(t, time.Second)

	go dev.reply("0:1\n1:2\n")

	first, err := l.ReadLine(context.Background())
	require.NoError(t, err)
	second, err := l.ReadLine(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "0:1", first)
	assert.Equal(t, "1:2", second)
	assert.Equal(t, 0, l.Available())
}

func TestAvailable(t *testing.T) {
	l, dev := newTestLink(t, time.Second)
	assert.Equal(t, 0, l.Available())

	go dev.reply("0:7\n")

	assert.Eventually(t, func() bool { return l.Available() == 4 }, time.Second, 5*time.Millisecond)
}

func TestReadLineTimeoutDiscardsPartialFrame(t *testing.T) {
	l, dev := newTestLink(t, 50*time.Millisecond)

	go dev.reply("0:5")

	_, err := l.ReadLine(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrReadTimeout))

	go dev.reply("1:2\n")

	line, err := l.ReadLine(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1:2", line)
}

func TestReadLineTimeoutWithoutData(t *testing.T) {
	l, _ := newTestLink(t, 20*time.Millisecond)

	start := time.Now()
	_, err := l.ReadLine(context.Background())
	assert.ErrorIs(t, err, ErrReadTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestReadLineTooLong(t *testing.T) {
	l, dev := newTestLink(t, time.Second)

	go dev.reply(strings.Repeat("9", 5000))

	_, err := l.ReadLine(context.Background())
	assert.ErrorIs(t, err, ErrLineTooLong)
}

func TestReadLineContextCancelled(t *testing.T) {
	l, _ := newTestLink(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.ReadLine(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReadLineAfterDeviceHangup(t *testing.T) {
	l, dev := newTestLink(t, time.Second)

	require.NoError(t, dev.w.Close())

	_, err := l.ReadLine(context.Background())
	assert.ErrorIs(t, err, ErrLinkClosed)
	assert.ErrorIs(t, l.Trigger(), ErrLinkClosed)
}

func TestResetDiscardsStaleInput(t *testing.T) {
	l, dev := newTestLink(t, 50*time.Millisecond)

	go dev.reply("stale garbage\n")
	require.Eventually(t, func() bool { return l.Available() > 0 }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Reset())
	assert.Equal(t, 0, l.Available())
	assert.Equal(t, 1, dev.resets)
}

func TestDiscardDropsBufferedInput(t *testing.T) {
	l, dev := newTestLink(t, 50*time.Millisecond)

	go dev.reply("0:111\n")
	require.Eventually(t, func() bool { return l.Available() == 6 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, 6, l.Discard())
	assert.Equal(t, 0, l.Available())
	assert.Equal(t, 0, dev.resets, "driver buffer left alone")
	assert.Equal(t, 0, l.Discard())
}

func TestCloseIsIdempotent(t *testing.T) {
	dev := newFakeDevice()
	l := New(dev)

	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close())
}
