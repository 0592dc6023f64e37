// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

// Package link implements the host side of the request/reply exchange with
// the sensor board: a one-byte trigger and newline-terminated replies.
package link

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/fchabrun/moist/pkg/moist_protocol"
)

var (
	// ErrReadTimeout is returned when no complete line arrives within the read timeout
	ErrReadTimeout = errors.New("read timeout")
	// ErrLineTooLong is returned when a frame exceeds moist_protocol.MaxLineLength
	ErrLineTooLong = errors.New("line too long")
	// ErrLinkClosed is returned once the transport has failed or been closed
	ErrLinkClosed = errors.New("link closed")
)

// DefaultReadTimeout bounds ReadLine
const DefaultReadTimeout = 2 * time.Second

// Option configures a Link
type Option func(*Link)

// WithReadTimeout sets how long ReadLine waits for a complete frame
func WithReadTimeout(d time.Duration) Option {
	return func(l *Link) {
		if d > 0 {
			l.readTimeout = d
		}
	}
}

// Link frames the byte stream of a Connection into reply lines.
//
// A reader goroutine moves bytes from the connection into a channel; all
// other methods must be called from a single goroutine.
type Link struct {
	conn        Connection
	readTimeout time.Duration

	chunks chan []byte
	errs   chan error
	done   chan struct{}

	pending []byte
	err     error

	closeOnce sync.Once
	readerWG  sync.WaitGroup
}

// New wraps conn and starts the reader goroutine
func New(conn Connection, opts ...Option) *Link {
	l := &Link{
		conn:        conn,
		readTimeout: DefaultReadTimeout,
		chunks:      make(chan []byte, 64),
		errs:        make(chan error, 1),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}

	l.readerWG.Add(1)
	go l.readerLoop()
	return l
}

// readerLoop copies bytes from the connection until it fails or the link closes
func (l *Link) readerLoop() {
	defer l.readerWG.Done()
	buf := make([]byte, 256)
	for {
		select {
		case <-l.done:
			return
		default:
		}

		n, err := l.conn.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case l.chunks <- data:
			case <-l.done:
				return
			}
		}
		if err != nil {
			select {
			case <-l.done:
				return
			default:
			}
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				l.errs <- err
				return
			}
			// Brief pause before retry on transient errors (e.g., serial)
			time.Sleep(10 * time.Millisecond)
		}
	}
}

// Reset discards stale input: bytes queued by the driver and anything already buffered
func (l *Link) Reset() error {
	if r, ok := l.conn.(InputResetter); ok {
		if err := r.ResetInputBuffer(); err != nil {
			return fmt.Errorf("reset input buffer: %w", err)
		}
	}
	l.drain()
	l.pending = l.pending[:0]
	return nil
}

// Discard drops buffered bytes left over from an earlier exchange and
// returns how many were dropped. Unlike Reset it does not touch the driver.
func (l *Link) Discard() int {
	l.drain()
	n := len(l.pending)
	l.pending = l.pending[:0]
	return n
}

// Trigger writes the request marker
func (l *Link) Trigger() error {
	if l.err != nil {
		return l.err
	}
	if _, err := l.conn.Write([]byte{moist_protocol.RequestMarker}); err != nil {
		return fmt.Errorf("%w: write request: %v", ErrLinkUnavailable, err)
	}
	return nil
}

// Available returns the number of buffered unread bytes without blocking
func (l *Link) Available() int {
	l.drain()
	return len(l.pending)
}

// drain moves everything the reader goroutine has produced into pending
func (l *Link) drain() {
	for {
		select {
		case chunk := <-l.chunks:
			l.pending = append(l.pending, chunk...)
		case err := <-l.errs:
			l.err = fmt.Errorf("%w: %v", ErrLinkClosed, err)
		default:
			return
		}
	}
}

// ReadLine returns the next complete frame with trailing whitespace and
// control characters removed. It waits at most the read timeout; on timeout
// the partial frame is discarded so it cannot leak into the next reply.
func (l *Link) ReadLine(ctx context.Context) (string, error) {
	timer := time.NewTimer(l.readTimeout)
	defer timer.Stop()

	for {
		l.drain()

		if i := bytes.IndexByte(l.pending, moist_protocol.LineTerminator); i >= 0 {
			line := cleanLine(l.pending[:i])
			l.pending = append(l.pending[:0], l.pending[i+1:]...)
			return line, nil
		}

		if len(l.pending) > moist_protocol.MaxLineLength {
			l.pending = l.pending[:0]
			return "", ErrLineTooLong
		}

		if l.err != nil {
			return "", l.err
		}

		select {
		case chunk := <-l.chunks:
			l.pending = append(l.pending, chunk...)
		case err := <-l.errs:
			l.err = fmt.Errorf("%w: %v", ErrLinkClosed, err)
		case <-timer.C:
			partial := len(l.pending)
			l.pending = l.pending[:0]
			if partial > 0 {
				return "", fmt.Errorf("%w: discarded %d bytes of incomplete frame", ErrReadTimeout, partial)
			}
			return "", ErrReadTimeout
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

// cleanLine decodes a frame as text and trims trailing whitespace/control characters
func cleanLine(frame []byte) string {
	line := strings.ToValidUTF8(string(frame), "�")
	return strings.TrimRightFunc(line, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	})
}

// Close stops the reader goroutine and closes the connection. Safe to call more than once.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.conn.Close()
		l.readerWG.Wait()
	})
	return err
}
