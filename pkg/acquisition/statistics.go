// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package acquisition

import (
	"fmt"
	"sync"
	"time"
)

// Counters is a point-in-time copy of the loop statistics
type Counters struct {
	Requests          uint64
	Replies           uint64
	MissedReplies     uint64
	DecodeErrors      uint64
	PersistFailures   uint64
	Stored            uint64
	SettingsFallbacks uint64
	SchemaAttempts    uint64

	// Rates (calculated)
	ReplyRate float64 // replies/min
	ErrorRate float64 // errors/min
}

// Statistics tracks request/reply outcomes and error rates.
// It is updated from the loop goroutine and may be read from any other.
type Statistics struct {
	mu        sync.Mutex
	startTime time.Time
	counters  Counters
}

// NewStatistics creates a new statistics tracker
func NewStatistics() *Statistics {
	return &Statistics{startTime: time.Now()}
}

// Record updates the counters for one loop event
func (s *Statistics) Record(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Type {
	case EventRequestSent:
		s.counters.Requests++
	case EventReplyReceived:
		s.counters.Replies++
	case EventReplyMissed:
		s.counters.MissedReplies++
	case EventDecodeError:
		s.counters.DecodeErrors++
	case EventPersistFailure:
		s.counters.PersistFailures++
	case EventReadingStored:
		s.counters.Stored++
	case EventSettingsFallback:
		s.counters.SettingsFallbacks++
	case EventSchemaAttempt:
		s.counters.SchemaAttempts++
	}
}

// Snapshot returns the current counters with rates filled in
func (s *Statistics) Snapshot() Counters {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.counters
	elapsed := time.Since(s.startTime).Minutes()
	if elapsed > 0 {
		c.ReplyRate = float64(c.Replies) / elapsed
		c.ErrorRate = float64(c.MissedReplies+c.DecodeErrors+c.PersistFailures) / elapsed
	}
	return c
}

// Elapsed returns the time since the statistics were started or reset
func (s *Statistics) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.startTime)
}

// String returns a formatted statistics summary
func (s *Statistics) String() string {
	c := s.Snapshot()
	elapsed := s.Elapsed()

	var replyPercent, storedPercent float64
	if c.Requests > 0 {
		replyPercent = float64(c.Replies) * 100.0 / float64(c.Requests)
	}
	if c.Replies > 0 {
		storedPercent = float64(c.Stored) * 100.0 / float64(c.Replies)
	}

	result := fmt.Sprintf("=== Statistics (%.0f seconds) ===\n", elapsed.Seconds())
	result += fmt.Sprintf("Requests:        %8d\n", c.Requests)
	result += fmt.Sprintf("Replies:         %8d (%.1f%%)\n", c.Replies, replyPercent)
	result += fmt.Sprintf("Stored:          %8d (%.1f%%)\n", c.Stored, storedPercent)

	if c.MissedReplies > 0 {
		result += fmt.Sprintf("Missed Replies:  %8d\n", c.MissedReplies)
	}
	if c.DecodeErrors > 0 {
		result += fmt.Sprintf("Decode Errors:   %8d\n", c.DecodeErrors)
	}
	if c.PersistFailures > 0 {
		result += fmt.Sprintf("Persist Errors:  %8d\n", c.PersistFailures)
	}
	if c.SettingsFallbacks > 0 {
		result += fmt.Sprintf("Settings Reuse:  %8d\n", c.SettingsFallbacks)
	}

	result += fmt.Sprintf("Reply Rate:      %8.1f replies/min\n", c.ReplyRate)
	result += fmt.Sprintf("Error Rate:      %8.1f errors/min\n", c.ErrorRate)
	result += "================================\n"

	return result
}

// Reset resets all statistics counters
func (s *Statistics) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = time.Now()
	s.counters = Counters{}
}
