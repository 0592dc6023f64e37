// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

package acquisition

import (
	"time"

	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/fchabrun/moist/pkg/settings"
)

// EventType identifies what happened during a loop tick
type EventType int

const (
	EventRequestSent EventType = iota
	EventReplyReceived
	EventReplyMissed
	EventDecodeError
	EventPersistFailure
	EventReadingStored
	EventSettingsLoaded
	EventSettingsFallback
	EventSchemaAttempt
	EventSchemaReady
)

var eventNames = map[EventType]string{
	EventRequestSent:      "REQUEST_SENT",
	EventReplyReceived:    "REPLY_RECEIVED",
	EventReplyMissed:      "REPLY_MISSED",
	EventDecodeError:      "DECODE_ERROR",
	EventPersistFailure:   "PERSIST_FAILURE",
	EventReadingStored:    "READING_STORED",
	EventSettingsLoaded:   "SETTINGS_LOADED",
	EventSettingsFallback: "SETTINGS_FALLBACK",
	EventSchemaAttempt:    "SCHEMA_ATTEMPT",
	EventSchemaReady:      "SCHEMA_READY",
}

func (t EventType) String() string {
	if name, ok := eventNames[t]; ok {
		return name
	}
	return "UNKNOWN"
}

// Event is delivered to observers from the loop goroutine
type Event struct {
	Type     EventType
	Time     time.Time
	Line     string                  // raw reply, for reply and decode events
	Reading  *moist_protocol.Reading // decoded reply, for stored and persist events
	Settings settings.Settings       // snapshot in use, for settings events
	Err      error
}

// Observer receives loop events. It must not block.
type Observer func(Event)
