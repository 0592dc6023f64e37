// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

package acquisition

import (
	"context"
	"time"
)

// WaitForSchema calls ensure until it succeeds, waiting interval between
// attempts. It only returns early when ctx is done.
func (l *Loop) WaitForSchema(ctx context.Context, ensure func(context.Context) error, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultSchemaRetry
	}

	for attempt := 1; ; attempt++ {
		err := ensure(ctx)
		l.emit(Event{Type: EventSchemaAttempt, Err: err})
		if err == nil {
			l.logger.Info().Int("attempts", attempt).Msg("schema ready")
			l.emit(Event{Type: EventSchemaReady})
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		l.logger.Error().Err(err).Int("attempt", attempt).Dur("retry", interval).Msg("unable to init db, retrying")

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}
