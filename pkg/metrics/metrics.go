// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

// Package metrics exposes acquisition loop counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/fchabrun/moist/pkg/acquisition"
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

const namespace = "moist"

// Metrics holds the collectors fed by loop events. A nil *Metrics ignores everything.
type Metrics struct {
	Requests          prometheus.Counter
	Replies           prometheus.Counter
	MissedReplies     prometheus.Counter
	DecodeErrors      prometheus.Counter
	PersistFailures   prometheus.Counter
	ReadingsStored    prometheus.Counter
	SettingsFallbacks prometheus.Counter
	SchemaAttempts    prometheus.Counter
	LoopDelay         prometheus.Gauge
	SensorValue       *prometheus.GaugeVec
	ReplyLatency      prometheus.Histogram

	mu          sync.Mutex
	lastRequest time.Time
}

// New creates the collectors and registers them with reg
func New(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Total number of request bytes written to the board",
		}),
		Replies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replies_total",
			Help:      "Total number of reply lines read from the board",
		}),
		MissedReplies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "missed_replies_total",
			Help:      "Requests abandoned after the reply timeout or a read failure",
		}),
		DecodeErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decode_errors_total",
			Help:      "Reply lines dropped as malformed",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persist_failures_total",
			Help:      "Readings dropped because they could not be stored",
		}),
		ReadingsStored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_stored_total",
			Help:      "Readings written to the measurement table",
		}),
		SettingsFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "settings_fallbacks_total",
			Help:      "Cycles that reused the previous settings snapshot",
		}),
		SchemaAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schema_attempts_total",
			Help:      "Attempts to ensure the measurement table at startup",
		}),
		LoopDelay: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "loop_delay_seconds",
			Help:      "Poll interval of the current settings snapshot",
		}),
		SensorValue: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensor_value",
			Help:      "Last value reported by each sensor",
		}, []string{"sensor"}),
		ReplyLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reply_latency_seconds",
			Help:      "Time between a request and its reply",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		}),
	}

	for _, c := range []prometheus.Collector{
		m.Requests, m.Replies, m.MissedReplies, m.DecodeErrors, m.PersistFailures,
		m.ReadingsStored, m.SettingsFallbacks, m.SchemaAttempts,
		m.LoopDelay, m.SensorValue, m.ReplyLatency,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Observe updates the collectors for one loop event
func (m *Metrics) Observe(ev acquisition.Event) {
	if m == nil {
		return
	}

	switch ev.Type {
	case acquisition.EventRequestSent:
		m.Requests.Inc()
		m.mu.Lock()
		m.lastRequest = ev.Time
		m.mu.Unlock()
	case acquisition.EventReplyReceived:
		m.Replies.Inc()
		m.mu.Lock()
		if !m.lastRequest.IsZero() && !ev.Time.Before(m.lastRequest) {
			m.ReplyLatency.Observe(ev.Time.Sub(m.lastRequest).Seconds())
		}
		m.mu.Unlock()
	case acquisition.EventReplyMissed:
		m.MissedReplies.Inc()
	case acquisition.EventDecodeError:
		m.DecodeErrors.Inc()
	case acquisition.EventPersistFailure:
		m.PersistFailures.Inc()
	case acquisition.EventReadingStored:
		m.ReadingsStored.Inc()
		if ev.Reading != nil {
			for _, p := range ev.Reading.Pairs() {
				if v, err := moist_protocol.ParseValue(p.Value); err == nil {
					m.SensorValue.WithLabelValues(strconv.Itoa(p.Index)).Set(v)
				}
			}
		}
	case acquisition.EventSettingsLoaded:
		m.LoopDelay.Set(ev.Settings.LoopDelaySeconds)
	case acquisition.EventSettingsFallback:
		m.SettingsFallbacks.Inc()
	case acquisition.EventSchemaAttempt:
		m.SchemaAttempts.Inc()
	}
}

// Handler returns an HTTP handler exposing the metrics gathered by g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done
func Serve(ctx context.Context, addr string, g prometheus.Gatherer, logger zerolog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
