// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fchabrun/moist/pkg/acquisition"
	"github.com/fchabrun/moist/pkg/link"
	"github.com/fchabrun/moist/pkg/metrics"
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/fchabrun/moist/pkg/settings"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	cleanDB          bool
	cleanParams      bool
	metricsAddr      string
	replyTimeout     time.Duration
	readTimeout      time.Duration
	runStatsInterval time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the acquisition daemon",
	Long: `Poll the sensor board and store every reply in the measurement table.

Startup:
  1. --clean-db drops the measurement table, --clean-params deletes settings.json
  2. the measurement table is created, retrying every 5 seconds until the
     database accepts it
  3. the serial link is opened and its input buffer discarded

Steady state: one request per loop_delay_seconds (re-read from settings.json
before every request), one reply per request. Malformed replies, missed
replies and failed inserts are logged and counted; the next cycle carries on.

The daemon exits on SIGINT/SIGTERM, or with an error when the link is lost.`,
	RunE: runDaemon,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().BoolVar(&cleanDB, "clean-db", false, "Drop the measurement table before starting")
	runCmd.Flags().BoolVar(&cleanParams, "clean-params", false, "Delete settings.json before starting")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :2112)")
	runCmd.Flags().DurationVar(&replyTimeout, "reply-timeout", acquisition.DefaultReplyTimeout, "Abandon a request after this long without a reply")
	runCmd.Flags().DurationVar(&readTimeout, "read-timeout", link.DefaultReadTimeout, "Maximum time to receive a complete reply line")
	runCmd.Flags().DurationVar(&runStatsInterval, "stats-interval", 10*time.Minute, "Log a statistics summary at this interval (0 disables)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if maxSensors < 1 {
		return fmt.Errorf("--max-n-sensors must be at least 1 (got %d)", maxSensors)
	}

	settingsStore := settings.NewStore(rundir, logger)
	db, err := OpenStorage()
	if err != nil {
		return err
	}

	logger.Info().
		Str("rundir", rundir).
		Str("db_platform", db.Dialect().Name).
		Int("max_n_sensors", maxSensors).
		Msg("moist starting")

	cleanStart(ctx, db, settingsStore, cleanDB, cleanParams, logger)

	opts := []acquisition.Option{
		acquisition.WithReplyTimeout(replyTimeout),
		acquisition.WithStatsInterval(runStatsInterval),
	}

	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		m, err := metrics.New(reg)
		if err != nil {
			return err
		}
		opts = append(opts, acquisition.WithObserver(m.Observe))

		go func() {
			if err := metrics.Serve(ctx, metricsAddr, reg, logger); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	lnk := link.New(conn, link.WithReadTimeout(readTimeout))
	defer lnk.Close()
	logger.Info().Str("connection", connInfo).Msg("link open")

	loop := acquisition.New(
		lnk,
		settingsStore,
		acquisition.SinkFunc(func(ctx context.Context, r *moist_protocol.Reading) error {
			return db.Insert(ctx, r.Pairs())
		}),
		logger,
		opts...,
	)

	err = loop.WaitForSchema(ctx, func(ctx context.Context) error {
		return db.EnsureSchema(ctx, maxSensors)
	}, acquisition.DefaultSchemaRetry)
	if err != nil {
		return ignoreCanceled(err)
	}

	// Anything the board sent while the schema was pending is stale
	if err := lnk.Reset(); err != nil {
		return err
	}

	err = loop.Run(ctx)
	logger.Info().Msg("\n" + loop.Statistics().String())
	return ignoreCanceled(err)
}

type schemaDropper interface {
	DropSchema(ctx context.Context) error
}

type settingsClearer interface {
	Clear() (bool, error)
	Path() string
}

// cleanStart performs the one-shot resets requested on the command line.
// Failures are logged and startup continues; the schema wait that follows
// retries the database anyway.
func cleanStart(ctx context.Context, db schemaDropper, params settingsClearer, dropDB, clearParams bool, log zerolog.Logger) {
	if dropDB {
		log.Info().Msg("executing db clear")
		if err := db.DropSchema(ctx); err != nil {
			log.Error().Err(err).Msg("unable to execute db clear")
		} else {
			log.Info().Msg("db cleared")
		}
	}

	if clearParams {
		removed, err := params.Clear()
		if err != nil {
			log.Error().Err(err).Str("path", params.Path()).Msg("unable to clear settings")
			return
		}
		log.Info().Bool("removed", removed).Str("path", params.Path()).Msg("settings cleared")
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
