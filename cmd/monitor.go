// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
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
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/fchabrun/moist/pkg/settings"
	"github.com/spf13/cobra"
)

var (
	monitorInterval      time.Duration
	monitorTUI           bool
	monitorOnce          bool
	monitorTimeout       int
	monitorStatsInterval int
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Poll the board and print replies without storing them",
	Long: `Poll the sensor board and print every decoded reply.

Nothing is written to the database. Replies are checked against
--max-n-sensors and any value that could not be stored is reported.

Text mode polls every --interval. With --tui the poll interval is read from
settings.json like the daemon does; press 'd' to change it live.

With --once a single request is sent and the command exits:
  0 - Reply decoded before timeout
  1 - Timeout or malformed reply
  2 - Connection error`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", time.Second, "Poll interval (text mode)")
	monitorCmd.Flags().BoolVar(&monitorTUI, "tui", false, "Use terminal UI")
	monitorCmd.Flags().BoolVar(&monitorOnce, "once", false, "Send one request, print the reply and exit")
	monitorCmd.Flags().IntVar(&monitorTimeout, "timeout", 10, "Timeout in seconds to wait for a reply (--once)")
	monitorCmd.Flags().IntVar(&monitorStatsInterval, "stats-interval", 60, "Statistics summary interval in seconds (text mode, 0 disables)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	lnk := link.New(conn, link.WithReadTimeout(time.Duration(monitorTimeout)*time.Second))
	defer lnk.Close()

	if err := lnk.Reset(); err != nil {
		return err
	}

	if monitorOnce {
		os.Exit(runOnce(cmd.Context(), lnk, connInfo))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if monitorTUI {
		return runMonitorTUI(ctx, lnk, connInfo)
	}
	return runMonitorText(ctx, lnk, connInfo)
}

// runOnce sends a single request and returns the process exit code
func runOnce(ctx context.Context, lnk *link.Link, connInfo string) int {
	fmt.Printf("Moist - Single Request\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n\n", monitorTimeout)

	if err := lnk.Trigger(); err != nil {
		fmt.Fprintf(os.Stderr, "Write error: %v\n", err)
		return 2
	}

	line, err := lnk.ReadLine(ctx)
	switch {
	case errors.Is(err, link.ErrReadTimeout):
		fmt.Fprintf(os.Stderr, "TIMEOUT: No reply within %d seconds\n", monitorTimeout)
		return 1
	case err != nil:
		fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
		return 2
	}

	reading, err := moist_protocol.ParseReading(line)
	if err != nil {
		printDecodeError(line, err)
		return 1
	}

	fmt.Printf("SUCCESS: Received valid reply\n")
	printReading(reading)
	return 0
}

// fixedSettings serves the same snapshot every cycle
type fixedSettings settings.Settings

func (f fixedSettings) Load() (settings.Settings, error) {
	return settings.Settings(f), nil
}

// runMonitorText polls at a fixed interval and prints every reply
func runMonitorText(ctx context.Context, lnk *link.Link, connInfo string) error {
	fmt.Printf("Moist - Monitor Mode\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Poll interval: %s\n", monitorInterval)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	loop := acquisition.New(
		lnk,
		fixedSettings{LoopDelaySeconds: monitorInterval.Seconds()},
		acquisition.SinkFunc(func(_ context.Context, r *moist_protocol.Reading) error {
			printReading(r)
			return nil
		}),
		logger,
		acquisition.WithObserver(printEvent),
	)

	if monitorStatsInterval > 0 {
		go func() {
			ticker := time.NewTicker(time.Duration(monitorStatsInterval) * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fmt.Println()
					fmt.Print(loop.Statistics().String())
					fmt.Println()
				}
			}
		}()
	}

	err := loop.Run(ctx)
	fmt.Println()
	fmt.Print(loop.Statistics().String())
	return ignoreCanceled(err)
}

// printEvent prints the loop events that do not carry a reading
func printEvent(ev acquisition.Event) {
	switch ev.Type {
	case acquisition.EventDecodeError:
		printDecodeError(ev.Line, ev.Err)
	case acquisition.EventReplyMissed:
		timestamp := ev.Time.Format("15:04:05.000")
		fmt.Printf("[%s] \033[1;33mMISSED REPLY:\033[0m %v\n\n", timestamp, ev.Err)
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(line string, err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  Line: %q\n", line)
	fmt.Printf("  >>> REPLY DROPPED <<<\n\n")
}

// printReading prints a reply and anything that would stop it from being stored
func printReading(r *moist_protocol.Reading) {
	fmt.Print(moist_protocol.FormatReading(r))

	if errs := moist_protocol.ValidateReading(r.Pairs(), maxSensors); len(errs) > 0 {
		fmt.Printf("  \033[1;33mNot storable:\033[0m\n")
		fmt.Print(moist_protocol.FormatValidationErrors(errs))
	}
	fmt.Println()
}
