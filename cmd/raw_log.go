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

	"github.com/fchabrun/moist/pkg/link"
	"github.com/spf13/cobra"
)

var rawInterval time.Duration

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display every reply line exactly as received",
	Long: `Send a request every --interval and print each reply line undecoded,
quoted and in hex.

Useful when the board firmware changes and replies stop decoding.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().DurationVar(&rawInterval, "interval", time.Second, "Request interval")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	lnk := link.New(conn, link.WithReadTimeout(rawInterval))
	defer lnk.Close()

	fmt.Printf("Moist - Raw Reply Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		if err := lnk.Trigger(); err != nil {
			return err
		}

		line, err := lnk.ReadLine(ctx)
		timestamp := time.Now().Format("15:04:05.000")
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case errors.Is(err, link.ErrLinkClosed):
			// The transport is gone for good - exit gracefully
			fmt.Printf("[%s] Connection closed\n", timestamp)
			return nil
		case err != nil:
			fmt.Printf("[%s] [ERROR] %v\n", timestamp, err)
			continue
		}

		fmt.Printf("[%s] %d bytes %q\n", timestamp, len(line), line)
		fmt.Printf("  % x\n", []byte(line))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(rawInterval):
		}
	}
}
