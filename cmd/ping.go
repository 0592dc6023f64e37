// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fchabrun/moist/pkg/link"
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/spf13/cobra"
)

var (
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Measure request/reply round trips to the sensor board",
	Long: `Send request bytes to the board and time each reply.

This checks the serial link (or WebSocket bridge) end to end without touching
the database. A reply counts as successful only if it decodes.

Exit codes:
  0 - All requests answered
  1 - One or more requests failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 5, "Timeout in seconds for each reply")
	pingCmd.Flags().IntVarP(&pingCount, "count", "c", 3, "Number of requests to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	// Open connection (serial or WebSocket)
	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	lnk := link.New(conn, link.WithReadTimeout(time.Duration(pingTimeout)*time.Second))
	defer lnk.Close()

	if err := lnk.Reset(); err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Moist - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds per request\n", pingTimeout)
	fmt.Printf("Count: %d requests\n\n", pingCount)

	successCount, failCount, rtts := pingBoard(cmd.Context(), lnk, pingCount)

	// Summary
	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d requests sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if len(rtts) > 0 {
		lo, hi, sum := rtts[0], rtts[0], time.Duration(0)
		for _, d := range rtts {
			lo = min(lo, d)
			hi = max(hi, d)
			sum += d
		}
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			lo.Round(time.Millisecond), (sum / time.Duration(len(rtts))).Round(time.Millisecond), hi.Round(time.Millisecond))
	}

	if failCount > 0 {
		lnk.Close()
		os.Exit(1)
	}
	return nil
}

// pingBoard sends count requests one at a time and reports each outcome
func pingBoard(ctx context.Context, lnk *link.Link, count int) (int, int, []time.Duration) {
	successCount := 0
	failCount := 0
	var rtts []time.Duration

	for i := 1; i <= count; i++ {
		fmt.Printf("Request %d/%d: ", i, count)

		startTime := time.Now()
		if err := lnk.Trigger(); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		line, err := lnk.ReadLine(ctx)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
			continue
		}

		rtt := time.Since(startTime)
		pairs, err := moist_protocol.Decode(line)
		if err != nil {
			fmt.Printf("MALFORMED %q: %v\n", line, err)
			failCount++
			continue
		}

		fmt.Printf("REPLY %d sensors, rtt=%v\n", len(pairs), rtt.Round(time.Millisecond))
		rtts = append(rtts, rtt)
		successCount++

		// Small delay between requests
		if i < count {
			time.Sleep(100 * time.Millisecond)
		}
	}

	return successCount, failCount, rtts
}
