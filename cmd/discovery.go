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
	"go.bug.st/serial/enumerator"
)

var (
	discoveryTimeout int
	discoveryAll     bool
)

var discoveryCmd = &cobra.Command{
	Use:   "discovery",
	Short: "Find the serial port the sensor board is attached to",
	Long: `Probe serial ports with a request byte and report which ones answer with a
decodable reply.

Only USB ports are probed unless --all is given. Each port is opened at --baud.

Examples:
  moist discovery
  moist discovery --all --baud 115200

Exit codes:
  0 - Discovery successful (at least one board found)
  1 - Discovery failed (no port answered)
  2 - Ports could not be enumerated`,
	RunE: runDiscovery,
}

func init() {
	rootCmd.AddCommand(discoveryCmd)
	discoveryCmd.Flags().IntVar(&discoveryTimeout, "timeout", 3, "Timeout in seconds per port")
	discoveryCmd.Flags().BoolVar(&discoveryAll, "all", false, "Probe non-USB ports too")
}

func runDiscovery(cmd *cobra.Command, args []string) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Enumeration error: %v\n", err)
		os.Exit(2)
	}

	fmt.Printf("Moist - Discovery\n")
	fmt.Printf("Baud: %d\n", baudRate)
	fmt.Printf("Timeout: %d seconds per port\n\n", discoveryTimeout)

	found := 0
	for _, p := range ports {
		if !p.IsUSB && !discoveryAll {
			continue
		}

		desc := p.Name
		if p.IsUSB {
			desc = fmt.Sprintf("%s (USB %s:%s %s)", p.Name, p.VID, p.PID, p.Product)
		}
		fmt.Printf("%s: ", desc)

		line, err := probePort(cmd.Context(), p.Name)
		if err != nil {
			fmt.Printf("no board (%v)\n", err)
			continue
		}
		fmt.Printf("REPLY %q\n", line)
		found++
	}

	fmt.Printf("\n%d board(s) found\n", found)
	if found == 0 {
		os.Exit(1)
	}
	return nil
}

// probePort sends one request and returns the reply if it decodes
func probePort(ctx context.Context, name string) (string, error) {
	conn, err := link.OpenSerial(name, baudRate)
	if err != nil {
		return "", err
	}
	lnk := link.New(conn, link.WithReadTimeout(time.Duration(discoveryTimeout)*time.Second))
	defer lnk.Close()

	if err := lnk.Reset(); err != nil {
		return "", err
	}
	if err := lnk.Trigger(); err != nil {
		return "", err
	}

	line, err := lnk.ReadLine(ctx)
	if err != nil {
		return "", err
	}
	if _, err := moist_protocol.Decode(line); err != nil {
		return "", err
	}
	return line, nil
}
