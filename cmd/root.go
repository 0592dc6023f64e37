// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Acquisition flags
	rundir     string
	maxSensors int

	// Database flags
	dbPlatform string
	dbHost     string
	dbPort     int
	dbUser     string
	dbDatabase string

	configFile string
	logLevel   string

	// logger is configured before any subcommand runs
	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:   "moist",
	Short: "Moisture sensor acquisition daemon",
	Long: `Moist - polls a moisture sensor board over a serial link and stores every
reading in a relational database.

The board answers each request byte '1' with one line of "index:value" pairs.
The poll interval is read from <rundir>/settings.json before every request and
can be changed while the daemon runs.

Connection modes:
  Serial:    --port /dev/ttyACM0 [--baud 9600]
  WebSocket: --url ws://host/path [--username user]

The database password is read from the MOIST_DB_PASSWORD environment variable,
the config file, or prompted interactively. The WebSocket password is read from
MOIST_WS_PASSWORD or prompted. Password flags are intentionally not provided to
avoid leaking credentials in shell history.`,
	Version:      "1.0.0",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configFile != "" {
			cfg, err := loadFileConfig(configFile)
			if err != nil {
				return err
			}
			if err := applyFileConfig(cmd.Flags(), cfg); err != nil {
				return err
			}
		}

		l, err := newLogger(cmd.ErrOrStderr(), logLevel)
		if err != nil {
			return err
		}
		logger = l
		return nil
	},
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "/dev/ttyACM0", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 9600, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL of a serial bridge (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	// Acquisition flags
	rootCmd.PersistentFlags().StringVar(&rundir, "rundir", "/home/moist/moist_rundir", "Run directory holding settings.json")
	rootCmd.PersistentFlags().IntVar(&maxSensors, "max-n-sensors", 6, "Number of sensor columns in the measurement table")

	// Database flags
	rootCmd.PersistentFlags().StringVar(&dbPlatform, "db-platform", "mariadb", "Database platform (mariadb, mysql, postgres, sqlite)")
	rootCmd.PersistentFlags().StringVar(&dbHost, "db-host", "localhost", "Database host")
	rootCmd.PersistentFlags().IntVar(&dbPort, "db-port", 3306, "Database port")
	rootCmd.PersistentFlags().StringVar(&dbUser, "db-user", "moist", "Database user")
	rootCmd.PersistentFlags().StringVar(&dbDatabase, "db-database", "moist", "Database name (file path for sqlite)")

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML config file (flags given on the command line win)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
