// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"syscall"

	"github.com/fchabrun/moist/pkg/link"
	"github.com/fchabrun/moist/pkg/storage"
	"golang.org/x/term"
)

const (
	wsPasswordEnv = "MOIST_WS_PASSWORD"
	dbPasswordEnv = "MOIST_DB_PASSWORD"
)

// GetPassword retrieves a password from envVar or prompts the user
func GetPassword(envVar, prompt string) (string, error) {
	// First check environment variable
	if pw := os.Getenv(envVar); pw != "" {
		return pw, nil
	}

	// Prompt user for password (hide input)
	fmt.Fprint(os.Stderr, prompt)

	// Read password without echo
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		// Fallback to regular input if terminal functions fail
		reader := bufio.NewReader(os.Stdin)
		password, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("failed to read password: %v", err)
		}
		fmt.Fprintln(os.Stderr) // newline after password
		return strings.TrimSpace(password), nil
	}

	fmt.Fprintln(os.Stderr) // newline after password
	return string(passwordBytes), nil
}

// OpenConnection opens either a serial or WebSocket connection based on flags
func OpenConnection() (link.Connection, string, error) {
	if wsURL != "" {
		// WebSocket mode
		password := ""
		if wsUsername != "" {
			var err error
			password, err = GetPassword(wsPasswordEnv, "WebSocket password: ")
			if err != nil {
				return nil, "", err
			}
		}

		conn, err := link.OpenWebSocket(wsURL, wsUsername, password, wsNoSSLVerify)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("WebSocket: %s", wsURL), nil
	}

	if portName != "" {
		// Serial mode
		conn, err := link.OpenSerial(portName, baudRate)
		if err != nil {
			return nil, "", err
		}

		return conn, fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate), nil
	}

	return nil, "", fmt.Errorf("either --port or --url must be specified")
}

// storageConfig collects the database flags. The password is only looked up
// for platforms that authenticate.
func storageConfig() (storage.Config, error) {
	cfg := storage.Config{
		Platform:   dbPlatform,
		Host:       dbHost,
		Port:       dbPort,
		User:       dbUser,
		Database:   dbDatabase,
		MaxSensors: maxSensors,
	}

	dialect, err := storage.LookupDialect(dbPlatform)
	if err != nil {
		return cfg, err
	}
	if !rootCmd.PersistentFlags().Changed("db-port") && dialect.DefaultPort != 0 {
		cfg.Port = dialect.DefaultPort
	}
	if dialect.Driver == "sqlite" {
		return cfg, nil
	}

	switch {
	case os.Getenv(dbPasswordEnv) != "":
		cfg.Password = os.Getenv(dbPasswordEnv)
	case dbPasswordFromFile != "":
		cfg.Password = dbPasswordFromFile
	default:
		cfg.Password, err = GetPassword(dbPasswordEnv, "Database password: ")
		if err != nil {
			return cfg, err
		}
	}
	return cfg, nil
}

// OpenStorage builds the measurement store from the database flags
func OpenStorage() (*storage.Store, error) {
	cfg, err := storageConfig()
	if err != nil {
		return nil, err
	}
	return storage.New(cfg, logger)
}
