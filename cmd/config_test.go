// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "moist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func testFlagSet() (*pflag.FlagSet, *string, *int, *string) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	port := fs.String("port", "/dev/ttyACM0", "")
	sensors := fs.Int("max-n-sensors", 6, "")
	platform := fs.String("db-platform", "mariadb", "")
	fs.Int("db-port", 3306, "")
	return fs, port, sensors, platform
}

func TestApplyFileConfigFillsUnsetFlags(t *testing.T) {
	path := writeConfig(t, `
port: /dev/ttyUSB1
max_n_sensors: 4
db:
  platform: postgres
  port: 5433
  password: s3cret
`)
	cfg, err := loadFileConfig(path)
	require.NoError(t, err)

	fs, port, sensors, platform := testFlagSet()
	require.NoError(t, fs.Parse([]string{"--port", "/dev/ttyACM1"}))
	require.NoError(t, applyFileConfig(fs, cfg))

	assert.Equal(t, "/dev/ttyACM1", *port, "command line wins")
	assert.Equal(t, 4, *sensors)
	assert.Equal(t, "postgres", *platform)
	assert.True(t, fs.Changed("db-port"))
	assert.Equal(t, "s3cret", dbPasswordFromFile)
	dbPasswordFromFile = ""
}

func TestApplyFileConfigBadValue(t *testing.T) {
	cfg, err := loadFileConfig(writeConfig(t, "db:\n  port: 70000000000000000000\n"))
	if err == nil {
		fs, _, _, _ := testFlagSet()
		err = applyFileConfig(fs, cfg)
	}
	assert.Error(t, err)
}

func TestLoadFileConfigRejectsUnknownKeys(t *testing.T) {
	_, err := loadFileConfig(writeConfig(t, "serial_address: /dev/ttyACM0\n"))
	assert.Error(t, err)
}

func TestLoadFileConfigMissing(t *testing.T) {
	_, err := loadFileConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestNewLoggerLevels(t *testing.T) {
	_, err := newLogger(os.Stderr, "debug")
	assert.NoError(t, err)

	_, err = newLogger(os.Stderr, "chatty")
	assert.Error(t, err)
}
