// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v2"
)

// fileConfig mirrors the root flags. Unset keys leave the flag default alone.
type fileConfig struct {
	Rundir      *string `yaml:"rundir"`
	Port        *string `yaml:"port"`
	Baud        *int    `yaml:"baud"`
	URL         *string `yaml:"url"`
	Username    *string `yaml:"username"`
	NoSSLVerify *bool   `yaml:"no_ssl_verify"`
	MaxSensors  *int    `yaml:"max_n_sensors"`
	LogLevel    *string `yaml:"log_level"`

	DB struct {
		Platform *string `yaml:"platform"`
		Host     *string `yaml:"host"`
		Port     *int    `yaml:"port"`
		User     *string `yaml:"user"`
		Password *string `yaml:"password"`
		Database *string `yaml:"database"`
	} `yaml:"db"`
}

// dbPasswordFromFile is set when the config file carries db.password
var dbPasswordFromFile string

func loadFileConfig(path string) (*fileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := &fileConfig{}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// values maps flag names to the textual values found in the file
func (c *fileConfig) values() map[string]string {
	v := map[string]string{}
	str := func(name string, p *string) {
		if p != nil {
			v[name] = *p
		}
	}
	num := func(name string, p *int) {
		if p != nil {
			v[name] = strconv.Itoa(*p)
		}
	}

	str("rundir", c.Rundir)
	str("port", c.Port)
	num("baud", c.Baud)
	str("url", c.URL)
	str("username", c.Username)
	if c.NoSSLVerify != nil {
		v["no-ssl-verify"] = strconv.FormatBool(*c.NoSSLVerify)
	}
	num("max-n-sensors", c.MaxSensors)
	str("log-level", c.LogLevel)
	str("db-platform", c.DB.Platform)
	str("db-host", c.DB.Host)
	num("db-port", c.DB.Port)
	str("db-user", c.DB.User)
	str("db-database", c.DB.Database)
	return v
}

// applyFileConfig sets every flag named in cfg that was not given on the command line
func applyFileConfig(flags *pflag.FlagSet, cfg *fileConfig) error {
	for name, value := range cfg.values() {
		f := flags.Lookup(name)
		if f == nil || f.Changed {
			continue
		}
		if err := flags.Set(name, value); err != nil {
			return fmt.Errorf("config %s: %w", name, err)
		}
	}

	if cfg.DB.Password != nil {
		dbPasswordFromFile = *cfg.DB.Password
	}
	return nil
}
