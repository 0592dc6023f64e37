// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

package storage

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect describes how one database platform is reached and spoken to
type Dialect struct {
	Name          string
	Driver        string
	TimestampType string
	FloatType     string
	DefaultPort   int
	numbered      bool // $1, $2 ... instead of ?
}

var dialects = map[string]Dialect{
	"mariadb":  {Name: "mariadb", Driver: "mysql", TimestampType: "DATETIME", FloatType: "FLOAT", DefaultPort: 3306},
	"mysql":    {Name: "mysql", Driver: "mysql", TimestampType: "DATETIME", FloatType: "FLOAT", DefaultPort: 3306},
	"postgres": {Name: "postgres", Driver: "postgres", TimestampType: "TIMESTAMP", FloatType: "FLOAT", DefaultPort: 5432, numbered: true},
	"sqlite":   {Name: "sqlite", Driver: "sqlite", TimestampType: "TIMESTAMP", FloatType: "FLOAT"},
}

// Platforms lists the accepted platform identifiers
func Platforms() []string {
	return []string{"mariadb", "mysql", "postgres", "sqlite"}
}

// LookupDialect returns the dialect for a platform identifier
func LookupDialect(platform string) (Dialect, error) {
	d, ok := dialects[strings.ToLower(strings.TrimSpace(platform))]
	if !ok {
		return Dialect{}, fmt.Errorf("unknown db platform %q (supported: %s)", platform, strings.Join(Platforms(), ", "))
	}
	return d, nil
}

// Placeholder returns the bind marker for the n-th argument (1-based)
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// DSN builds the driver connection string from discrete connection parameters
func (d Dialect) DSN(cfg Config) (string, error) {
	port := cfg.Port
	if port == 0 {
		port = d.DefaultPort
	}

	switch d.Driver {
	case "mysql":
		if cfg.Host == "" {
			return "", errors.New("db host is required")
		}
		mc := mysql.NewConfig()
		mc.User = cfg.User
		mc.Passwd = cfg.Password
		mc.Net = "tcp"
		mc.Addr = net.JoinHostPort(cfg.Host, strconv.Itoa(port))
		mc.DBName = cfg.Database
		mc.ParseTime = true
		mc.Loc = time.Local
		mc.Timeout = 5 * time.Second
		return mc.FormatDSN(), nil

	case "postgres":
		if cfg.Host == "" {
			return "", errors.New("db host is required")
		}
		connectionURL := &url.URL{
			Scheme: "postgres",
			Host:   net.JoinHostPort(cfg.Host, strconv.Itoa(port)),
			Path:   "/" + cfg.Database,
			User:   url.UserPassword(cfg.User, cfg.Password),
		}
		query := connectionURL.Query()
		query.Set("sslmode", "disable")
		query.Set("connect_timeout", "5")
		connectionURL.RawQuery = query.Encode()
		return connectionURL.String(), nil

	case "sqlite":
		if cfg.Database == "" {
			return "", errors.New("db database (file path) is required for sqlite")
		}
		return cfg.Database + "?_pragma=busy_timeout(5000)", nil
	}

	return "", fmt.Errorf("no DSN builder for driver %q", d.Driver)
}
