// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 The moist Authors

package cmd

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fchabrun/moist/pkg/moist_protocol"
	"github.com/fchabrun/moist/pkg/storage"
	"github.com/spf13/cobra"
)

var tailSince time.Duration

var dbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the measurement table",
}

var dbInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the measurement table if it does not exist",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := OpenStorage()
		if err != nil {
			return err
		}
		if err := db.EnsureSchema(cmd.Context(), maxSensors); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s ready with %d sensor columns\n", storage.TableName, maxSensors)
		return nil
	},
}

var dbDropCmd = &cobra.Command{
	Use:   "drop",
	Short: "Drop the measurement table and every stored reading",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := OpenStorage()
		if err != nil {
			return err
		}
		if err := db.DropSchema(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Dropped %s\n", storage.TableName)
		return nil
	},
}

var dbTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print recently stored readings",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := OpenStorage()
		if err != nil {
			return err
		}

		until := time.Now()
		records, err := db.Query(cmd.Context(), until.Add(-tailSince), until)
		if err != nil {
			return err
		}
		renderRecords(cmd.OutOrStdout(), records, maxSensors)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbCmd)
	dbCmd.AddCommand(dbInitCmd, dbDropCmd, dbTailCmd)
	dbTailCmd.Flags().DurationVar(&tailSince, "since", time.Hour, "How far back to read")
}

// renderRecords prints rows as a table, empty cells for sensors a reply did not carry
func renderRecords(w io.Writer, records []storage.Record, sensors int) {
	if len(records) == 0 {
		fmt.Fprintln(w, "No readings in range")
		return
	}

	headers := []string{"time", "event"}
	for i := 0; i < sensors; i++ {
		headers = append(headers, moist_protocol.ColumnName(i))
	}

	rows := make([][]string, 0, len(records))
	for _, rec := range records {
		row := []string{rec.Time.Local().Format("2006-01-02 15:04:05"), rec.Event}
		for _, v := range rec.Sensors {
			if v.Valid {
				row = append(row, strconv.FormatFloat(v.Float64, 'g', -1, 64))
			} else {
				row = append(row, "")
			}
		}
		rows = append(rows, row)
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(headers...).
		Rows(rows...)

	fmt.Fprintln(w, t.Render())
	fmt.Fprintf(w, "%d readings\n", len(records))
}
