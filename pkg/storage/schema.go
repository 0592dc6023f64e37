// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 The moist Authors

package storage

import (
	"strings"

	"github.com/fchabrun/moist/pkg/moist_protocol"
)

// TableName is the measurement table read by the dashboard
const TableName = "moist_measurements"

// Column names are generated from integer indices only, never from device text.

func createTableSQL(d Dialect, maxSensors int) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE IF NOT EXISTS ")
	b.WriteString(TableName)
	b.WriteString(" (time ")
	b.WriteString(d.TimestampType)
	b.WriteString(", event TEXT")
	for i := 0; i < maxSensors; i++ {
		b.WriteString(", ")
		b.WriteString(moist_protocol.ColumnName(i))
		b.WriteString(" ")
		b.WriteString(d.FloatType)
	}
	b.WriteString(")")
	return b.String()
}

func dropTableSQL() string {
	return "DROP TABLE IF EXISTS " + TableName
}

// insertSQL lists time, event and exactly the given sensor columns, in order
func insertSQL(d Dialect, indices []int) string {
	columns := make([]string, 0, len(indices)+2)
	marks := make([]string, 0, len(indices)+2)
	columns = append(columns, "time", "event")
	for _, idx := range indices {
		columns = append(columns, moist_protocol.ColumnName(idx))
	}
	for i := range columns {
		marks = append(marks, d.Placeholder(i+1))
	}
	return "INSERT INTO " + TableName + " (" + strings.Join(columns, ", ") + ") VALUES (" + strings.Join(marks, ", ") + ")"
}

func selectSQL(d Dialect, maxSensors int) string {
	columns := []string{"time", "event"}
	for i := 0; i < maxSensors; i++ {
		columns = append(columns, moist_protocol.ColumnName(i))
	}
	return "SELECT " + strings.Join(columns, ", ") + " FROM " + TableName +
		" WHERE event = " + d.Placeholder(1) +
		" AND time >= " + d.Placeholder(2) +
		" AND time <= " + d.Placeholder(3) +
		" ORDER BY time"
}
