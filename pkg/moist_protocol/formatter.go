// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package moist_protocol

import (
	"fmt"
	"strings"
)

// FormatReading formats a reading into a human-readable string
func FormatReading(r *Reading) string {
	timestamp := r.timestamp.Format("15:04:05.000")

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] REPLY sensors=%d\n", timestamp, len(r.pairs))
	for _, p := range r.pairs {
		b.WriteString(FormatPair(p))
	}
	return b.String()
}

// FormatPair formats a single pair on its own indented line
func FormatPair(p Pair) string {
	if v, err := ParseValue(p.Value); err == nil {
		return fmt.Sprintf("  %s: %g\n", ColumnName(p.Index), v)
	}
	return fmt.Sprintf("  %s: %q (not numeric)\n", ColumnName(p.Index), p.Value)
}

// ColumnName returns the table column that stores the given sensor index
func ColumnName(index int) string {
	return fmt.Sprintf("sensor_%d", index)
}

// FormatValidationErrors renders validation errors one per line
func FormatValidationErrors(errs []ValidationError) string {
	var b strings.Builder
	for i, err := range errs {
		fmt.Fprintf(&b, "  Issue %d: %s\n", i+1, err.Message)
	}
	return b.String()
}
