// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package moist_protocol

import "time"

// Reading represents one decoded reply line
type Reading struct {
	raw       string
	pairs     []Pair
	timestamp time.Time
}

// NewReading creates a reading from a raw line and its decoded pairs
func NewReading(raw string, pairs []Pair) *Reading {
	return &Reading{
		raw:       raw,
		pairs:     pairs,
		timestamp: time.Now(),
	}
}

// ParseReading decodes a reply line into a Reading
func ParseReading(line string) (*Reading, error) {
	pairs, err := Decode(line)
	if err != nil {
		return nil, err
	}
	return NewReading(line, pairs), nil
}

// Raw returns the reply line as received
func (r *Reading) Raw() string {
	return r.raw
}

// Pairs returns the decoded pairs in reply order
func (r *Reading) Pairs() []Pair {
	return r.pairs
}

// Timestamp returns the time the reply was decoded.
// Stored rows carry their own insertion time instead.
func (r *Reading) Timestamp() time.Time {
	return r.timestamp
}
