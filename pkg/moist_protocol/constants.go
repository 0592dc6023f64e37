// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

// Package moist_protocol implements the line protocol spoken by the moisture
// sensor board.
//
// The host writes a single request byte. The board answers with one line of
// space separated "index:value" tokens, one token per sensor:
//
//	0:519 1:400 2:388
//
// Values are kept as text until they reach the persistence boundary.
package moist_protocol

// Wire bytes
const (
	RequestMarker  = '1'
	LineTerminator = '\n'
	TokenSeparator = " "
	PairSeparator  = ":"
)

// EventEntry is the event label stored with every measurement row
const EventEntry = "entry"

// MaxLineLength bounds a single reply frame
const MaxLineLength = 4096
