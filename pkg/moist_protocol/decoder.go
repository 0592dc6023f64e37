// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package moist_protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrMalformedFrame is returned when a reply line does not follow the token grammar
var ErrMalformedFrame = errors.New("malformed frame")

// Pair is a single sensor reading as sent by the board
type Pair struct {
	Index int
	Value string
}

// FrameError describes why a reply line was rejected
type FrameError struct {
	Position int // token position, -1 for the whole line
	Token    string
	Reason   string
}

func (e *FrameError) Error() string {
	if e.Position < 0 {
		return fmt.Sprintf("malformed frame: %s", e.Reason)
	}
	return fmt.Sprintf("malformed frame: token %d %q: %s", e.Position, e.Token, e.Reason)
}

// Unwrap makes errors.Is(err, ErrMalformedFrame) hold for every FrameError
func (e *FrameError) Unwrap() error {
	return ErrMalformedFrame
}

// Decode splits a reply line into its (index, value) pairs.
// Order is preserved. Values are not validated here; see ParseValue.
func Decode(line string) ([]Pair, error) {
	if line == "" {
		return nil, &FrameError{Position: -1, Reason: "empty line"}
	}

	tokens := strings.Split(line, TokenSeparator)
	pairs := make([]Pair, 0, len(tokens))
	seen := make(map[int]struct{}, len(tokens))

	for i, token := range tokens {
		parts := strings.Split(token, PairSeparator)
		if len(parts) != 2 {
			return nil, &FrameError{Position: i, Token: token, Reason: fmt.Sprintf("expected one %q separator", PairSeparator)}
		}

		index, err := parseIndex(parts[0])
		if err != nil {
			return nil, &FrameError{Position: i, Token: token, Reason: err.Error()}
		}
		if _, dup := seen[index]; dup {
			return nil, &FrameError{Position: i, Token: token, Reason: fmt.Sprintf("duplicate sensor index %d", index)}
		}
		seen[index] = struct{}{}

		pairs = append(pairs, Pair{Index: index, Value: parts[1]})
	}

	return pairs, nil
}

// parseIndex accepts plain decimal digits only (no sign, no whitespace)
func parseIndex(s string) (int, error) {
	if s == "" {
		return 0, errors.New("empty sensor index")
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("sensor index %q is not a non-negative integer", s)
		}
	}
	index, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("sensor index %q out of range", s)
	}
	return index, nil
}

// ParseValue converts a raw sensor value to a float.
// Called at the persistence boundary, never by Decode.
func ParseValue(raw string) (float64, error) {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("value %q is not numeric", raw)
	}
	return v, nil
}
