// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad
// Copyright (c) 2025 The moist Authors

package moist_protocol

import (
	"fmt"
	"math"
)

// AnomalyType represents different types of reading anomalies
type AnomalyType int

const (
	AnomalyIndexOutOfRange AnomalyType = iota
	AnomalyNonNumericValue
	AnomalyNonFiniteValue
	AnomalyTooManySensors
)

// ValidationError represents a reading validation failure
type ValidationError struct {
	Type    AnomalyType
	Message string
	Details map[string]interface{}
}

// Error implements the error interface
func (v *ValidationError) Error() string {
	return v.Message
}

// ValidateReading checks decoded pairs against the configured sensor count.
// Returns a slice of validation errors (empty if the reading can be stored).
func ValidateReading(pairs []Pair, maxSensors int) []ValidationError {
	errors := []ValidationError{}

	if len(pairs) > maxSensors {
		errors = append(errors, ValidationError{
			Type:    AnomalyTooManySensors,
			Message: fmt.Sprintf("Reply carries %d sensors (max %d)", len(pairs), maxSensors),
			Details: map[string]interface{}{"count": len(pairs), "max": maxSensors},
		})
	}

	for _, p := range pairs {
		if p.Index >= maxSensors {
			errors = append(errors, ValidationError{
				Type:    AnomalyIndexOutOfRange,
				Message: fmt.Sprintf("Sensor index=%d out of range (max %d)", p.Index, maxSensors-1),
				Details: map[string]interface{}{"index": p.Index, "max": maxSensors - 1},
			})
		}

		v, err := ParseValue(p.Value)
		if err != nil {
			errors = append(errors, ValidationError{
				Type:    AnomalyNonNumericValue,
				Message: fmt.Sprintf("Sensor %d value %q is not numeric", p.Index, p.Value),
				Details: map[string]interface{}{"index": p.Index, "value": p.Value},
			})
			continue
		}
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errors = append(errors, ValidationError{
				Type:    AnomalyNonFiniteValue,
				Message: fmt.Sprintf("Sensor %d value %q is not finite", p.Index, p.Value),
				Details: map[string]interface{}{"index": p.Index, "value": p.Value},
			})
		}
	}

	return errors
}
