package domain

import (
	"strings"

	apperrors "tollgate.io/tollgate/internal/pkg/errors"
)

// SeverityCounts holds violation counts per severity level.
type SeverityCounts struct {
	Info    int `json:"info"`
	Warning int `json:"warning"`
	Error   int `json:"error"`
}

// Of returns the count for one severity.
func (c SeverityCounts) Of(s Severity) int {
	switch s {
	case SeverityInfo:
		return c.Info
	case SeverityWarning:
		return c.Warning
	case SeverityError:
		return c.Error
	}
	return 0
}

// Total returns the sum across all severities.
func (c SeverityCounts) Total() int {
	return c.Info + c.Warning + c.Error
}

// AtOrAbove sums the violations whose severity is at least floor.
func (c SeverityCounts) AtOrAbove(floor Severity) int {
	n := 0
	for _, s := range Severities {
		if s.AtLeast(floor) {
			n += c.Of(s)
		}
	}
	return n
}

// ValidationOutcome is the result handed over by the validation service.
// Tollgate never inspects the artifact itself.
type ValidationOutcome struct {
	ValidationRunID string         `json:"validation_run_id,omitempty"`
	PRValidationID  string         `json:"pr_validation_id,omitempty"`
	Violations      SeverityCounts `json:"violations"`
}

// Normalize trims correlation ids.
func (o *ValidationOutcome) Normalize() {
	o.ValidationRunID = strings.TrimSpace(o.ValidationRunID)
	o.PRValidationID = strings.TrimSpace(o.PRValidationID)
}

// Validate requires at least one correlation id and non-negative counts.
func (o *ValidationOutcome) Validate() error {
	var fields []apperrors.FieldError
	if o.ValidationRunID == "" && o.PRValidationID == "" {
		fields = append(fields, apperrors.FieldError{
			Field: "validation_run_id", Code: "required",
			Message: "validation_run_id or pr_validation_id is required",
		})
	}
	for _, s := range Severities {
		if o.Violations.Of(s) < 0 {
			fields = append(fields, apperrors.FieldError{
				Field: "violations." + string(s), Code: "min", Message: "must not be negative",
			})
		}
	}
	if len(fields) == 0 {
		return nil
	}
	return apperrors.Validation(fields...)
}
