package query

import (
	"context"
	"errors"
	"fmt"

	"github.com/radiusdt/vector-analytics/internal/analytics"
	"github.com/radiusdt/vector-analytics/internal/storage"
)

// ErrInvalidParameter is matched by every validation failure.
var ErrInvalidParameter = errors.New("invalid parameter")

// ParamError describes a rejected request parameter.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidParameter, e.Field, e.Reason)
}

func (e *ParamError) Is(target error) bool {
	return target == ErrInvalidParameter
}

func invalid(field, format string, args ...any) error {
	return &ParamError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Code classifies a failed query for callers.
type Code string

const (
	CodeInvalidParameter        Code = "invalid_parameter"
	CodeDataUnavailable         Code = "data_unavailable"
	CodeInconsistentAggregation Code = "inconsistent_aggregation"
	CodeInternal                Code = "internal"
)

// Failure is the error half of a Result.
type Failure struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable"`

	err error
}

func (f *Failure) Error() string { return f.Message }

func (f *Failure) Unwrap() error { return f.err }

// Classify maps an error onto the failure taxonomy.
func Classify(err error) *Failure {
	var pe *ParamError
	switch {
	case errors.As(err, &pe):
		return &Failure{Code: CodeInvalidParameter, Message: err.Error(), Field: pe.Field, err: err}
	case errors.Is(err, storage.ErrDataUnavailable),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, context.Canceled):
		return &Failure{Code: CodeDataUnavailable, Message: err.Error(), Retryable: true, err: err}
	case errors.Is(err, analytics.ErrInconsistentAggregation):
		return &Failure{Code: CodeInconsistentAggregation, Message: err.Error(), err: err}
	default:
		return &Failure{Code: CodeInternal, Message: err.Error(), err: err}
	}
}
