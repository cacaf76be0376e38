package usecase

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a signal operation failed.
type ErrorKind string

const (
	FeatureUnavailable   ErrorKind = "FeatureUnavailable"
	PriceUnavailable     ErrorKind = "PriceUnavailable"
	PredictorUnavailable ErrorKind = "PredictorUnavailable"
	StoreUnavailable     ErrorKind = "StoreUnavailable"
	PendingUnavailable   ErrorKind = "PendingUnavailable"
	SlotCorruption       ErrorKind = "SlotCorruption"
	NotFound             ErrorKind = "NotFound"
	// UnsupportedSymbol rejects instruments the price source does not quote.
	UnsupportedSymbol ErrorKind = "UnsupportedSymbol"
)

// SignalError tags a failure with its kind and the step that produced it.
type SignalError struct {
	Kind  ErrorKind
	Stage string
	Err   error
}

func (e *SignalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s at %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *SignalError) Unwrap() error { return e.Err }

func newSignalError(kind ErrorKind, stage string, err error) *SignalError {
	return &SignalError{Kind: kind, Stage: stage, Err: err}
}

// KindOf returns the kind carried by err, or "" when err is not a SignalError.
func KindOf(err error) ErrorKind {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// StageOf returns the step that failed, or "" when err is not a SignalError.
func StageOf(err error) string {
	var se *SignalError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
