package domain

import "errors"

var (
	ErrStreamNotFound      = errors.New("stream not found")
	ErrUnknownCategory     = errors.New("unknown stream category")
	ErrInsufficientHistory = errors.New("insufficient history")
	ErrModelNotTrained     = errors.New("detector model not trained")
	ErrStoreUnavailable    = errors.New("history store unavailable")
	ErrInvalidSubmission   = errors.New("metric submission values must be non-negative")
)
