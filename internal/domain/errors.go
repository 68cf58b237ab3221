package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrIllegalTransition = errors.New("illegal state transition")
	ErrStatusConflict    = errors.New("job status changed concurrently")
	ErrJobNotEligible    = errors.New("job not eligible for processing")
	ErrNoJobAvailable    = errors.New("no job available")
	ErrProviderFailure   = errors.New("provider failure")
)
