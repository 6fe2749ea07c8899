package models

import "errors"

var (
	ErrSourceUnavailable  = errors.New("observation source unavailable")
	ErrSourceTimeout      = errors.New("observation source timeout")
	ErrDuplicateJob       = errors.New("tracking job already active for product")
	ErrJobNotFound        = errors.New("tracking job not found")
	ErrProductNotFound    = errors.New("product not found")
	ErrInsufficientData   = errors.New("insufficient data")
	ErrInvalidProduct     = errors.New("invalid product")
	ErrInvalidObservation = errors.New("invalid observation")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrInvalidCost        = errors.New("cost must not be negative")
	ErrInvalidUnits       = errors.New("units sold must not be negative")
	ErrInvalidInterval    = errors.New("interval must be at least one minute")
	ErrNoCompetitors      = errors.New("at least one competitor is required")
)

// IsSourceFailure reports whether err is a recoverable per-competitor fetch failure.
func IsSourceFailure(err error) bool {
	return errors.Is(err, ErrSourceUnavailable) || errors.Is(err, ErrSourceTimeout)
}

// IsInvalidInput reports whether err is a rejected input rather than a system failure.
func IsInvalidInput(err error) bool {
	for _, target := range []error{
		ErrInvalidProduct, ErrInvalidObservation, ErrInvalidPrice, ErrInvalidCost,
		ErrInvalidUnits, ErrInvalidInterval, ErrNoCompetitors,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
