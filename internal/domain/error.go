package domain

import (
	"errors"
	"strings"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidExecContext = errors.New("invalid execution context")
	ErrAlreadySettled     = errors.New("payment already settled")
	ErrLockNotAcquired    = errors.New("user lock not acquired")

	// Persistence failure; fatal to the request that triggered it.
	ErrStoreIO = errors.New("entitlement store i/o failure")

	ErrPaymentGateway = errors.New("payment gateway error")

	// Resolution pipeline
	ErrUnsupportedLink       = errors.New("link is not a supported shopee video link")
	ErrNoTokenFound          = errors.New("no anti-forgery token found")
	ErrUpstreamRejected      = errors.New("upstream rejected the request")
	ErrNoMediaFound          = errors.New("no media url found")
	ErrUnexpectedContentType = errors.New("unexpected content type")
	ErrResolutionFailed      = errors.New("all resolution strategies failed")
)

// StrategyAttempt records why one resolver strategy did not produce media.
type StrategyAttempt struct {
	Strategy string
	Err      error
}

// ResolutionError aggregates every failed strategy of a single download.
// errors.Is(err, ErrResolutionFailed) holds for it.
type ResolutionError struct {
	Attempts []StrategyAttempt
}

func (e *ResolutionError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrResolutionFailed.Error()
	}
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, a.Strategy+": "+a.Err.Error())
	}
	return ErrResolutionFailed.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ResolutionError) Unwrap() error { return ErrResolutionFailed }
