// Package errs defines the error kinds shared across the narrative market packages.
package errs

import (
	"errors"
	"net/http"

	"github.com/m-mizutani/goerr/v2"
)

var (
	// ErrInvalidInput marks malformed or out-of-range arguments.
	ErrInvalidInput = goerr.New("invalid input")

	// ErrDimensionMismatch is an ErrInvalidInput raised when two vectors differ in length.
	ErrDimensionMismatch = goerr.Wrap(ErrInvalidInput, "dimension mismatch")

	// ErrInsufficientStake is an ErrInvalidInput raised when an unstake exceeds a position.
	ErrInsufficientStake = goerr.Wrap(ErrInvalidInput, "insufficient staked amount")

	// ErrServiceUnavailable marks an unreachable or failing embedding backend.
	ErrServiceUnavailable = goerr.New("service unavailable")

	ErrNotFound  = goerr.New("not found")
	ErrNoRewards = goerr.New("no pending rewards")
)

// Value keys attached with goerr.V.
const (
	NarrativeIDKey = "narrative_id"
	StakerKey      = "staker"
	AmountKey      = "amount"
	ProviderKey    = "provider"
)

// HTTPStatus maps an error kind to the response class a boundary should use.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNoRewards):
		return http.StatusConflict
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// LogAttrs flattens err into slog key/value pairs, including goerr values when present.
func LogAttrs(err error) []any {
	if err == nil {
		return nil
	}
	attrs := []any{"error", err.Error()}
	var ge *goerr.Error
	if errors.As(err, &ge) {
		if v := ge.Values(); len(v) > 0 {
			attrs = append(attrs, "values", v)
		}
	}
	return attrs
}
