package core

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

var (
	// ErrCredentialMissing indicates the configured signing scheme has no
	// usable key material. Fatal at startup, never retried.
	ErrCredentialMissing = errors.New("signing credential missing")
	// ErrNetwork indicates an HTTP-level failure (timeout, reset, non-2xx).
	ErrNetwork = errors.New("network error")
	// ErrParse indicates a response body that does not match the protocol.
	ErrParse = errors.New("malformed response")
	// ErrNoCatalog indicates no catalog refresh has succeeded yet. Distinct
	// from a catalog that lists zero enabled currencies.
	ErrNoCatalog = errors.New("currency catalog unavailable")
	// ErrUnsupportedPair indicates the exchange does not list the requested
	// (from, to) direction.
	ErrUnsupportedPair = errors.New("unsupported pair")
	// ErrBelowMinimum indicates the requested amount is under the pair
	// minimum. Joined with a MinAmountError carrying the figure.
	ErrBelowMinimum = errors.New("amount below pair minimum")
	// ErrInvalidAmount indicates a non-positive amount; rejected locally.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrReverseQuoteUnsupported indicates a fixed-destination quote was
	// requested. The upstream exchange only quotes forward, and exchange
	// curves are not linear, so inverting a forward quote is not allowed.
	ErrReverseQuoteUnsupported = errors.New("reverse quoting not supported")
)

// MinAmountError carries the pair minimum so callers can render guidance.
type MinAmountError struct {
	From      string
	To        string
	MinAmount decimal.Decimal
}

func (e MinAmountError) Error() string {
	return fmt.Sprintf("amount below minimum %s for %s/%s", e.MinAmount, e.From, e.To)
}

// AsMinAmountError unwraps a MinAmountError from an error chain.
func AsMinAmountError(err error) (MinAmountError, bool) {
	var minErr MinAmountError
	if !errors.As(err, &minErr) {
		return MinAmountError{}, false
	}
	return minErr, true
}
