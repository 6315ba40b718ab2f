package billing

import (
	"errors"
	"fmt"
)

var (
	ErrValidation             = errors.New("validation error")
	ErrServerConfiguration    = errors.New("server configuration error")
	ErrInvalidSignature       = errors.New("invalid signature")
	ErrProfileNotFound        = errors.New("profile not found")
	ErrSubscriptionNotFound   = errors.New("subscription not found")
	ErrPaymentNotCompleted    = errors.New("payment not completed")
	ErrVerificationInProgress = errors.New("verification already in progress")
	ErrLedgerWrite            = errors.New("ledger write failed")
)

// GatewayError is an upstream HTTP failure. Body carries the gateway response
// so callers can pass it through.
type GatewayError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s request failed: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

func validationErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func configErrorf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrServerConfiguration, fmt.Sprintf(format, args...))
}
