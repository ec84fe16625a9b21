package xerrors

import (
	"errors"
	"fmt"
)

// Common reusable application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrUnauthorized = errors.New("unauthorized access")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalidInput = errors.New("invalid input")
	ErrConflict     = errors.New("conflict: resource already exists")
	ErrInternal     = errors.New("internal server error")
	ErrRateLimited  = errors.New("too many requests")
	ErrBadRequest   = errors.New("bad request")
)

// Wallet and loyalty errors
var (
	ErrAccountNotFound    = errors.New("account not found")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInsufficientPoints = errors.New("insufficient loyalty points")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrDuplicateReference = errors.New("external reference already posted")

	ErrVoucherNotFound = errors.New("voucher not found")
	ErrAlreadyRedeemed = errors.New("voucher already redeemed")
	ErrAlreadyUsed     = errors.New("voucher already used")
	ErrNotRedeemed     = errors.New("voucher not redeemed")

	ErrGatewayUnavailable    = errors.New("payment gateway unavailable")
	ErrUnsupportedGateway    = errors.New("unsupported payment method")
	ErrInvalidSignature      = errors.New("invalid payment signature")
	ErrAmountMismatch        = errors.New("notified amount does not match intent")
	ErrIntentNotFound        = errors.New("top-up intent not found")
	ErrIntentAlreadyTerminal = errors.New("top-up intent already terminal")
	ErrIntegrityViolation    = errors.New("ledger integrity violation")
)

// Wrap adds context to an error (similar to fmt.Errorf("%w")).
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is allows checking whether an error is a specific sentinel error.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// Unwrap extracts the underlying wrapped error.
func Unwrap(err error) error {
	return errors.Unwrap(err)
}

// MessageOrDefault returns err.Error() or a fallback message if err is nil.
func MessageOrDefault(err error, fallback string) string {
	if err != nil {
		return err.Error()
	}
	return fallback
}
