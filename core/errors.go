package core

// Typed error kinds for receipts. Modelled on pkg/utils.Wrap's
// wrap-with-context idiom but extended with a stable machine-readable Kind
// so dispatch code can classify failures with errors.As instead of string
// matching, and so Receipt.ErrorKind round-trips through the codec.

import (
	"errors"
	"fmt"
)

// Kind classifies a failed operation outcome.
type Kind string

const (
	KindDecode             Kind = "Decode"
	KindBadSignature       Kind = "BadSignature"
	KindAddressMismatch    Kind = "AddressMismatch"
	KindNonceReplay        Kind = "NonceReplay"
	KindNonceGap           Kind = "NonceGap"
	KindUnauthorizedInject Kind = "UnauthorizedInjector"
	KindNoSuchFunction     Kind = "NoSuchFunction"
	KindAlreadyDeployed    Kind = "AlreadyDeployed"
	KindInsufficient       Kind = "Insufficient"
	KindOutOfGas           Kind = "OutOfGas"
	KindNotSupported       Kind = "NotSupported"
	KindUserError          Kind = "UserError"
	KindPreimageMissing    Kind = "PreimageMissing"
	KindHashMismatch       Kind = "HashMismatch"
	KindSizeExceeded       Kind = "SizeExceeded"
	KindStorageFailure     Kind = "StorageFailure"
	KindBadLifetime        Kind = "BadLifetime"
	KindAborted            Kind = "Aborted"
	KindOracleUnavailable  Kind = "OracleUnavailable"
	KindOracleTimeout      Kind = "OracleTimeout"
)

// Error is the single error type returned across the core; it always
// carries a Kind so a caller can classify the failure without parsing the
// message, and wraps the original cause for errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs a classified error with an optional cause.
func NewError(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err if it is (or wraps) a *Error, otherwise
// it returns KindStorageFailure as the conservative default — an
// unclassified failure is treated as a host-level failure so it is never
// silently swallowed as a soft user error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorageFailure
}

// Fatal reports whether an error kind rejects the operation outright
// (decode, signature, source, nonce or injector checks) as opposed to an
// execution failure (balance, gas, user error, abort, ...), for which it
// returns false.
func (k Kind) Fatal() bool {
	switch k {
	case KindDecode, KindBadSignature, KindAddressMismatch, KindNonceReplay, KindNonceGap, KindUnauthorizedInject:
		return true
	default:
		return false
	}
}
