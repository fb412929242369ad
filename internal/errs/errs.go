// Package errs defines the error kinds every public operation reports.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind int

const (
	Internal Kind = iota
	Connection
	Validation
	InsufficientWallets
	MEVRiskDetected
	TransactionTimeout
	TransactionFailed
	Encryption
)

func (k Kind) String() string {
	switch k {
	case Connection:
		return "ConnectionError"
	case Validation:
		return "ValidationError"
	case InsufficientWallets:
		return "InsufficientWalletsError"
	case MEVRiskDetected:
		return "MEVRiskDetected"
	case TransactionTimeout:
		return "TransactionTimeout"
	case TransactionFailed:
		return "TransactionFailed"
	case Encryption:
		return "EncryptionError"
	default:
		return "InternalError"
	}
}

// Error is a tagged error. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so errors.Is(err, errs.ErrValidation) works
// through wrapping.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrConnection          = &Error{Kind: Connection}
	ErrValidation          = &Error{Kind: Validation}
	ErrInsufficientWallets = &Error{Kind: InsufficientWallets}
	ErrMEVRiskDetected     = &Error{Kind: MEVRiskDetected}
	ErrTransactionTimeout  = &Error{Kind: TransactionTimeout}
	ErrTransactionFailed   = &Error{Kind: TransactionFailed}
	ErrEncryption          = &Error{Kind: Encryption}
)

// New builds a tagged error with a formatted message.
func New(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags err with kind. A nil err yields nil.
func Wrap(kind Kind, op string, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

// KindOf reports the kind of the outermost tagged error in err's chain,
// or Internal when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}
