package brokers

import (
	"errors"
	"fmt"

	pkgerrors "brokerapi/pkg/errors"
)

// Failure kinds. Every error returned by a Broker matches exactly one of them
// through errors.Is.
var (
	// ErrNetwork covers transport failures and non-JSON error replies.
	ErrNetwork = errors.New("broker network failure")

	// ErrParse indicates the reply could not be decoded into the expected shape.
	ErrParse = errors.New("broker response parse failure")

	// ErrExchange indicates the exchange reported a fault (error code/message).
	ErrExchange = errors.New("exchange reported fault")

	// ErrAuth indicates missing, unreadable or rejected credentials.
	ErrAuth = errors.New("broker authentication failure")

	// ErrInvalidRequest indicates validation failures before hitting exchange API.
	ErrInvalidRequest = errors.New("invalid broker request")
)

// kindParents links each kind to the module-wide sentinel it also satisfies.
var kindParents = map[error]error{
	ErrNetwork:        pkgerrors.ErrExchangeUnavailable,
	ErrParse:          pkgerrors.ErrMalformedResponse,
	ErrExchange:       pkgerrors.ErrExchangeFault,
	ErrAuth:           pkgerrors.ErrUnauthorized,
	ErrInvalidRequest: pkgerrors.ErrInvalidInput,
}

// Error is the single error type produced by broker clients.
type Error struct {
	Exchange string
	Op       string
	Kind     error
	Code     int
	Message  string
	Body     []byte
	Err      error
}

// Error implements the error interface
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Exchange, e.Op, e.Kind)
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code %d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// OpCreateOrder names the order placement operation on every exchange.
const OpCreateOrder = "create order"

// Unwrap exposes the kind, its module-wide parent and the cause. An exchange
// fault on order placement is also an ErrOrderRejected.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 4)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
		if parent, ok := kindParents[e.Kind]; ok {
			errs = append(errs, parent)
		}
		if e.Kind == ErrExchange && e.Op == OpCreateOrder {
			errs = append(errs, pkgerrors.ErrOrderRejected)
		}
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError builds an Error of the given kind.
func NewError(exchange, op string, kind error, err error) *Error {
	return &Error{
		Exchange: exchange,
		Op:       op,
		Kind:     kind,
		Err:      err,
	}
}

// NewExchangeError builds an exchange-fault Error carrying the reply.
func NewExchangeError(exchange, op string, code int, message string, body []byte) *Error {
	return &Error{
		Exchange: exchange,
		Op:       op,
		Kind:     ErrExchange,
		Code:     code,
		Message:  message,
		Body:     body,
	}
}

// KindOf returns the failure kind of err, or nil when err is not a broker error.
func KindOf(err error) error {
	var berr *Error
	if errors.As(err, &berr) {
		return berr.Kind
	}
	return nil
}
