package broker

import (
	"errors"
	"fmt"
)

var (
	// ErrSymbolNotFound: the instrument has no tradable terminal symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrQuoteUnavailable: no current tick; retry on a later tick.
	ErrQuoteUnavailable = errors.New("quote unavailable")
	// ErrGatewayRejected: the terminal answered with a non-done retcode.
	ErrGatewayRejected = errors.New("gateway rejected request")
	// ErrGatewayUnavailable: the terminal could not be reached in time.
	ErrGatewayUnavailable = errors.New("gateway unavailable")
)

// RejectedError carries the terminal's answer to a refused request.
type RejectedError struct {
	Op      string
	Retcode int
	Message string
}

func (e *RejectedError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = RetcodeText(e.Retcode)
	}
	return fmt.Sprintf("%s: retcode=%d: %s", e.Op, e.Retcode, msg)
}

func (e *RejectedError) Unwrap() error { return ErrGatewayRejected }

// Rejected builds a RejectedError from a result.
func Rejected(op string, res OrderResult) error {
	return &RejectedError{Op: op, Retcode: res.Retcode, Message: res.Message}
}
