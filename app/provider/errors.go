package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	ErrRailRejected       = errors.New("rail rejected the request")
	ErrRailUnavailable    = errors.New("rail unavailable")
	ErrRefundNotSupported = errors.New("refund is not supported by this rail")
	ErrInvalidCallback    = errors.New("invalid callback payload")
)

// StatusError is a non-2xx rail response, classified as rejected or unavailable.
type StatusError struct {
	Kind       error
	Operation  string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%v: %s failed: status=%d body=%s", e.Kind, e.Operation, e.StatusCode, e.Body)
}

func (e *StatusError) Unwrap() error {
	return e.Kind
}

func rejected(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrRailRejected, fmt.Sprintf(format, args...))
}

func unavailable(err error) error {
	if err == nil {
		return ErrRailUnavailable
	}
	return fmt.Errorf("%w: %v", ErrRailUnavailable, err)
}

// classifyStatus maps a non-2xx response onto the rail error taxonomy.
func classifyStatus(operation string, statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if len(message) > 512 {
		message = message[:512]
	}
	kind := ErrRailRejected
	if statusCode == http.StatusTooManyRequests || statusCode >= 500 {
		kind = ErrRailUnavailable
	}
	return &StatusError{Kind: kind, Operation: operation, StatusCode: statusCode, Body: message}
}

func isUnauthorized(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusUnauthorized
}
