package orders

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrLocalValidation means the status machine refused the action and no
	// request was sent.
	ErrLocalValidation = errors.New("local validation failed")
	ErrNetwork         = errors.New("network error")
	ErrRemoteRejection = errors.New("rejected by order service")
	ErrUnauthorized    = errors.New("unauthorized")
)

const (
	msgNetwork      = "Unable to reach the order service. Please try again."
	msgUnavailable  = "The order service is temporarily unavailable. Please try again shortly."
	msgUnauthorized = "You do not have permission to perform this action."
	msgRejected     = "The order service could not complete the request."
	msgBadResponse  = "The order service returned an unexpected response."
)

// ActionError is returned for every failed gateway call. Kind is one of the
// package sentinels and Err the underlying cause; errors.Is matches both.
type ActionError struct {
	Kind       error
	Op         string
	OrderID    string
	StatusCode int
	Message    string
	Err        error
}

func (e *ActionError) Error() string {
	var b strings.Builder
	b.WriteString("orders: ")
	b.WriteString(e.Op)
	if e.OrderID != "" {
		fmt.Fprintf(&b, " order %s", e.OrderID)
	}
	fmt.Fprintf(&b, ": %v", e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (%d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

func (e *ActionError) Unwrap() []error {
	errs := []error{e.Kind}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// HTTPStatus maps the error kind to the status the dashboard API answers with.
func (e *ActionError) HTTPStatus() int {
	switch {
	case errors.Is(e.Kind, ErrLocalValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(e.Kind, ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(e.Kind, ErrNetwork):
		return http.StatusBadGateway
	case e.StatusCode >= 400 && e.StatusCode < 600:
		return e.StatusCode
	default:
		return http.StatusBadGateway
	}
}

func remoteError(op, orderID string, code int, body []byte) *ActionError {
	kind := ErrRemoteRejection
	fallback := msgRejected
	if code == http.StatusUnauthorized || code == http.StatusForbidden {
		kind = ErrUnauthorized
		fallback = msgUnauthorized
	}

	msg := extractMessage(body)
	if msg == "" {
		msg = fallback
	}

	return &ActionError{
		Kind:       kind,
		Op:         op,
		OrderID:    orderID,
		StatusCode: code,
		Message:    msg,
	}
}

// extractMessage pulls a human-readable message out of an error body. The
// backend uses "message", "error" or a nested "data.message".
func extractMessage(body []byte) string {
	var envelope struct {
		Message string          `json:"message"`
		Error   json.RawMessage `json:"error"`
		Data    struct {
			Message string `json:"message"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ""
	}

	if m := strings.TrimSpace(envelope.Message); m != "" {
		return m
	}

	if len(envelope.Error) > 0 {
		var s string
		if json.Unmarshal(envelope.Error, &s) == nil && strings.TrimSpace(s) != "" {
			return strings.TrimSpace(s)
		}
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(envelope.Error, &nested) == nil && strings.TrimSpace(nested.Message) != "" {
			return strings.TrimSpace(nested.Message)
		}
	}

	return strings.TrimSpace(envelope.Data.Message)
}
