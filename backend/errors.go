package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/jrsteele09/go-session-client/internal/utils"
)

// ErrMalformedResponse is returned when a success body cannot be decoded.
var ErrMalformedResponse = errors.New("malformed backend response")

// StatusError is an error status answered by the backend.
type StatusError struct {
	StatusCode int
	// Detail is the top-level message from detail, error or non_field_errors.
	Detail string
	// Fields holds field-keyed validation messages.
	Fields map[string][]string
	Body   []byte
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Detail)
	}
	if len(e.Fields) > 0 {
		return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.FieldSummary())
	}
	return fmt.Sprintf("backend returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// FieldSummary renders field errors as "field: message" in key order.
func (e *StatusError) FieldSummary() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], " "))
	}
	return strings.Join(parts, "; ")
}

// TransportError means the request never produced a response.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

func newStatusError(status int, body []byte) *StatusError {
	statusErr := &StatusError{StatusCode: status, Body: body}

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return statusErr
	}

	for _, key := range []string{"detail", "error", "message"} {
		if msgs := utils.ToStringSlice(payload[key]); len(msgs) > 0 && statusErr.Detail == "" {
			statusErr.Detail = strings.Join(msgs, " ")
		}
		delete(payload, key)
	}
	if msgs := utils.ToStringSlice(payload["non_field_errors"]); len(msgs) > 0 {
		if statusErr.Detail == "" {
			statusErr.Detail = strings.Join(msgs, " ")
		}
		delete(payload, "non_field_errors")
	}

	for field, value := range payload {
		msgs := utils.ToStringSlice(value)
		if len(msgs) == 0 {
			continue
		}
		if statusErr.Fields == nil {
			statusErr.Fields = make(map[string][]string)
		}
		statusErr.Fields[field] = msgs
	}
	return statusErr
}
