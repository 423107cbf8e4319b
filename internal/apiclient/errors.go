package apiclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrUnexpectedShape is returned when a successful response body does not
// have the shape an operation expects.
var ErrUnexpectedShape = errors.New("unexpected response shape")

// TransportError reports that no HTTP response was received: connection
// failure, timeout, or cancellation.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ValidationError is a 400 response whose body maps field names to
// messages. Fields keeps every message per field, in body order.
type ValidationError struct {
	Message string
	Fields  map[string][]string
	Order   []string
}

func (e *ValidationError) Error() string { return e.Message }

// APIError is any other non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string { return e.Message }

// IsUnauthorized reports whether err is a 401 from the backend.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusUnauthorized
}

// responseError converts a non-2xx response into a ValidationError or an
// APIError.
func responseError(r *Response) error {
	if r.Status == http.StatusBadRequest && r.JSON {
		if verr, ok := validationError(r.Data); ok {
			return verr
		}
	}

	msg := ""
	if r.JSON {
		var body map[string]json.RawMessage
		if json.Unmarshal(r.Data, &body) == nil {
			msg = firstString(body, "message", "error")
		}
	}
	if msg == "" {
		msg = fmt.Sprintf("HTTP error! status: %d", r.Status)
	}
	return &APIError{Status: r.Status, Message: msg}
}

// firstString returns the first non-empty string value among keys.
func firstString(body map[string]json.RawMessage, keys ...string) string {
	for _, k := range keys {
		raw, ok := body[k]
		if !ok {
			continue
		}
		var s string
		if json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

// validationError parses a field-to-messages object while keeping the key
// order of the body, so the combined message is stable.
func validationError(data json.RawMessage) (*ValidationError, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil || tok != json.Delim('{') {
		return nil, false
	}

	verr := &ValidationError{Fields: make(map[string][]string)}
	parts := make([]string, 0)
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, false
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, false
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, false
		}

		msgs := fieldMessages(raw)
		first := ""
		if len(msgs) > 0 {
			first = msgs[0]
		}
		if _, seen := verr.Fields[key]; !seen {
			verr.Order = append(verr.Order, key)
		}
		verr.Fields[key] = msgs
		parts = append(parts, key+": "+first)
	}
	verr.Message = strings.Join(parts, ", ")
	return verr, true
}

// fieldMessages flattens one validation value. Lists yield their elements,
// anything else is used as-is.
func fieldMessages(raw json.RawMessage) []string {
	var list []json.RawMessage
	if json.Unmarshal(raw, &list) == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, scalarText(item))
		}
		return out
	}
	return []string{scalarText(raw)}
}

func scalarText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	return string(bytes.TrimSpace(raw))
}
