package client

import (
	"errors"
	"fmt"
)

// ErrInvalidOption is returned when a per-call request option is not
// recognised or has the wrong type.
var ErrInvalidOption = errors.New("invalid request option")

// ErrResponseTooLarge is returned when a response body exceeds the
// builder's WithMaxResponseBytes limit.
var ErrResponseTooLarge = errors.New("response body too large")

// HTTPStatusError is returned by Endpoint calls that receive a non-2xx
// response. Body holds the (size-limited) response body.
type HTTPStatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("%s %s: server returned HTTP %d: %s", e.Method, e.URL, e.StatusCode, string(e.Body))
}

// NotRegisteredError is returned by Resolve when no cached client and no
// configured source produced a document for the requested API.
type NotRegisteredError struct {
	Name    string
	Version string
}

func (e *NotRegisteredError) Error() string {
	name := e.Name
	if e.Version != "" {
		name += ":" + e.Version
	}
	return fmt.Sprintf("client api %q is not registered", name)
}
