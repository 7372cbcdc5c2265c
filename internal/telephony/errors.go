package telephony

import (
	"errors"
	"fmt"
)

// ErrTransport marks failures where the provider could not be reached or did
// not answer in time. The operation may or may not have taken effect.
var ErrTransport = errors.New("telephony: provider unreachable")

// APIError is a provider-reported failure: an error object in the response,
// a non-2xx status, or a body that could not be parsed.
type APIError struct {
	Method     string
	HTTPStatus int
	Code       int
	Msg        string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("provider %s failed: %s (code %d)", e.Method, e.Msg, e.Code)
	}
	if e.HTTPStatus != 0 && e.HTTPStatus/100 != 2 {
		return fmt.Sprintf("provider %s failed: %s (http %d)", e.Method, e.Msg, e.HTTPStatus)
	}
	return fmt.Sprintf("provider %s failed: %s", e.Method, e.Msg)
}

// IsAPIError reports whether err carries a provider-reported failure.
func IsAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}
