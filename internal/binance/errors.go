package binance

import (
	"errors"
	"fmt"
)

// CodeInvalidSymbol is the provider error code returned for an unknown
// trading symbol.
const CodeInvalidSymbol = -1121

// ErrBanned is returned on HTTP 418: the provider has banned this IP for
// repeatedly exceeding rate limits. Never retried.
var ErrBanned = errors.New("ip banned by data api")

// APIError is a non-2xx response from the data API carrying the provider's
// numeric error code and message.
type APIError struct {
	StatusCode int
	Code       int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d (http %d): %s", e.Code, e.StatusCode, e.Message)
}

// IsInvalidSymbol reports whether err is the provider's invalid-symbol
// error.
func IsInvalidSymbol(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == CodeInvalidSymbol
}
