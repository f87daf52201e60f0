package httpplatform

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxErrorBody limits how much of an error response is kept.
const maxErrorBody = 256

// BadStatusCodeError is returned when the response status code is not 200.
type BadStatusCodeError struct {
	StatusCode int
	// Body is the start of the response body, trimmed.
	Body []byte
}

func NewBadStatusCodeError(statusCode int, body io.Reader) *BadStatusCodeError {
	data, _ := io.ReadAll(io.LimitReader(body, maxErrorBody))

	return &BadStatusCodeError{
		StatusCode: statusCode,
		Body:       bytes.TrimSpace(data),
	}
}

func (e *BadStatusCodeError) Error() string {
	if len(e.Body) == 0 {
		return fmt.Sprintf("bad status code: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("bad status code: %d: %s", e.StatusCode, e.Body)
}

// HasStatus reports whether err is a [BadStatusCodeError] with the given status code.
func HasStatus(err error, code int) bool {
	var e *BadStatusCodeError
	return errors.As(err, &e) && e.StatusCode == code
}

// IsUnauthorized reports whether err is a [BadStatusCodeError] with status 401.
func IsUnauthorized(err error) bool {
	return HasStatus(err, http.StatusUnauthorized)
}

// IsNotFound reports whether err is a [BadStatusCodeError] with status 404.
func IsNotFound(err error) bool {
	return HasStatus(err, http.StatusNotFound)
}
