// Copyright 2024-2026 Aiku AI

package notifier

import (
	"errors"
	"fmt"
	"net/http"

	"maunium.net/go/mautrix"
)

// ConfigError is an unrecoverable setup fault: a bad room reference, a
// missing access token or a template that does not match the key set.
type ConfigError struct {
	Field   string
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("configuration error: %s: %v", msg, e.Err)
	}
	return "configuration error: " + msg
}

func (e *ConfigError) Unwrap() error { return e.Err }

// NetworkError reports a non-success response from the homeserver while
// resolving an alias or sending an event.
type NetworkError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// UploadError reports a failed media upload. Callers treat it as non-fatal.
type UploadError struct {
	Filename string
	Err      error
}

func (e *UploadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("unable to upload file %s: %v", e.Filename, e.Err)
	}
	return "unable to upload file " + e.Filename
}

func (e *UploadError) Unwrap() error { return e.Err }

// IsConfigError reports whether err is or wraps a *ConfigError.
func IsConfigError(err error) bool {
	var cfgErr *ConfigError
	return errors.As(err, &cfgErr)
}

// newNetworkError extracts the status and body from a mautrix HTTP error.
func newNetworkError(op string, err error) *NetworkError {
	netErr := &NetworkError{Op: op, Err: err}
	var httpErr mautrix.HTTPError
	var httpErrPtr *mautrix.HTTPError
	var res *http.Response
	switch {
	case errors.As(err, &httpErr):
		res = httpErr.Response
		netErr.Body = httpErr.ResponseBody
	case errors.As(err, &httpErrPtr) && httpErrPtr != nil:
		res = httpErrPtr.Response
		netErr.Body = httpErrPtr.ResponseBody
	}
	if res != nil {
		netErr.StatusCode = res.StatusCode
	}
	return netErr
}
