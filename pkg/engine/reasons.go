package engine

import (
	"errors"

	"github.com/NamanBalaji/webdl/pkg/download"
	httpProto "github.com/NamanBalaji/webdl/pkg/protocol/http"
)

// transferError is a failed attempt tagged with the reason code recorded
// on the row.
type transferError struct {
	reason    int
	retryable bool
	err       error
}

func (e *transferError) Error() string { return e.err.Error() }
func (e *transferError) Unwrap() error { return e.err }

func fileError(err error) error {
	return &transferError{reason: download.ReasonFileError, err: err}
}

func dataError(err error) error {
	return &transferError{reason: download.ReasonHTTPDataError, retryable: true, err: err}
}

// classify maps a failed attempt to its reason code and whether another
// attempt may succeed.
func classify(err error) (reason int, retryable bool) {
	var te *transferError
	if errors.As(err, &te) {
		return te.reason, te.retryable
	}

	var he *httpProto.HTTPError
	if errors.As(err, &he) {
		switch he.Type {
		case httpProto.ErrorTypeHTTP:
			if he.Status >= 400 {
				return he.Status, he.Status >= 500
			}
			return download.ReasonUnhandledHTTPCode, false
		case httpProto.ErrorTypeRedirect:
			return download.ReasonTooManyRedirects, false
		case httpProto.ErrorTypeNetwork, httpProto.ErrorTypeTimeout:
			return download.ReasonHTTPDataError, true
		}
	}

	if errors.Is(err, errNoFreeName) {
		return download.ReasonFileAlreadyExists, false
	}

	return download.ReasonUnknown, false
}
