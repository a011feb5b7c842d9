package proxylink

import "fmt"

// ParseError reports a malformed proxy link. It is always a configuration
// error: nothing has been started when it is returned.
type ParseError struct {
	Scheme string
	Reason string
	Cause  error
}

func (e *ParseError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("invalid %s link: %s", e.Scheme, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Cause }

func newParseError(scheme, reason string, cause error) error {
	if scheme == "" {
		scheme = "proxy"
	}
	return &ParseError{Scheme: scheme, Reason: reason, Cause: cause}
}
