package dispatch

import (
	"errors"
	"fmt"
)

// ErrUnavailable marks failures to reach a server process (it could not be
// started, or it died). Only these failures are retried.
var ErrUnavailable = errors.New("server process unavailable")

// ParseError reports model output that is not a usable tool call, either
// structurally or because its arguments do not match the tool's schema
type ParseError struct {
	Text   string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid tool call: %s: %v", e.Reason, e.Err)
	}
	return "invalid tool call: " + e.Reason
}

func (e *ParseError) Unwrap() error { return e.Err }

// UnknownToolError reports a tool name no registered server advertises
type UnknownToolError struct {
	Tool string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Tool)
}

// InvocationError reports a failed or timed out call to a server
type InvocationError struct {
	Server   string
	Tool     string
	Timeout  bool
	ExitCode int
	Err      error
}

func (e *InvocationError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("calling %s on %s: timed out: %v", e.Tool, e.Server, e.Err)
	case e.ExitCode != 0:
		return fmt.Sprintf("calling %s on %s: exit status %d: %v", e.Tool, e.Server, e.ExitCode, e.Err)
	default:
		return fmt.Sprintf("calling %s on %s: %v", e.Tool, e.Server, e.Err)
	}
}

func (e *InvocationError) Unwrap() error { return e.Err }

// Kind names the error class for user-facing messages
func Kind(err error) string {
	var (
		parseErr   *ParseError
		unknownErr *UnknownToolError
		invokeErr  *InvocationError
	)
	switch {
	case errors.As(err, &parseErr):
		return "ParseError"
	case errors.As(err, &unknownErr):
		return "UnknownToolError"
	case errors.As(err, &invokeErr):
		return "InvocationError"
	default:
		return "Error"
	}
}
