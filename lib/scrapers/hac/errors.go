package hac

import (
	"errors"
	"fmt"
)

// bad credentials or a locked account. never retried on the
// connection ladder, it will not self-resolve.
var ErrBadCredentials = errors.New("portal rejected the credentials")

// ConnectivityError is returned once the connection retry ladder is
// exhausted for a cycle. The next scheduled poll starts a fresh
// ladder; this is not fatal to the process.
type ConnectivityError struct {
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("automation endpoint unreachable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ValidationError reports a student identity mismatch between the
// configured tracker and the portal-rendered page. Treated as a
// configuration problem, like bad credentials.
type ValidationError struct {
	Expected string
	Got      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("student id mismatch: configured %q, portal rendered %q", e.Expected, e.Got)
}

type ExtractionKind string

const (
	// the session or a navigation step exceeded its budget
	ExtractionTimeout ExtractionKind = "timeout"
	// the page came back but not in the shape we know how to read.
	// the upstream site changed, not the endpoint booting, so the
	// coordinator must not apply the connection ladder to these.
	ExtractionParse ExtractionKind = "parse"
	// the browser script itself reported a failure
	ExtractionAutomation ExtractionKind = "automation"
)

type ExtractionError struct {
	Kind ExtractionKind
	Err  error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extraction failed (%s): %v", e.Kind, e.Err)
}

func (e *ExtractionError) Unwrap() error {
	return e.Err
}

// IsConfigProblem reports whether err represents a condition that a
// retry cannot fix (credentials, identity mismatch).
func IsConfigProblem(err error) bool {
	var validation *ValidationError
	return errors.Is(err, ErrBadCredentials) || errors.As(err, &validation)
}
