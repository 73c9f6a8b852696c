package command

import (
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// ExitError reports a command that did not complete successfully.
type ExitError struct {
	// Op names the operation, e.g. "feature_extractor".
	Op string
	// Code is the process exit status. Commands that could not be started
	// report 127, commands killed by a signal report 1.
	Code int
	// Output is the captured output, when not streamed.
	Output string
	Err    error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed with code %d: %v", e.Op, e.Code, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// StatusError is a bare exit status. Fakes return it to simulate a failing
// process.
type StatusError int

func (s StatusError) Error() string { return "exit status " + strconv.Itoa(int(s)) }

// ExitCode returns the status.
func (s StatusError) ExitCode() int { return int(s) }

// NewExitError wraps err from running op into an *ExitError.
func NewExitError(op string, output []byte, err error) *ExitError {
	var existing *ExitError
	if errors.As(err, &existing) {
		return existing
	}

	code := 1
	var coder interface{ ExitCode() int }
	switch {
	case errors.As(err, &coder):
		if c := coder.ExitCode(); c > 0 {
			code = c
		}
	case errors.Is(err, exec.ErrNotFound):
		code = 127
	}
	return &ExitError{Op: op, Code: code, Output: strings.TrimSpace(string(output)), Err: err}
}
