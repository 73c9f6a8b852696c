package recon

import (
	"errors"
	"fmt"

	"github.com/banshee-data/colmap-zup/internal/command"
)

// StageError reports which stage stopped a run.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// ExitCode maps a Run error to a process exit status: 0 for nil, the
// collaborator's completion code when one failed, otherwise 1.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *command.ExitError
	if errors.As(err, &exitErr) && exitErr.Code > 0 {
		return exitErr.Code
	}
	return 1
}

// FailureLine renders the single console line printed when a run fails.
func FailureLine(err error) string {
	stage, cause := "pipeline", err
	var se *StageError
	if errors.As(err, &se) {
		stage, cause = se.Stage, se.Err
	}
	return fmt.Sprintf("%s failed with code %d: %v", stage, ExitCode(err), cause)
}
