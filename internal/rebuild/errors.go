package rebuild

import (
	"errors"
	"fmt"
)

var (
	ErrPrecondition    = errors.New("rebuild: precondition failed")
	ErrToolFailure     = errors.New("rebuild: tool failed")
	ErrPostcondition   = errors.New("rebuild: postcondition failed")
	ErrContentLocation = errors.New("rebuild: expected content missing")
)

// StageError is the single failure type of the rebuild. Kind is one of the
// sentinel errors above; Err is the underlying cause, if any.
type StageError struct {
	Stage Stage
	Arch  string
	Path  string
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%v: stage=%s arch=%q path=%q", e.Kind, e.Stage, e.Arch, e.Path)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage Stage, arch, path string, kind, err error) error {
	return &StageError{Stage: stage, Arch: arch, Path: path, Kind: kind, Err: err}
}

// AsStageError extracts the StageError from err, if present.
func AsStageError(err error) (*StageError, bool) {
	var se *StageError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
