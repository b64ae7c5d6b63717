package domain

import (
	"errors"
	"fmt"
)

var (
	ErrArtifactNotFound   = errors.New("artifact not found")
	ErrTransport          = errors.New("transport error")
	ErrTimeout            = errors.New("request timeout")
	ErrUnsupportedCommand = errors.New("unsupported command")
	ErrInitialization     = errors.New("initialization error")
	ErrInvalidInput       = errors.New("invalid input")
	ErrSuperseded         = errors.New("superseded by a newer request")
	ErrNotConnected       = errors.New("device not connected")
)

// OpError records the operation and target that failed.
type OpError struct {
	Op     string // "fetch_markup", "send", "activate", ...
	Target string
	Err    error
}

func (e *OpError) Error() string {
	if e.Target == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

// BackendError is a failure reported by the native host for a request.
type BackendError struct {
	Command string
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s", e.Command, e.Message)
}
