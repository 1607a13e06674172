package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound               = errors.New("not found")
	ErrDuplicateConnection    = errors.New("an active connection already exists for this exam and client token")
	ErrIllegalStateTransition = errors.New("illegal connection state transition")
	ErrInvalidCredentials     = errors.New("invalid exam client credentials")
	ErrExamNotRunning         = errors.New("exam is not running")
	ErrConnectionTerminated   = errors.New("connection was closed or disabled")
	ErrInvalidValue           = errors.New("event value must be a finite number")
)

// TransitionError reports a rejected status change.
type TransitionError struct {
	ConnectionID string
	From         ConnectionStatus
	To           ConnectionStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("connection %s: illegal state transition %s -> %s", e.ConnectionID, e.From, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalStateTransition
}

// InfrastructureError wraps a storage or lookup failure. It is never retried here.
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error { return e.Err }

// Infrastructure wraps err unless it is nil or already classified.
func Infrastructure(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	var ie *InfrastructureError
	if errors.As(err, &ie) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// IsInfrastructure reports whether err carries an InfrastructureError.
func IsInfrastructure(err error) bool {
	var ie *InfrastructureError
	return errors.As(err, &ie)
}
