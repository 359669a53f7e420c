package service

import (
	"errors"
	"fmt"
)

// ErrNoCandidate means nobody can take the request right now. Callers treat it as a normal outcome.
var ErrNoCandidate = errors.New("no technician available")

type StoreWriteError struct {
	Op  string
	Err error
}

func (e *StoreWriteError) Error() string {
	return fmt.Sprintf("store write %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error { return e.Err }

// PartialCommitError reports that the request was committed but a follow-up step failed.
type PartialCommitError struct {
	RequestID string
	Step      string
	Err       error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("request %s committed, %s failed: %v", e.RequestID, e.Step, e.Err)
}

func (e *PartialCommitError) Unwrap() error { return e.Err }
