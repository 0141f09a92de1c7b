package model

import (
	"errors"
)

// Outcome is the result of a successful mutation.
type Outcome string

const (
	OutcomeInserted Outcome = "I"
	OutcomeUpdated  Outcome = "U"
	OutcomeNoAction Outcome = "N"
	OutcomeDeleted  Outcome = "D"
)

// String returns the long name of the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "Inserted"
	case OutcomeUpdated:
		return "Updated"
	case OutcomeNoAction:
		return "NoAction"
	case OutcomeDeleted:
		return "Deleted"
	}
	return string(o)
}

// IsValid checks whether the outcome is a known value.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeInserted, OutcomeUpdated, OutcomeNoAction, OutcomeDeleted:
		return true
	}
	return false
}

// Result is returned by every successful mutation. Version is the entity
// version after the call; it is zero for deletes.
type Result struct {
	Outcome Outcome `json:"result"`
	Version int64   `json:"version,omitempty"`
}

// Sentinel errors. Callers match them with errors.Is; any other error from
// the store is a storage failure.
var (
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrRuleViolation   = errors.New("rule violation")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Code classifies an error for the API layer.
type Code string

const (
	CodeOK              Code = "OK"
	CodeNotFound        Code = "NotFound"
	CodeConflict        Code = "Conflict"
	CodeRuleViolation   Code = "RuleViolation"
	CodeInvalidArgument Code = "InvalidArgument"
	CodeStorageFailure  Code = "StorageFailure"
)

// CodeOf maps err to its outcome code.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return CodeOK
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrRuleViolation):
		return CodeRuleViolation
	case errors.Is(err, ErrInvalidArgument):
		return CodeInvalidArgument
	}
	return CodeStorageFailure
}
