package domain

import (
	"errors"
	"fmt"
)

// Core ledger failures.
var (
	ErrInsufficientFunds = errors.New("insufficient available balance")
	ErrOverUnlock        = errors.New("unlock exceeds locked contribution")
	ErrMembershipBanned  = errors.New("membership banned")
	ErrConflict          = errors.New("concurrent modification conflict")
	ErrPersistence       = errors.New("persistence failure")
	ErrLedgerMismatch    = errors.New("ledger replay does not match wallet projection")
)

// Validation
var (
	ErrInvalidAmount = errors.New("invalid amount")
	ErrInvalidInput  = errors.New("invalid input provided")
	ErrBelowMinimum  = errors.New("amount below minimum")
)

// Wallets and goals
var (
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletExists       = errors.New("wallet already exists")
	ErrGoalNotFound       = errors.New("goal not found")
	ErrGoalInactive       = errors.New("goal is not active")
	ErrGoalTargetExceeded = errors.New("contribution exceeds goal target")
)

// Groups
var (
	ErrGroupNotFound      = errors.New("group not found")
	ErrGroupInactive      = errors.New("group is not active")
	ErrGroupTooSmall      = errors.New("group needs at least two members to accept contributions")
	ErrGroupTargetReached = errors.New("group target already reached")
	ErrGroupFull          = errors.New("group member limit reached")
	ErrAdminLimit         = errors.New("group admin limit reached")
	ErrNotMember          = errors.New("user is not a group member")
	ErrAlreadyMember      = errors.New("user is already a group member")
	ErrNotGroupAdmin      = errors.New("only group admins may do this")
	ErrCannotRemoveAdmin  = errors.New("group admins cannot be removed")
	ErrActiveContribution = errors.New("member still has locked contributions")
)

// PersistenceError reports a failed durable write or read. Transient errors
// (timeouts, dropped connections) may succeed if the whole intent is retried.
type PersistenceError struct {
	Op        string
	Err       error
	Transient bool
}

func NewPersistenceError(op string, err error, transient bool) *PersistenceError {
	return &PersistenceError{Op: op, Err: err, Transient: transient}
}

func (e *PersistenceError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	return fmt.Sprintf("%s: %s persistence failure: %v", e.Op, kind, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

func (e *PersistenceError) Is(target error) bool { return target == ErrPersistence }

// IsTransient reports whether err is a persistence failure worth retrying.
func IsTransient(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe) && pe.Transient
}
