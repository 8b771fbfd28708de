package services

import (
	"errors"

	"github.com/lib/pq"
)

// Error kinds surfaced by the balance service. Each aborts the unit of
// work with no partial writes; only ErrStorageConflict is retryable, and
// retrying is the dispatcher's job, never this package's.
var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrUserNotFound      = errors.New("user not found")
	ErrReceiverNotFound  = errors.New("receiver not found")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrSelfTransfer      = errors.New("cannot transfer to the same account")
	ErrStorageConflict   = errors.New("storage conflict")
)

// IsRetryable reports whether the dispatcher may re-attempt the job that
// produced err. Client errors (bad amount, missing user, insufficient
// funds) are terminal.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageConflict)
}

// Postgres SQLSTATE codes that mean the unit of work lost a race rather
// than hit a genuine data problem.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

// classifyStorageErr wraps contention failures as ErrStorageConflict so
// callers can distinguish "try again" from "give up". Other errors pass
// through untouched.
func classifyStorageErr(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
			return errors.Join(ErrStorageConflict, err)
		}
	}
	return err
}
