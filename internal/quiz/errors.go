package quiz

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
)

var (
	ErrNotAuthenticated      = errors.New("not authenticated")
	ErrNotAuthorized         = errors.New("not authorized for this session variant")
	ErrCertificationNotFound = errors.New("certification not found")
	ErrSessionNotFound       = errors.New("session not found")
	ErrQuestionNotFound      = errors.New("question not found")
	ErrInsufficientQuestions = errors.New("insufficient questions")
	ErrAlreadyFinalized      = errors.New("session already finalized")
	ErrFinalizeInProgress    = errors.New("session finalize in progress")
	ErrStoreUnavailable      = errors.New("store unavailable")
	ErrInvalidInput          = errors.New("invalid input")
)

// storeErr wraps a driver error with the operation name. Connection-level
// failures are additionally marked ErrStoreUnavailable.
func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if isTransient(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	var ne net.Error
	return errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &ne)
}
