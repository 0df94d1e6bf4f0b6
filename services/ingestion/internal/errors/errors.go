package errors

import (
	stderrors "errors"
	"fmt"

	goerrors "github.com/go-errors/errors"
)

type ErrorType string

const (
	ErrTypeFetch        ErrorType = "FETCH"
	ErrTypeFilter       ErrorType = "FILTER"
	ErrTypeNotification ErrorType = "NOTIFICATION"
	ErrTypeConfig       ErrorType = "CONFIG"
	ErrTypeLedger       ErrorType = "LEDGER"
	ErrTypeConflict     ErrorType = "CONFLICT"
	ErrTypeInvalidInput ErrorType = "INVALID_INPUT"
	ErrTypeInternal     ErrorType = "INTERNAL"
)

type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Stack   []byte
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) StackTrace() []byte {
	return e.Stack
}

func New(errType ErrorType, message string, err error) *DomainError {
	var stack []byte
	if err != nil {
		if stackErr, ok := err.(*goerrors.Error); ok {
			stack = stackErr.Stack()
		} else {
			stack = goerrors.Wrap(err, 2).Stack()
		}
	} else {
		stack = goerrors.New(message).Stack()
	}

	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Stack:   stack,
	}
}

// IsType reports whether any DomainError in err's chain has the given type.
func IsType(err error, errType ErrorType) bool {
	for err != nil {
		var de *DomainError
		if !stderrors.As(err, &de) {
			return false
		}
		if de.Type == errType {
			return true
		}
		err = de.Err
	}
	return false
}

// Is reports whether target is in err's chain.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// TypeOf returns the type of the outermost DomainError, or INTERNAL.
func TypeOf(err error) ErrorType {
	var de *DomainError
	if stderrors.As(err, &de) {
		return de.Type
	}
	return ErrTypeInternal
}

func Fetch(message string, err error) *DomainError {
	return New(ErrTypeFetch, message, err)
}

func Filter(message string, err error) *DomainError {
	return New(ErrTypeFilter, message, err)
}

func Notification(message string, err error) *DomainError {
	return New(ErrTypeNotification, message, err)
}

func Config(message string, err error) *DomainError {
	return New(ErrTypeConfig, message, err)
}

func Ledger(message string, err error) *DomainError {
	return New(ErrTypeLedger, message, err)
}

func Conflict(message string, err error) *DomainError {
	return New(ErrTypeConflict, message, err)
}

func InvalidInput(message string, err error) *DomainError {
	return New(ErrTypeInvalidInput, message, err)
}

func Internal(message string, err error) *DomainError {
	return New(ErrTypeInternal, message, err)
}

// Wrap returns err unchanged when it already carries a DomainError and
// wraps it as errType otherwise.
func Wrap(errType ErrorType, message string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	if stderrors.As(err, &de) {
		return err
	}
	return New(errType, message, err)
}
