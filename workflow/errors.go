package workflow

import (
	"errors"
	"fmt"
	"net/http"

	"bitbucket.org/mmdatafocus/stageflow_backend/utils"
)

// Code is the stable, caller-visible failure taxonomy of the engine.
type Code string

const (
	CodeInsufficientStock       Code = "InsufficientStock"
	CodeOverRelease             Code = "OverRelease"
	CodeInsufficientMaterial    Code = "InsufficientMaterial"
	CodeWeightBalanceMismatch   Code = "WeightBalanceMismatch"
	CodeUnauthorized            Code = "Unauthorized"
	CodeStagePreconditionNotMet Code = "StagePreconditionNotMet"
	CodeAlreadyRejected         Code = "AlreadyRejected"
	CodeAlreadyCompleted        Code = "AlreadyCompleted"
	CodeApproverUnresolved      Code = "ApproverUnresolved"

	CodeNotFound             Code = "NotFound"
	CodeInvalidInput         Code = "InvalidInput"
	CodeInvalidState         Code = "InvalidState"
	CodeTransferNotApproved  Code = "TransferNotApproved"
	CodeDuplicateOrderNumber Code = "DuplicateOrderNumber"
	CodeStorageError         Code = "StorageError"
)

func (c Code) HTTPStatus() int {
	switch c {
	case CodeUnauthorized:
		return http.StatusForbidden
	case CodeNotFound:
		return http.StatusNotFound
	case CodeInvalidInput:
		return http.StatusBadRequest
	case CodeWeightBalanceMismatch:
		return http.StatusUnprocessableEntity
	case CodeStorageError:
		return http.StatusInternalServerError
	case "":
		return http.StatusOK
	default:
		return http.StatusConflict
	}
}

func (c Code) defaultMessage() string {
	switch c {
	case CodeInsufficientStock:
		return "not enough available stock"
	case CodeOverRelease:
		return "release exceeds reserved quantity"
	case CodeInsufficientMaterial:
		return "not enough eligible material to cover the order"
	case CodeWeightBalanceMismatch:
		return "output and waste weights do not add up to the original weight"
	case CodeUnauthorized:
		return "user is not allowed to perform this action"
	case CodeStagePreconditionNotMet:
		return "current stage is not completed"
	case CodeAlreadyRejected:
		return "weight transfer was already rejected"
	case CodeAlreadyCompleted:
		return "weight transfer was already completed"
	case CodeApproverUnresolved:
		return "no approver could be resolved for the approval step"
	case CodeNotFound:
		return "record not found"
	case CodeInvalidInput:
		return "invalid input"
	case CodeInvalidState:
		return "operation is not allowed in the current state"
	case CodeTransferNotApproved:
		return "weight transfer is not fully approved"
	case CodeDuplicateOrderNumber:
		return "order number already exists"
	default:
		return "storage error"
	}
}

// Error is returned by every engine operation. Compare with errors.Is against the Err* values.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Code.defaultMessage()
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrInsufficientStock       = &Error{Code: CodeInsufficientStock}
	ErrOverRelease             = &Error{Code: CodeOverRelease}
	ErrInsufficientMaterial    = &Error{Code: CodeInsufficientMaterial}
	ErrWeightBalanceMismatch   = &Error{Code: CodeWeightBalanceMismatch}
	ErrUnauthorized            = &Error{Code: CodeUnauthorized}
	ErrStagePreconditionNotMet = &Error{Code: CodeStagePreconditionNotMet}
	ErrAlreadyRejected         = &Error{Code: CodeAlreadyRejected}
	ErrAlreadyCompleted        = &Error{Code: CodeAlreadyCompleted}
	ErrApproverUnresolved      = &Error{Code: CodeApproverUnresolved}
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrInvalidInput            = &Error{Code: CodeInvalidInput}
	ErrInvalidState            = &Error{Code: CodeInvalidState}
	ErrTransferNotApproved     = &Error{Code: CodeTransferNotApproved}
	ErrDuplicateOrderNumber    = &Error{Code: CodeDuplicateOrderNumber}
	ErrStorage                 = &Error{Code: CodeStorageError}
)

func newError(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the code of err, StorageError for foreign errors and "" for nil.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeStorageError
}

// storageError classifies a persistence error; engine errors pass through untouched.
func storageError(err error, what string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if utils.IsRecordNotFound(err) {
		return &Error{Code: CodeNotFound, Message: what + " not found", Err: err}
	}
	return &Error{Code: CodeStorageError, Message: what, Err: err}
}
