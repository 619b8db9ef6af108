package workflow

import "errors"

// Result is the structured shape every operation is rendered as at the boundary.
type Result struct {
	Success   bool   `json:"success"`
	Data      any    `json:"data,omitempty"`
	ErrorCode Code   `json:"error_code,omitempty"`
	Message   string `json:"message,omitempty"`
}

func NewResult(data any, err error) Result {
	if err == nil {
		return Result{Success: true, Data: data}
	}
	code := CodeOf(err)
	msg := err.Error()
	var e *Error
	if errors.As(err, &e) {
		msg = e.Message
		if msg == "" {
			msg = e.Code.defaultMessage()
		}
	}
	// storage internals are not rendered to callers
	if code == CodeStorageError {
		msg = CodeStorageError.defaultMessage()
	}
	return Result{Success: false, ErrorCode: code, Message: msg}
}

func (r Result) HTTPStatus() int {
	return r.ErrorCode.HTTPStatus()
}
