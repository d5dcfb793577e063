package httperr

import "errors"

type BadRequestError struct {
	code string
	msg  string
}

func (e *BadRequestError) Error() string { return e.msg }

// Code is the stable client-facing code; falls back to "bad_request".
func (e *BadRequestError) Code() string {
	if e.code == "" {
		return "bad_request"
	}
	return e.code
}

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

func NewBadRequestCode(code string, msg string) error {
	return &BadRequestError{code: code, msg: msg}
}

func IsBadRequest(err error) bool {
	_, ok := errors.AsType[*BadRequestError](err)
	return ok
}

type NotFoundError struct {
	msg string
}

func (e *NotFoundError) Error() string { return e.msg }

func NewNotFound(msg string) error { return &NotFoundError{msg: msg} }

func IsNotFound(err error) bool {
	_, ok := errors.AsType[*NotFoundError](err)
	return ok
}

type ForbiddenError struct {
	msg string
}

func (e *ForbiddenError) Error() string { return e.msg }

func NewForbidden(msg string) error { return &ForbiddenError{msg: msg} }

func IsForbidden(err error) bool {
	_, ok := errors.AsType[*ForbiddenError](err)
	return ok
}

type ConflictError struct {
	code string
	msg  string
}

func (e *ConflictError) Error() string { return e.msg }

func (e *ConflictError) Code() string {
	if e.code == "" {
		return "conflict"
	}
	return e.code
}

func NewConflict(code string, msg string) error { return &ConflictError{code: code, msg: msg} }

func IsConflict(err error) bool {
	_, ok := errors.AsType[*ConflictError](err)
	return ok
}

// CodeOf returns the stable code carried by err, or "" when it has none.
func CodeOf(err error) string {
	if e, ok := errors.AsType[*BadRequestError](err); ok {
		return e.Code()
	}
	if e, ok := errors.AsType[*ConflictError](err); ok {
		return e.Code()
	}
	if _, ok := errors.AsType[*NotFoundError](err); ok {
		return "not_found"
	}
	if _, ok := errors.AsType[*ForbiddenError](err); ok {
		return "forbidden"
	}
	return ""
}
