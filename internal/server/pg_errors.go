package server

import (
	"net/http"

	"github.com/jacksonlee411/loanportal/pkg/httperr"
	"github.com/jacksonlee411/loanportal/pkg/pgerr"
)

type apiError struct {
	status  int
	code    string
	message string
}

// classifyError covers the errors REST and RPC handlers surface: typed
// request errors first, then Postgres errors, then a generic 500.
func classifyError(err error) apiError {
	code := httperr.CodeOf(err)
	switch {
	case httperr.IsBadRequest(err):
		return apiError{status: http.StatusBadRequest, code: code, message: err.Error()}
	case httperr.IsNotFound(err):
		return apiError{status: http.StatusNotFound, code: code, message: err.Error()}
	case httperr.IsForbidden(err):
		return apiError{status: http.StatusForbidden, code: code, message: err.Error()}
	case httperr.IsConflict(err):
		return apiError{status: http.StatusConflict, code: code, message: err.Error()}
	}
	if m, ok := pgerr.Classify(err); ok {
		return apiError{status: m.Status, code: m.Code, message: m.Message}
	}
	return apiError{status: http.StatusInternalServerError, code: "internal_error", message: "internal error"}
}
