// Package pgerr maps Postgres errors onto client-facing statuses and codes.
package pgerr

import (
	"errors"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Mapped is the client-facing shape of a Postgres error.
type Mapped struct {
	Status  int
	Code    string
	Message string
}

// Code returns the SQLSTATE carried by err, or "" when err did not come from
// Postgres.
func Code(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		return strings.TrimSpace(pgErr.Code)
	}
	return ""
}

// Message returns the server message, or UNKNOWN.
func Message(err error) string {
	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		msg := strings.TrimSpace(pgErr.Message)
		if msg != "" {
			return msg
		}
	}
	return "UNKNOWN"
}

// IsInvalidInput reports data exceptions raised while casting client text.
func IsInvalidInput(err error) bool {
	switch Code(err) {
	case "22P02", "22003", "22007", "22008":
		return true
	default:
		return false
	}
}

// stableMessage returns the raised message when it is a stable code, or a
// code derived from the violated constraint.
func stableMessage(err error) string {
	msg := Message(err)
	if IsStableCode(msg) {
		return msg
	}

	if pgErr, ok := errors.AsType[*pgconn.PgError](err); ok && pgErr != nil {
		switch strings.TrimSpace(pgErr.ConstraintName) {
		case "applications_approved_amount_check":
			return "LENDING_APPROVED_AMOUNT_OUT_OF_RANGE"
		case "applications_funded_amount_check":
			return "LENDING_FUNDED_AMOUNT_OUT_OF_RANGE"
		case "applications_amount_check":
			return "invalid_amount"
		case "applications_term_months_check":
			return "invalid_term"
		}
	}
	return ""
}

// IsStableCode reports whether code looks like an UPPER_SNAKE code raised on
// purpose by a database function.
func IsStableCode(code string) bool {
	code = strings.TrimSpace(code)
	if code == "" || code == "UNKNOWN" {
		return false
	}
	for i := 0; i < len(code); i++ {
		ch := code[i]
		if ch >= 'A' && ch <= 'Z' {
			continue
		}
		if ch >= '0' && ch <= '9' {
			continue
		}
		if ch == '_' {
			continue
		}
		return false
	}
	return true
}

// Classify maps a Postgres error. ok is false for errors that did not come
// from Postgres.
func Classify(err error) (Mapped, bool) {
	pgErr, ok := errors.AsType[*pgconn.PgError](err)
	if !ok || pgErr == nil {
		return Mapped{}, false
	}
	msg := strings.TrimSpace(pgErr.Message)
	withStable := func(status int, fallback string) Mapped {
		if code := stableMessage(err); code != "" {
			return Mapped{Status: status, Code: code, Message: msg}
		}
		return Mapped{Status: status, Code: fallback, Message: msg}
	}

	if IsInvalidInput(err) {
		return Mapped{Status: http.StatusBadRequest, Code: "invalid_input", Message: msg}, true
	}
	switch strings.TrimSpace(pgErr.Code) {
	case "23505":
		return Mapped{Status: http.StatusConflict, Code: "conflict", Message: msg}, true
	case "23503":
		return Mapped{Status: http.StatusConflict, Code: "foreign_key_violation", Message: msg}, true
	case "23514", "23502":
		return withStable(http.StatusBadRequest, "constraint_violation"), true
	case "42703":
		return Mapped{Status: http.StatusBadRequest, Code: "unknown_column", Message: msg}, true
	case "42P01":
		return Mapped{Status: http.StatusBadRequest, Code: "unknown_relation", Message: msg}, true
	case "42501":
		return Mapped{Status: http.StatusForbidden, Code: "forbidden", Message: "permission denied"}, true
	case "P0001":
		return withStable(http.StatusBadRequest, "raise_exception"), true
	}
	return Mapped{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal error"}, true
}
