package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
	"github.com/jacksonlee411/loanportal/pkg/pgerr"
)

const maxBodyBytes = 1 << 20

// ActorGetter returns the authenticated caller attached to ctx.
type ActorGetter func(ctx context.Context) (types.Actor, bool)

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}

// writeServiceError maps service errors onto statuses. Stable codes carried
// by the error win over the generic ones.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := httperr.CodeOf(err)
	switch {
	case httperr.IsBadRequest(err):
		writeError(w, r, http.StatusBadRequest, code, err.Error())
	case httperr.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, code, err.Error())
	case httperr.IsForbidden(err):
		writeError(w, r, http.StatusForbidden, code, err.Error())
	case httperr.IsConflict(err):
		writeError(w, r, http.StatusConflict, code, err.Error())
	default:
		if m, ok := pgerr.Classify(err); ok {
			writeError(w, r, m.Status, m.Code, m.Message)
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

// decodeBody reads a JSON object into dst. An empty body leaves dst alone.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	if len(body) > maxBodyBytes {
		writeError(w, r, http.StatusRequestEntityTooLarge, "body_too_large", "request body too large")
		return false
	}
	if strings.TrimSpace(string(body)) == "" {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
	}
	return true
}

func queryInt(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_"+name, "invalid "+name)
		return 0, false
	}
	return n, true
}
