package controllers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/modules/iam/domain/types"
	"github.com/jacksonlee411/loanportal/modules/iam/services"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
	"github.com/jacksonlee411/loanportal/pkg/pgerr"
)

const maxBodyBytes = 64 << 10

type ActorGetter func(ctx context.Context) (services.Actor, bool)

type Users interface {
	List(ctx context.Context, actor services.Actor, f types.ProfileFilter) ([]types.Profile, error)
	SetRole(ctx context.Context, actor services.Actor, id string, role string) (types.Profile, error)
	SetStatus(ctx context.Context, actor services.Actor, id string, status string) (types.Profile, error)
}

// UsersController serves user administration under /admin/api/users.
type UsersController struct {
	Actor ActorGetter
	Users Users
}

type roleRequest struct {
	Role string `json:"role"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string, message string) {
	routing.WriteError(w, r, routing.RouteClassInternalAPI, status, code, message)
}

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

func (c UsersController) actor(w http.ResponseWriter, r *http.Request) (services.Actor, bool) {
	a, ok := c.Actor(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "unauthenticated", "sign in required")
		return services.Actor{}, false
	}
	return a, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil || len(body) > maxBodyBytes {
		writeError(w, r, http.StatusBadRequest, "bad_json", "bad json")
		return false
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

func (c UsersController) HandleList(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(w, r, "offset")
	if !ok {
		return
	}
	q := r.URL.Query()
	users, err := c.Users.List(r.Context(), actor, types.ProfileFilter{
		Role:   strings.TrimSpace(q.Get("role")),
		Status: strings.TrimSpace(q.Get("status")),
		Query:  q.Get("q"),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (c UsersController) HandleSetRole(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req roleRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := c.Users.SetRole(r.Context(), actor, routing.PathParam(r, "id"), req.Role)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, p)
}

func (c UsersController) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	actor, ok := c.actor(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := c.Users.SetStatus(r.Context(), actor, routing.PathParam(r, "id"), req.Status)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	routing.WriteJSON(w, http.StatusOK, p)
}

func (c UsersController) Register(router *routing.Router) {
	rc := routing.RouteClassInternalAPI
	router.Handle(rc, http.MethodGet, "/admin/api/users", http.HandlerFunc(c.HandleList))
	router.Handle(rc, http.MethodPost, "/admin/api/users/{id}/role", http.HandlerFunc(c.HandleSetRole))
	router.Handle(rc, http.MethodPost, "/admin/api/users/{id}/status", http.HandlerFunc(c.HandleSetStatus))
}
