package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/pgrest"
)

type rpcAPI struct {
	runner    statementRunner
	functions *pgrest.FunctionRegistry
	logger    *zap.Logger
}

func (a rpcAPI) Register(router *routing.Router) {
	const path = "/rest/v1/rpc/{function}"
	router.Handle(routing.RouteClassRPC, http.MethodGet, path, http.HandlerFunc(a.handleCall))
	router.Handle(routing.RouteClassRPC, http.MethodPost, path, http.HandlerFunc(a.handleCall))
}

func (a rpcAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNotSingular) {
		routing.WriteError(w, r, routing.RouteClassRPC, http.StatusNotAcceptable, "not_singular", "JSON object requested, multiple (or no) rows returned")
		return
	}
	e := classifyError(err)
	if e.status >= http.StatusInternalServerError {
		a.logger.Error("rpc error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	routing.WriteError(w, r, routing.RouteClassRPC, e.status, e.code, e.message)
}

func (a rpcAPI) handleCall(w http.ResponseWriter, r *http.Request) {
	name := routing.PathParam(r, "function")
	fn, ok := a.functions.Function(name)
	if !ok {
		routing.WriteError(w, r, routing.RouteClassRPC, http.StatusNotFound, "unknown_function", "unknown function "+name)
		return
	}

	p := principalOrAnonymous(r.Context())
	if !authz.AtLeast(p.Role, fn.MinRole) {
		if p.Anonymous() {
			routing.WriteError(w, r, routing.RouteClassRPC, http.StatusUnauthorized, "unauthenticated", "sign in required")
			return
		}
		routing.WriteError(w, r, routing.RouteClassRPC, http.StatusForbidden, "insufficient_role", "function requires role "+fn.MinRole)
		return
	}

	var args map[string]any
	switch r.Method {
	case http.MethodGet:
		if !fn.Stable() {
			w.Header().Set("Allow", http.MethodPost)
			routing.WriteError(w, r, routing.RouteClassRPC, http.StatusMethodNotAllowed, "method_not_allowed", "volatile functions must be called with POST")
			return
		}
		args = pgrest.ArgsFromQuery(r.URL.Query())
	default:
		body, err := readProxyBody(w, r)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		args, err = pgrest.DecodeArgs(body)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
	}

	st, err := pgrest.BuildCall(fn, args, p.caller())
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	singular := wantsSingular(r) && fn.Returns == pgrest.ReturnsSet
	var rows []json.RawMessage
	check := func([]string) error { return nil }
	if singular {
		check = singularCheck(true, &rows)
	}
	results, err := a.runner.run(r.Context(), p, check, st)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if singular {
		writeRawJSON(w, http.StatusOK, singularMediaType, rows[0])
		return
	}
	writeRawJSON(w, http.StatusOK, "application/json", []byte(results[0]))
}
