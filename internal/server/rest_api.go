package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
	"github.com/jacksonlee411/loanportal/pkg/pgrest"
)

const (
	singularMediaType = "application/vnd.pgrst.object+json"
	maxProxyBodyBytes = 1 << 20
)

var errNotSingular = errors.New("server: result is not exactly one row")

type restAPI struct {
	runner statementRunner
	tables *pgrest.Registry
	logger *zap.Logger
}

func (a restAPI) Register(router *routing.Router) {
	const path = "/rest/v1/{table}"
	router.Handle(routing.RouteClassPublicAPI, http.MethodGet, path, http.HandlerFunc(a.handleRead))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPost, path, http.HandlerFunc(a.handleInsert))
	router.Handle(routing.RouteClassPublicAPI, http.MethodPatch, path, http.HandlerFunc(a.handleUpdate))
	router.Handle(routing.RouteClassPublicAPI, http.MethodDelete, path, http.HandlerFunc(a.handleDelete))
}

func (a restAPI) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, errNotSingular) {
		routing.WriteError(w, r, routing.RouteClassPublicAPI, http.StatusNotAcceptable, "not_singular", "JSON object requested, multiple (or no) rows returned")
		return
	}
	e := classifyError(err)
	if e.status >= http.StatusInternalServerError {
		a.logger.Error("rest proxy error", zap.String("path", r.URL.Path), zap.Error(err))
	}
	routing.WriteError(w, r, routing.RouteClassPublicAPI, e.status, e.code, e.message)
}

// query resolves the table and parses the request's query string against it.
func (a restAPI) query(r *http.Request) (pgrest.Query, error) {
	name := routing.PathParam(r, "table")
	tbl, ok := a.tables.Table(name)
	if !ok {
		return pgrest.Query{}, httperr.NewNotFound("unknown table " + name)
	}
	return pgrest.ParseQuery(tbl, r.URL.Query())
}

func wantsSingular(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), singularMediaType)
}

func decodeJSONArray(body string) ([]json.RawMessage, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal([]byte(body), &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// singularCheck returns a pre-commit check that rejects a result set whose
// first entry is not exactly one row. rows receives the decoded rows.
func singularCheck(singular bool, rows *[]json.RawMessage) func([]string) error {
	return func(results []string) error {
		decoded, err := decodeJSONArray(results[0])
		if err != nil {
			return err
		}
		*rows = decoded
		if singular && len(decoded) != 1 {
			return errNotSingular
		}
		return nil
	}
}

func contentRange(offset int, n int, total string) string {
	if n == 0 {
		return "*/" + total
	}
	return strconv.Itoa(offset) + "-" + strconv.Itoa(offset+n-1) + "/" + total
}

func writeRawJSON(w http.ResponseWriter, status int, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType+"; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

func writeRows(w http.ResponseWriter, r *http.Request, status int, rows []json.RawMessage, body string) {
	if wantsSingular(r) && len(rows) == 1 {
		writeRawJSON(w, status, singularMediaType, rows[0])
		return
	}
	writeRawJSON(w, status, "application/json", []byte(body))
}

func readProxyBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxProxyBodyBytes))
	if err != nil {
		if _, ok := errors.AsType[*http.MaxBytesError](err); ok {
			return nil, httperr.NewBadRequestCode("body_too_large", "request body too large")
		}
		return nil, httperr.NewBadRequestCode("invalid_body", "could not read request body")
	}
	return body, nil
}

func (a restAPI) handleRead(w http.ResponseWriter, r *http.Request) {
	q, err := a.query(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := q.ApplyRange(r.Header.Get("Range")); err != nil {
		a.writeError(w, r, err)
		return
	}
	prefer := pgrest.ParsePrefer(r.Header.Get("Prefer"))
	p := principalOrAnonymous(r.Context())
	opts := pgrest.ReadOptions{Caller: p.caller(), MaxRows: a.tables.MaxRows()}

	sel, err := pgrest.BuildSelect(q, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	stmts := []pgrest.Statement{sel}
	if prefer.CountExact {
		count, err := pgrest.BuildCount(q, opts)
		if err != nil {
			a.writeError(w, r, err)
			return
		}
		stmts = append(stmts, count)
	}

	var rows []json.RawMessage
	results, err := a.runner.run(r.Context(), p, singularCheck(wantsSingular(r), &rows), stmts...)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	total := "*"
	status := http.StatusOK
	if prefer.CountExact {
		total = strings.TrimSpace(results[1])
		if n, err := strconv.Atoi(total); err == nil && q.Offset+len(rows) < n && !wantsSingular(r) {
			status = http.StatusPartialContent
		}
	}
	w.Header().Set("Content-Range", contentRange(q.Offset, len(rows), total))
	writeRows(w, r, status, rows, results[0])
}

func (a restAPI) writeOptions(r *http.Request, p Principal) pgrest.WriteOptions {
	return pgrest.WriteOptions{Caller: p.caller(), Prefer: pgrest.ParsePrefer(r.Header.Get("Prefer"))}
}

func (a restAPI) handleInsert(w http.ResponseWriter, r *http.Request) {
	q, err := a.query(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	body, err := readProxyBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rows, err := pgrest.DecodeRows(body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p := principalOrAnonymous(r.Context())
	opts := a.writeOptions(r, p)
	st, err := pgrest.BuildInsert(q, rows, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.runMutation(w, r, p, opts.Prefer, http.StatusCreated, http.StatusCreated, st)
}

func (a restAPI) handleUpdate(w http.ResponseWriter, r *http.Request) {
	q, err := a.query(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	body, err := readProxyBody(w, r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	rows, err := pgrest.DecodeRows(body)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if len(rows) != 1 || strings.HasPrefix(strings.TrimSpace(string(body)), "[") {
		a.writeError(w, r, httperr.NewBadRequestCode("invalid_json", "PATCH body must be a JSON object"))
		return
	}
	p := principalOrAnonymous(r.Context())
	opts := a.writeOptions(r, p)
	st, err := pgrest.BuildUpdate(q, rows[0], opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.runMutation(w, r, p, opts.Prefer, http.StatusOK, http.StatusNoContent, st)
}

func (a restAPI) handleDelete(w http.ResponseWriter, r *http.Request) {
	q, err := a.query(r)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	p := principalOrAnonymous(r.Context())
	opts := a.writeOptions(r, p)
	st, err := pgrest.BuildDelete(q, opts)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.runMutation(w, r, p, opts.Prefer, http.StatusOK, http.StatusNoContent, st)
}

// runMutation executes st and answers with the written rows for
// return=representation, or with minimalStatus and no body.
func (a restAPI) runMutation(w http.ResponseWriter, r *http.Request, p Principal, prefer pgrest.Prefer, bodyStatus int, minimalStatus int, st pgrest.Statement) {
	var rows []json.RawMessage
	results, err := a.runner.run(r.Context(), p, singularCheck(wantsSingular(r), &rows), st)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Range", contentRange(0, len(rows), "*"))
	if prefer.Return != pgrest.ReturnRepresentation {
		w.WriteHeader(minimalStatus)
		return
	}
	writeRows(w, r, bodyStatus, rows, results[0])
}
