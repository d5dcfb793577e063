package routing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	c, err := NewClassifier(serverAllowlist(), "server")
	if err != nil {
		t.Fatal(err)
	}
	return NewRouter(c, nil)
}

func TestRouter_PanicBecomes500JSON(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	r.Handle(RouteClassPublicAPI, http.MethodGet, "/rest/v1/panic", http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/rest/v1/panic", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content-type=%q", rec.Header().Get("Content-Type"))
	}
}

func TestRouter_MethodNotAllowed_JSONOnly(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	r.Handle(RouteClassPublicAPI, http.MethodGet, "/rest/v1/ping", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/rest/v1/ping", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		t.Fatalf("content-type=%q", rec.Header().Get("Content-Type"))
	}
}

func TestRouter_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/loan/api/nope", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status=%d", rec.Code)
	}
	var body ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Code != "not_found" || body.Meta.Path != "/loan/api/nope" {
		t.Fatalf("body=%+v", body)
	}
}

func TestRouter_PatternRoutes(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	r.Handle(RouteClassInternalAPI, http.MethodGet, "/loan/api/applications/summary", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("exact"))
	}))
	r.Handle(RouteClassInternalAPI, http.MethodGet, "/loan/api/applications/{id}", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("get:" + PathParam(req, "id")))
	}))
	r.Handle(RouteClassInternalAPI, http.MethodPatch, "/loan/api/applications/{id}", http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		_, _ = w.Write([]byte("patch:" + PathParam(req, "id")))
	}))

	cases := []struct {
		method string
		path   string
		want   string
	}{
		{method: http.MethodGet, path: "/loan/api/applications/summary", want: "exact"},
		{method: http.MethodGet, path: "/loan/api/applications/a1", want: "get:a1"},
		{method: http.MethodPatch, path: "/loan/api/applications/b2", want: "patch:b2"},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(tc.method, tc.path, nil))
		if rec.Body.String() != tc.want {
			t.Fatalf("%s %s: body=%q want %q", tc.method, tc.path, rec.Body.String(), tc.want)
		}
	}

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/loan/api/applications/a1", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status=%d", rec.Code)
	}
}

func TestPathParam_Missing(t *testing.T) {
	t.Parallel()

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	if got := PathParam(req, "id"); got != "" {
		t.Fatalf("got=%q", got)
	}
	req = req.WithContext(WithPathParams(req.Context(), map[string]string{"id": "z"}))
	if got := PathParam(req, "id"); got != "z" {
		t.Fatalf("got=%q", got)
	}
}

func TestEntrypointClass_Fallback(t *testing.T) {
	t.Parallel()

	if got := entrypointClass(map[string]routeEntry{}, RouteClassUI); got != RouteClassUI {
		t.Fatalf("got=%q", got)
	}
}

func TestRouter_Routes(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	r.Handle(RouteClassOps, http.MethodGet, "/health", noop)
	r.Handle(RouteClassRPC, http.MethodGet, "/rest/v1/rpc/{function}", noop)
	r.Handle(RouteClassRPC, http.MethodPost, "/rest/v1/rpc/{function}", noop)

	var got []string
	for _, rt := range r.Routes() {
		got = append(got, rt[0]+" "+rt[1])
	}
	slices.Sort(got)
	want := []string{"GET /health", "GET /rest/v1/rpc/{function}", "POST /rest/v1/rpc/{function}"}
	if !slices.Equal(got, want) {
		t.Fatalf("routes=%v", got)
	}
}
