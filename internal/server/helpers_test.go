package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jacksonlee411/loanportal/internal/config"
	"github.com/jacksonlee411/loanportal/internal/routing"
	"github.com/jacksonlee411/loanportal/pkg/authz"
)

const testJWTSecret = "0123456789abcdef0123456789abcdef"

type execCall struct {
	sql  string
	args []any
}

// stubTx answers QueryRow with results in order. The set_config Exec is
// recorded and always succeeds unless execErr is set.
type stubTx struct {
	pgx.Tx

	results  []string
	queryErr error
	execErr  error

	execs      []execCall
	queries    []execCall
	committed  bool
	rolledBack bool
}

func (t *stubTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if t.execErr != nil {
		return pgconn.CommandTag{}, t.execErr
	}
	return pgconn.NewCommandTag("SELECT 1"), nil
}

func (t *stubTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	t.queries = append(t.queries, execCall{sql: sql, args: args})
	if t.queryErr != nil {
		return stubRow{err: t.queryErr}
	}
	if len(t.results) == 0 {
		return stubRow{err: errors.New("row not mocked")}
	}
	v := t.results[0]
	t.results = t.results[1:]
	return stubRow{val: v}
}

func (t *stubTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *stubTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type stubRow struct {
	val string
	err error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*string)) = r.val
	return nil
}

type stubDB struct {
	tx       *stubTx
	beginErr error
}

func (d *stubDB) Begin(context.Context) (pgx.Tx, error) {
	if d.beginErr != nil {
		return nil, d.beginErr
	}
	return d.tx, nil
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func mustTestClassifier(t *testing.T) *routing.Classifier {
	t.Helper()

	c, err := routing.NewClassifier(routing.Allowlist{Version: 1, Entrypoints: map[string]routing.Entrypoint{
		"server": {Routes: []routing.Route{
			{Path: "/health", Methods: []string{"GET"}, RouteClass: "ops"},
			{Path: "/auth/v1/token", Methods: []string{"POST"}, RouteClass: "authn"},
			{Path: "/rest/v1/rpc/{function}", Methods: []string{"GET", "POST"}, RouteClass: "rpc"},
			{Path: "/rest/v1/{table}", Methods: []string{"GET"}, RouteClass: "public_api"},
		}},
	}}, "server")
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{
		HTTP: config.HTTPConfig{Addr: ":0", ShutdownTimeout: time.Second},
		Authz: config.AuthzConfig{
			Mode:       string(authz.ModeEnforce),
			ModelPath:  "../../config/access/model.conf",
			PolicyPath: "../../config/access/policy.csv",
		},
		Routing: config.RoutingConfig{AllowlistPath: "../../config/routing/allowlist.yaml"},
		Auth:    config.AuthConfig{JWTSecret: testJWTSecret},
		Registry: config.RegistryConfig{
			RESTTablesPath:            "../../config/rest/tables.yaml",
			RPCFunctionsPath:          "../../config/rpc/functions.yaml",
			LendingProductsPath:       "../../config/lending/products.yaml",
			NotificationTemplatesPath: "../../config/notifications/templates.yaml",
		},
		RateLimit: config.RateLimitConfig{Enabled: false, Backend: "memory"},
		Log:       config.LogConfig{Level: "info", Format: "json"},
	}
	return cfg
}

func errorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) routing.ErrorEnvelope {
	t.Helper()
	var env routing.ErrorEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return env
}
