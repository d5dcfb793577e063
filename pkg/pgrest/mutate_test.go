package pgrest

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jacksonlee411/loanportal/pkg/authz"
	"github.com/jacksonlee411/loanportal/pkg/httperr"
)

func mutation(cte string, returning string) string {
	return "WITH _w AS (" + cte + " RETURNING " + returning + ") SELECT coalesce(json_agg(_w), '[]'::json)::text FROM _w"
}

func mustRows(t *testing.T, body string) []Row {
	t.Helper()
	rows, err := DecodeRows([]byte(body))
	if err != nil {
		t.Fatalf("DecodeRows: %v", err)
	}
	return rows
}

func TestDecodeRows(t *testing.T) {
	t.Parallel()

	rows := mustRows(t, ` {"a": 1.50} `)
	if len(rows) != 1 || rows[0]["a"] != json.Number("1.50") {
		t.Fatalf("rows=%v", rows)
	}
	rows = mustRows(t, `[{"a":1},{"b":2}]`)
	if len(rows) != 2 {
		t.Fatalf("rows=%v", rows)
	}
	for _, bad := range []string{"", "  ", "1", "null", "[null]", "[1]", "{"} {
		_, err := DecodeRows([]byte(bad))
		if !httperr.IsBadRequest(err) {
			t.Fatalf("%q: err=%v", bad, err)
		}
	}
}

func TestBuildInsert_OwnerForcedAndDefaults(t *testing.T) {
	t.Parallel()

	apps := testTable(t, "loan_applications")
	q := mustQuery(t, apps, "")
	rows := mustRows(t, `[{"business_name":"Acme","amount":2500.50},{"business_name":"Beta","form_data":{"a":1}}]`)

	st, err := BuildInsert(q, rows, WriteOptions{Caller: borrower})
	if err != nil {
		t.Fatal(err)
	}
	want := mutation(`INSERT INTO "lending"."applications" AS _t ("applicant_id", "business_name", "amount", "form_data") VALUES ($1::text::uuid, $2, $3::text::numeric, DEFAULT), ($4::text::uuid, $5, DEFAULT, $6::text::jsonb)`, appColumns)
	if st.SQL != want {
		t.Fatalf("sql=\n%s\nwant\n%s", st.SQL, want)
	}
	if diff := cmp.Diff([]any{"u1", "Acme", "2500.50", "u1", "Beta", `{"a":1}`}, st.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
}

func TestBuildInsert_ColumnRules(t *testing.T) {
	t.Parallel()

	apps := testTable(t, "loan_applications")
	q := mustQuery(t, apps, "")
	cases := []struct {
		body   string
		caller Caller
		code   string
	}{
		{body: `{"status":"approved"}`, caller: borrower, code: "read_only_column"},
		{body: `{"applicant_id":"someone-else"}`, caller: borrower, code: "read_only_column"},
		{body: `{"nope":1}`, caller: borrower, code: "unknown_column"},
		{body: `{"nope":1}`, caller: officer, code: "unknown_column"},
		{body: `{"status":"approved"}`, caller: officer, code: "read_only_column"},
		{body: `{"approved_amount":10}`, caller: Caller{ID: "s1", Role: authz.RoleSuperAdmin}, code: "read_only_column"},
	}
	for _, tc := range cases {
		_, err := BuildInsert(q, mustRows(t, tc.body), WriteOptions{Caller: tc.caller})
		if httperr.CodeOf(err) != tc.code {
			t.Fatalf("%s: err=%v", tc.body, err)
		}
	}

	if _, err := BuildInsert(q, mustRows(t, `{"business_name":"Acme","applicant_id":"a"}`), WriteOptions{Caller: officer}); err != nil {
		t.Fatalf("staff insert err=%v", err)
	}
	if _, err := BuildInsert(q, nil, WriteOptions{Caller: officer}); httperr.CodeOf(err) != "empty_body" {
		t.Fatalf("err=%v", err)
	}
}

func TestBuildInsert_ColumnsParamAndDefaultValues(t *testing.T) {
	t.Parallel()

	products := testTable(t, "loan_products")
	admin := Caller{ID: "a1", Role: authz.RoleAdmin}

	q := mustQuery(t, products, "columns=loan_type&select=loan_type")
	st, err := BuildInsert(q, mustRows(t, `{"loan_type":"term_loan","display_name":"ignored"}`), WriteOptions{Caller: admin})
	if err != nil {
		t.Fatal(err)
	}
	if want := mutation(`INSERT INTO "lending"."products" AS _t ("loan_type") VALUES ($1)`, `"loan_type"`); st.SQL != want {
		t.Fatalf("sql=%s", st.SQL)
	}

	st, err = BuildInsert(mustQuery(t, products, ""), mustRows(t, `{}`), WriteOptions{Caller: admin})
	if err != nil {
		t.Fatal(err)
	}
	if want := mutation(`INSERT INTO "lending"."products" AS _t DEFAULT VALUES`, `"loan_type", "display_name", "active"`); st.SQL != want {
		t.Fatalf("sql=%s", st.SQL)
	}
}

func TestBuildInsert_Upsert(t *testing.T) {
	t.Parallel()

	products := testTable(t, "loan_products")
	admin := Caller{ID: "a1", Role: authz.RoleAdmin}
	row := `{"loan_type":"sba_7a","display_name":"SBA 7(a)","active":true}`
	const insert = `INSERT INTO "lending"."products" AS _t ("loan_type", "display_name", "active") VALUES ($1, $2, $3::text::boolean)`
	const returning = `"loan_type", "display_name", "active"`

	st, err := BuildInsert(mustQuery(t, products, "on_conflict=loan_type"), mustRows(t, row), WriteOptions{
		Caller: admin,
		Prefer: Prefer{Resolution: ResolutionMergeDuplicates},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := mutation(insert+` ON CONFLICT ("loan_type") DO UPDATE SET "display_name" = EXCLUDED."display_name", "active" = EXCLUDED."active"`, returning)
	if st.SQL != want {
		t.Fatalf("sql=\n%s\nwant\n%s", st.SQL, want)
	}
	if diff := cmp.Diff([]any{"sba_7a", "SBA 7(a)", "true"}, st.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}

	st, err = BuildInsert(mustQuery(t, products, ""), mustRows(t, row), WriteOptions{
		Caller: admin,
		Prefer: Prefer{Resolution: ResolutionIgnoreDuplicates},
	})
	if err != nil {
		t.Fatal(err)
	}
	if want := mutation(insert+` ON CONFLICT ("loan_type") DO NOTHING`, returning); st.SQL != want {
		t.Fatalf("sql=%s", st.SQL)
	}
}

func TestBuildInsert_ScopedUpsertGuardsExistingRow(t *testing.T) {
	t.Parallel()

	apps := testTable(t, "loan_applications")
	st, err := BuildInsert(mustQuery(t, apps, "select=id"), mustRows(t, `{"id":"a1","business_name":"X"}`), WriteOptions{
		Caller: borrower,
		Prefer: Prefer{Resolution: ResolutionMergeDuplicates},
	})
	if err != nil {
		t.Fatal(err)
	}
	want := mutation(`INSERT INTO "lending"."applications" AS _t ("id", "applicant_id", "business_name") VALUES ($1::text::uuid, $2::text::uuid, $3) ON CONFLICT ("id") DO UPDATE SET "applicant_id" = EXCLUDED."applicant_id", "business_name" = EXCLUDED."business_name" WHERE _t."applicant_id" = $4::text::uuid AND _t."status" = ANY($5::text[])`, `"id"`)
	if st.SQL != want {
		t.Fatalf("sql=\n%s\nwant\n%s", st.SQL, want)
	}
	if diff := cmp.Diff([]any{"a1", "u1", "X", "u1", []string{"draft", "info_requested"}}, st.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
}

func TestBuildUpdate(t *testing.T) {
	t.Parallel()

	apps := testTable(t, "loan_applications")
	st, err := BuildUpdate(mustQuery(t, apps, "id=eq.a1"), Row{"business_name": "New", "tags": []any{"a", `b"c`}}, WriteOptions{Caller: borrower})
	if err != nil {
		t.Fatal(err)
	}
	want := mutation(`UPDATE "lending"."applications" SET "business_name" = $1, "tags" = $2::text::text[] WHERE "id" = $3::text::uuid AND "applicant_id" = $4::text::uuid AND "status" = ANY($5::text[])`, appColumns)
	if st.SQL != want {
		t.Fatalf("sql=\n%s\nwant\n%s", st.SQL, want)
	}
	if diff := cmp.Diff([]any{"New", `{"a","b\"c"}`, "a1", "u1", []string{"draft", "info_requested"}}, st.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
}

func TestBuildUpdate_Errors(t *testing.T) {
	t.Parallel()

	apps := testTable(t, "loan_applications")
	if _, err := BuildUpdate(mustQuery(t, apps, ""), Row{"business_name": "x"}, WriteOptions{Caller: officer}); httperr.CodeOf(err) != "unfiltered_mutation" {
		t.Fatalf("err=%v", err)
	}
	if _, err := BuildUpdate(mustQuery(t, apps, "id=eq.a"), Row{}, WriteOptions{Caller: officer}); httperr.CodeOf(err) != "empty_body" {
		t.Fatalf("err=%v", err)
	}
	if _, err := BuildUpdate(mustQuery(t, apps, "id=eq.a"), Row{"approved_amount": "1"}, WriteOptions{Caller: borrower}); httperr.CodeOf(err) != "read_only_column" {
		t.Fatalf("err=%v", err)
	}
	if _, err := BuildUpdate(mustQuery(t, apps, "id=eq.a"), Row{"status": "x"}, WriteOptions{Caller: Caller{Role: authz.RoleAnonymous}}); !httperr.IsForbidden(err) {
		t.Fatalf("err=%v", err)
	}
	for _, col := range []string{"status", "approved_amount"} {
		if _, err := BuildUpdate(mustQuery(t, apps, "id=eq.a"), Row{col: "funded"}, WriteOptions{Caller: officer}); httperr.CodeOf(err) != "read_only_column" {
			t.Fatalf("staff %s: err=%v", col, err)
		}
	}
}

func TestBuildUpdate_StaffStillGuarded(t *testing.T) {
	t.Parallel()

	st, err := BuildUpdate(mustQuery(t, testTable(t, "loan_applications"), "id=eq.a1"), Row{"amount": json.Number("900")}, WriteOptions{Caller: officer})
	if err != nil {
		t.Fatal(err)
	}
	want := mutation(`UPDATE "lending"."applications" SET "amount" = $1::text::numeric WHERE "id" = $2::text::uuid AND "status" = ANY($3::text[])`, appColumns)
	if st.SQL != want {
		t.Fatalf("sql=\n%s\nwant\n%s", st.SQL, want)
	}
	if diff := cmp.Diff([]any{"900", "a1", []string{"draft", "info_requested"}}, st.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}
}

func TestBuildDelete(t *testing.T) {
	t.Parallel()

	apps := testTable(t, "loan_applications")
	st, err := BuildDelete(mustQuery(t, apps, "status=eq.draft&select=id"), WriteOptions{Caller: officer})
	if err != nil {
		t.Fatal(err)
	}
	if want := mutation(`DELETE FROM "lending"."applications" WHERE "status" = $1 AND "status" = ANY($2::text[])`, `"id"`); st.SQL != want {
		t.Fatalf("sql=%s", st.SQL)
	}
	if diff := cmp.Diff([]any{"draft", []string{"draft"}}, st.Args); diff != "" {
		t.Fatalf("args (-want +got):\n%s", diff)
	}

	st, err = BuildDelete(mustQuery(t, apps, "id=eq.a1&select=id"), WriteOptions{Caller: borrower})
	if err != nil {
		t.Fatal(err)
	}
	if want := mutation(`DELETE FROM "lending"."applications" WHERE "id" = $1::text::uuid AND "applicant_id" = $2::text::uuid AND "status" = ANY($3::text[])`, `"id"`); st.SQL != want {
		t.Fatalf("sql=%s", st.SQL)
	}

	if _, err := BuildDelete(mustQuery(t, apps, ""), WriteOptions{Caller: borrower}); httperr.CodeOf(err) != "unfiltered_mutation" {
		t.Fatalf("err=%v", err)
	}

	st, err = BuildDelete(mustQuery(t, testTable(t, "loan_products"), "loan_type=eq.x&select=loan_type"), WriteOptions{Caller: officer})
	if err != nil {
		t.Fatal(err)
	}
	if want := mutation(`DELETE FROM "lending"."products" WHERE "loan_type" = $1`, `"loan_type"`); st.SQL != want {
		t.Fatalf("unguarded delete sql=%s", st.SQL)
	}
}

func TestBuildDelete_GuardWithoutDeletableValues(t *testing.T) {
	t.Parallel()

	r, err := ParseRegistryYAML([]byte("version: 1\ntables:\n  - name: events\n    read_only: [state]\n    mutable_when: {column: state, update: [open]}\n    columns: [{name: id, type: uuid}, {name: state, type: text}]\n"))
	if err != nil {
		t.Fatal(err)
	}
	tbl, _ := r.Table("events")
	if _, err := BuildDelete(mustQuery(t, tbl, "id=eq.a"), WriteOptions{Caller: officer}); !httperr.IsForbidden(err) {
		t.Fatalf("err=%v", err)
	}
}

func TestParamValue(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   any
		typ  string
		want any
	}{
		{in: nil, typ: "text", want: nil},
		{in: false, typ: "boolean", want: "false"},
		{in: "x", typ: "jsonb", want: `"x"`},
		{in: map[string]any{"k": "v"}, typ: "text", want: `{"k":"v"}`},
		{in: []any{"a", nil}, typ: "text[]", want: `{"a",NULL}`},
		{in: []any{1.5}, typ: "text", want: `[1.5]`},
	}
	for _, tc := range cases {
		got, err := paramValue(tc.in, tc.typ)
		if err != nil {
			t.Fatalf("%v: err=%v", tc.in, err)
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Fatalf("%v (-want +got):\n%s", tc.in, diff)
		}
	}
}
