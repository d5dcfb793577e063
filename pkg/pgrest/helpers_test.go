package pgrest

import (
	"net/url"
	"testing"
)

const testRegistryYAML = `version: 1
max_rows: 50
tables:
  - name: loan_applications
    schema: lending
    relation: applications
    primary_key: [id]
    owner_column: applicant_id
    read_only: [status, approved_amount]
    mutable_when: {column: status, update: [draft, info_requested], delete: [draft]}
    columns:
      - {name: id, type: uuid}
      - {name: applicant_id, type: uuid}
      - {name: business_name, type: text}
      - {name: amount, type: numeric}
      - {name: term_months, type: integer}
      - {name: status, type: text}
      - {name: approved_amount, type: numeric}
      - {name: form_data, type: jsonb}
      - {name: tags, type: "text[]"}
      - {name: created_at, type: timestamptz}
  - name: loan_products
    schema: lending
    relation: products
    primary_key: [loan_type]
    columns:
      - {name: loan_type, type: text}
      - {name: display_name, type: text}
      - {name: active, type: boolean}
`

func testRegistry(t *testing.T) *Registry {
	t.Helper()
	r, err := ParseRegistryYAML([]byte(testRegistryYAML))
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func testTable(t *testing.T, name string) *Table {
	t.Helper()
	tbl, ok := testRegistry(t).Table(name)
	if !ok {
		t.Fatalf("missing table %s", name)
	}
	return tbl
}

func mustQuery(t *testing.T, tbl *Table, raw string) Query {
	t.Helper()
	values, err := url.ParseQuery(raw)
	if err != nil {
		t.Fatalf("url: %v", err)
	}
	q, err := ParseQuery(tbl, values)
	if err != nil {
		t.Fatalf("ParseQuery(%q): %v", raw, err)
	}
	return q
}
