package services

import (
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
)

func TestTemplatesRender(t *testing.T) {
	t.Parallel()

	tpl, err := ParseTemplatesYAML([]byte(`version: 1
templates:
  - status: submitted
    subject: "{{.Product}} received"
    body: "  {{.Application.BusinessName}} moved {{.From}} -> {{.To}}{{if .Note}}: {{.Note}}{{end}}  "
`))
	if err != nil {
		t.Fatal(err)
	}
	data := MessageData{
		Application: types.Application{BusinessName: "Acme"},
		Product:     "Term Loan",
		From:        types.StatusDraft,
		To:          types.StatusSubmitted,
		Note:        "thanks",
	}
	subject, body, ok, err := tpl.Render(data)
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if subject != "Term Loan received" || body != "Acme moved draft -> submitted: thanks" {
		t.Fatalf("subject=%q body=%q", subject, body)
	}

	data.To = types.StatusRejected
	if _, _, ok, err := tpl.Render(data); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	var none *Templates
	if _, _, ok, err := none.Render(data); ok || err != nil {
		t.Fatalf("nil templates ok=%v err=%v", ok, err)
	}
}

func TestTemplatesRender_ExecError(t *testing.T) {
	t.Parallel()

	tpl, err := ParseTemplatesYAML([]byte("version: 1\ntemplates:\n  - status: approved\n    subject: x\n    body: \"{{.Application.ApprovedAmount.StringFixed 2}}\"\n"))
	if err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := tpl.Render(MessageData{To: types.StatusApproved}); err == nil {
		t.Fatal("expected exec error for nil amount")
	}
	amt := decimal.RequireFromString("1200")
	_, body, ok, err := tpl.Render(MessageData{To: types.StatusApproved, Application: types.Application{ApprovedAmount: &amt}})
	if err != nil || !ok || body != "1200.00" {
		t.Fatalf("body=%q ok=%v err=%v", body, ok, err)
	}
}

func TestParseTemplatesYAML_Errors(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"yaml":      "\xff",
		"version":   "version: 0",
		"status":    "version: 1\ntemplates:\n  - status: paused\n    subject: x\n    body: y",
		"duplicate": "version: 1\ntemplates:\n  - status: funded\n    subject: x\n    body: y\n  - status: funded\n    subject: x\n    body: y",
		"subject":   "version: 1\ntemplates:\n  - status: funded\n    subject: \"{{.Product\"\n    body: y",
		"body":      "version: 1\ntemplates:\n  - status: funded\n    subject: x\n    body: \"{{end}}\"",
	}
	for name, raw := range cases {
		if _, err := ParseTemplatesYAML([]byte(raw)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestLoadTemplates_RepoFile(t *testing.T) {
	t.Parallel()

	tpl, err := LoadTemplates("../../../config/notifications/templates.yaml")
	if err != nil {
		t.Fatalf("err=%v", err)
	}
	amt := decimal.RequireFromString("250000")
	subject, body, ok, err := tpl.Render(MessageData{
		Application: types.Application{BusinessName: "Acme Bakery", Amount: amt, ApprovedAmount: &amt},
		Product:     "SBA 7(a) Loan",
		From:        types.StatusUnderReview,
		To:          types.StatusApproved,
	})
	if err != nil || !ok {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
	if !strings.Contains(subject, "SBA 7(a) Loan") || !strings.Contains(body, "250000.00") {
		t.Fatalf("subject=%q body=%q", subject, body)
	}
}
