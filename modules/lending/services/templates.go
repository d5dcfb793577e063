package services

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/jacksonlee411/loanportal/modules/lending/domain/types"
)

type templateEntry struct {
	Status  string `yaml:"status"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

type templatesFile struct {
	Version   int             `yaml:"version"`
	Templates []templateEntry `yaml:"templates"`
}

type messageTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Templates renders applicant notifications keyed by the status an
// application moved to.
type Templates struct {
	byStatus map[types.Status]messageTemplate
}

// MessageData is what a notification template sees.
type MessageData struct {
	Application types.Application
	Product     string
	From        types.Status
	To          types.Status
	Note        string
}

func ParseTemplatesYAML(b []byte) (*Templates, error) {
	var f templatesFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, err
	}
	if f.Version != 1 {
		return nil, errors.New("lending: unsupported templates version")
	}
	t := &Templates{byStatus: make(map[types.Status]messageTemplate, len(f.Templates))}
	for _, e := range f.Templates {
		st := types.Status(strings.TrimSpace(e.Status))
		if !st.Valid() {
			return nil, fmt.Errorf("lending: template for unknown status %q", e.Status)
		}
		if _, dup := t.byStatus[st]; dup {
			return nil, fmt.Errorf("lending: duplicate template for %s", st)
		}
		subject, err := template.New(string(st) + ".subject").Option("missingkey=error").Parse(e.Subject)
		if err != nil {
			return nil, fmt.Errorf("lending: template %s subject: %w", st, err)
		}
		body, err := template.New(string(st) + ".body").Option("missingkey=error").Parse(e.Body)
		if err != nil {
			return nil, fmt.Errorf("lending: template %s body: %w", st, err)
		}
		t.byStatus[st] = messageTemplate{subject: subject, body: body}
	}
	return t, nil
}

func LoadTemplates(path string) (*Templates, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseTemplatesYAML(b)
}

// Render returns ok=false when no template exists for data.To.
func (t *Templates) Render(data MessageData) (subject string, body string, ok bool, err error) {
	if t == nil {
		return "", "", false, nil
	}
	mt, ok := t.byStatus[data.To]
	if !ok {
		return "", "", false, nil
	}
	var sb, bb bytes.Buffer
	if err := mt.subject.Execute(&sb, data); err != nil {
		return "", "", false, err
	}
	if err := mt.body.Execute(&bb, data); err != nil {
		return "", "", false, err
	}
	return strings.TrimSpace(sb.String()), strings.TrimSpace(bb.String()), true, nil
}
