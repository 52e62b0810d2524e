package documents

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
)

const TextContentType = "text/plain; charset=utf-8"

const agreementTemplate = `ADOPTION AGREEMENT
Request: {{.RequestID}}
Animal: {{.AnimalName}} ({{.AnimalID}}){{if .Species}}, {{.Species}}{{end}}{{if .Breed}} / {{.Breed}}{{end}}
Approved at: {{.ApprovedAt}}

Current owner: {{.Owner.DisplayName}}{{if .Owner.Contact}} <{{.Owner.Contact}}>{{end}}
Adopter: {{.Adopter.DisplayName}}{{if .Adopter.Contact}} <{{.Adopter.Contact}}>{{end}}
{{if .Answers}}
Questionnaire:
{{range .Answers}}  - {{.Question}}: {{.Answer}}
{{end}}{{end}}
Both parties agree to transfer custody of the animal named above once the
handover has been confirmed by each of them.
`

const receiptTemplate = `ADOPTION RECEIPT
Request: {{.RequestID}}
Animal: {{.AnimalName}} ({{.AnimalID}})

Previous owner: {{.PreviousOwner.DisplayName}}{{if .PreviousOwner.Contact}} <{{.PreviousOwner.Contact}}>{{end}}
New owner: {{.Adopter.DisplayName}}{{if .Adopter.Contact}} <{{.Adopter.Contact}}>{{end}}

Owner confirmed delivery: {{.OwnerConfirmedAt}}
Adopter confirmed receipt: {{.ApplicantConfirmedAt}}
Completed: {{.CompletedAt}}
{{with .Delivery}}{{if .Location}}
Location: {{.Location}}{{end}}{{if .Checklist}}
Checklist:
{{range .Checklist}}  [x] {{.}}
{{end}}{{end}}{{if .PhotoURLs}}
Photos:
{{range .PhotoURLs}}  {{.}}
{{end}}{{end}}{{if .Notes}}
Notes: {{.Notes}}
{{end}}{{end}}`

// TemplateGenerator renders documents as plain text.
type TemplateGenerator struct {
	agreement *template.Template
	receipt   *template.Template
}

func NewTemplateGenerator() *TemplateGenerator {
	return &TemplateGenerator{
		agreement: template.Must(template.New("agreement").Option("missingkey=error").Parse(agreementTemplate)),
		receipt:   template.Must(template.New("receipt").Option("missingkey=error").Parse(receiptTemplate)),
	}
}

func (g *TemplateGenerator) Generate(_ context.Context, doc Document) ([]byte, error) {
	var tpl *template.Template
	switch doc.(type) {
	case AgreementDocument:
		tpl = g.agreement
	case ReceiptDocument:
		tpl = g.receipt
	default:
		return nil, fmt.Errorf("%w: unsupported kind %T", ErrInvalidDocument, doc)
	}
	var buf bytes.Buffer
	if err := tpl.Execute(&buf, doc); err != nil {
		return nil, err
	}
	return []byte(strings.TrimLeft(buf.String(), "\n")), nil
}
