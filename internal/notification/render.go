package notification

import (
	"bytes"
	"fmt"
	"html/template"
	"strings"
)

const emailLayout = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; color: #222;">
  <h2>{{.Title}}</h2>
  <p>{{.Message}}</p>
  {{- if .ActionURL}}
  <p><a href="{{.ActionURL}}" style="background:#e23744;color:#fff;padding:10px 16px;text-decoration:none;border-radius:4px;">{{.ActionText}}</a></p>
  {{- end}}
  {{- if .Attachments}}
  <ul>
    {{- range .Attachments}}
    <li><a href="{{.URL}}">{{.Name}}</a></li>
    {{- end}}
  </ul>
  {{- end}}
</body>
</html>`

var emailTemplate = template.Must(template.New("email").Parse(emailLayout))

// RenderedEmail is a ready-to-send message.
type RenderedEmail struct {
	Subject string
	HTML    string
	Text    string
}

// RenderEmail builds the HTML and plain-text bodies for p.
func RenderEmail(p Payload) (RenderedEmail, error) {
	view := p
	if view.ActionURL != "" && view.ActionText == "" {
		view.ActionText = "View details"
	}

	var html bytes.Buffer
	if err := emailTemplate.Execute(&html, view); err != nil {
		return RenderedEmail{}, fmt.Errorf("render email: %w", err)
	}

	return RenderedEmail{
		Subject: p.Title,
		HTML:    html.String(),
		Text:    RenderText(view),
	}, nil
}

// RenderText is the plain-text form used by email fallbacks, SMS and push.
func RenderText(p Payload) string {
	var b strings.Builder
	b.WriteString(p.Title)
	if p.Message != "" {
		b.WriteString("\n")
		b.WriteString(p.Message)
	}
	if p.ActionURL != "" {
		text := p.ActionText
		if text == "" {
			text = "View details"
		}
		fmt.Fprintf(&b, "\n%s: %s", text, p.ActionURL)
	}
	for _, a := range p.Attachments {
		fmt.Fprintf(&b, "\n%s: %s", a.Name, a.URL)
	}
	return b.String()
}
