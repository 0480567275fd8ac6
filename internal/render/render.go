// Package render personalizes message templates and converts lightweight
// markup for display and delivery.
package render

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
)

// Render substitutes recipient fields into text. {company} and {jobTitle}
// stay literally in place when the recipient has no value for them.
func Render(text string, r campaign.Recipient) string {
	pairs := []string{
		"{name}", r.Name,
		"{email}", r.Email,
	}
	if r.Company != "" {
		pairs = append(pairs, "{company}", r.Company)
	}
	if r.JobTitle != "" {
		pairs = append(pairs, "{jobTitle}", r.JobTitle)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

// RenderTemplate personalizes subject and body of t for r.
func RenderTemplate(t campaign.Template, r campaign.Recipient) campaign.Template {
	return campaign.Template{
		Name:    t.Name,
		Subject: Render(t.Subject, r),
		Body:    Render(t.Body, r),
	}
}

// Unresolved lists placeholder tokens still present in text.
func Unresolved(text string) []string {
	var out []string
	for _, tok := range []string{"{name}", "{email}", "{company}", "{jobTitle}"} {
		if strings.Contains(text, tok) {
			out = append(out, tok)
		}
	}
	return out
}

type substitution struct {
	re   *regexp.Regexp
	repl string
}

// Order matters: emphasis and headings must be resolved before newlines are
// rewritten, otherwise line anchors no longer match.
var markup = []substitution{
	{regexp.MustCompile(`\*\*(.*?)\*\*`), "<strong>${1}</strong>"},
	{regexp.MustCompile(`\*(.*?)\*`), "<em>${1}</em>"},
	{regexp.MustCompile("`(.*?)`"), "<code>${1}</code>"},
	{regexp.MustCompile(`(?m)^### (.*)$`), "<h3>${1}</h3>"},
	{regexp.MustCompile(`(?m)^## (.*)$`), "<h2>${1}</h2>"},
	{regexp.MustCompile(`(?m)^# (.*)$`), "<h1>${1}</h1>"},
	{regexp.MustCompile(`\n\n`), "</p><p>"},
	{regexp.MustCompile(`\n`), "<br>"},
}

// ToDisplayMarkup converts lightweight markup to HTML for preview. Text that
// already contains both '<' and '>' is returned unchanged. Embedded scripts
// are neither executed nor stripped.
func ToDisplayMarkup(text string) string {
	if strings.Contains(text, "<") && strings.Contains(text, ">") {
		return text
	}
	out := text
	for _, s := range markup {
		out = s.re.ReplaceAllString(out, s.repl)
	}
	if !strings.HasPrefix(out, "<") {
		out = "<p>" + out + "</p>"
	}
	return out
}

var delivery = goldmark.New(goldmark.WithExtensions(
	extension.Table,
	extension.Footnote,
	extension.DefinitionList,
))

// HTMLBody produces the HTML alternative of a personalized body for
// delivery. Bodies that start with '<' and end with '>' are treated as HTML.
func HTMLBody(body string) (string, error) {
	trimmed := strings.TrimSpace(body)
	if strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">") {
		return body, nil
	}
	var buf bytes.Buffer
	if err := delivery.Convert([]byte(body), &buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}
