package rag

import "strings"

// Default wrapper text around retrieved context.
const (
	DefaultHeader = "Usa el siguiente contexto para responder si es relevante:"
	DefaultFooter = "Pregunta del usuario:"
)

// Template wraps a question with a context block.
type Template struct {
	Header string `yaml:"header" json:"header"`
	Footer string `yaml:"footer" json:"footer"`
}

// DefaultTemplate returns the built-in wrapper.
func DefaultTemplate() Template {
	return Template{Header: DefaultHeader, Footer: DefaultFooter}
}

// Wrap returns header, context, footer and question separated by blank
// lines. An empty context returns question unmodified.
func (t Template) Wrap(context, question string) string {
	if strings.TrimSpace(context) == "" {
		return question
	}
	parts := make([]string, 0, 4)
	if t.Header != "" {
		parts = append(parts, t.Header)
	}
	parts = append(parts, context)
	if t.Footer != "" {
		parts = append(parts, t.Footer)
	}
	parts = append(parts, question)
	return strings.Join(parts, "\n\n")
}
