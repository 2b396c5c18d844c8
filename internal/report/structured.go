package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

func renderJSON(doc *Document, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func renderYAML(doc *Document, w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(doc)
}

// Render dispatches doc to the renderer matching format.
func Render(doc *Document, format Format, w io.Writer) error {
	switch format {
	case FormatHTML:
		return RenderHTML(doc, w)
	case FormatJSON:
		return renderJSON(doc, w)
	case FormatYAML:
		return renderYAML(doc, w)
	default:
		return RenderText(doc, w)
	}
}

// RenderString is Render into a string, for callers (cmd/cfagent, tests)
// that don't need streaming output.
func RenderString(doc *Document, format Format) (string, error) {
	var buf bytes.Buffer
	if err := Render(doc, format, &buf); err != nil {
		return "", fmt.Errorf("report: render %s: %w", format, err)
	}
	return buf.String(), nil
}
