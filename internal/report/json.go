package report

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/nao1215/crawlcore/internal/model"
)

// JSONWriter outputs summaries as JSON.
type JSONWriter struct {
	baseWriter

	indent       bool
	indentPrefix string
	indentString string
}

// JSONWriterOption configures a JSONWriter.
type JSONWriterOption func(*JSONWriter)

// WithIndent enables indented output with the given prefix and indent.
func WithIndent(prefix, indent string) JSONWriterOption {
	return func(w *JSONWriter) {
		w.indent = true
		w.indentPrefix = prefix
		w.indentString = indent
	}
}

// WithPrettyPrint is WithIndent("", "  ").
func WithPrettyPrint() JSONWriterOption {
	return WithIndent("", "  ")
}

// NewJSONWriter creates a JSONWriter writing to output.
func NewJSONWriter(output io.Writer, opts ...JSONWriterOption) *JSONWriter {
	w := &JSONWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// jsonSummary adds the derived counters to the serialized summary.
type jsonSummary struct {
	*model.Summary
	Succeeded  int            `json:"succeeded"`
	Failed     int            `json:"failed"`
	TotalBytes int            `json:"total_bytes"`
	Outcomes   map[string]int `json:"outcomes"`
}

// Write implements Writer.
func (w *JSONWriter) Write(summary *model.Summary) (int, error) {
	_, counts := summary.OutcomeCounts()
	payload := jsonSummary{
		Summary:    summary,
		Succeeded:  summary.Succeeded(),
		Failed:     summary.Failed(),
		TotalBytes: summary.TotalBytes(),
		Outcomes:   counts,
	}

	var (
		data []byte
		err  error
	)
	if w.indent {
		data, err = json.MarshalIndent(payload, w.indentPrefix, w.indentString)
	} else {
		data, err = json.Marshal(payload)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to marshal summary: %w", err)
	}
	data = append(data, '\n')
	return w.output.Write(data)
}
