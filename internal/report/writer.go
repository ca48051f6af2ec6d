package report

import (
	"io"

	"github.com/nao1215/crawlcore/internal/model"
)

// Writer renders a fetch summary.
type Writer interface {
	// Write renders summary and returns the number of bytes written.
	Write(summary *model.Summary) (int, error)
}

// MultiWriter writes a summary to several Writers in order.
type MultiWriter struct {
	writers []Writer
}

// NewMultiWriter creates a Writer that writes to all provided Writers.
func NewMultiWriter(writers ...Writer) *MultiWriter {
	return &MultiWriter{writers: writers}
}

// Write implements Writer. It stops on the first error.
func (m *MultiWriter) Write(summary *model.Summary) (int, error) {
	var total int
	for _, w := range m.writers {
		n, err := w.Write(summary)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

type baseWriter struct {
	output io.Writer
}

func newBaseWriter(output io.Writer) baseWriter {
	return baseWriter{output: output}
}

// truncateString shortens s to maxLen bytes with an ellipsis.
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}

// outcome returns "ok" or the error kind of r.
func outcome(r *model.Result) string {
	if r.OK() {
		return "ok"
	}
	if r.ErrorKind == "" {
		return "error"
	}
	return r.ErrorKind
}
