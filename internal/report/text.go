package report

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/nao1215/crawlcore/internal/model"
)

// TextWriter outputs a plain text table of results followed by totals.
type TextWriter struct {
	baseWriter

	verbose bool
}

// TextWriterOption configures a TextWriter.
type TextWriterOption func(*TextWriter)

// WithVerbose adds the peer address, protocol and full error text.
func WithVerbose(verbose bool) TextWriterOption {
	return func(w *TextWriter) {
		w.verbose = verbose
	}
}

// NewTextWriter creates a TextWriter writing to output.
func NewTextWriter(output io.Writer, opts ...TextWriterOption) *TextWriter {
	w := &TextWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Write implements Writer.
func (w *TextWriter) Write(summary *model.Summary) (int, error) {
	var sb strings.Builder
	tw := tabwriter.NewWriter(&sb, 0, 0, 2, ' ', 0)

	header := "OUTCOME\tSTATUS\tBYTES\tLATENCY\tSLOT\tURL"
	if w.verbose {
		header += "\tPEER\tPROTOCOL\tFLAGS"
	}
	fmt.Fprintln(tw, header)

	for _, r := range summary.Results {
		status := "-"
		if r.Status != 0 {
			status = fmt.Sprint(r.Status)
		}
		line := fmt.Sprintf("%s\t%s\t%d\t%s\t%s\t%s",
			outcome(r), status, r.Bytes, r.Latency.Round(time.Millisecond), orDash(r.Slot), r.URL)
		if w.verbose {
			line += fmt.Sprintf("\t%s\t%s\t%s", orDash(r.IPAddress), orDash(r.Protocol), orDash(strings.Join(r.Flags, ",")))
		}
		fmt.Fprintln(tw, line)
	}
	if err := tw.Flush(); err != nil {
		return 0, err
	}

	if w.verbose {
		for _, r := range summary.Results {
			if !r.OK() {
				fmt.Fprintf(&sb, "\n%s\n  %s\n", r.URL, r.Error)
			}
		}
	}

	fmt.Fprintf(&sb, "\n%d fetched, %d succeeded, %d failed, %d bytes in %s\n",
		len(summary.Results), summary.Succeeded(), summary.Failed(), summary.TotalBytes(),
		summary.Elapsed().Round(time.Millisecond))

	return io.WriteString(w.output, sb.String())
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
