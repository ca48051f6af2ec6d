package report

import (
	"io"
	"maps"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/nao1215/crawlcore/internal/database"
	"github.com/nao1215/crawlcore/internal/model"
	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"
)

// MarkdownWriter outputs summaries as Markdown.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter writing to output.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write implements Writer.
func (w *MarkdownWriter) Write(summary *model.Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	md.H1("Fetch Report")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Started", summary.Started.Format("2006-01-02 15:04:05 MST")},
			{"Elapsed", summary.Elapsed().Round(time.Millisecond).String()},
			{"Requests", strconv.Itoa(len(summary.Results))},
			{"Succeeded", strconv.Itoa(summary.Succeeded())},
			{"Failed", strconv.Itoa(summary.Failed())},
			{"Bytes", strconv.Itoa(summary.TotalBytes())},
		},
	})
	md.PlainText("")

	keys, counts := summary.OutcomeCounts()
	w.writeOutcomes(md, keys, counts)
	w.writeAlert(md, summary)
	w.writeResults(md, summary)

	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by crawlcore*")

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, keys []string, counts map[string]int) {
	md.H2("Outcomes")
	md.PlainText("")
	if len(keys) == 0 {
		md.PlainText("No requests were fetched.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(keys))
	for i, k := range keys {
		rows[i] = []string{k, strconv.Itoa(counts[k])}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Outcome", "Count"},
		Rows:   rows,
	})
	md.PlainText("")

	chart := piechart.NewPieChart(
		io.Discard,
		piechart.WithTitle("Fetch Outcomes"),
		piechart.WithShowData(true),
	)
	for _, k := range keys {
		chart.LabelAndIntValue(k, uint64(counts[k])) //nolint:gosec // counts are positive
	}
	md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, summary *model.Summary) {
	failed := summary.Failed()
	switch {
	case len(summary.Results) == 0:
		md.Note("Nothing was fetched.")
	case failed == len(summary.Results):
		md.Cautionf("All %d fetches failed.", failed)
	case failed > 0:
		md.Warningf("%d of %d fetches failed.", failed, len(summary.Results))
	default:
		md.Tip("All fetches succeeded.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeResults(md *markdown.Markdown, summary *model.Summary) {
	md.H2("Results")
	md.PlainText("")
	if len(summary.Results) == 0 {
		md.PlainText("No results.")
		md.PlainText("")
		return
	}

	rows := make([][]string, len(summary.Results))
	for i, r := range summary.Results {
		status := "-"
		if r.Status != 0 {
			status = strconv.Itoa(r.Status)
		}
		rows[i] = []string{
			"`" + truncateString(r.URL, 60) + "`",
			outcome(r),
			status,
			strconv.Itoa(r.Bytes),
			r.Latency.Round(time.Millisecond).String(),
			orDash(strings.Join(r.Flags, ", ")),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"URL", "Outcome", "Status", "Bytes", "Latency", "Flags"},
		Rows:   rows,
	})
	md.PlainText("")

	for _, r := range summary.Results {
		if !r.OK() {
			md.Details(truncateString(r.URL, 60), r.Error)
		}
	}
	md.PlainText("")
}

// WriteHistory renders transfer log records and outcome counts as Markdown.
func WriteHistory(output io.Writer, records []database.Record, counts map[string]int) error {
	md := markdown.NewMarkdown(output)

	md.H1("Transfer History")
	md.PlainText("")

	if len(records) == 0 {
		md.PlainText("No transfers recorded.")
		return md.Build()
	}

	rows := make([][]string, len(records))
	for i, rec := range records {
		status := "-"
		if rec.Status != 0 {
			status = strconv.Itoa(rec.Status)
		}
		result := "ok"
		if rec.Error != "" {
			result = orDash(rec.ErrorKind)
		}
		digest := "-"
		if rec.BodyDigest != "" {
			digest = "`" + rec.BodyDigest[:12] + "`"
		}
		rows[i] = []string{
			rec.FetchedAt.Local().Format("2006-01-02 15:04:05"),
			orDash(rec.Slot),
			"`" + truncateString(rec.URL, 50) + "`",
			result,
			status,
			strconv.Itoa(rec.Bytes),
			digest,
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Fetched", "Slot", "URL", "Outcome", "Status", "Bytes", "Body SHA3"},
		Rows:   rows,
	})
	md.PlainText("")

	if len(counts) > 0 {
		md.H2("All Recorded Outcomes")
		md.PlainText("")
		items := make([]string, 0, len(counts))
		for _, k := range slices.Sorted(maps.Keys(counts)) {
			items = append(items, k+": "+strconv.Itoa(counts[k]))
		}
		md.BulletList(items...)
	}
	return md.Build()
}
