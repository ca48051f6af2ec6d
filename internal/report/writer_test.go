package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nao1215/crawlcore/internal/database"
	"github.com/nao1215/crawlcore/internal/model"
)

func newTestSummary() *model.Summary {
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &model.Summary{
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
		Results: []*model.Result{
			{
				URL:       "https://example.com/",
				Method:    "GET",
				Slot:      "example.com",
				Status:    200,
				Bytes:     1024,
				Protocol:  "HTTP/1.1",
				IPAddress: "93.184.216.34",
				Latency:   120 * time.Millisecond,
			},
			{
				URL:     "http://close.example/",
				Method:  "GET",
				Slot:    "close.example",
				Status:  200,
				Bytes:   10,
				Flags:   []string{model.FlagPartial},
				Latency: 30 * time.Millisecond,
			},
			{
				URL:       "https://slow.example/",
				Method:    "GET",
				Slot:      "slow.example",
				ErrorKind: "timeout",
				Error:     "getting https://slow.example/ took longer than 1s",
			},
		},
	}
}

// errWriter fails every write.
type errWriter struct{}

func (errWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

// TestTextWriter tests the plain text report.
func TestTextWriter(t *testing.T) {
	t.Parallel()

	t.Run("lists results and totals", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewTextWriter(&buf).Write(newTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		out := buf.String()
		for _, want := range []string{"OUTCOME", "https://example.com/", "timeout", "3 fetched, 2 succeeded, 1 failed, 1034 bytes in 1.5s"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
		if strings.Contains(out, "took longer than") {
			t.Error("expected error text only in verbose mode")
		}
	})

	t.Run("verbose output adds peers and errors", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewTextWriter(&buf, WithVerbose(true)).Write(newTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		out := buf.String()
		for _, want := range []string{"93.184.216.34", "HTTP/1.1", model.FlagPartial, "took longer than 1s"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})
}

// TestJSONWriter tests the JSON report.
func TestJSONWriter(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if _, err := NewJSONWriter(&buf, WithPrettyPrint()).Write(newTestSummary()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded struct {
		Results    []map[string]any `json:"results"`
		Succeeded  int              `json:"succeeded"`
		Failed     int              `json:"failed"`
		TotalBytes int              `json:"total_bytes"`
		Outcomes   map[string]int   `json:"outcomes"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON: %v\n%s", err, buf.String())
	}
	if len(decoded.Results) != 3 || decoded.Succeeded != 2 || decoded.Failed != 1 || decoded.TotalBytes != 1034 {
		t.Errorf("unexpected totals: %+v", decoded)
	}
	if decoded.Outcomes["ok"] != 2 || decoded.Outcomes["timeout"] != 1 {
		t.Errorf("unexpected outcomes: %v", decoded.Outcomes)
	}
	if !strings.Contains(buf.String(), "\n  \"results\"") {
		t.Error("expected indented output")
	}
}

// TestMarkdownWriter tests the Markdown report.
func TestMarkdownWriter(t *testing.T) {
	t.Parallel()

	t.Run("renders tables, chart and failures", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(newTestSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		out := buf.String()
		for _, want := range []string{"# Fetch Report", "## Outcomes", "```mermaid", "pie", "Fetch Outcomes", "1 of 3 fetches failed", "https://slow.example/"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("empty summary notes nothing was fetched", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if _, err := NewMarkdownWriter(&buf).Write(model.NewSummary()); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "Nothing was fetched") {
			t.Errorf("unexpected output:\n%s", buf.String())
		}
	})
}

// TestMultiWriter tests fanning out to several writers.
func TestMultiWriter(t *testing.T) {
	t.Parallel()

	t.Run("writes to every writer", func(t *testing.T) {
		t.Parallel()

		var text, js bytes.Buffer
		n, err := NewMultiWriter(NewTextWriter(&text), NewJSONWriter(&js)).Write(newTestSummary())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if text.Len() == 0 || js.Len() == 0 || n != text.Len()+js.Len() {
			t.Errorf("unexpected sizes: n=%d text=%d json=%d", n, text.Len(), js.Len())
		}
	})

	t.Run("stops on the first error", func(t *testing.T) {
		t.Parallel()

		var js bytes.Buffer
		_, err := NewMultiWriter(NewTextWriter(errWriter{}), NewJSONWriter(&js)).Write(newTestSummary())
		if err == nil {
			t.Fatal("expected error")
		}
		if js.Len() != 0 {
			t.Error("expected later writers to be skipped")
		}
	})
}

// TestWriteHistory tests the transfer history table.
func TestWriteHistory(t *testing.T) {
	t.Parallel()

	t.Run("renders records and counts", func(t *testing.T) {
		t.Parallel()

		records := []database.Record{
			{
				URL:        "https://example.com/",
				Slot:       "example.com",
				Status:     200,
				Bytes:      5,
				BodyDigest: database.BodyDigest([]byte("hello")),
				FetchedAt:  time.Now(),
			},
			{
				URL:       "https://slow.example/",
				ErrorKind: "timeout",
				Error:     "timed out",
				FetchedAt: time.Now(),
			},
		}

		var buf bytes.Buffer
		if err := WriteHistory(&buf, records, map[string]int{"ok": 4, "timeout": 1}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		out := buf.String()
		digest := database.BodyDigest([]byte("hello"))[:12]
		for _, want := range []string{"# Transfer History", "example.com", digest, "timeout", "ok: 4", "timeout: 1"} {
			if !strings.Contains(out, want) {
				t.Errorf("expected %q in output:\n%s", want, out)
			}
		}
	})

	t.Run("empty history", func(t *testing.T) {
		t.Parallel()

		var buf bytes.Buffer
		if err := WriteHistory(&buf, nil, nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !strings.Contains(buf.String(), "No transfers recorded") {
			t.Errorf("unexpected output:\n%s", buf.String())
		}
	})
}

func TestTruncateString(t *testing.T) {
	t.Parallel()

	if got := truncateString("abcdefgh", 6); got != "abc..." {
		t.Errorf("expected abc..., got %q", got)
	}
	if got := truncateString("abc", 6); got != "abc" {
		t.Errorf("expected abc, got %q", got)
	}
}
