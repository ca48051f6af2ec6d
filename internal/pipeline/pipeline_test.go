package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"testing"

	"github.com/nao1215/crawlcore/internal/model"
)

// recordingMiddleware appends its name to a shared trace before and after
// calling next.
type recordingMiddleware struct {
	name  string
	trace *[]string
}

func (m *recordingMiddleware) Name() string { return m.name }

func (m *recordingMiddleware) Wrap(next DownloadFunc) DownloadFunc {
	return func(ctx context.Context, req *model.Request) (*model.Response, error) {
		*m.trace = append(*m.trace, "before "+m.name)
		resp, err := next(ctx, req)
		*m.trace = append(*m.trace, "after "+m.name)
		return resp, err
	}
}

func newTestRequest(t *testing.T, rawURL string) *model.Request {
	t.Helper()
	req, err := model.NewRequest("GET", rawURL)
	if err != nil {
		t.Fatalf("failed to create request: %v", err)
	}
	return req
}

func okFetch(_ context.Context, req *model.Request) (*model.Response, error) {
	return &model.Response{URL: req.URL.String(), Status: http.StatusOK, Request: req}, nil
}

// TestChain tests middleware ordering.
func TestChain(t *testing.T) {
	t.Parallel()

	t.Run("creates an empty chain", func(t *testing.T) {
		t.Parallel()

		c := New()
		if c.Len() != 0 {
			t.Errorf("expected 0 middlewares, got %d", c.Len())
		}
		if c.logger == nil {
			t.Error("expected default logger")
		}
	})

	t.Run("first middleware added is outermost", func(t *testing.T) {
		t.Parallel()

		var trace []string
		c := New(WithLogger(slog.New(slog.DiscardHandler)))
		c.Use(&recordingMiddleware{name: "outer", trace: &trace}, &recordingMiddleware{name: "inner", trace: &trace})

		fetch := c.Then(func(ctx context.Context, req *model.Request) (*model.Response, error) {
			trace = append(trace, "fetch")
			return okFetch(ctx, req)
		})
		if _, err := fetch(t.Context(), newTestRequest(t, "http://example.com")); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		expected := []string{"before outer", "before inner", "fetch", "after inner", "after outer"}
		if len(trace) != len(expected) {
			t.Fatalf("expected %v, got %v", expected, trace)
		}
		for i := range expected {
			if trace[i] != expected[i] {
				t.Errorf("trace[%d]: expected %q, got %q", i, expected[i], trace[i])
			}
		}

		names := c.Names()
		if len(names) != 2 || names[0] != "outer" || names[1] != "inner" {
			t.Errorf("unexpected names %v", names)
		}
	})

	t.Run("errors pass through unchanged", func(t *testing.T) {
		t.Parallel()

		sentinel := errors.New("boom")
		c := New(WithLogger(slog.New(slog.DiscardHandler)))
		fetch := c.Then(func(context.Context, *model.Request) (*model.Response, error) {
			return nil, sentinel
		})

		if _, err := fetch(t.Context(), newTestRequest(t, "http://example.com")); !errors.Is(err, sentinel) {
			t.Errorf("expected sentinel error, got %v", err)
		}
	})
}
