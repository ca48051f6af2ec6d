package model

import (
	"errors"
	"net"
	"testing"
	"time"
)

// TestNewRequest tests request construction.
func TestNewRequest(t *testing.T) {
	t.Parallel()

	t.Run("empty method defaults to GET", func(t *testing.T) {
		t.Parallel()

		req, err := NewRequest("", "http://example.com/path")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Method != "GET" {
			t.Errorf("expected GET, got %q", req.Method)
		}
		if req.Meta == nil || req.Header == nil {
			t.Error("expected initialized Meta and Header")
		}
		if req.String() != "<GET http://example.com/path>" {
			t.Errorf("unexpected String(): %q", req.String())
		}
	})

	t.Run("method is upper-cased", func(t *testing.T) {
		t.Parallel()

		req, err := NewRequest("post", "https://example.com")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if req.Method != "POST" {
			t.Errorf("expected POST, got %q", req.Method)
		}
	})

	t.Run("URL without host returns error", func(t *testing.T) {
		t.Parallel()

		if _, err := NewRequest("GET", "/relative"); err == nil {
			t.Error("expected error for relative URL")
		}
	})
}

// TestMetaAccessors tests typed access to request metadata.
func TestMetaAccessors(t *testing.T) {
	t.Parallel()

	m := Meta{
		"timeout_duration": 3 * time.Second,
		"timeout_float":    1.5,
		"timeout_int":      2,
		"timeout_string":   "250ms",
		"size":             int64(1024),
		"size_int":         10,
		"flag":             false,
		"name":             "slot-a",
		"empty":            "",
	}

	testCases := []struct {
		name     string
		key      string
		expected time.Duration
		ok       bool
	}{
		{"duration value", "timeout_duration", 3 * time.Second, true},
		{"float seconds", "timeout_float", 1500 * time.Millisecond, true},
		{"int seconds", "timeout_int", 2 * time.Second, true},
		{"duration string", "timeout_string", 250 * time.Millisecond, true},
		{"missing key", "missing", 0, false},
		{"wrong type", "flag", 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, ok := m.Duration(tc.key)
			if ok != tc.ok || got != tc.expected {
				t.Errorf("Duration(%q) = (%v, %v), expected (%v, %v)", tc.key, got, ok, tc.expected, tc.ok)
			}
		})
	}

	t.Run("Int64 reads integer types", func(t *testing.T) {
		t.Parallel()
		if v, ok := m.Int64("size"); !ok || v != 1024 {
			t.Errorf("Int64(size) = (%d, %v)", v, ok)
		}
		if v, ok := m.Int64("size_int"); !ok || v != 10 {
			t.Errorf("Int64(size_int) = (%d, %v)", v, ok)
		}
	})

	t.Run("Bool distinguishes false from missing", func(t *testing.T) {
		t.Parallel()
		if v, ok := m.Bool("flag"); !ok || v {
			t.Errorf("Bool(flag) = (%v, %v), expected (false, true)", v, ok)
		}
		if _, ok := m.Bool("missing"); ok {
			t.Error("expected missing key to report ok=false")
		}
	})

	t.Run("String treats empty values as unset", func(t *testing.T) {
		t.Parallel()
		if v, ok := m.String("name"); !ok || v != "slot-a" {
			t.Errorf("String(name) = (%q, %v)", v, ok)
		}
		if _, ok := m.String("empty"); ok {
			t.Error("expected empty string to report ok=false")
		}
	})
}

// TestResponseHasFlag tests flag lookup.
func TestResponseHasFlag(t *testing.T) {
	t.Parallel()

	resp := &Response{Flags: []string{FlagPartial}}
	if !resp.HasFlag(FlagPartial) {
		t.Error("expected partial flag")
	}
	if resp.HasFlag(FlagDataLoss) {
		t.Error("did not expect dataloss flag")
	}
}

// TestSummary tests result aggregation.
func TestSummary(t *testing.T) {
	t.Parallel()

	req, err := NewRequest("GET", "http://example.com/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	req.Meta[MetaDownloadSlot] = "example.com"
	req.Meta[MetaDownloadLatency] = 20 * time.Millisecond

	ok := NewResult(req, &Response{
		URL:       "http://example.com/a",
		Status:    200,
		Body:      []byte("hello"),
		IPAddress: net.ParseIP("127.0.0.1"),
	}, nil, "")
	failed := NewResult(req, nil, errors.New("boom"), "timeout")

	s := NewSummary()
	s.Add(ok)
	s.Add(failed)
	s.Finished = s.Started.Add(time.Second)

	if s.Succeeded() != 1 || s.Failed() != 1 {
		t.Errorf("expected 1 succeeded and 1 failed, got %d/%d", s.Succeeded(), s.Failed())
	}
	if s.TotalBytes() != 5 {
		t.Errorf("expected 5 bytes, got %d", s.TotalBytes())
	}
	if s.Elapsed() != time.Second {
		t.Errorf("expected 1s elapsed, got %v", s.Elapsed())
	}
	if ok.Slot != "example.com" || ok.Latency != 20*time.Millisecond || ok.IPAddress != "127.0.0.1" {
		t.Errorf("unexpected result fields: %+v", ok)
	}

	keys, counts := s.OutcomeCounts()
	if len(keys) != 2 || keys[0] != "ok" || keys[1] != "timeout" {
		t.Errorf("unexpected keys: %v", keys)
	}
	if counts["ok"] != 1 || counts["timeout"] != 1 {
		t.Errorf("unexpected counts: %v", counts)
	}
}
