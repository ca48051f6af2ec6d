package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nao1215/crawlcore/internal/model"
)

func setupTestLog(t *testing.T) *TransferLog {
	t.Helper()

	tl, err := Open(t.TempDir(), DefaultOptions())
	if err != nil {
		t.Fatalf("failed to open transfer log: %v", err)
	}
	t.Cleanup(func() { _ = tl.Close() })
	return tl
}

// TestOpen tests database opening and creation.
func TestOpen(t *testing.T) {
	t.Parallel()

	t.Run("creates database in new directory", func(t *testing.T) {
		t.Parallel()

		dbDir := filepath.Join(t.TempDir(), "newdir", "subdir")
		tl, err := Open(dbDir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to open database: %v", err)
		}
		defer tl.Close()

		if _, err := os.Stat(filepath.Join(dbDir, FileName)); err != nil {
			t.Errorf("database file was not created: %v", err)
		}
		if tl.Path() != filepath.Join(dbDir, FileName) {
			t.Errorf("unexpected path %q", tl.Path())
		}
	})

	t.Run("missing database fails without creation", func(t *testing.T) {
		t.Parallel()

		_, err := Open(t.TempDir(), Options{CreateIfNotExists: false})
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("reopens an existing database", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		tl, err := Open(dir, DefaultOptions())
		if err != nil {
			t.Fatalf("failed to create database: %v", err)
		}
		if _, err := tl.Insert(t.Context(), &model.Result{URL: "http://example.com", Method: "GET"}); err != nil {
			t.Fatalf("failed to insert: %v", err)
		}
		_ = tl.Close()

		reopened, err := Open(dir, Options{})
		if err != nil {
			t.Fatalf("failed to reopen: %v", err)
		}
		defer reopened.Close()

		records, err := reopened.Recent(t.Context(), 10, "")
		if err != nil {
			t.Fatalf("failed to query: %v", err)
		}
		if len(records) != 1 {
			t.Errorf("expected 1 record, got %d", len(records))
		}
	})
}

// TestTransferLog tests inserting and querying transfers.
func TestTransferLog(t *testing.T) {
	t.Parallel()

	t.Run("round-trips a successful transfer", func(t *testing.T) {
		t.Parallel()

		tl := setupTestLog(t)
		fetchedAt := time.Date(2026, 1, 2, 3, 4, 5, 6_000_000, time.UTC)

		id, err := tl.Insert(t.Context(), &model.Result{
			URL:       "https://example.com/",
			Method:    "GET",
			Slot:      "example.com",
			Status:    200,
			Bytes:     5,
			Body:      []byte("hello"),
			Flags:     []string{model.FlagPartial},
			Protocol:  "HTTP/1.1",
			IPAddress: "127.0.0.1",
			Latency:   250 * time.Millisecond,
			FetchedAt: fetchedAt,
		})
		if err != nil {
			t.Fatalf("failed to insert: %v", err)
		}

		records, err := tl.Recent(t.Context(), 10, "")
		if err != nil {
			t.Fatalf("failed to query: %v", err)
		}
		if len(records) != 1 {
			t.Fatalf("expected 1 record, got %d", len(records))
		}

		rec := records[0]
		if rec.ID != id || rec.Status != 200 || rec.Slot != "example.com" || rec.Bytes != 5 {
			t.Errorf("unexpected record: %+v", rec)
		}
		if len(rec.Flags) != 1 || rec.Flags[0] != model.FlagPartial {
			t.Errorf("unexpected flags %v", rec.Flags)
		}
		if rec.Latency != 250*time.Millisecond {
			t.Errorf("unexpected latency %v", rec.Latency)
		}
		if !rec.FetchedAt.Equal(fetchedAt) {
			t.Errorf("expected fetched at %v, got %v", fetchedAt, rec.FetchedAt)
		}
		if rec.BodyDigest != BodyDigest([]byte("hello")) || len(rec.BodyDigest) != 64 {
			t.Errorf("unexpected digest %q", rec.BodyDigest)
		}
	})

	t.Run("filters by slot and limits newest first", func(t *testing.T) {
		t.Parallel()

		tl := setupTestLog(t)
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		for i, slot := range []string{"a.example", "b.example", "a.example", "a.example"} {
			_, err := tl.Insert(t.Context(), &model.Result{
				URL:       "http://" + slot + "/",
				Method:    "GET",
				Slot:      slot,
				Status:    200 + i,
				FetchedAt: base.Add(time.Duration(i) * time.Minute),
			})
			if err != nil {
				t.Fatalf("failed to insert: %v", err)
			}
		}

		records, err := tl.Recent(t.Context(), 2, "a.example")
		if err != nil {
			t.Fatalf("failed to query: %v", err)
		}
		if len(records) != 2 {
			t.Fatalf("expected 2 records, got %d", len(records))
		}
		if records[0].Status != 203 || records[1].Status != 202 {
			t.Errorf("expected newest first, got %d then %d", records[0].Status, records[1].Status)
		}
	})

	t.Run("counts outcomes", func(t *testing.T) {
		t.Parallel()

		tl := setupTestLog(t)
		results := []*model.Result{
			{URL: "http://a/", Method: "GET", Status: 200},
			{URL: "http://b/", Method: "GET", Status: 404},
			{URL: "http://c/", Method: "GET", Error: "timed out", ErrorKind: "timeout"},
			{URL: "http://d/", Method: "GET", Error: "boom"},
		}
		for _, r := range results {
			if _, err := tl.Insert(t.Context(), r); err != nil {
				t.Fatalf("failed to insert: %v", err)
			}
		}

		counts, err := tl.CountByOutcome(t.Context())
		if err != nil {
			t.Fatalf("failed to count: %v", err)
		}
		if counts["ok"] != 2 || counts["timeout"] != 1 || counts["error"] != 1 {
			t.Errorf("unexpected counts %v", counts)
		}
	})
}

// TestBodyDigest tests body digesting.
func TestBodyDigest(t *testing.T) {
	t.Parallel()

	if BodyDigest(nil) != "" {
		t.Error("expected empty digest for empty body")
	}
	if BodyDigest([]byte("abc")) != "3a985da74fe225b2045c172d6bd390bd855f086e3e9d525b46bfe24511431532" {
		t.Errorf("unexpected digest %q", BodyDigest([]byte("abc")))
	}
}
