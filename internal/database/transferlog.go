package database

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/crawlcore/internal/model"
	"golang.org/x/crypto/sha3"
)

// FileName is the database file created in the data directory.
const FileName = "crawlcore.db"

// ErrNotFound is returned when the database file is missing and creation
// is disabled.
var ErrNotFound = errors.New("transfer log not found")

// timeLayout is how fetch times are stored.
const timeLayout = "2006-01-02 15:04:05.000"

// TransferLog is the SQLite transfer log.
type TransferLog struct {
	db     *sql.DB
	dbPath string
}

// Options configures Open.
type Options struct {
	// CreateIfNotExists creates the directory and database file when missing.
	CreateIfNotExists bool

	// EnableWAL enables write-ahead logging.
	EnableWAL bool
}

// DefaultOptions returns options creating a WAL database.
func DefaultOptions() Options {
	return Options{
		CreateIfNotExists: true,
		EnableWAL:         true,
	}
}

// Open opens the transfer log in dbDir.
func Open(dbDir string, opts Options) (*TransferLog, error) {
	dbPath := filepath.Join(dbDir, FileName)

	dsn := dbPath + "?mode=rw"
	if opts.CreateIfNotExists {
		if err := os.MkdirAll(dbDir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
		dsn = dbPath + "?mode=rwc"
	} else if _, err := os.Stat(dbPath); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w at %s", ErrNotFound, dbPath)
		}
		return nil, fmt.Errorf("failed to check database path: %w", err)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer; the batch fetcher inserts from many goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	tl := &TransferLog{db: db, dbPath: dbPath}

	ctx := context.Background()
	if opts.EnableWAL {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
	}
	if err := tl.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return tl, nil
}

// Path returns the database file path.
func (tl *TransferLog) Path() string {
	return tl.dbPath
}

// Close closes the database.
func (tl *TransferLog) Close() error {
	return tl.db.Close()
}

func (tl *TransferLog) createTables(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS transfers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL,
		method TEXT NOT NULL,
		slot TEXT NOT NULL DEFAULT '',
		status INTEGER NOT NULL DEFAULT 0,
		bytes INTEGER NOT NULL DEFAULT 0,
		flags TEXT NOT NULL DEFAULT '',
		protocol TEXT NOT NULL DEFAULT '',
		ip_address TEXT NOT NULL DEFAULT '',
		latency_ms INTEGER NOT NULL DEFAULT 0,
		error_kind TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		body_sha3 TEXT NOT NULL DEFAULT '',
		fetched_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transfers_slot ON transfers(slot);
	CREATE INDEX IF NOT EXISTS idx_transfers_url ON transfers(url);
	CREATE INDEX IF NOT EXISTS idx_transfers_fetched_at ON transfers(fetched_at);
	`
	_, err := tl.db.ExecContext(ctx, schema)
	return err
}

// Record is one stored transfer.
type Record struct {
	ID         int64
	URL        string
	Method     string
	Slot       string
	Status     int
	Bytes      int
	Flags      []string
	Protocol   string
	IPAddress  string
	Latency    time.Duration
	ErrorKind  string
	Error      string
	BodyDigest string
	FetchedAt  time.Time
}

// BodyDigest returns the hex SHA3-256 digest of body, or "" for an empty body.
func BodyDigest(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	sum := sha3.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Insert stores r and returns the row id.
func (tl *TransferLog) Insert(ctx context.Context, r *model.Result) (int64, error) {
	query := `
	INSERT INTO transfers (url, method, slot, status, bytes, flags, protocol, ip_address,
		latency_ms, error_kind, error, body_sha3, fetched_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	fetchedAt := r.FetchedAt
	if fetchedAt.IsZero() {
		fetchedAt = time.Now()
	}

	result, err := tl.db.ExecContext(ctx, query,
		r.URL,
		r.Method,
		r.Slot,
		r.Status,
		r.Bytes,
		strings.Join(r.Flags, ","),
		r.Protocol,
		r.IPAddress,
		r.Latency.Milliseconds(),
		r.ErrorKind,
		r.Error,
		BodyDigest(r.Body),
		fetchedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert transfer: %w", err)
	}
	return result.LastInsertId()
}

// Recent returns up to limit transfers, newest first. A non-empty slot
// restricts the result to that slot.
func (tl *TransferLog) Recent(ctx context.Context, limit int, slot string) ([]Record, error) {
	query := `
	SELECT id, url, method, slot, status, bytes, flags, protocol, ip_address,
		latency_ms, error_kind, error, body_sha3, fetched_at
	FROM transfers
	WHERE 1=1
	`
	args := make([]any, 0, 2)
	if slot != "" {
		query += " AND slot = ?"
		args = append(args, slot)
	}
	query += " ORDER BY fetched_at DESC, id DESC LIMIT ?"
	if limit <= 0 {
		limit = -1
	}
	args = append(args, limit)

	rows, err := tl.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query transfers: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			rec       Record
			flags     string
			latencyMS int64
			fetchedAt string
		)
		if err := rows.Scan(
			&rec.ID,
			&rec.URL,
			&rec.Method,
			&rec.Slot,
			&rec.Status,
			&rec.Bytes,
			&flags,
			&rec.Protocol,
			&rec.IPAddress,
			&latencyMS,
			&rec.ErrorKind,
			&rec.Error,
			&rec.BodyDigest,
			&fetchedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transfer: %w", err)
		}
		if flags != "" {
			rec.Flags = strings.Split(flags, ",")
		}
		rec.Latency = time.Duration(latencyMS) * time.Millisecond
		rec.FetchedAt = parseTimestamp(fetchedAt)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CountByOutcome counts stored transfers by outcome: "ok" for responses,
// the error kind for failures.
func (tl *TransferLog) CountByOutcome(ctx context.Context) (map[string]int, error) {
	query := `
	SELECT CASE WHEN error = '' THEN 'ok' WHEN error_kind = '' THEN 'error' ELSE error_kind END AS outcome,
		COUNT(*)
	FROM transfers
	GROUP BY outcome
	`
	rows, err := tl.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count transfers: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			outcome string
			n       int
		)
		if err := rows.Scan(&outcome, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[outcome] = n
	}
	return counts, rows.Err()
}

var timestampFormats = []string{
	timeLayout,
	"2006-01-02 15:04:05",
	time.RFC3339Nano,
	time.RFC3339,
}

// parseTimestamp parses a stored time as UTC. Unparseable values give the zero time.
func parseTimestamp(s string) time.Time {
	for _, format := range timestampFormats {
		if t, err := time.ParseInLocation(format, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}
