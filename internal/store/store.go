// Package store persists sources, records and downloaded files in sqlite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"
)

var errNotInitialized = errors.New("store is not initialized")

type Store struct {
	db *sql.DB
}

// Source is a feed, channel or community records are collected from.
type Source struct {
	ID             int64
	Name           string
	Origin         string
	Kind           string
	Image          string
	ExternalLink   string
	LastScrapeTime time.Time
}

type NewSource struct {
	Name         string
	Origin       string
	Kind         string
	Image        string
	ExternalLink string
}

// Record is a single post or feed item.
type Record struct {
	ID             int64
	Title          string
	SourceRecordID string
	SourceID       int64
	Content        string
	Date           time.Time
	Image          string
	ExternalLink   string
}

type NewRecord struct {
	Title          string
	SourceRecordID string
	SourceID       int64
	Content        string
	Date           time.Time
	Image          string
}

// File is an attachment of a record. LocalPath is empty until the
// download has completed.
type File struct {
	ID         int64
	RecordID   int64
	Kind       string
	LocalPath  string
	RemotePath string
	RemoteID   string
	FileName   string
	Type       string
	Meta       string
}

type NewFile struct {
	RecordID   int64
	Kind       string
	LocalPath  string
	RemotePath string
	RemoteID   string
	FileName   string
	Type       string
	Meta       string
}

func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("path is required")
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Writers from several goroutines would otherwise hit SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) ready() error {
	if s == nil || s.db == nil {
		return errNotInitialized
	}
	return nil
}

// Counts holds table sizes, reported by the doctor command.
type Counts struct {
	Sources int
	Records int
	Files   int
}

func (s *Store) Counts(ctx context.Context) (Counts, error) {
	if err := s.ready(); err != nil {
		return Counts{}, err
	}
	var c Counts
	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM sources),
			(SELECT COUNT(*) FROM records),
			(SELECT COUNT(*) FROM files)
	`).Scan(&c.Sources, &c.Records, &c.Files)
	if err != nil {
		return Counts{}, fmt.Errorf("count rows: %w", err)
	}
	return c, nil
}

// PruneOld deletes records dated before retainDays ago. Their files rows
// are removed by cascade. Returns the number of records removed.
func (s *Store) PruneOld(ctx context.Context, retainDays int) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	if retainDays <= 0 {
		return 0, nil
	}

	cutoff := formatTime(time.Now().AddDate(0, 0, -retainDays))
	res, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE date < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune old records: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) query(ctx context.Context, b sq.SelectBuilder) (*sql.Rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	return s.db.QueryContext(ctx, query, args...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

// timeLayout has a fixed width so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if ts, err := time.Parse(timeLayout, value); err == nil {
		return ts, nil
	}
	return time.Parse(time.RFC3339Nano, value)
}

func nullString(v string) sql.NullString {
	v = strings.TrimSpace(v)
	return sql.NullString{String: v, Valid: v != ""}
}
