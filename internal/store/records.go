package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
)

const recordReturning = "id, title, source_record_id, source_id, content, date, image, external_link"

// SaveRecords inserts records and returns only the rows that were new.
// Records already stored under the same (source_id, source_record_id) are
// left untouched and omitted from the result.
func (s *Store) SaveRecords(ctx context.Context, records []NewRecord) ([]Record, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin save records: %w", err)
	}

	var inserted []Record
	for _, in := range records {
		if in.SourceID == 0 {
			_ = tx.Rollback()
			return nil, errors.New("record source_id is required")
		}
		if strings.TrimSpace(in.SourceRecordID) == "" {
			_ = tx.Rollback()
			return nil, errors.New("record source_record_id is required")
		}

		date := in.Date
		if date.IsZero() {
			date = time.Now()
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO records (title, source_record_id, source_id, content, date, image)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(source_id, source_record_id) DO NOTHING
			RETURNING `+recordReturning,
			nullString(in.Title),
			in.SourceRecordID,
			in.SourceID,
			in.Content,
			formatTime(date),
			nullString(in.Image),
		)
		rec, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("insert record %s: %w", in.SourceRecordID, err)
		}
		inserted = append(inserted, rec)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit save records: %w", err)
	}
	return inserted, nil
}

// SetRecordExternalLink sets the permanent link of a record and returns the
// number of rows changed.
func (s *Store) SetRecordExternalLink(ctx context.Context, sourceID int64, sourceRecordID, link string) (int64, error) {
	if err := s.ready(); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE records SET external_link = ? WHERE source_record_id = ? AND source_id = ?",
		link, sourceRecordID, sourceID)
	if err != nil {
		return 0, fmt.Errorf("set external link: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// RecordFilter narrows ListRecords. Zero values disable a filter.
type RecordFilter struct {
	Since time.Time
	Kind  string
	Limit uint64
}

// RecordWithSource is a record joined with its source.
type RecordWithSource struct {
	Record Record
	Source Source
}

// ListRecords returns records newest first.
func (s *Store) ListRecords(ctx context.Context, f RecordFilter) ([]RecordWithSource, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	b := sq.Select(
		"r.id", "r.title", "r.source_record_id", "r.source_id", "r.content", "r.date", "r.image", "r.external_link",
		"s.id", "s.name", "s.origin", "s.kind", "s.image", "s.external_link", "s.last_scrape_time",
	).
		From("records r").
		Join("sources s ON s.id = r.source_id").
		OrderBy("r.date DESC", "r.id DESC")

	if !f.Since.IsZero() {
		b = b.Where(sq.GtOrEq{"r.date": formatTime(f.Since)})
	}
	if f.Kind != "" {
		b = b.Where(sq.Eq{"s.kind": f.Kind})
	}
	if f.Limit > 0 {
		b = b.Limit(f.Limit)
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []RecordWithSource
	for rows.Next() {
		var (
			rws           RecordWithSource
			title, image  sql.NullString
			date          string
			srcImage      sql.NullString
			srcLastScrape string
		)
		if err := rows.Scan(
			&rws.Record.ID, &title, &rws.Record.SourceRecordID, &rws.Record.SourceID,
			&rws.Record.Content, &date, &image, &rws.Record.ExternalLink,
			&rws.Source.ID, &rws.Source.Name, &rws.Source.Origin, &rws.Source.Kind,
			&srcImage, &rws.Source.ExternalLink, &srcLastScrape,
		); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		rws.Record.Title = title.String
		rws.Record.Image = image.String
		rws.Source.Image = srcImage.String
		if rws.Record.Date, err = parseTime(date); err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}
		if rws.Source.LastScrapeTime, err = parseTime(srcLastScrape); err != nil {
			return nil, fmt.Errorf("parse last_scrape_time: %w", err)
		}
		out = append(out, rws)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}
	return out, nil
}

func scanRecord(scanner rowScanner) (Record, error) {
	var (
		rec          Record
		title, image sql.NullString
		date         string
	)
	if err := scanner.Scan(
		&rec.ID,
		&title,
		&rec.SourceRecordID,
		&rec.SourceID,
		&rec.Content,
		&date,
		&image,
		&rec.ExternalLink,
	); err != nil {
		return Record{}, err
	}
	rec.Title = title.String
	rec.Image = image.String

	var err error
	rec.Date, err = parseTime(date)
	if err != nil {
		return Record{}, fmt.Errorf("parse date: %w", err)
	}
	return rec, nil
}
