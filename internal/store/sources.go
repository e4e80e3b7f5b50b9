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

var sourceColumns = []string{
	"id", "name", "origin", "kind", "image", "external_link", "last_scrape_time",
}

// SaveSources upserts sources by (origin, kind) and returns the stored rows.
// An existing row keeps its id and scrape time; its name is refreshed.
func (s *Store) SaveSources(ctx context.Context, sources []NewSource) ([]Source, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}

	out := make([]Source, 0, len(sources))
	for _, in := range sources {
		if strings.TrimSpace(in.Origin) == "" {
			return nil, errors.New("source origin is required")
		}
		if strings.TrimSpace(in.Kind) == "" {
			return nil, errors.New("source kind is required")
		}

		row := s.db.QueryRowContext(ctx, `
			INSERT INTO sources (name, origin, kind, image, external_link)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(origin, kind) DO UPDATE SET
				name = excluded.name
			RETURNING `+strings.Join(sourceColumns, ", "),
			in.Name,
			in.Origin,
			in.Kind,
			nullString(in.Image),
			in.ExternalLink,
		)
		src, err := scanSource(row)
		if err != nil {
			return nil, fmt.Errorf("save source %s/%s: %w", in.Kind, in.Origin, err)
		}
		out = append(out, src)
	}
	return out, nil
}

// SearchSources matches query as a substring of origin, link or name.
func (s *Store) SearchSources(ctx context.Context, query string) ([]Source, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	pattern := "%" + strings.TrimSpace(query) + "%"
	return s.listSources(ctx, sq.Or{
		sq.Like{"origin": pattern},
		sq.Like{"external_link": pattern},
		sq.Like{"name": pattern},
	})
}

// GetExactSource looks a source up by its natural key.
func (s *Store) GetExactSource(ctx context.Context, kind, origin string) (Source, bool, error) {
	if err := s.ready(); err != nil {
		return Source{}, false, err
	}

	query, args, err := sq.Select(sourceColumns...).
		From("sources").
		Where(sq.Eq{"kind": kind, "origin": origin}).
		ToSql()
	if err != nil {
		return Source{}, false, fmt.Errorf("build query: %w", err)
	}

	src, err := scanSource(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return Source{}, false, nil
	}
	if err != nil {
		return Source{}, false, fmt.Errorf("get source %s/%s: %w", kind, origin, err)
	}
	return src, true, nil
}

func (s *Store) GetSourcesByKind(ctx context.Context, kind string) ([]Source, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.listSources(ctx, sq.Eq{"kind": kind})
}

// ListSources returns every stored source, or those of one kind when kind
// is not empty.
func (s *Store) ListSources(ctx context.Context, kind string) ([]Source, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if kind == "" {
		return s.listSources(ctx, nil)
	}
	return s.listSources(ctx, sq.Eq{"kind": kind})
}

// GetSourcesByKindForScrape returns sources of kind not scraped within interval.
func (s *Store) GetSourcesByKindForScrape(ctx context.Context, kind string, interval time.Duration) ([]Source, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	cutoff := formatTime(time.Now().Add(-interval))
	return s.listSources(ctx, sq.And{
		sq.Eq{"kind": kind},
		sq.Lt{"last_scrape_time": cutoff},
	})
}

func (s *Store) SetSourceScrapedNow(ctx context.Context, id int64) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE sources SET last_scrape_time = ? WHERE id = ?", formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("mark source %d scraped: %w", id, err)
	}
	return nil
}

func (s *Store) listSources(ctx context.Context, where sq.Sqlizer) ([]Source, error) {
	b := sq.Select(sourceColumns...).From("sources").OrderBy("id")
	if where != nil {
		b = b.Where(where)
	}

	rows, err := s.query(ctx, b)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

func scanSource(scanner rowScanner) (Source, error) {
	var (
		src        Source
		image      sql.NullString
		lastScrape string
	)
	if err := scanner.Scan(
		&src.ID,
		&src.Name,
		&src.Origin,
		&src.Kind,
		&image,
		&src.ExternalLink,
		&lastScrape,
	); err != nil {
		return Source{}, err
	}
	src.Image = image.String

	var err error
	src.LastScrapeTime, err = parseTime(lastScrape)
	if err != nil {
		return Source{}, fmt.Errorf("parse last_scrape_time: %w", err)
	}
	return src, nil
}
