package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// File kinds and types as stored in the files table.
const (
	FileKindTelegram = "TELEGRAM"

	FileTypeImage     = "IMAGE"
	FileTypeDocument  = "DOCUMENT"
	FileTypeAnimation = "ANIMATION"
)

// SaveFiles inserts file rows. Rows whose remote id is already stored are
// skipped.
func (s *Store) SaveFiles(ctx context.Context, files []NewFile) error {
	if err := s.ready(); err != nil {
		return err
	}
	for _, f := range files {
		if f.RecordID == 0 {
			return errors.New("file record_id is required")
		}
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO files (record_id, kind, local_path, remote_path, remote_id, file_name, type, meta)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT DO NOTHING
		`,
			f.RecordID,
			f.Kind,
			nullString(f.LocalPath),
			f.RemotePath,
			nullString(f.RemoteID),
			nullString(f.FileName),
			f.Type,
			nullString(f.Meta),
		)
		if err != nil {
			return fmt.Errorf("insert file %s: %w", f.RemoteID, err)
		}
	}
	return nil
}

func (s *Store) GetFileByRemoteID(ctx context.Context, remoteID string) (File, bool, error) {
	if err := s.ready(); err != nil {
		return File{}, false, err
	}

	var (
		f                             File
		localPath, remote, name, meta sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, record_id, kind, local_path, remote_path, remote_id, file_name, type, meta
		FROM files
		WHERE remote_id = ?
	`, remoteID).Scan(
		&f.ID, &f.RecordID, &f.Kind, &localPath, &f.RemotePath, &remote, &name, &f.Type, &meta,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return File{}, false, nil
	}
	if err != nil {
		return File{}, false, fmt.Errorf("get file %s: %w", remoteID, err)
	}
	f.LocalPath = localPath.String
	f.RemoteID = remote.String
	f.FileName = name.String
	f.Meta = meta.String
	return f, true, nil
}

// SaveFile stores the local location of a downloaded file.
func (s *Store) SaveFile(ctx context.Context, f File) error {
	if err := s.ready(); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx,
		"UPDATE files SET local_path = ?, file_name = ? WHERE id = ?",
		nullString(f.LocalPath), nullString(f.FileName), f.ID)
	if err != nil {
		return fmt.Errorf("save file %d: %w", f.ID, err)
	}
	return nil
}
