package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/repository"
)

var _ repository.TranscriptRepository = (*TranscriptDB)(nil)

// TranscriptDB is the transcript store. It never looks at ownership.
type TranscriptDB struct {
	db *DB
}

const transcriptColumns = `id, user_id, audio_path, text, words_json, created_at, updated_at`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// Create inserts t and fills in ID, CreatedAt and UpdatedAt.
func (s *TranscriptDB) Create(ctx context.Context, t *model.Transcript) error {
	if t.Words == nil {
		t.Words = []model.Word{}
	}
	wordsJSON, err := json.Marshal(t.Words)
	if err != nil {
		return fmt.Errorf("sqlstore: encoding words: %w", err)
	}

	ts := now()
	t.CreatedAt = ts
	t.UpdatedAt = ts

	err = s.db.conn.QueryRowContext(ctx, s.db.rebind(
		`INSERT INTO transcripts (user_id, audio_path, text, words_json, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 RETURNING id`),
		t.UserID,
		t.AudioPath,
		t.Text,
		string(wordsJSON),
		t.CreatedAt,
		t.UpdatedAt,
	).Scan(&t.ID)
	if err != nil {
		return fmt.Errorf("sqlstore: inserting transcript for user %d: %w", t.UserID, err)
	}

	return nil
}

// GetByID returns apperror.ErrNotFound if the row does not exist.
func (s *TranscriptDB) GetByID(ctx context.Context, id int64) (*model.Transcript, error) {
	row := s.db.conn.QueryRowContext(ctx, s.db.rebind(
		`SELECT `+transcriptColumns+` FROM transcripts WHERE id = ?`),
		id,
	)

	t, err := scanTranscript(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("transcript", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("sqlstore: getting transcript %d: %w", id, err)
	}

	return t, nil
}

// ListByOwner returns newest first. id breaks ties between rows created in
// the same instant.
func (s *TranscriptDB) ListByOwner(ctx context.Context, userID int64) ([]model.Transcript, error) {
	rows, err := s.db.conn.QueryContext(ctx, s.db.rebind(
		`SELECT `+transcriptColumns+`
		 FROM transcripts
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC`),
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlstore: listing transcripts for user %d: %w", userID, err)
	}
	defer rows.Close()

	transcripts := make([]model.Transcript, 0)
	for rows.Next() {
		t, err := scanTranscript(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlstore: scanning transcript row: %w", err)
		}
		transcripts = append(transcripts, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlstore: iterating transcripts: %w", err)
	}

	return transcripts, nil
}

// UpdateText replaces the text and sets updated_at to the given instant.
func (s *TranscriptDB) UpdateText(ctx context.Context, id int64, text string, updatedAt time.Time) error {
	result, err := s.db.conn.ExecContext(ctx, s.db.rebind(
		`UPDATE transcripts SET text = ?, updated_at = ? WHERE id = ?`),
		text, updatedAt.UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: updating transcript %d: %w", id, err)
	}

	return notFoundIfNoRows(result, id)
}

// Delete removes the row. The audio file is the caller's concern.
func (s *TranscriptDB) Delete(ctx context.Context, id int64) error {
	result, err := s.db.conn.ExecContext(ctx, s.db.rebind(
		`DELETE FROM transcripts WHERE id = ?`),
		id,
	)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting transcript %d: %w", id, err)
	}

	return notFoundIfNoRows(result, id)
}

func notFoundIfNoRows(result sql.Result, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("transcript", strconv.FormatInt(id, 10))
	}
	return nil
}

// scanTranscript decodes one row. A words_json value that fails to decode
// yields an empty word list instead of failing the whole read.
func scanTranscript(row rowScanner) (*model.Transcript, error) {
	var (
		t         model.Transcript
		audioPath sql.NullString
		wordsJSON string
	)

	if err := row.Scan(
		&t.ID,
		&t.UserID,
		&audioPath,
		&t.Text,
		&wordsJSON,
		&t.CreatedAt,
		&t.UpdatedAt,
	); err != nil {
		return nil, err
	}

	if audioPath.Valid {
		t.AudioPath = &audioPath.String
	}
	if err := json.Unmarshal([]byte(wordsJSON), &t.Words); err != nil || t.Words == nil {
		t.Words = []model.Word{}
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.UpdatedAt = t.UpdatedAt.UTC()

	return &t, nil
}
