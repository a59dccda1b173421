package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/audio"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/repository"
	"github.com/sakif/voice-notes/internal/transcribe"
)

// UpdateInput is the PUT /transcripts/{id} body. A missing "text" clears
// the transcript.
type UpdateInput struct {
	Text *string `json:"text" validate:"omitempty,max=200000"`
}

// AudioLocation says where a transcript's audio can be read: a local file
// (Path) or, when only the archive has it, a presigned URL.
type AudioLocation struct {
	Name        string
	Path        string
	URL         string
	ContentType string
}

// TranscriptService runs uploads through the engine and enforces that
// users only ever touch their own transcripts.
type TranscriptService struct {
	repo     repository.TranscriptRepository
	store    *audio.Store
	archive  audio.Archive
	engine   transcribe.Engine
	validate *validator.Validate
	logger   *slog.Logger
	now      func() time.Time
}

// NewTranscriptService wires the service. archive may be nil.
func NewTranscriptService(
	repo repository.TranscriptRepository,
	store *audio.Store,
	archive audio.Archive,
	engine transcribe.Engine,
	logger *slog.Logger,
) *TranscriptService {
	if archive == nil {
		archive = audio.NopArchive{}
	}
	return &TranscriptService{
		repo:     repo,
		store:    store,
		archive:  archive,
		engine:   engine,
		validate: newValidator(),
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Transcribe stores the upload, runs the engine on it and persists the
// result for userID. The file is fully written before the engine starts. If
// the engine or the insert fails, the file is removed again.
func (s *TranscriptService) Transcribe(ctx context.Context, userID int64, r io.Reader, filename string) (*model.Transcript, error) {
	name, err := s.store.Save(r, filename)
	if err != nil {
		return nil, fmt.Errorf("service/transcript: saving upload: %w", err)
	}

	path, err := s.store.Path(name)
	if err != nil {
		return nil, fmt.Errorf("service/transcript: %w", err)
	}

	if fi, err := os.Stat(path); err == nil && fi.Size() == 0 {
		s.discard(name)
		return nil, apperror.ValidationFailed("file", "uploaded file is empty")
	}

	start := time.Now()
	result, err := s.engine.Transcribe(ctx, path)
	if err != nil {
		s.discard(name)
		return nil, fmt.Errorf("service/transcript: transcribing %s: %w", name, err)
	}

	text, words := transcribe.Flatten(result)

	t := &model.Transcript{
		UserID:    userID,
		AudioPath: &name,
		Text:      text,
		Words:     words,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		s.discard(name)
		return nil, fmt.Errorf("service/transcript: saving transcript: %w", err)
	}

	s.logger.Info("transcript created",
		slog.Int64("id", t.ID),
		slog.Int64("userID", userID),
		slog.String("audio", name),
		slog.Int("words", len(words)),
		slog.Duration("took", time.Since(start)),
	)

	if err := s.archive.Put(ctx, name, path); err != nil {
		s.logger.Warn("archiving audio failed", slog.String("audio", name), slog.String("error", err.Error()))
	}

	return t, nil
}

// List returns the user's transcripts, newest first.
func (s *TranscriptService) List(ctx context.Context, userID int64) ([]model.TranscriptSummary, error) {
	transcripts, err := s.repo.ListByOwner(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("service/transcript: listing for user %d: %w", userID, err)
	}

	summaries := make([]model.TranscriptSummary, 0, len(transcripts))
	for i := range transcripts {
		summaries = append(summaries, transcripts[i].Summary())
	}
	return summaries, nil
}

// Get returns one of the user's transcripts.
func (s *TranscriptService) Get(ctx context.Context, userID, id int64) (*model.Transcript, error) {
	return s.owned(ctx, userID, id)
}

// UpdateText replaces the text. updated_at always moves forward, even for
// two edits within the same clock tick.
func (s *TranscriptService) UpdateText(ctx context.Context, userID, id int64, in UpdateInput) (*model.Transcript, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	t, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	text := ""
	if in.Text != nil {
		text = *in.Text
	}

	updatedAt := s.now()
	if !updatedAt.After(t.UpdatedAt) {
		updatedAt = t.UpdatedAt.Add(time.Microsecond)
	}

	if err := s.repo.UpdateText(ctx, id, text, updatedAt); err != nil {
		return nil, fmt.Errorf("service/transcript: updating %d: %w", id, err)
	}

	t.Text = text
	t.UpdatedAt = updatedAt
	return t, nil
}

// Delete removes the transcript, then its audio. Failing to remove the
// audio is logged, not returned.
func (s *TranscriptService) Delete(ctx context.Context, userID, id int64) error {
	t, err := s.owned(ctx, userID, id)
	if err != nil {
		return err
	}

	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("service/transcript: deleting %d: %w", id, err)
	}

	if t.AudioPath != nil {
		name := *t.AudioPath
		if err := s.store.Remove(name); err != nil {
			s.logger.Warn("removing audio failed", slog.String("audio", name), slog.String("error", err.Error()))
		}
		if err := s.archive.Delete(ctx, name); err != nil {
			s.logger.Warn("removing archived audio failed", slog.String("audio", name), slog.String("error", err.Error()))
		}
	}

	s.logger.Info("transcript deleted", slog.Int64("id", id), slog.Int64("userID", userID))
	return nil
}

// AudioLocation finds the transcript's audio: the local file if present,
// otherwise a presigned archive URL.
func (s *TranscriptService) AudioLocation(ctx context.Context, userID, id int64) (*AudioLocation, error) {
	t, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if t.AudioPath == nil {
		return nil, apperror.NotFound("audio for transcript", strconv.FormatInt(id, 10))
	}

	name := *t.AudioPath
	loc := &AudioLocation{Name: name, ContentType: audio.ContentType(name)}

	path, err := s.store.Path(name)
	if err != nil {
		return nil, fmt.Errorf("service/transcript: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		loc.Path = path
		return loc, nil
	}

	url, err := s.archive.URL(ctx, name)
	if err != nil {
		if errors.Is(err, audio.ErrArchiveDisabled) {
			return nil, apperror.NotFound("audio for transcript", strconv.FormatInt(id, 10))
		}
		return nil, fmt.Errorf("service/transcript: locating archived audio: %w", err)
	}
	loc.URL = url
	return loc, nil
}

// owned loads a transcript and checks it belongs to userID. Missing and
// foreign transcripts produce the same NotFound error.
func (s *TranscriptService) owned(ctx context.Context, userID, id int64) (*model.Transcript, error) {
	notFound := apperror.NotFound("transcript", strconv.FormatInt(id, 10))
	if id <= 0 {
		return nil, notFound
	}

	t, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, notFound
		}
		return nil, fmt.Errorf("service/transcript: loading %d: %w", id, err)
	}
	if t.UserID != userID {
		return nil, notFound
	}
	return t, nil
}

func (s *TranscriptService) discard(name string) {
	if err := s.store.Remove(name); err != nil {
		s.logger.Warn("removing upload failed", slog.String("audio", name), slog.String("error", err.Error()))
	}
}
