package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/auth"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/service"
)

// TranscriptService is the part of service.TranscriptService the handlers
// need.
type TranscriptService interface {
	Transcribe(ctx context.Context, userID int64, r io.Reader, filename string) (*model.Transcript, error)
	List(ctx context.Context, userID int64) ([]model.TranscriptSummary, error)
	Get(ctx context.Context, userID, id int64) (*model.Transcript, error)
	UpdateText(ctx context.Context, userID, id int64, in service.UpdateInput) (*model.Transcript, error)
	Delete(ctx context.Context, userID, id int64) error
	AudioLocation(ctx context.Context, userID, id int64) (*service.AudioLocation, error)
}

// multipartMemory is how much of an upload is held in memory before the
// multipart parser spills to a temp file.
const multipartMemory = 8 << 20

// TranscriptHandler serves uploads and the transcript CRUD routes. Every
// route runs behind RequireAuth; the service enforces ownership.
type TranscriptHandler struct {
	transcripts TranscriptService
	logger      *slog.Logger
}

// NewTranscriptHandler creates a TranscriptHandler.
func NewTranscriptHandler(transcripts TranscriptService, logger *slog.Logger) *TranscriptHandler {
	return &TranscriptHandler{transcripts: transcripts, logger: logger}
}

type transcribeResponse struct {
	ID    int64        `json:"id"`
	Text  string       `json:"text"`
	Words []model.Word `json:"words"`
	Audio *string      `json:"audio"`
}

type updateRequest struct {
	Text *string `json:"text"`
}

// HandleTranscribe accepts an audio upload and returns its transcript.
//
// HTTP: POST /transcribe
// REQUEST: multipart/form-data with the audio in field "file"
// RESPONSE: {"id": 1, "text": "...", "words": [...], "audio": "<name>"}
//
// The body size is capped by http.MaxBytesReader in the router; going over
// the cap surfaces here as *http.MaxBytesError.
func (h *TranscriptHandler) HandleTranscribe(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		writeError(w, h.logger, uploadError(err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, h.logger, uploadError(err))
		return
	}
	defer file.Close()

	t, err := h.transcripts.Transcribe(r.Context(), user.ID, file, header.Filename)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, transcribeResponse{
		ID:    t.ID,
		Text:  t.Text,
		Words: t.Words,
		Audio: t.AudioPath,
	})
}

// HandleList returns the user's transcripts, newest first.
//
// HTTP: GET /transcripts
// RESPONSE: [{"id": 2, "preview": "...", "audio": "...", "created_at": "..."}, ...]
func (h *TranscriptHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}

	summaries, err := h.transcripts.List(r.Context(), user.ID)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, summaries)
}

// HandleGet returns one transcript with its words.
//
// HTTP: GET /transcripts/{id}
func (h *TranscriptHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, err := transcriptID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	t, err := h.transcripts.Get(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleUpdate replaces the transcript text. A body without "text" clears
// it.
//
// HTTP: PUT /transcripts/{id}
// REQUEST BODY: {"text": "corrected text"}
func (h *TranscriptHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, err := transcriptID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	var req updateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	t, err := h.transcripts.UpdateText(r.Context(), user.ID, id, service.UpdateInput{Text: req.Text})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// HandleDelete removes a transcript and its audio.
//
// HTTP: DELETE /transcripts/{id}
// RESPONSE: {"ok": true}
func (h *TranscriptHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, err := transcriptID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.transcripts.Delete(r.Context(), user.ID, id); err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

// HandleAudio streams the stored recording, or redirects to a presigned
// archive URL when only the archive still has it.
//
// HTTP: GET /transcripts/{id}/audio
//
// http.ServeContent handles Range requests, so browsers can seek.
func (h *TranscriptHandler) HandleAudio(w http.ResponseWriter, r *http.Request) {
	user, ok := h.user(w, r)
	if !ok {
		return
	}
	id, err := transcriptID(r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	loc, err := h.transcripts.AudioLocation(r.Context(), user.ID, id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if loc.URL != "" {
		http.Redirect(w, r, loc.URL, http.StatusFound)
		return
	}

	f, err := os.Open(loc.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, h.logger, apperror.NotFound("audio for transcript", strconv.FormatInt(id, 10)))
			return
		}
		writeError(w, h.logger, err)
		return
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	w.Header().Set("Content-Type", loc.ContentType)
	http.ServeContent(w, r, loc.Name, fi.ModTime(), f)
}

// user returns the authenticated user or writes a 401.
func (h *TranscriptHandler) user(w http.ResponseWriter, r *http.Request) (*model.User, bool) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("not authenticated"))
		return nil, false
	}
	return user, true
}

// transcriptID parses the {id} path parameter. Anything that is not a
// positive integer cannot name a transcript, so it is a 404.
func transcriptID(r *http.Request) (int64, error) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.NotFound("transcript", strconv.Quote(raw))
	}
	return id, nil
}

// uploadError turns multipart parsing failures into client errors.
func uploadError(err error) error {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return apperror.ValidationFailed("file", "file too large")
	case errors.Is(err, http.ErrMissingFile):
		return apperror.ValidationFailed("file", "file is required")
	case errors.Is(err, http.ErrNotMultipart):
		return apperror.ValidationFailed("file", "request must be multipart/form-data")
	default:
		return apperror.ValidationFailed("file", "could not read upload")
	}
}
