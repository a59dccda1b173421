package handler_test

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/auth"
	"github.com/sakif/voice-notes/internal/handler"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/service"
)

// MockTranscriptService captures the last call and returns canned values.
type MockTranscriptService struct {
	UserID   int64
	ID       int64
	Filename string
	Upload   []byte
	Update   service.UpdateInput

	ReturnT   *model.Transcript
	ReturnSum []model.TranscriptSummary
	ReturnLoc *service.AudioLocation
	ReturnErr error
}

func (m *MockTranscriptService) Transcribe(_ context.Context, userID int64, r io.Reader, filename string) (*model.Transcript, error) {
	m.UserID, m.Filename = userID, filename
	m.Upload, _ = io.ReadAll(r)
	return m.ReturnT, m.ReturnErr
}

func (m *MockTranscriptService) List(_ context.Context, userID int64) ([]model.TranscriptSummary, error) {
	m.UserID = userID
	return m.ReturnSum, m.ReturnErr
}

func (m *MockTranscriptService) Get(_ context.Context, userID, id int64) (*model.Transcript, error) {
	m.UserID, m.ID = userID, id
	return m.ReturnT, m.ReturnErr
}

func (m *MockTranscriptService) UpdateText(_ context.Context, userID, id int64, in service.UpdateInput) (*model.Transcript, error) {
	m.UserID, m.ID, m.Update = userID, id, in
	return m.ReturnT, m.ReturnErr
}

func (m *MockTranscriptService) Delete(_ context.Context, userID, id int64) error {
	m.UserID, m.ID = userID, id
	return m.ReturnErr
}

func (m *MockTranscriptService) AudioLocation(_ context.Context, userID, id int64) (*service.AudioLocation, error) {
	m.UserID, m.ID = userID, id
	return m.ReturnLoc, m.ReturnErr
}

// newTranscriptRouter mounts the handler the way the server does, with a
// fixed user standing in for RequireAuth.
func newTranscriptRouter(svc *MockTranscriptService) http.Handler {
	h := handler.NewTranscriptHandler(svc, testLogger())
	user := &model.User{ID: 5, Username: "alice"}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
		})
	})
	r.Post("/transcribe", h.HandleTranscribe)
	r.Get("/transcripts", h.HandleList)
	r.Get("/transcripts/{id}", h.HandleGet)
	r.Put("/transcripts/{id}", h.HandleUpdate)
	r.Delete("/transcripts/{id}", h.HandleDelete)
	r.Get("/transcripts/{id}/audio", h.HandleAudio)
	return r
}

func multipartBody(t *testing.T, field, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func sampleTranscript() *model.Transcript {
	audio := "0123456789abcdef0123456789abcdef.webm"
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return &model.Transcript{
		ID:        11,
		UserID:    5,
		AudioPath: &audio,
		Text:      "Buy milk.",
		Words:     []model.Word{{Word: " Buy", Start: 0.1, End: 0.3}, {Word: " milk.", Start: 0.4, End: 0.8}},
		CreatedAt: at,
		UpdatedAt: at,
	}
}

func TestTranscriptHandler_HandleTranscribe(t *testing.T) {
	t.Run("valid upload", func(t *testing.T) {
		svc := &MockTranscriptService{ReturnT: sampleTranscript()}
		body, ct := multipartBody(t, "file", "memo.webm", []byte("RIFF-audio"))
		req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		newTranscriptRouter(svc).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, int64(5), svc.UserID)
		assert.Equal(t, "memo.webm", svc.Filename)
		assert.Equal(t, "RIFF-audio", string(svc.Upload))
		assert.JSONEq(t, `{
			"id": 11,
			"text": "Buy milk.",
			"words": [{"word":" Buy","start":0.1,"end":0.3},{"word":" milk.","start":0.4,"end":0.8}],
			"audio": "0123456789abcdef0123456789abcdef.webm"
		}`, rr.Body.String())
	})

	t.Run("missing file field", func(t *testing.T) {
		svc := &MockTranscriptService{}
		body, ct := multipartBody(t, "audio", "memo.webm", []byte("x"))
		req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()

		newTranscriptRouter(svc).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "file is required")
	})

	t.Run("not multipart", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/transcribe", strings.NewReader(`{"file":"x"}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		newTranscriptRouter(&MockTranscriptService{}).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("too large", func(t *testing.T) {
		body, ct := multipartBody(t, "file", "memo.webm", bytes.Repeat([]byte("a"), 4096))
		req := httptest.NewRequest(http.MethodPost, "/transcribe", body)
		req.Header.Set("Content-Type", ct)
		rr := httptest.NewRecorder()
		req.Body = http.MaxBytesReader(rr, req.Body, 1024)

		newTranscriptRouter(&MockTranscriptService{}).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "file too large")
	})
}

func TestTranscriptHandler_HandleList(t *testing.T) {
	audio := "a.webm"
	svc := &MockTranscriptService{ReturnSum: []model.TranscriptSummary{
		{ID: 2, Preview: "second", AudioPath: &audio, CreatedAt: time.Date(2024, 5, 2, 0, 0, 0, 0, time.UTC)},
		{ID: 1, Preview: "first", CreatedAt: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)},
	}}
	rr := httptest.NewRecorder()

	newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/transcripts", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[
		{"id":2,"preview":"second","audio":"a.webm","created_at":"2024-05-02T00:00:00Z"},
		{"id":1,"preview":"first","audio":null,"created_at":"2024-05-01T00:00:00Z"}
	]`, rr.Body.String())

	// An empty list is [] not null.
	svc.ReturnSum = []model.TranscriptSummary{}
	rr = httptest.NewRecorder()
	newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/transcripts", nil))
	assert.JSONEq(t, `[]`, rr.Body.String())
}

func TestTranscriptHandler_HandleGet(t *testing.T) {
	svc := &MockTranscriptService{ReturnT: sampleTranscript()}
	rr := httptest.NewRecorder()

	newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/transcripts/11", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(11), svc.ID)
	got := decodeBody[map[string]any](t, rr)
	assert.Equal(t, "Buy milk.", got["text"])
	assert.Equal(t, "2024-05-01T12:00:00Z", got["updated_at"])
	assert.NotContains(t, got, "user_id")
}

func TestTranscriptHandler_InvalidIDIsNotFound(t *testing.T) {
	for _, id := range []string{"abc", "0", "-3", "1.5", "99999999999999999999"} {
		for _, method := range []string{http.MethodGet, http.MethodPut, http.MethodDelete} {
			svc := &MockTranscriptService{}
			rr := httptest.NewRecorder()

			newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(method, "/transcripts/"+id, strings.NewReader(`{}`)))

			assert.Equal(t, http.StatusNotFound, rr.Code, "%s %s", method, id)
			assert.Zero(t, svc.ID, "service must not be called for %s %s", method, id)
		}
	}
}

func TestTranscriptHandler_NotFoundFromService(t *testing.T) {
	svc := &MockTranscriptService{ReturnErr: apperror.NotFound("transcript", "11")}
	rr := httptest.NewRecorder()

	newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/transcripts/11", nil))

	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decodeBody[handler.ErrorResponse](t, rr).Error)
}

func TestTranscriptHandler_HandleUpdate(t *testing.T) {
	t.Run("with text", func(t *testing.T) {
		svc := &MockTranscriptService{ReturnT: sampleTranscript()}
		rr := httptest.NewRecorder()

		newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/transcripts/11", strings.NewReader(`{"text":"hello"}`)))

		assert.Equal(t, http.StatusOK, rr.Code)
		require.NotNil(t, svc.Update.Text)
		assert.Equal(t, "hello", *svc.Update.Text)
	})

	t.Run("without text", func(t *testing.T) {
		svc := &MockTranscriptService{ReturnT: sampleTranscript()}
		rr := httptest.NewRecorder()

		newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodPut, "/transcripts/11", strings.NewReader(`{}`)))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Nil(t, svc.Update.Text)
	})
}

func TestTranscriptHandler_HandleDelete(t *testing.T) {
	svc := &MockTranscriptService{}
	rr := httptest.NewRecorder()

	newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/transcripts/11", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, int64(11), svc.ID)
	assert.JSONEq(t, `{"ok":true}`, rr.Body.String())
}

func TestTranscriptHandler_HandleAudio(t *testing.T) {
	t.Run("local file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "clip.webm")
		require.NoError(t, os.WriteFile(path, []byte("0123456789"), 0o644))
		svc := &MockTranscriptService{ReturnLoc: &service.AudioLocation{Name: "clip.webm", Path: path, ContentType: "audio/webm"}}

		req := httptest.NewRequest(http.MethodGet, "/transcripts/11/audio", nil)
		req.Header.Set("Range", "bytes=2-4")
		rr := httptest.NewRecorder()

		newTranscriptRouter(svc).ServeHTTP(rr, req)

		assert.Equal(t, http.StatusPartialContent, rr.Code)
		assert.Equal(t, "audio/webm", rr.Header().Get("Content-Type"))
		assert.Equal(t, "234", rr.Body.String())
	})

	t.Run("archived", func(t *testing.T) {
		svc := &MockTranscriptService{ReturnLoc: &service.AudioLocation{Name: "clip.webm", URL: "https://bucket.example/clip.webm?sig=1"}}
		rr := httptest.NewRecorder()

		newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/transcripts/11/audio", nil))

		assert.Equal(t, http.StatusFound, rr.Code)
		assert.Equal(t, "https://bucket.example/clip.webm?sig=1", rr.Header().Get("Location"))
	})

	t.Run("file vanished", func(t *testing.T) {
		svc := &MockTranscriptService{ReturnLoc: &service.AudioLocation{Name: "gone.webm", Path: filepath.Join(t.TempDir(), "gone.webm")}}
		rr := httptest.NewRecorder()

		newTranscriptRouter(svc).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/transcripts/11/audio", nil))

		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
