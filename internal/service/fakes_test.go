package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/transcribe"
)

// =========================================================================
// FAKES
// =========================================================================
//
// In-memory stand-ins for the repositories and the engine. They store and
// return copies so tests cannot reach into each other's state.

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeUserRepo struct {
	mu     sync.Mutex
	users  map[int64]*model.User
	nextID int64
	err    error
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[int64]*model.User)}
}

func (f *fakeUserRepo) Create(_ context.Context, user *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	for _, u := range f.users {
		if u.Username == user.Username || u.Email == user.Email {
			return apperror.Duplicate("username or email already exists")
		}
	}
	f.nextID++
	user.ID = f.nextID
	user.CreatedAt = time.Now().UTC()
	stored := *user
	f.users[user.ID] = &stored
	return nil
}

func (f *fakeUserRepo) find(match func(*model.User) bool, label string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	for _, u := range f.users {
		if match(u) {
			copied := *u
			return &copied, nil
		}
	}
	return nil, apperror.NotFound("user", label)
}

func (f *fakeUserRepo) GetByID(_ context.Context, id int64) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.ID == id }, strconv.FormatInt(id, 10))
}

func (f *fakeUserRepo) GetByUsername(_ context.Context, username string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Username == username }, username)
}

func (f *fakeUserRepo) GetByEmail(_ context.Context, email string) (*model.User, error) {
	return f.find(func(u *model.User) bool { return u.Email == email }, email)
}

func (f *fakeUserRepo) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	_, err := f.find(func(u *model.User) bool { return u.Username == username || u.Email == email }, username)
	if errors.Is(err, apperror.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (f *fakeUserRepo) delete(id int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.users, id)
}

type fakeTranscriptRepo struct {
	mu          sync.Mutex
	transcripts map[int64]*model.Transcript
	nextID      int64
	createErr   error
	clock       time.Time
}

func newFakeTranscriptRepo() *fakeTranscriptRepo {
	return &fakeTranscriptRepo{
		transcripts: make(map[int64]*model.Transcript),
		clock:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func (f *fakeTranscriptRepo) Create(_ context.Context, t *model.Transcript) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.nextID++
	f.clock = f.clock.Add(time.Second)
	t.ID = f.nextID
	t.CreatedAt = f.clock
	t.UpdatedAt = f.clock
	stored := *t
	f.transcripts[t.ID] = &stored
	return nil
}

func (f *fakeTranscriptRepo) GetByID(_ context.Context, id int64) (*model.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transcripts[id]
	if !ok {
		return nil, apperror.NotFound("transcript", strconv.FormatInt(id, 10))
	}
	copied := *t
	return &copied, nil
}

func (f *fakeTranscriptRepo) ListByOwner(_ context.Context, userID int64) ([]model.Transcript, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]model.Transcript, 0)
	// ids grow with created_at, so walking ids downwards is newest first
	for id := f.nextID; id > 0; id-- {
		if t, ok := f.transcripts[id]; ok && t.UserID == userID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (f *fakeTranscriptRepo) UpdateText(_ context.Context, id int64, text string, updatedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.transcripts[id]
	if !ok {
		return apperror.NotFound("transcript", strconv.FormatInt(id, 10))
	}
	t.Text = text
	t.UpdatedAt = updatedAt
	return nil
}

func (f *fakeTranscriptRepo) Delete(_ context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.transcripts[id]; !ok {
		return apperror.NotFound("transcript", strconv.FormatInt(id, 10))
	}
	delete(f.transcripts, id)
	return nil
}

// fakeEngine returns result (or err) and records the paths it was given.
type fakeEngine struct {
	mu     sync.Mutex
	result *transcribe.Result
	err    error
	paths  []string
}

func (f *fakeEngine) Transcribe(_ context.Context, audioPath string) (*transcribe.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, audioPath)
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

func (f *fakeEngine) Close() error { return nil }

func sampleResult() *transcribe.Result {
	return &transcribe.Result{
		Language: "en",
		Duration: 2.0,
		Segments: []transcribe.Segment{
			{Text: " Buy milk.", Words: []transcribe.Word{{Word: " Buy", Start: 0.1, End: 0.3}, {Word: " milk.", Start: 0.4, End: 0.8}}},
			{Text: " Call mom.", Words: []transcribe.Word{{Word: " Call", Start: 1.0, End: 1.2}, {Word: " mom.", Start: 1.3, End: 1.7}}},
		},
	}
}

// fakeArchive records calls and can be told to fail.
type fakeArchive struct {
	mu      sync.Mutex
	put     []string
	deleted []string
	url     string
	err     error
}

func (f *fakeArchive) Put(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.put = append(f.put, key)
	return f.err
}

func (f *fakeArchive) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return f.err
}

func (f *fakeArchive) URL(_ context.Context, key string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.url + key, nil
}
