// Package repository declares the storage interfaces used by the service
// layer. Implementations live in sub-packages (see repository/sqlstore).
package repository

import (
	"context"
	"time"

	"github.com/sakif/voice-notes/internal/model"
)

// UserRepository is the credential store. Users are created at signup and
// never updated or deleted through it.
type UserRepository interface {
	// Create inserts the user and fills in ID and CreatedAt. A username or
	// email collision returns an apperror.ErrDuplicate error.
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
}

// TranscriptRepository is the transcript store. It does not check
// ownership; callers must do that before reading or mutating a row.
type TranscriptRepository interface {
	Create(ctx context.Context, t *model.Transcript) error
	GetByID(ctx context.Context, id int64) (*model.Transcript, error)
	// ListByOwner returns the owner's transcripts, newest first.
	ListByOwner(ctx context.Context, userID int64) ([]model.Transcript, error)
	UpdateText(ctx context.Context, id int64, text string, updatedAt time.Time) error
	Delete(ctx context.Context, id int64) error
}
