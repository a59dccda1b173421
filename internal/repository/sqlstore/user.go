package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/repository"
)

// compile-time check that *UserDB implements repository.UserRepository
var _ repository.UserRepository = (*UserDB)(nil)

// UserDB is the credential store.
type UserDB struct {
	db *DB
}

const userColumns = `id, username, email, password_hash, created_at`

// Create inserts a new user. The UNIQUE constraints on username and email
// are the final arbiter: a collision that slips past the service's pre-check
// (two concurrent signups) still comes back as apperror.ErrDuplicate.
func (u *UserDB) Create(ctx context.Context, user *model.User) error {
	user.CreatedAt = now()

	err := u.db.conn.QueryRowContext(ctx, u.db.rebind(
		`INSERT INTO users (username, email, password_hash, created_at)
		 VALUES (?, ?, ?, ?)
		 RETURNING id`),
		user.Username,
		user.Email,
		user.PasswordHash,
		user.CreatedAt,
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Duplicate("username or email already exists")
		}
		return fmt.Errorf("sqlstore: inserting user %q: %w", user.Username, err)
	}

	return nil
}

// GetByID returns apperror.ErrNotFound if no user has the given id.
func (u *UserDB) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return u.getOne(ctx, `WHERE id = ?`, id, strconv.FormatInt(id, 10))
}

func (u *UserDB) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return u.getOne(ctx, `WHERE username = ?`, username, username)
}

func (u *UserDB) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return u.getOne(ctx, `WHERE email = ?`, email, email)
}

func (u *UserDB) ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error) {
	var count int
	err := u.db.conn.QueryRowContext(ctx, u.db.rebind(
		`SELECT COUNT(*) FROM users WHERE username = ? OR email = ?`),
		username, email,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("sqlstore: checking user existence: %w", err)
	}
	return count > 0, nil
}

func (u *UserDB) getOne(ctx context.Context, where string, arg any, label string) (*model.User, error) {
	var user model.User

	err := u.db.conn.QueryRowContext(ctx, u.db.rebind(
		`SELECT `+userColumns+` FROM users `+where),
		arg,
	).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.PasswordHash,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", label)
		}
		return nil, fmt.Errorf("sqlstore: getting user %s: %w", label, err)
	}

	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

// now is the timestamp written by every insert and update. Postgres keeps
// microseconds, so values are truncated to that to survive a round trip on
// either driver.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
