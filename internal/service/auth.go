// Package service holds the business rules. Handlers parse HTTP and call
// in here; services call repositories and never see a request.
//
//	Handler (HTTP) → Service (rules, ownership) → Repository (SQL)
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/auth"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/repository"
)

// compile-time check: AuthService backs the RequireAuth middleware.
var _ auth.Authenticator = (*AuthService)(nil)

// SignupInput is the POST /auth/signup body.
type SignupInput struct {
	Username string `json:"username" validate:"required,min=3,max=50,username"`
	Email    string `json:"email" validate:"required,email,max=255"`
	Password string `json:"password" validate:"required,min=6,max=72"`
}

// LoginInput is the POST /auth/login body.
type LoginInput struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResult bundles the user and the token issued for them.
type LoginResult struct {
	User  *model.User
	Token string
}

// invalidCredentials is returned for an unknown username and for a wrong
// password alike.
const invalidCredentials = "incorrect username or password"

// AuthService handles signup, login and token resolution.
type AuthService struct {
	users     repository.UserRepository
	tokens    *auth.TokenService
	passwords *auth.PasswordService
	validate  *validator.Validate
	logger    *slog.Logger
}

func NewAuthService(
	users repository.UserRepository,
	tokens *auth.TokenService,
	passwords *auth.PasswordService,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		passwords: passwords,
		validate:  newValidator(),
		logger:    logger,
	}
}

// Signup creates an account. A taken username or email is an
// apperror.ErrDuplicate error; only the bcrypt hash is stored.
func (s *AuthService) Signup(ctx context.Context, in SignupInput) (*model.User, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)

	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}
	// max=72 counts characters; bcrypt's limit is bytes.
	if len(in.Password) > 72 {
		return nil, apperror.ValidationFailed("password", "password must be at most 72 bytes")
	}

	exists, err := s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	if err != nil {
		return nil, fmt.Errorf("service/auth: checking existing user: %w", err)
	}
	if exists {
		return nil, apperror.Duplicate("username or email already exists")
	}

	hash, err := s.passwords.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("service/auth: %w", err)
	}

	user := &model.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: hash,
	}
	// The store enforces uniqueness again for concurrent signups.
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, apperror.ErrDuplicate) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: creating user %q: %w", in.Username, err)
	}

	s.logger.Info("user signed up",
		slog.Int64("userID", user.ID),
		slog.String("username", user.Username),
	)
	return user, nil
}

// Login checks the password and issues a bearer token.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*LoginResult, error) {
	if err := s.validate.Struct(in); err != nil {
		return nil, validationError(err)
	}

	user, err := s.users.GetByUsername(ctx, in.Username)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: looking up %q: %w", in.Username, err)
	}

	if err := s.passwords.Verify(user.PasswordHash, in.Password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			return nil, apperror.Unauthorized(invalidCredentials)
		}
		return nil, fmt.Errorf("service/auth: verifying password for user %d: %w", user.ID, err)
	}

	return s.issue(user, "password")
}

// LoginGitHub issues a token for the existing account whose email matches
// one of the GitHub user's verified emails. Accounts are only ever created
// by Signup.
func (s *AuthService) LoginGitHub(ctx context.Context, gh *auth.GitHubUser) (*LoginResult, error) {
	if gh == nil {
		return nil, fmt.Errorf("service/auth: GitHub user must not be nil")
	}

	for _, email := range gh.Emails {
		user, err := s.users.GetByEmail(ctx, email)
		if errors.Is(err, apperror.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("service/auth: looking up GitHub email: %w", err)
		}
		return s.issue(user, "github")
	}

	s.logger.Info("GitHub login without matching account", slog.String("login", gh.Login))
	return nil, apperror.Unauthorized("no account matches this GitHub user's verified emails")
}

// Authenticate resolves a bearer token to the live user it names. Tokens
// for users that no longer exist are rejected.
func (s *AuthService) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, apperror.Unauthorized("could not validate credentials")
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.Unauthorized("user no longer exists")
		}
		return nil, fmt.Errorf("service/auth: resolving token subject %d: %w", claims.UserID, err)
	}

	return user, nil
}

// GetUser returns the user with the given id.
func (s *AuthService) GetUser(ctx context.Context, id int64) (*model.User, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("service/auth: fetching user %d: %w", id, err)
	}
	return user, nil
}

func (s *AuthService) issue(user *model.User, method string) (*LoginResult, error) {
	token, err := s.tokens.Generate(user)
	if err != nil {
		return nil, fmt.Errorf("service/auth: generating token for user %d: %w", user.ID, err)
	}

	s.logger.Info("user logged in",
		slog.Int64("userID", user.ID),
		slog.String("method", method),
	)
	return &LoginResult{User: user, Token: token}, nil
}
