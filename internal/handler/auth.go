package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rs/xid"

	"github.com/sakif/voice-notes/internal/apperror"
	"github.com/sakif/voice-notes/internal/auth"
	"github.com/sakif/voice-notes/internal/model"
	"github.com/sakif/voice-notes/internal/service"
)

// AuthService is the part of service.AuthService the handlers need.
type AuthService interface {
	Signup(ctx context.Context, in service.SignupInput) (*model.User, error)
	Login(ctx context.Context, in service.LoginInput) (*service.LoginResult, error)
	LoginGitHub(ctx context.Context, gh *auth.GitHubUser) (*service.LoginResult, error)
}

// GitHubExchanger runs the GitHub side of the OAuth flow.
// auth.GitHubProvider implements it.
type GitHubExchanger interface {
	AuthURL(state string) string
	Exchange(ctx context.Context, code string) (*auth.GitHubUser, error)
}

const stateCookie = "oauth_state"

// AuthHandler serves account creation, login and the current user.
//
// HANDLER RESPONSIBILITIES:
//   - HandleSignup         → create an account
//   - HandleLogin          → trade username + password for a bearer token
//   - HandleMe             → the user behind the bearer token
//   - HandleGitHubLogin    → redirect the browser to GitHub
//   - HandleGitHubCallback → trade GitHub's code for a bearer token
type AuthHandler struct {
	auth   AuthService
	github GitHubExchanger // nil when GitHub login is not configured
	logger *slog.Logger
}

// NewAuthHandler creates an AuthHandler. github may be nil.
func NewAuthHandler(authSvc AuthService, github GitHubExchanger, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		auth:   authSvc,
		github: github,
		logger: logger,
	}
}

type signupResponse struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

func newTokenResponse(res *service.LoginResult) tokenResponse {
	return tokenResponse{AccessToken: res.Token, TokenType: "bearer"}
}

// HandleSignup creates an account.
//
// HTTP: POST /auth/signup
// REQUEST BODY: {"username": "alice", "email": "alice@example.com", "password": "secret123"}
// RESPONSE: 201 {"id": 1, "username": "alice", "email": "alice@example.com"}
func (h *AuthHandler) HandleSignup(w http.ResponseWriter, r *http.Request) {
	var in service.SignupInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	user, err := h.auth.Signup(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, signupResponse{
		ID:       user.ID,
		Username: user.Username,
		Email:    user.Email,
	})
}

// HandleLogin checks the password and returns a bearer token.
//
// HTTP: POST /auth/login
// REQUEST BODY: {"username": "alice", "password": "secret123"}
// RESPONSE: {"access_token": "<jwt>", "token_type": "bearer"}
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in service.LoginInput
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, h.logger, err)
		return
	}

	res, err := h.auth.Login(r.Context(), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newTokenResponse(res))
}

// HandleMe returns the authenticated user.
//
// HTTP: GET /auth/me
// Auth: Required (RequireAuth has already loaded the user)
func (h *AuthHandler) HandleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := auth.UserFromContext(r.Context())
	if !ok {
		writeError(w, h.logger, apperror.Unauthorized("not authenticated"))
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleGitHubLogin redirects the browser to GitHub's authorization page.
//
// HTTP: GET /auth/github/login
//
// CSRF PROTECTION VIA STATE:
// A random state goes into a short-lived HttpOnly cookie and into the
// authorization URL. The callback only proceeds when the two match.
func (h *AuthHandler) HandleGitHubLogin(w http.ResponseWriter, r *http.Request) {
	state := xid.New().String()

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/",
		MaxAge:   600, // 10 minutes
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, h.github.AuthURL(state), http.StatusTemporaryRedirect)
}

// HandleGitHubCallback completes the OAuth flow and returns a bearer token
// for the existing account that owns one of the GitHub user's verified
// emails.
//
// HTTP: GET /auth/github/callback?code=xxx&state=yyy
//
// FLOW:
//  1. Validate the state parameter (CSRF check)
//  2. Exchange the code for the GitHub user and their verified emails
//  3. Find the local account by email and issue a token
func (h *AuthHandler) HandleGitHubCallback(w http.ResponseWriter, r *http.Request) {
	// --- Step 1: Validate CSRF state ---
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || r.URL.Query().Get("state") != cookie.Value {
		h.logger.Warn("github callback: invalid state")
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "invalid OAuth state"})
		return
	}

	// Single use.
	http.SetCookie(w, &http.Cookie{
		Name:   stateCookie,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Info("github callback: authorization denied", slog.String("error", errParam))
		writeError(w, h.logger, apperror.Unauthorized("GitHub authorization was denied"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation_error", Message: "missing OAuth code"})
		return
	}

	// --- Step 2: Exchange code for the GitHub user ---
	ghUser, err := h.github.Exchange(r.Context(), code)
	if err != nil {
		h.logger.Error("github callback: exchange failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, ErrorResponse{Error: "upstream_error", Message: "GitHub authentication failed"})
		return
	}

	// --- Step 3: Issue a token for the matching account ---
	res, err := h.auth.LoginGitHub(r.Context(), ghUser)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, newTokenResponse(res))
}
