package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

// fakeGitHub serves the token endpoint and the two API calls Exchange makes.
func fakeGitHub(t *testing.T, emailsJSON string) *GitHubProvider {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /login/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			http.Error(w, `{"error":"bad_verification_code"}`, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"gho_test","token_type":"bearer"}`))
	})
	mux.HandleFunc("GET /user", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer gho_test", r.Header.Get("Authorization"))
		w.Write([]byte(`{"id":7,"login":"octocat"}`))
	})
	mux.HandleFunc("GET /user/emails", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(emailsJSON))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	p := NewGitHubProvider("client-id", "client-secret", "http://localhost/callback")
	p.config.Endpoint = oauth2.Endpoint{
		AuthURL:   srv.URL + "/login/oauth/authorize",
		TokenURL:  srv.URL + "/login/oauth/access_token",
		AuthStyle: oauth2.AuthStyleInParams,
	}
	p.apiBase = srv.URL
	return p
}

func TestGitHubProvider_AuthURL(t *testing.T) {
	p := NewGitHubProvider("client-id", "secret", "http://localhost:8000/auth/github/callback")

	raw := p.AuthURL("state-123")
	u, err := url.Parse(raw)
	require.NoError(t, err)

	q := u.Query()
	assert.Equal(t, "github.com", u.Host)
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "state-123", q.Get("state"))
	assert.Equal(t, "http://localhost:8000/auth/github/callback", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "user:email")
}

func TestGitHubProvider_Exchange_VerifiedEmailsPrimaryFirst(t *testing.T) {
	p := fakeGitHub(t, `[
		{"email":"other@example.com","primary":false,"verified":true},
		{"email":"unverified@example.com","primary":false,"verified":false},
		{"email":"main@example.com","primary":true,"verified":true}
	]`)

	user, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)

	assert.Equal(t, int64(7), user.ID)
	assert.Equal(t, "octocat", user.Login)
	assert.Equal(t, []string{"main@example.com", "other@example.com"}, user.Emails)
}

func TestGitHubProvider_Exchange_BadCode(t *testing.T) {
	p := fakeGitHub(t, `[]`)

	_, err := p.Exchange(context.Background(), "bad-code")
	assert.Error(t, err)
}
