package auth

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(baseURL string) *Client {
	return NewClient(baseURL, "test-agent", "1.0.13", "android",
		"Android 7.1.2; SM-G965N Build/N2G48H", "123456789012345", "111")
}

func TestSessionRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".session.json")

	s := &Session{
		Ton:       "tok123",
		UserID:    "user@example.com",
		Cookies:   map[string]string{"JSESSIONID": "abc"},
		AccountID: "987654",
	}
	require.NoError(t, SaveSession(path, s))

	loaded := LoadSession(path)
	require.NotNil(t, loaded)
	assert.Equal(t, s, loaded)
}

func TestLoadSessionMissingOrCorrupt(t *testing.T) {
	dir := t.TempDir()

	assert.Nil(t, LoadSession(filepath.Join(dir, "nope.json")))

	corrupt := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{"), 0o644))
	assert.Nil(t, LoadSession(corrupt))
}

func TestAuthenticateWithAutomaticToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bk_setClient":
			assert.Equal(t, "1.0.13", r.URL.Query().Get("version"))
			assert.Equal(t, "android", r.URL.Query().Get("type"))
			assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
			fmt.Fprint(w, `{"status":"ok","token":{"token":"auto-ton"}}`)
		case "/bk_login":
			assert.Equal(t, "auto-ton", r.URL.Query().Get("ton"))
			assert.Equal(t, "user@example.com", r.URL.Query().Get("userId"))
			assert.Equal(t, "secret", r.URL.Query().Get("password"))
			http.SetCookie(w, &http.Cookie{Name: "JSESSIONID", Value: "abc"})
			fmt.Fprint(w, `{"status":"ok","user":{"accountId":987654}}`)
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer srv.Close()

	cookies, accountID, ton, err := testClient(srv.URL).
		Authenticate("", "user@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, "auto-ton", ton)
	assert.Equal(t, "987654", accountID)
	assert.Equal(t, map[string]string{"JSESSIONID": "abc"}, cookies)
}

func TestAuthenticateRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"error","msg":"bad credentials"}`)
	}))
	defer srv.Close()

	_, _, _, err := testClient(srv.URL).Authenticate("ton", "user", "wrong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad credentials")
}

func TestGetUserInfoForwardsCookies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/bk_getUserInfo", r.URL.Path)
		assert.Equal(t, "tok123", r.URL.Query().Get("ton"))
		assert.Equal(t, "987654", r.URL.Query().Get("friendId"))
		cookie, err := r.Cookie("JSESSIONID")
		require.NoError(t, err)
		assert.Equal(t, "abc", cookie.Value)
		fmt.Fprint(w, `{"status":"ok","user":{"nickname":"rider"}}`)
	}))
	defer srv.Close()

	info, err := testClient(srv.URL).
		GetUserInfo("tok123", "987654", map[string]string{"JSESSIONID": "abc"})
	require.NoError(t, err)
	assert.Equal(t, "ok", info["status"])
}
