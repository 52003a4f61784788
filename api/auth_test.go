package api

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	last    time.Time
	records atomic.Int64
}

func (f *fakeRecorder) LastTokenRefresh(context.Context) (time.Time, error) {
	return f.last, nil
}

func (f *fakeRecorder) RecordTokenRefresh(_ context.Context, at time.Time) error {
	f.last = at
	f.records.Add(1)
	return nil
}

func tokenServer(t *testing.T, grants *atomic.Int64) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/access_token", func(w http.ResponseWriter, r *http.Request) {
		grants.Add(1)

		// reddit's script flow sends the credentials via basic auth.
		want := "Basic " + base64.StdEncoding.EncodeToString([]byte("id:secret"))
		if r.Header.Get("Authorization") != want {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"grant-%d","token_type":"bearer","expires_in":86400}`, grants.Load())
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestAuthenticator(t *testing.T, grants *atomic.Int64, recorder RefreshRecorder) (*Authenticator, string) {
	t.Helper()
	server := tokenServer(t, grants)
	dir := t.TempDir()
	a := NewAuthenticator("id", "secret", dir, recorder).
		WithTokenURL(server.URL + "/api/v1/access_token")
	return a, dir
}

func TestCurrentAccessTokenFirstRun(t *testing.T) {
	t.Parallel()
	var grants atomic.Int64
	recorder := &fakeRecorder{}
	a, dir := newTestAuthenticator(t, &grants, recorder)

	token, err := a.CurrentAccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "grant-1", token)
	assert.EqualValues(t, 1, grants.Load())
	assert.EqualValues(t, 1, recorder.records.Load())

	// The grant is cached as token.json next to the rest of the app data.
	b, err := os.ReadFile(filepath.Join(dir, "token.json"))
	require.NoError(t, err)
	var auth Auth
	require.NoError(t, json.Unmarshal(b, &auth))
	assert.Equal(t, "grant-1", auth.AccessToken)
	assert.Equal(t, "bearer", auth.TokenType)
	assert.InDelta(t, 86400, auth.ExpiresIn, 10)
}

func TestCurrentAccessTokenReusesFreshToken(t *testing.T) {
	t.Parallel()
	var grants atomic.Int64
	recorder := &fakeRecorder{}
	a, _ := newTestAuthenticator(t, &grants, recorder)
	ctx := context.Background()

	first, err := a.CurrentAccessToken(ctx)
	require.NoError(t, err)
	second, err := a.CurrentAccessToken(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, grants.Load(), "a fresh token must not trigger a second grant")
}

func TestCurrentAccessTokenRefreshesNearExpiry(t *testing.T) {
	t.Parallel()
	var grants atomic.Int64
	recorder := &fakeRecorder{}
	a, _ := newTestAuthenticator(t, &grants, recorder)
	ctx := context.Background()

	_, err := a.CurrentAccessToken(ctx)
	require.NoError(t, err)

	// Age the token into the refresh buffer: 86400s lifetime minus 300s
	// buffer means anything older than 86100s is stale.
	recorder.last = time.Now().Add(-86200 * time.Second)

	token, err := a.CurrentAccessToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "grant-2", token)
	assert.EqualValues(t, 2, grants.Load())
}

func TestCurrentAccessTokenRefreshesWithoutRecorder(t *testing.T) {
	t.Parallel()
	var grants atomic.Int64
	a, _ := newTestAuthenticator(t, &grants, nil)
	ctx := context.Background()

	_, err := a.CurrentAccessToken(ctx)
	require.NoError(t, err)
	_, err = a.CurrentAccessToken(ctx)
	require.NoError(t, err)

	// Without a refresh recorder the token age is unknowable, so every
	// call refreshes.
	assert.EqualValues(t, 2, grants.Load())
}

func TestCurrentAccessTokenCorruptTokenFile(t *testing.T) {
	t.Parallel()
	var grants atomic.Int64
	recorder := &fakeRecorder{last: time.Now()}
	a, dir := newTestAuthenticator(t, &grants, recorder)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "token.json"), []byte("{broken"), 0o600))

	token, err := a.CurrentAccessToken(context.Background())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(token, "grant-"))
	assert.EqualValues(t, 1, grants.Load(), "an unreadable cache falls back to a fresh grant")
}

func TestCurrentAccessTokenGrantFailure(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	a := NewAuthenticator("id", "wrong", t.TempDir(), &fakeRecorder{}).
		WithTokenURL(server.URL)

	_, err := a.CurrentAccessToken(context.Background())
	assert.ErrorIs(t, err, ErrNoToken)
}
