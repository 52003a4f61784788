package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const (
	defaultTokenURL = "https://www.reddit.com/api/v1/access_token"
	tokenFileName   = "token.json"

	// refreshBuffer is subtracted from the token lifetime so a token is
	// never handed out moments before it expires.
	refreshBuffer = 300 * time.Second
)

var ErrNoToken = errors.New("no valid access token available")

// Auth is the persisted shape of one token grant.
type Auth struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Scope       string `json:"scope"`
}

// RefreshRecorder remembers when the token was last refreshed.
// Implemented by the settings store.
type RefreshRecorder interface {
	LastTokenRefresh(ctx context.Context) (time.Time, error)
	RecordTokenRefresh(ctx context.Context, at time.Time) error
}

// Authenticator acquires application-only tokens through the
// client-credentials flow and caches them in <dir>/token.json.
type Authenticator struct {
	cfg      *clientcredentials.Config
	recorder RefreshRecorder
	dir      string
	client   *http.Client
}

func NewAuthenticator(clientID, clientSecret, dir string, recorder RefreshRecorder) *Authenticator {
	return &Authenticator{
		cfg: &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			TokenURL:     defaultTokenURL,
			AuthStyle:    oauth2.AuthStyleInHeader,
		},
		recorder: recorder,
		dir:      dir,
		client:   &http.Client{Timeout: clientTimeout},
	}
}

func (a *Authenticator) WithTokenURL(u string) *Authenticator {
	a.cfg.TokenURL = u
	return a
}

// CurrentAccessToken returns a token valid for the duration of an upcoming
// request, refreshing it first when it is stale or missing.
func (a *Authenticator) CurrentAccessToken(ctx context.Context) (string, error) {
	if !a.needsRefresh(ctx) {
		auth, err := a.readTokenFile()
		if err == nil && auth.AccessToken != "" {
			return auth.AccessToken, nil
		}
		log.Err(err).Msg("token file unreadable, refreshing")
	}
	return a.refresh(ctx)
}

func (a *Authenticator) refresh(ctx context.Context) (string, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, a.client)

	tok, err := a.cfg.Token(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNoToken, err)
	}

	auth := Auth{
		AccessToken: tok.AccessToken,
		TokenType:   tok.TokenType,
		Scope:       "*",
	}
	if !tok.Expiry.IsZero() {
		auth.ExpiresIn = int(time.Until(tok.Expiry).Seconds())
	}

	if err := a.writeTokenFile(&auth); err != nil {
		log.Err(err).Msg("couldn't persist access token")
	}
	if a.recorder != nil {
		if err := a.recorder.RecordTokenRefresh(ctx, time.Now()); err != nil {
			log.Err(err).Msg("couldn't record token refresh time")
		}
	}

	log.Debug().Msg("access token refreshed")

	return tok.AccessToken, nil
}

// needsRefresh reports whether the cached token is missing, unreadable or
// within the refresh buffer of its expiry. Any doubt means refresh.
func (a *Authenticator) needsRefresh(ctx context.Context) bool {
	auth, err := a.readTokenFile()
	if err != nil || auth.AccessToken == "" {
		return true
	}
	if a.recorder == nil {
		return true
	}

	lastRefresh, err := a.recorder.LastTokenRefresh(ctx)
	if err != nil || lastRefresh.IsZero() {
		return true
	}

	age := time.Since(lastRefresh)
	lifetime := time.Duration(auth.ExpiresIn) * time.Second

	return age >= lifetime-refreshBuffer
}

func (a *Authenticator) tokenPath() string {
	return filepath.Join(a.dir, tokenFileName)
}

func (a *Authenticator) readTokenFile() (*Auth, error) {
	b, err := os.ReadFile(a.tokenPath())
	if err != nil {
		return nil, err
	}
	if len(b) == 0 {
		return nil, fmt.Errorf("%w: empty token file", ErrNoToken)
	}
	auth := &Auth{}
	if err := json.Unmarshal(b, auth); err != nil {
		return nil, fmt.Errorf("%w: couldn't decode token file", err)
	}
	return auth, nil
}

func (a *Authenticator) writeTokenFile(auth *Auth) error {
	b, err := json.MarshalIndent(auth, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: couldn't encode token", err)
	}
	if err := os.WriteFile(a.tokenPath(), b, 0o600); err != nil {
		return fmt.Errorf("%w: couldn't write token file(path=%s)", err, a.tokenPath())
	}
	return nil
}
