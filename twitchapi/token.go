package twitchapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

const defaultTokenURL = "https://id.twitch.tv/oauth2/token"

// TokenSource fetches and caches a Twitch app access (client credentials) token.
// The underlying oauth2 source caches the token and refreshes it transparently
// before expiry, so callers just Get on every request.
// NOTE: an app token cannot be used for IRC chat or user-scoped endpoints.
type TokenSource struct {
	ClientID     string
	ClientSecret string
	TokenURL     string       // defaults to the Twitch id service token endpoint
	HTTPClient   *http.Client // optional override, used in tests

	once sync.Once
	src  oauth2.TokenSource
}

// Get returns a valid (fresh or cached) app access token.
func (ts *TokenSource) Get(ctx context.Context) (string, error) {
	if ts.ClientID == "" || ts.ClientSecret == "" {
		return "", errors.New("missing client id/secret for twitch app token")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	ts.once.Do(func() {
		cfg := &clientcredentials.Config{
			ClientID:     ts.ClientID,
			ClientSecret: ts.ClientSecret,
			TokenURL:     ts.TokenURL,
			// Twitch wants the credentials in the POST body, not basic auth.
			AuthStyle: oauth2.AuthStyleInParams,
		}
		if cfg.TokenURL == "" {
			cfg.TokenURL = defaultTokenURL
		}
		// The oauth2 source outlives any single caller, so it is bound to a
		// background context rather than the first caller's ctx.
		cctx := context.Background()
		if ts.HTTPClient != nil {
			cctx = context.WithValue(cctx, oauth2.HTTPClient, ts.HTTPClient)
		}
		ts.src = cfg.TokenSource(cctx)
	})
	tok, err := ts.src.Token()
	if err != nil {
		return "", fmt.Errorf("twitch token request failed: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("empty access_token in twitch response")
	}
	return tok.AccessToken, nil
}
