// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user id resolution and live stream queries, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// ErrUserNotFound is returned when a login resolves to no Twitch user.
var ErrUserNotFound = errors.New("user not found")

// APIError reports a non-2xx response from the Helix API.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix request failed: status %d: %s", e.Status, e.Body)
}

// Stream describes one currently-live stream as reported by /helix/streams.
type Stream struct {
	UserID    string    `json:"user_id"`
	UserLogin string    `json:"user_login"`
	Title     string    `json:"title"`
	StartedAt time.Time `json:"started_at"`
}

// HelixClient provides the minimal methods needed for live-status tracking.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

func (hc *HelixClient) do(ctx context.Context, url string, query map[string][]string) (*http.Response, error) {
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return nil, err
	}
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	q := req.URL.Query()
	for k, vs := range query {
		for _, v := range vs {
			q.Add(k, v)
		}
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		closeBody(resp)
		return nil, &APIError{Status: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}

// GetUserID resolves a login name to its user ID. A login unknown to Twitch
// yields ErrUserNotFound. Twitch guarantees unique logins, so the first (and
// only) match is authoritative.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	resp, err := hc.do(ctx, "https://api.twitch.tv/helix/users", map[string][]string{"login": {login}})
	if err != nil {
		return "", err
	}
	defer closeBody(resp)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("login %q: %w", login, ErrUserNotFound)
	}
	return body.Data[0].ID, nil
}

// GetStreams returns the currently-live streams among the given user IDs.
// Users absent from the result are offline. Helix accepts up to 100 user_id
// params per request; callers batching more must chunk.
func (hc *HelixClient) GetStreams(ctx context.Context, userIDs ...string) ([]Stream, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	if len(userIDs) > 100 {
		return nil, fmt.Errorf("too many user ids: %d > 100", len(userIDs))
	}
	resp, err := hc.do(ctx, "https://api.twitch.tv/helix/streams", map[string][]string{
		"user_id": userIDs,
		"first":   {fmt.Sprintf("%d", len(userIDs))},
	})
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, err
	}
	return body.Data, nil
}
