// Package twitchapi contains minimal helpers to interact with Twitch Helix
// APIs: user id resolution (app token) and the membership/presence endpoints
// the roster and poll passes depend on (bot user token).
package twitchapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const helixBase = "https://api.twitch.tv/helix"

// helixMaxRetries bounds attempts against 5xx responses per call.
const helixMaxRetries = 3

// HelixClient provides the minimal Helix surface shiftwatch needs.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	// UserToken is the bot's user OAuth token (bare, no oauth: prefix),
	// required by the moderator/VIP/chatters endpoints.
	UserToken  string
	HTTPClient *http.Client
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// Entry is one user row as returned by the membership/presence endpoints.
type Entry struct {
	ID          string `json:"user_id"`
	Login       string `json:"user_login"`
	DisplayName string `json:"user_name"`
}

// GetUserID resolves a login name to its user ID using an app access token.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("login", login)
	var body struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := hc.getJSON(ctx, "/users", q, tok, &body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", fmt.Errorf("user not found")
	}
	return body.Data[0].ID, nil
}

// GetModerators lists the channel's moderators (bot user token, paginated).
func (hc *HelixClient) GetModerators(ctx context.Context, broadcasterID string) ([]Entry, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	return hc.listUsers(ctx, "/moderation/moderators", q)
}

// GetVIPs lists the channel's VIPs (bot user token, paginated).
func (hc *HelixClient) GetVIPs(ctx context.Context, broadcasterID string) ([]Entry, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	return hc.listUsers(ctx, "/channels/vips", q)
}

// GetChatters lists users currently connected to the channel's chat
// (bot user token with moderator:read:chatters, paginated).
func (hc *HelixClient) GetChatters(ctx context.Context, broadcasterID, moderatorID string) ([]Entry, error) {
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	q.Set("moderator_id", moderatorID)
	return hc.listUsers(ctx, "/chat/chatters", q)
}

// listUsers walks a paginated user-list endpoint with the bot user token.
func (hc *HelixClient) listUsers(ctx context.Context, path string, params url.Values) ([]Entry, error) {
	if hc.UserToken == "" {
		return nil, fmt.Errorf("missing user token for %s", path)
	}
	var out []Entry
	cursor := ""
	for {
		q := url.Values{}
		for k, vs := range params {
			q[k] = vs
		}
		q.Set("first", "100")
		if cursor != "" {
			q.Set("after", cursor)
		}
		var body struct {
			Data       []Entry `json:"data"`
			Pagination struct {
				Cursor string `json:"cursor"`
			} `json:"pagination"`
		}
		if err := hc.getJSON(ctx, path, q, hc.UserToken, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
		cursor = body.Pagination.Cursor
		if cursor == "" {
			return out, nil
		}
	}
}

// getJSON performs a GET with bounded retries on 5xx responses.
func (hc *HelixClient) getJSON(ctx context.Context, path string, q url.Values, token string, into any) error {
	var lastErr error
	for attempt := 1; attempt <= helixMaxRetries; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBase+path, nil)
		if err != nil {
			return err
		}
		req.URL.RawQuery = q.Encode()
		req.Header.Set("Client-Id", hc.ClientID)
		req.Header.Set("Authorization", "Bearer "+token)

		resp, err := hc.http().Do(req)
		if err != nil {
			lastErr = err
		} else {
			done, err := decodeHelix(resp, into)
			if done {
				return err
			}
			lastErr = err
		}
		if attempt == helixMaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return fmt.Errorf("helix %s failed after %d attempts: %w", path, helixMaxRetries, lastErr)
}

// decodeHelix reads one response. done=false means the caller may retry (5xx).
func decodeHelix(resp *http.Response, into any) (done bool, err error) {
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			slog.Warn("failed to close response body", slog.Any("err", cerr))
		}
	}()
	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return false, fmt.Errorf("helix returned %s: %s", resp.Status, string(b))
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return true, fmt.Errorf("helix returned %s: %s", resp.Status, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		return true, err
	}
	return true, nil
}
