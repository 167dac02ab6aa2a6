package device

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// StreamAuthenticator performs the login call for a signaling session using
// the HTTP client that session owns, so the relay's tokens stay independent
// of the polling client's token.
type StreamAuthenticator struct{}

func NewStreamAuthenticator() *StreamAuthenticator {
	return &StreamAuthenticator{}
}

func (a *StreamAuthenticator) StreamToken(ctx context.Context, httpClient *http.Client, baseURL, username, password string) (string, error) {
	payload, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return "", fmt.Errorf("marshal login request: %w", err)
	}

	url := strings.TrimRight(baseURL, "/") + "/api/auth/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return "", fmt.Errorf("%w: login returned status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &HTTPError{Status: resp.StatusCode, Endpoint: "/api/auth/login"}
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return "", fmt.Errorf("decode login response: %w", err)
	}
	if env.Code != 0 {
		return "", &APIError{Code: env.Code, Msg: env.Msg, Endpoint: "/api/auth/login"}
	}

	var data struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return "", fmt.Errorf("decode login data: %w", err)
	}
	if data.Token == "" {
		return "", fmt.Errorf("%w: login response carried no token", ErrAuthFailed)
	}
	return data.Token, nil
}
