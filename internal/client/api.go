package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mossy-p/meeting-signaling/internal/models"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// apiURL turns a server address into the REST base URL.
func apiURL(server, path string) (string, error) {
	if !strings.Contains(server, "://") {
		server = "http://" + server
	}
	u, err := url.Parse(server)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	switch u.Scheme {
	case "ws", "http":
		u.Scheme = "http"
	case "wss", "https":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = path
	u.RawQuery = ""
	return u.String(), nil
}

// Login exchanges an identity for a signed token.
func Login(ctx context.Context, server string, req models.LoginRequest) (string, error) {
	target, err := apiURL(server, "/api/auth/login")
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var resp models.LoginResponse
	if err := doJSON(httpReq, &resp); err != nil {
		return "", fmt.Errorf("login: %w", err)
	}
	return resp.Token, nil
}

// ICEServers asks the relay which STUN servers both ends should use.
func ICEServers(ctx context.Context, server string) ([]string, error) {
	target, err := apiURL(server, "/api/ice-servers")
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}

	var resp models.ICEServersResponse
	if err := doJSON(httpReq, &resp); err != nil {
		return nil, fmt.Errorf("ice servers: %w", err)
	}
	return resp.URLs, nil
}

func doJSON(req *http.Request, v any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
		}
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
