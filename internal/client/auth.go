package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hostpanel/platform/instance-service/internal/models"
)

// AuthClient handles communication with the authentication service.
// Owner identity is already established by the JWT middleware; this
// client only fetches profile data for display and forwards logout.
type AuthClient struct {
	baseURL     string
	internalKey string
	httpClient  *http.Client
}

// NewAuthClient creates a new auth service client.
func NewAuthClient(baseURL, internalKey string) *AuthClient {
	return &AuthClient{
		baseURL:     baseURL,
		internalKey: internalKey,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// GetUser fetches the profile for a user id.
func (c *AuthClient) GetUser(ctx context.Context, userID string) (*models.User, error) {
	url := fmt.Sprintf("%s/api/internal/users/%s", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Internal-Secret", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, models.ErrNotFound
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("auth-service returned status %d", resp.StatusCode)
	}

	var user models.User
	if err := json.Unmarshal(respBody, &user); err != nil {
		return nil, fmt.Errorf("decode response: %w (body: %s)", err, string(respBody))
	}

	return &user, nil
}

// Logout invalidates the user's session in the auth service.
func (c *AuthClient) Logout(ctx context.Context, userID string) error {
	url := fmt.Sprintf("%s/api/internal/users/%s/logout", c.baseURL, userID)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("X-Internal-Secret", c.internalKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("auth-service returned status %d", resp.StatusCode)
	}

	return nil
}
