package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/hostpanel/platform/instance-service/internal/models"
)

// Runtime status values as reported by the process runtime. A runtime
// that cannot be reached reports StatusUnknown, never a failure: the
// synchronizer treats unknown as "no information" and retries later.
const (
	StatusAbsent  = "absent"
	StatusBooting = "booting"
	StatusUp      = "up"
	StatusDown    = "down"
	StatusError   = "error"
	StatusUnknown = "unknown"
)

// RuntimeClient calls the process runtime that boots, halts and tears
// down instance workloads.
type RuntimeClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewRuntimeClient creates a new runtime client.
func NewRuntimeClient(baseURL, apiKey string) *RuntimeClient {
	return &RuntimeClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type runtimeCommandResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	Message    string `json:"message"`
	Error      string `json:"error,omitempty"`
}

type runtimeStatusResponse struct {
	InstanceID string `json:"instance_id"`
	Status     string `json:"status"`
	Message    string `json:"message,omitempty"`
}

// RequestStart asks the runtime to boot the instance workload. The
// boot itself is asynchronous; confirmation arrives via QueryStatus or
// a runtime callback.
func (c *RuntimeClient) RequestStart(ctx context.Context, instanceID string) error {
	log.Printf("[RuntimeClient] Requesting start: %s", instanceID)
	return c.postCommand(ctx, instanceID, "start")
}

// RequestStop asks the runtime to halt the instance workload.
func (c *RuntimeClient) RequestStop(ctx context.Context, instanceID string) error {
	log.Printf("[RuntimeClient] Requesting stop: %s", instanceID)
	return c.postCommand(ctx, instanceID, "stop")
}

// Release asks the runtime to tear down and free all resources held
// for the instance. Called on delete.
func (c *RuntimeClient) Release(ctx context.Context, instanceID string) error {
	log.Printf("[RuntimeClient] Releasing: %s", instanceID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/api/runtime/instances/"+instanceID, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("X-Runtime-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &models.RuntimeUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	// An instance the runtime no longer knows is already released.
	if resp.StatusCode == http.StatusNotFound {
		return nil
	}

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// QueryStatus asks the runtime for the real status of an instance
// workload. Transport failures and malformed replies return
// StatusUnknown together with a RuntimeUnavailableError so callers can
// distinguish "no information" from "workload is gone".
func (c *RuntimeClient) QueryStatus(ctx context.Context, instanceID string) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/runtime/instances/"+instanceID+"/status", nil)
	if err != nil {
		return StatusUnknown, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("X-Runtime-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return StatusUnknown, &models.RuntimeUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return StatusAbsent, nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return StatusUnknown, &models.RuntimeUnavailableError{Cause: err}
	}

	if resp.StatusCode != http.StatusOK {
		return StatusUnknown, &models.RuntimeUnavailableError{
			Cause: fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var result runtimeStatusResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return StatusUnknown, &models.RuntimeUnavailableError{
			Cause: fmt.Errorf("decode response: %w (body: %s)", err, string(respBody)),
		}
	}

	switch result.Status {
	case StatusAbsent, StatusBooting, StatusUp, StatusDown, StatusError:
		return result.Status, nil
	default:
		return StatusUnknown, nil
	}
}

func (c *RuntimeClient) postCommand(ctx context.Context, instanceID, command string) error {
	body, err := json.Marshal(map[string]string{"instance_id": instanceID})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/api/runtime/instances/%s/%s", c.baseURL, instanceID, command)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-Runtime-Key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return &models.RuntimeUnavailableError{Cause: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		var result runtimeCommandResponse
		if json.Unmarshal(respBody, &result) == nil && result.Error != "" {
			return fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, result.Error)
		}
		return fmt.Errorf("runtime returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
