package nextcloud

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const detectTimeout = 10 * time.Second

// DetectServer queries status.php to confirm serverURL is a usable Nextcloud
func DetectServer(ctx context.Context, serverURL string) (*ServerStatus, error) {
	serverURL = strings.TrimRight(serverURL, "/")

	client := &http.Client{
		Timeout: detectTimeout,
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, serverURL+"/status.php", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var status ServerStatus
	if err := json.Unmarshal(body, &status); err != nil {
		return nil, fmt.Errorf("not a Nextcloud server: %w", err)
	}
	if status.Version == "" {
		return nil, fmt.Errorf("not a Nextcloud server")
	}
	if !status.Installed {
		return nil, fmt.Errorf("server is not installed")
	}
	if status.Maintenance {
		return nil, fmt.Errorf("server is in maintenance mode")
	}
	return &status, nil
}
