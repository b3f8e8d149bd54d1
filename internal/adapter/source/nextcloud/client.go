package nextcloud

import (
	"bytes"
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/kinoview/internal/domain"
)

const (
	defaultTimeout = 60 * time.Second
	maxRetries     = 3
	baseRetryDelay = 500 * time.Millisecond
	userAgent      = "kinoview/1.0"
)

// Client implements domain.LibraryRepository against a Nextcloud server
type Client struct {
	baseURL    string
	user       string
	password   string
	userID     string
	httpClient *http.Client
	logger     *slog.Logger

	retryDelay time.Duration
}

// NewClient creates a new Nextcloud client authenticating with an app password.
// userID defaults to user when empty.
func NewClient(baseURL, user, password, userID string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if userID == "" {
		userID = user
	}
	return &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		user:     user,
		password: password,
		userID:   userID,
		httpClient: &http.Client{
			Timeout: defaultTimeout,
		},
		logger:     logger,
		retryDelay: baseRetryDelay,
	}
}

// Account returns the identifier every item of this client is tagged with
func (c *Client) Account() string {
	return c.user + " " + c.baseURL
}

// HomeServerURL returns the WebDAV root of the user's files
func (c *Client) HomeServerURL() string {
	return c.baseURL + "/remote.php/dav/files/" + c.userID
}

// Credentials returns the credentials used for upstream requests
func (c *Client) Credentials() domain.Credentials {
	return domain.Credentials{User: c.user, Password: c.password, UserAgent: userAgent}
}

// doRequest performs an authenticated request against the server.
// 5xx responses are retried with exponential backoff.
func (c *Client) doRequest(ctx context.Context, method, reqURL string, body []byte, header http.Header) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if attempt > 0 {
			delay := c.retryDelay * time.Duration(1<<(attempt-1))
			c.logger.Debug("retrying request", "attempt", attempt, "delay", delay, "url", reqURL)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.SetBasicAuth(c.user, c.password)
		req.Header.Set("User-Agent", userAgent)
		for k, v := range header {
			req.Header[k] = v
		}

		c.logger.Debug("nextcloud request", "method", method, "url", reqURL, "attempt", attempt)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.logger.Error("nextcloud request failed", "error", err)
			return nil, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusUnauthorized:
			return nil, domain.ErrAuthFailed
		case resp.StatusCode == http.StatusNotFound:
			return nil, domain.ErrItemNotFound
		case resp.StatusCode >= 500:
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
			c.logger.Warn("nextcloud server error, will retry",
				"status", resp.StatusCode,
				"attempt", attempt,
				"maxRetries", maxRetries,
				"url", reqURL,
			)
			continue
		case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusMultiStatus:
			c.logger.Error("nextcloud request error", "status", resp.StatusCode, "body", string(respBody))
			return nil, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
		}

		return respBody, nil
	}

	c.logger.Error("nextcloud request failed after retries", "error", lastErr, "url", reqURL)
	return nil, lastErr
}

// ocs performs an OCS API GET and returns the data block
func (c *Client) ocs(ctx context.Context, path string) (json.RawMessage, error) {
	header := http.Header{}
	header.Set("OCS-APIRequest", "true")
	header.Set("Accept", "application/json")

	body, err := c.doRequest(ctx, http.MethodGet, c.baseURL+path, nil, header)
	if err != nil {
		return nil, err
	}

	var resp ocsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if code := resp.OCS.Meta.StatusCode; code != 0 && code != 100 && code != 200 {
		return nil, fmt.Errorf("ocs error %d: %s", code, resp.OCS.Meta.Message)
	}
	return resp.OCS.Data, nil
}

// CurrentUser returns the authenticated user
func (c *Client) CurrentUser(ctx context.Context) (*UserInfo, error) {
	data, err := c.ocs(ctx, "/ocs/v2.php/cloud/user?format=json")
	if err != nil {
		return nil, err
	}
	var user UserInfo
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user: %w", err)
	}
	return &user, nil
}

// GetGroupfolders lists the group folders the user can access
func (c *Client) GetGroupfolders(ctx context.Context) ([]domain.GroupFolder, error) {
	data, err := c.ocs(ctx, "/index.php/apps/groupfolders/folders?format=json&applicable=1")
	if err != nil {
		return nil, err
	}
	folders, err := MapGroupfolders(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse group folders: %w", err)
	}
	return folders, nil
}

// ReadFileOrFolder runs a PROPFIND on serverURLFileName (unescaped)
func (c *Client) ReadFileOrFolder(ctx context.Context, serverURLFileName, depth string) ([]domain.MediaItem, error) {
	header := http.Header{}
	header.Set("Depth", depth)
	header.Set("Content-Type", "application/xml; charset=utf-8")

	body, err := c.doRequest(ctx, "PROPFIND", domain.EscapeURLPath(serverURLFileName), []byte(propfindBody), header)
	if err != nil {
		return nil, err
	}

	var ms multistatus
	if err := xml.Unmarshal(body, &ms); err != nil {
		return nil, fmt.Errorf("failed to parse multistatus: %w", err)
	}

	items := MapMultistatus(ms, serverURLFileName, c.Account())
	if len(items) == 0 {
		return nil, domain.ErrItemNotFound
	}
	return items, nil
}
