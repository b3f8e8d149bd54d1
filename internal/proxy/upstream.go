package proxy

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/mmcdole/kinoview/internal/domain"
)

// upstream fetches byte ranges of remote items with the user's credentials
type upstream struct {
	client *http.Client
}

func (u *upstream) newRequest(ctx context.Context, method, remoteURL string, creds domain.Credentials) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, remoteURL, nil)
	if err != nil {
		return nil, err
	}
	if !creds.IsZero() {
		req.SetBasicAuth(creds.User, creds.Password)
	}
	if creds.UserAgent != "" {
		req.Header.Set("User-Agent", creds.UserAgent)
	}
	req.Header.Set("Accept-Encoding", "identity")
	return req, nil
}

func (u *upstream) do(req *http.Request) (*http.Response, error) {
	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrServerOffline, err)
	}
	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		return nil, domain.ErrAuthFailed
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, domain.ErrItemNotFound
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, fmt.Errorf("upstream status %d", resp.StatusCode)
	}
	return resp, nil
}

// stat learns the total size and content type of a remote item
func (u *upstream) stat(ctx context.Context, remoteURL string, creds domain.Credentials) (itemMeta, error) {
	req, err := u.newRequest(ctx, http.MethodGet, remoteURL, creds)
	if err != nil {
		return itemMeta{}, err
	}
	req.Header.Set("Range", "bytes=0-0")

	resp, err := u.do(req)
	if err != nil {
		return itemMeta{}, err
	}
	defer resp.Body.Close()

	meta := itemMeta{ContentType: resp.Header.Get("Content-Type"), Size: -1}
	if resp.StatusCode == http.StatusPartialContent {
		// Content-Range: bytes 0-0/12345
		cr := resp.Header.Get("Content-Range")
		if i := strings.LastIndex(cr, "/"); i >= 0 {
			if n, err := strconv.ParseInt(cr[i+1:], 10, 64); err == nil {
				meta.Size = n
			}
		}
	} else {
		meta.Size = resp.ContentLength
	}
	if meta.Size < 0 {
		return itemMeta{}, fmt.Errorf("upstream did not report a size")
	}
	return meta, nil
}

// fetch reads bytes [start, end] of the remote item
func (u *upstream) fetch(ctx context.Context, remoteURL string, creds domain.Credentials, start, end int64) ([]byte, error) {
	req, err := u.newRequest(ctx, http.MethodGet, remoteURL, creds)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	resp, err := u.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && start > 0 {
		// Server ignored the range, skip ahead
		if _, err := io.CopyN(io.Discard, resp.Body, start); err != nil {
			return nil, err
		}
	}

	want := end - start + 1
	data := make([]byte, want)
	if _, err := io.ReadFull(resp.Body, data); err != nil {
		return nil, fmt.Errorf("read range %d-%d: %w", start, end, err)
	}
	return data, nil
}
