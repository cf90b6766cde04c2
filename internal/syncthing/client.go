// Package syncthing is a minimal client for the file-sync daemon watching
// the pixel bridge. The pipeline only needs one endpoint (per-folder sync
// status) plus a completion detector that waits for the folder to settle.
package syncthing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrSyncTimeout means the watched folder did not reach in-sync within the
// configured budget. Files stay batched; the batch is marked failed.
var ErrSyncTimeout = errors.New("syncthing: folder did not reach in-sync before deadline")

// apiKeyHeader authenticates every request.
const apiKeyHeader = "X-API-Key"

// Transport retry policy. Transient REST failures are retried below the
// polling loop so one flaky poll does not consume sync budget.
const (
	retryMax     = 3
	retryWaitMin = 500 * time.Millisecond
	retryWaitMax = 5 * time.Second
)

// FolderStatus is the slice of GET /rest/db/status the completion detector
// consumes.
type FolderStatus struct {
	State     string `json:"state"`
	NeedFiles int64  `json:"needFiles"`
	NeedBytes int64  `json:"needBytes"`
}

// InSync reports whether the folder has nothing left to transfer.
func (fs *FolderStatus) InSync() bool {
	return fs.State == "idle" && fs.NeedFiles == 0 && fs.NeedBytes == 0
}

// Client talks to one syncthing daemon.
type Client struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewClient builds a Client for the daemon at baseURL (e.g.
// "http://127.0.0.1:8384") authenticated by apiKey.
func NewClient(baseURL, apiKey string, logger *slog.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.Logger = nil

	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    rc,
		logger:  logger,
	}
}

// FolderStatus fetches the current sync state of one folder.
func (c *Client) FolderStatus(ctx context.Context, folderID string) (*FolderStatus, error) {
	u := fmt.Sprintf("%s/rest/db/status?folder=%s", c.baseURL, url.QueryEscape(folderID))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("syncthing: building status request: %w", err)
	}

	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("syncthing: folder status for %s: %w", folderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("syncthing: folder status for %s: HTTP %d: %s",
			folderID, resp.StatusCode, body)
	}

	var status FolderStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("syncthing: decoding folder status: %w", err)
	}

	return &status, nil
}
