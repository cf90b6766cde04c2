package mirror

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ErrRemoteUnavailable means the hosted store could not be reached or
// refused the write. Never fatal: changes stay queued locally and the
// pipeline proceeds on the local store alone.
var ErrRemoteUnavailable = errors.New("mirror: remote store unavailable")

// Remote request policy.
const (
	retryMax     = 3
	retryWaitMin = 1 * time.Second
	retryWaitMax = 10 * time.Second
)

// remoteClient speaks the hosted service's PostgREST-style API: one
// endpoint per table, upserts via POST with merge-duplicates resolution.
type remoteClient struct {
	baseURL string
	apiKey  string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

func newRemoteClient(baseURL, apiKey string, logger *slog.Logger) *remoteClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = retryMax
	rc.RetryWaitMin = retryWaitMin
	rc.RetryWaitMax = retryWaitMax
	rc.Logger = nil

	return &remoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    rc,
		logger:  logger,
	}
}

// authorize stamps the service credentials onto a request.
func (rc *remoteClient) authorize(req *retryablehttp.Request) {
	req.Header.Set("apikey", rc.apiKey)
	req.Header.Set("Authorization", "Bearer "+rc.apiKey)
}

// upsert pushes rows into table, overwriting on primary-key conflict so a
// re-push of an already-replicated row is harmless.
func (rc *remoteClient) upsert(ctx context.Context, table string, rows any) error {
	payload, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("mirror: encoding %s rows: %w", table, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost,
		rc.baseURL+"/"+table, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("mirror: building %s upsert: %w", table, err)
	}

	rc.authorize(req)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "resolution=merge-duplicates")

	resp, err := rc.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: upserting %s: %w", ErrRemoteUnavailable, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: upserting %s: HTTP %d: %s",
			ErrRemoteUnavailable, table, resp.StatusCode, body)
	}

	return nil
}

// count returns the remote row count for table via a HEAD request with an
// exact-count preference (the total arrives in Content-Range).
func (rc *remoteClient) count(ctx context.Context, table string) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodHead,
		rc.baseURL+"/"+table, nil)
	if err != nil {
		return 0, fmt.Errorf("mirror: building %s count: %w", table, err)
	}

	rc.authorize(req)
	req.Header.Set("Prefer", "count=exact")
	req.Header.Set("Range-Unit", "items")

	resp, err := rc.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: counting %s: %w", ErrRemoteUnavailable, table, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return 0, fmt.Errorf("%w: counting %s: HTTP %d", ErrRemoteUnavailable, table, resp.StatusCode)
	}

	return parseContentRangeTotal(resp.Header.Get("Content-Range"))
}

// parseContentRangeTotal extracts the total from a "0-24/3573" style
// Content-Range value.
func parseContentRangeTotal(header string) (int64, error) {
	_, total, ok := strings.Cut(header, "/")
	if !ok {
		return 0, fmt.Errorf("mirror: malformed Content-Range %q", header)
	}

	if total == "*" {
		return 0, fmt.Errorf("mirror: remote declined exact count")
	}

	n, err := strconv.ParseInt(total, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("mirror: parsing Content-Range %q: %w", header, err)
	}

	return n, nil
}
