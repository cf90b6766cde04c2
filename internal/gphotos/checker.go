// Package gphotos implements the optional destination-side presence check
// consulted by the verification phase. The library API has no
// search-by-filename, so the check lists recent media items and matches on
// filename. Strictly best-effort, exactly the confidence level the
// verifier treats it with: an unconfirmed file stays uploaded with a
// warning, never an error.
package gphotos

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"golang.org/x/oauth2"
)

// DefaultBaseURL is the Google Photos Library API endpoint.
const DefaultBaseURL = "https://photoslibrary.googleapis.com"

// Listing bounds. The check walks at most maxPages pages of pageSize items
// before giving up; verification is best-effort and must not crawl an
// entire library per file.
const (
	pageSize = 100
	maxPages = 5
)

// Checker queries the photo library for uploaded files. The zero value is
// a disabled checker.
type Checker struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	enabled    bool
}

// Disabled returns a checker whose Enabled is false. The verifier promotes
// files to verified immediately when the capability is off.
func Disabled() *Checker {
	return &Checker{}
}

// New builds an enabled checker from a persisted OAuth token file (JSON
// oauth2.Token, written by an out-of-band authorization flow).
func New(ctx context.Context, tokenFile string, logger *slog.Logger) (*Checker, error) {
	raw, err := os.ReadFile(tokenFile)
	if err != nil {
		return nil, fmt.Errorf("gphotos: reading token file: %w", err)
	}

	var token oauth2.Token
	if err := json.Unmarshal(raw, &token); err != nil {
		return nil, fmt.Errorf("gphotos: parsing token file %s: %w", tokenFile, err)
	}

	return &Checker{
		httpClient: oauth2.NewClient(ctx, oauth2.StaticTokenSource(&token)),
		baseURL:    DefaultBaseURL,
		logger:     logger,
		enabled:    true,
	}, nil
}

// NewWithClient builds an enabled checker over an explicit HTTP client and
// base URL. Tests use it to point at a stub server.
func NewWithClient(client *http.Client, baseURL string, logger *slog.Logger) *Checker {
	return &Checker{
		httpClient: client,
		baseURL:    baseURL,
		logger:     logger,
		enabled:    true,
	}
}

// Enabled reports whether the presence check can run at all.
func (c *Checker) Enabled() bool {
	return c.enabled
}

// mediaItemsPage mirrors the slice of the mediaItems list response the
// check consumes.
type mediaItemsPage struct {
	MediaItems []struct {
		Filename string `json:"filename"`
	} `json:"mediaItems"`
	NextPageToken string `json:"nextPageToken"`
}

// Check reports whether a file with the given name appears among recent
// library items. False with nil error means "not seen", which the verifier
// logs as a warning.
func (c *Checker) Check(ctx context.Context, filename string) (bool, error) {
	if !c.enabled {
		return false, fmt.Errorf("gphotos: checker disabled")
	}

	pageToken := ""

	for page := 0; page < maxPages; page++ {
		items, err := c.listPage(ctx, pageToken)
		if err != nil {
			return false, err
		}

		for _, item := range items.MediaItems {
			if item.Filename == filename {
				return true, nil
			}
		}

		if items.NextPageToken == "" {
			break
		}

		pageToken = items.NextPageToken
	}

	c.logger.Debug("file not found in recent library pages",
		slog.String("filename", filename),
	)

	return false, nil
}

// listPage fetches one page of media items.
func (c *Checker) listPage(ctx context.Context, pageToken string) (*mediaItemsPage, error) {
	u := fmt.Sprintf("%s/v1/mediaItems?pageSize=%d", c.baseURL, pageSize)
	if pageToken != "" {
		u += "&pageToken=" + pageToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("gphotos: building list request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gphotos: listing media items: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gphotos: listing media items: HTTP %d", resp.StatusCode)
	}

	var page mediaItemsPage
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("gphotos: decoding media items: %w", err)
	}

	return &page, nil
}
