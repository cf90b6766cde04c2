// Package icloud drives a headless browser session against the cloud
// photo service's web UI: session cookie persistence, upload-control
// selector resolution (override, bundled candidate list, frame walk), and
// per-file upload with completion detection. The pipeline's upload phase
// consumes the Agent interface; the chromedp implementation lives in
// browser.go and tests substitute fakes.
package icloud

import (
	"context"
	"errors"
)

// Sentinel errors. The upload phase retries both within its attempt
// budget, then marks the file failed and continues.
var (
	// ErrSelectorNotFound means no upload control matched: not the
	// override, not the candidate list, not the frame walk.
	ErrSelectorNotFound = errors.New("icloud: no upload control matched")

	// ErrUploadTimeout means a pushed file showed no completion signal
	// before the deadline.
	ErrUploadTimeout = errors.New("icloud: upload did not complete before deadline")

	// ErrSessionRejected means persisted cookies did not reach the photos
	// library; an interactive login is required.
	ErrSessionRejected = errors.New("icloud: persisted session rejected")
)

// Agent is the browser automation surface the uploader needs. One agent
// owns one browser process; agents are not shared across workers.
type Agent interface {
	// Start launches the browser process.
	Start(ctx context.Context) error

	// Stop tears the browser down. Safe after a failed Start.
	Stop() error

	// RestoreSession injects persisted cookies before navigation.
	RestoreSession(ctx context.Context, cookies []Cookie) error

	// SaveSession extracts the live cookie jar for persistence.
	SaveSession(ctx context.Context) ([]Cookie, error)

	// OpenPhotos navigates to the photo library and waits for it to be
	// ready. ErrSessionRejected means the cookies did not hold and an
	// interactive login is needed (browser visible when headless=false).
	OpenPhotos(ctx context.Context) error

	// HasSelector reports whether sel matches a usable file-input control
	// in the main document.
	HasSelector(ctx context.Context, sel string) (bool, error)

	// FrameWalk searches child browsing contexts for a file-input control
	// and returns a selector addressing it, or ErrSelectorNotFound.
	FrameWalk(ctx context.Context) (string, error)

	// SendFile pushes path into the control addressed by sel.
	SendFile(ctx context.Context, sel, path string) error

	// WaitUploadComplete blocks until the progress element reaches 100% or
	// the busy indicator disappears, or ErrUploadTimeout.
	WaitUploadComplete(ctx context.Context) error

	// ListCandidates reports every upload-control candidate the agent can
	// detect, for inspect mode.
	ListCandidates(ctx context.Context) ([]string, error)
}
