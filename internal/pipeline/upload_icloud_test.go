package pipeline

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nharju/photobridge/internal/icloud"
	"github.com/nharju/photobridge/internal/store"
)

// scriptedAgent is a canned browser: selector probes always match the
// override, sends fail a configurable number of times, and every call is
// counted.
type scriptedAgent struct {
	resolutions int
	sends       int
	sendFailsN  int
	waitErr     error
	candidates  []string

	saved []icloud.Cookie
}

func (a *scriptedAgent) Start(context.Context) error { return nil }
func (a *scriptedAgent) Stop() error                 { return nil }

func (a *scriptedAgent) RestoreSession(_ context.Context, cookies []icloud.Cookie) error {
	a.saved = cookies
	return nil
}

func (a *scriptedAgent) SaveSession(context.Context) ([]icloud.Cookie, error) {
	return []icloud.Cookie{{Name: "token", Value: "fresh", Domain: ".icloud.com", Path: "/"}}, nil
}

func (a *scriptedAgent) OpenPhotos(context.Context) error { return nil }

func (a *scriptedAgent) HasSelector(_ context.Context, sel string) (bool, error) {
	a.resolutions++
	return sel == "#upload", nil
}

func (a *scriptedAgent) FrameWalk(context.Context) (string, error) {
	return "", icloud.ErrSelectorNotFound
}

func (a *scriptedAgent) SendFile(_ context.Context, _, _ string) error {
	a.sends++
	if a.sends <= a.sendFailsN {
		return errors.New("transient send failure")
	}

	return nil
}

func (a *scriptedAgent) WaitUploadComplete(context.Context) error { return a.waitErr }

func (a *scriptedAgent) ListCandidates(context.Context) ([]string, error) {
	return a.candidates, nil
}

func newUploadPhase(t *testing.T, s *store.Store, agent icloud.Agent, bridge, uploaded string) *UploadICloudPhase {
	t.Helper()

	return &UploadICloudPhase{
		Store: s,
		Agent: agent,
		Resolver: &icloud.Resolver{
			Override: "#upload",
			Timeout:  time.Second,
			Logger:   testLogger(t),
		},
		SessionFile:   filepath.Join(t.TempDir(), "session.json"),
		BridgeDir:     bridge,
		UploadedDir:   uploaded,
		UploadTimeout: time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Millisecond,
		Output:        &bytes.Buffer{},
		On:            true,
		Logger:        testLogger(t),
	}
}

// stageForUpload drives one file to batched with a real staged copy in the
// bridge, returning the file and batch IDs.
func stageForUpload(t *testing.T, s *store.Store, bridge, name, content string) (fileID, batchID string) {
	t.Helper()

	originals := t.TempDir()
	compressed := t.TempDir()
	fileID = seedCompressed(t, s, originals, compressed, name, content)

	writeFile(t, filepath.Join(bridge, name), content)

	batch, err := s.CreateBatch(context.Background(), store.DestICloud, []string{fileID})
	if err != nil {
		t.Fatal(err)
	}

	return fileID, batch.ID
}

func TestUploadICloudSuccess(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	bridge := t.TempDir()
	uploaded := t.TempDir()

	fileID, batchID := stageForUpload(t, s, bridge, "a.jpg", "bytes")

	agent := &scriptedAgent{}
	phase := newUploadPhase(t, s, agent, bridge, uploaded)

	out, err := phase.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Succeeded != 1 || out.Failed != 0 {
		t.Errorf("outcome = %+v", out)
	}

	if got := mustGetFile(t, s, fileID); got.Status != store.StatusUploaded {
		t.Errorf("file status = %s, want uploaded", got.Status)
	}

	batch, err := s.GetBatch(context.Background(), batchID)
	if err != nil || batch.Status != store.BatchUploaded {
		t.Errorf("batch status = %v, %v, want uploaded", batch, err)
	}

	if fileExists(filepath.Join(bridge, "a.jpg")) {
		t.Error("staged copy should leave the bridge")
	}

	if !fileExists(filepath.Join(uploaded, "a.jpg")) {
		t.Error("staged copy should land in the uploaded dir")
	}

	if !fileExists(phase.SessionFile) {
		t.Error("session should be persisted after the run")
	}
}

func TestUploadICloudRetriesWithinResolutionBudget(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	bridge := t.TempDir()
	uploaded := t.TempDir()

	stageForUpload(t, s, bridge, "a.jpg", "bytes")

	// Two failing sends, success on the third attempt; the retry budget
	// (2 retries) covers it.
	agent := &scriptedAgent{sendFailsN: 2}
	phase := newUploadPhase(t, s, agent, bridge, uploaded)

	out, err := phase.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Succeeded != 1 {
		t.Fatalf("outcome = %+v, want recovery within budget", out)
	}

	if budget := phase.RetryAttempts + 1; agent.resolutions > budget {
		t.Errorf("selector resolved %d times, budget is %d", agent.resolutions, budget)
	}
}

func TestUploadICloudExhaustedRetriesFailFile(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	bridge := t.TempDir()
	uploaded := t.TempDir()

	fileID, batchID := stageForUpload(t, s, bridge, "a.jpg", "bytes")

	agent := &scriptedAgent{sendFailsN: 1000}
	phase := newUploadPhase(t, s, agent, bridge, uploaded)

	out, err := phase.Run(context.Background())
	if err != nil {
		t.Fatalf("per-file failures must not abort the phase: %v", err)
	}

	if out.Failed != 1 || out.Succeeded != 0 {
		t.Errorf("outcome = %+v", out)
	}

	if got := mustGetFile(t, s, fileID); got.Status != store.StatusError {
		t.Errorf("file status = %s, want error", got.Status)
	}

	batch, err := s.GetBatch(context.Background(), batchID)
	if err != nil || batch.Status != store.BatchError {
		t.Errorf("batch status = %v, %v, want error", batch, err)
	}

	if agent.resolutions > phase.RetryAttempts+1 {
		t.Errorf("selector resolved %d times, budget is %d",
			agent.resolutions, phase.RetryAttempts+1)
	}
}

func TestUploadICloudResumesInterruptedBatch(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	bridge := t.TempDir()
	uploaded := t.TempDir()

	fileID, batchID := stageForUpload(t, s, bridge, "a.jpg", "bytes")

	// A killed run leaves the batch at uploading with its member batched.
	if err := s.SetBatchStatus(context.Background(), batchID, store.BatchUploading, ""); err != nil {
		t.Fatalf("SetBatchStatus: %v", err)
	}

	agent := &scriptedAgent{}
	phase := newUploadPhase(t, s, agent, bridge, uploaded)

	out, err := phase.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Succeeded != 1 {
		t.Errorf("outcome = %+v, interrupted shipment not resumed", out)
	}

	if got := mustGetFile(t, s, fileID); got.Status != store.StatusUploaded {
		t.Errorf("file status = %s, want uploaded", got.Status)
	}

	batch, err := s.GetBatch(context.Background(), batchID)
	if err != nil || batch.Status != store.BatchUploaded {
		t.Errorf("batch = %v, %v, want uploaded", batch, err)
	}

	if !fileExists(filepath.Join(uploaded, "a.jpg")) {
		t.Error("resumed file should land in the uploaded dir")
	}
}

func TestUploadICloudInspectMode(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	bridge := t.TempDir()
	uploaded := t.TempDir()

	fileID, _ := stageForUpload(t, s, bridge, "a.jpg", "bytes")

	agent := &scriptedAgent{candidates: []string{"input#picker", "button.upload"}}

	var buf bytes.Buffer

	phase := newUploadPhase(t, s, agent, bridge, uploaded)
	phase.Inspect = true
	phase.Output = &buf

	if _, err := phase.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !strings.Contains(buf.String(), "input#picker") {
		t.Errorf("inspect output missing candidates: %q", buf.String())
	}

	if agent.sends != 0 {
		t.Error("inspect mode must not upload")
	}

	if got := mustGetFile(t, s, fileID); got.Status != store.StatusBatched {
		t.Errorf("inspect mode must not change statuses, got %s", got.Status)
	}
}

func TestUploadICloudNoBatchesNoBrowser(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	agent := &scriptedAgent{}
	phase := newUploadPhase(t, s, agent, t.TempDir(), t.TempDir())

	out, err := phase.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if out.Processed != 0 {
		t.Errorf("outcome = %+v, want empty", out)
	}
}
