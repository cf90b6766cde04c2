package store

import (
	"context"
	"errors"
	"testing"
)

func TestUpsertFile_IdempotentOnSourcePathAndFilename(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.UpsertFile(ctx, &MediaFile{
		Filename:   "a.jpg",
		Path:       "/nas/originals/a.jpg",
		SourcePath: "/source/a.jpg",
		SourceType: SourceICloud,
		Size:       2048,
	})
	if err != nil {
		t.Fatalf("first UpsertFile: %v", err)
	}

	// Advance so a re-register would be visible if it reset anything.
	advanceFile(t, s, first, StatusDeduplicated)

	second, err := s.UpsertFile(ctx, &MediaFile{
		Filename:   "a.jpg",
		Path:       "/nas/originals/a.jpg",
		SourcePath: "/source/a.jpg",
		SourceType: SourceICloud,
		Size:       2048,
	})
	if err != nil {
		t.Fatalf("second UpsertFile: %v", err)
	}

	if second != first {
		t.Errorf("re-register returned %s, want existing ID %s", second, first)
	}

	f, err := s.GetFile(ctx, first)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}

	if f.Status != StatusDeduplicated {
		t.Errorf("status = %s after re-register, want deduplicated", f.Status)
	}
}

func TestUpsertFile_SameFilenameDifferentSource(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	a, err := s.UpsertFile(ctx, &MediaFile{
		Filename: "img.jpg", Path: "/p1", SourcePath: "/src1/img.jpg", SourceType: SourceICloud,
	})
	if err != nil {
		t.Fatalf("UpsertFile a: %v", err)
	}

	b, err := s.UpsertFile(ctx, &MediaFile{
		Filename: "img.jpg", Path: "/p2", SourcePath: "/src2/img.jpg", SourceType: SourceFolder,
	})
	if err != nil {
		t.Fatalf("UpsertFile b: %v", err)
	}

	if a == b {
		t.Error("distinct source paths must produce distinct rows")
	}
}

func TestUpdateFileStatus_WalksFullLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	id := seedFile(t, s, "life.jpg")

	advanceFile(t, s, id, StatusVerified)

	f, err := s.GetFile(ctx, id)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}

	if f.Status != StatusVerified {
		t.Errorf("status = %s, want verified", f.Status)
	}

	if f.Hash != "abc123" {
		t.Errorf("hash = %q, want abc123", f.Hash)
	}

	if f.CompressionRatio != 0.8 {
		t.Errorf("ratio = %v, want 0.8", f.CompressionRatio)
	}
}

func TestUpdateFileStatus_RejectsSkippedStatus(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := seedFile(t, s, "skip.jpg")

	// downloaded -> compressed skips deduplicated.
	err := s.UpdateFileStatus(context.Background(), id, StatusCompressed, FileFields{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateFileStatus_RejectsBackwardTransition(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := seedFile(t, s, "back.jpg")
	advanceFile(t, s, id, StatusCompressed)

	err := s.UpdateFileStatus(context.Background(), id, StatusDeduplicated, FileFields{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestUpdateFileStatus_UnknownID(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	err := s.UpdateFileStatus(context.Background(), "no-such-id", StatusDeduplicated, FileFields{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestMarkFileError_FromAnyNonTerminalStatus(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	for _, target := range []FileStatus{StatusDownloaded, StatusDeduplicated, StatusCompressed, StatusBatched, StatusUploaded} {
		id := seedFile(t, s, "err-"+string(target)+".jpg")
		if target != StatusDownloaded {
			advanceFile(t, s, id, target)
		}

		if err := s.MarkFileError(ctx, id, "boom"); err != nil {
			t.Fatalf("MarkFileError from %s: %v", target, err)
		}

		f, err := s.GetFile(ctx, id)
		if err != nil {
			t.Fatalf("GetFile: %v", err)
		}

		if f.Status != StatusError || f.ErrorMsg != "boom" {
			t.Errorf("from %s: status=%s msg=%q, want error/boom", target, f.Status, f.ErrorMsg)
		}
	}
}

func TestMarkFileError_VerifiedIsImmutable(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := seedFile(t, s, "done.jpg")
	advanceFile(t, s, id, StatusVerified)

	err := s.MarkFileError(context.Background(), id, "late failure")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestResetFile_RestartsLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	id := seedFile(t, s, "reset.jpg")
	advanceFile(t, s, id, StatusCompressed)

	if err := s.MarkFileError(ctx, id, "disk gone"); err != nil {
		t.Fatalf("MarkFileError: %v", err)
	}

	if err := s.ResetFile(ctx, id); err != nil {
		t.Fatalf("ResetFile: %v", err)
	}

	f, err := s.GetFile(ctx, id)
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}

	if f.Status != StatusDownloaded {
		t.Errorf("status = %s, want downloaded", f.Status)
	}

	if f.ErrorMsg != "" {
		t.Errorf("error msg = %q, want cleared", f.ErrorMsg)
	}
}

func TestResetFile_OnlyFromError(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	id := seedFile(t, s, "healthy.jpg")

	err := s.ResetFile(context.Background(), id)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestFindByHash_OrdersByCreation(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()
	hash := "deadbeef"

	a := seedFile(t, s, "first.jpg")
	b := seedFile(t, s, "second.jpg")

	for _, id := range []string{a, b} {
		if err := s.UpdateFileStatus(ctx, id, StatusDeduplicated, FileFields{Hash: &hash}); err != nil {
			t.Fatalf("set hash: %v", err)
		}
	}

	files, err := s.FindByHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindByHash: %v", err)
	}

	if len(files) != 2 {
		t.Fatalf("got %d files, want 2", len(files))
	}

	if files[0].ID != a {
		t.Errorf("first result = %s, want earliest created %s", files[0].ID, a)
	}
}

func TestListFilesByStatus_ExcludesDuplicates(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	ctx := context.Background()

	orig := seedFile(t, s, "orig.jpg")
	dup := seedFile(t, s, "dup.jpg")

	hash := "cafe01"
	if err := s.UpdateFileStatus(ctx, orig, StatusDeduplicated, FileFields{Hash: &hash}); err != nil {
		t.Fatalf("mark original: %v", err)
	}

	if err := s.RecordDuplicate(ctx, orig, dup, hash, "/nas/cleanup/dup.jpg"); err != nil {
		t.Fatalf("RecordDuplicate: %v", err)
	}

	files, err := s.ListFilesByStatus(ctx, StatusDeduplicated)
	if err != nil {
		t.Fatalf("ListFilesByStatus: %v", err)
	}

	if len(files) != 1 || files[0].ID != orig {
		t.Fatalf("got %d files, want only the survivor %s", len(files), orig)
	}
}

func TestGetFile_NotFoundIsNil(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)

	f, err := s.GetFile(context.Background(), "missing")
	if err != nil {
		t.Fatalf("GetFile: %v", err)
	}

	if f != nil {
		t.Errorf("got %+v, want nil for unknown ID", f)
	}
}
