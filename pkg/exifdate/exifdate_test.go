package exifdate

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestExtractFallsBackToMTime(t *testing.T) {
	t.Parallel()

	// A plain text payload defeats the EXIF decoder, so the chain must land
	// on mtime.
	path := filepath.Join(t.TempDir(), "photo.jpg")
	if err := os.WriteFile(path, []byte("not a jpeg"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	want := time.Date(2019, 7, 2, 10, 0, 0, 0, time.Local)
	if err := os.Chtimes(path, want, want); err != nil {
		t.Fatalf("setting mtime: %v", err)
	}

	var e Extractor

	got := e.Extract(context.Background(), path)
	if got.Source != SourceMTime {
		t.Fatalf("Source = %s, want %s", got.Source, SourceMTime)
	}

	if !got.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Time, want)
	}
}

func TestExtractMissingFileIsUnknown(t *testing.T) {
	t.Parallel()

	var e Extractor

	got := e.Extract(context.Background(), filepath.Join(t.TempDir(), "gone.jpg"))
	if got.Source != SourceUnknown {
		t.Fatalf("Source = %s, want %s", got.Source, SourceUnknown)
	}

	if got.Known() {
		t.Error("Known() = true for an unextractable file")
	}
}

func TestExtractUsesProbeForVideo(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.mov")
	if err := os.WriteFile(path, []byte("mov"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	want := time.Date(2023, 4, 15, 10, 0, 0, 0, time.UTC)
	e := Extractor{
		Probe: func(_ context.Context, p string) (time.Time, error) {
			if p != path {
				t.Errorf("probe path = %q, want %q", p, path)
			}
			return want, nil
		},
	}

	got := e.Extract(context.Background(), path)
	if got.Source != SourceCreate {
		t.Fatalf("Source = %s, want %s", got.Source, SourceCreate)
	}

	if !got.Time.Equal(want) {
		t.Errorf("Time = %v, want %v", got.Time, want)
	}
}

func TestExtractProbeFailureFallsBackToMTime(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "clip.mp4")
	if err := os.WriteFile(path, []byte("mp4"), 0o644); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}

	e := Extractor{
		Probe: func(context.Context, string) (time.Time, error) {
			return time.Time{}, errors.New("ffprobe exploded")
		},
	}

	if got := e.Extract(context.Background(), path); got.Source != SourceMTime {
		t.Fatalf("Source = %s, want %s", got.Source, SourceMTime)
	}
}

func TestParseProbeOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		json    string
		want    time.Time
		wantErr bool
	}{
		{
			name: "creation_time RFC3339 with fraction",
			json: `{"format":{"tags":{"creation_time":"2019-07-02T10:00:00.000000Z"}}}`,
			want: time.Date(2019, 7, 2, 10, 0, 0, 0, time.UTC),
		},
		{
			name: "quicktime tag preferred over creation_time",
			json: `{"format":{"tags":{
				"creation_time":"2020-01-01T00:00:00Z",
				"com.apple.quicktime.creationdate":"2019-07-02T10:00:00+0200"}}}`,
			want: time.Date(2019, 7, 2, 10, 0, 0, 0, time.FixedZone("", 2*3600)),
		},
		{
			name:    "no tags",
			json:    `{"format":{}}`,
			wantErr: true,
		},
		{
			name:    "malformed json",
			json:    `{`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseProbeOutput([]byte(tc.json))
			if tc.wantErr {
				if err == nil {
					t.Fatalf("ParseProbeOutput: want error, got %v", got)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseProbeOutput: %v", err)
			}

			if !got.Equal(tc.want) {
				t.Errorf("time = %v, want %v", got, tc.want)
			}
		})
	}
}
