package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"svgstudio/internal/domain"
)

func TestArtifactName(t *testing.T) {
	cases := []struct {
		id, contentType string
		want            string
		wantErr         bool
	}{
		{id: "gen-1", contentType: "image/svg+xml; charset=utf-8", want: "gen-1.svg"},
		{id: "gen-1", contentType: "text/xml", want: "gen-1.svg"},
		{id: "gen-1", contentType: "image/png", want: "gen-1.png"},
		{id: "gen-1", contentType: "application/zip", want: "gen-1.zip"},
		{id: " gen-1 ", contentType: "", want: "gen-1.svg"},
		{id: "../escape", wantErr: true},
		{id: `dir\gen`, wantErr: true},
		{id: "..", wantErr: true},
		{id: "  ", wantErr: true},
	}
	for _, tc := range cases {
		got, err := artifactName(tc.id, tc.contentType)
		if tc.wantErr {
			if !errors.Is(err, ErrInvalidName) {
				t.Fatalf("artifactName(%q) = %q, %v, want ErrInvalidName", tc.id, got, err)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("artifactName(%q, %q) = %q, %v, want %q", tc.id, tc.contentType, got, err, tc.want)
		}
	}
}

func TestSaveGeneration(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(filepath.Join(dir, "out"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	path, err := store.SaveGeneration(context.Background(), &domain.Generation{ID: "gen-1", SVG: "<svg/>"})
	if err != nil {
		t.Fatalf("SaveGeneration: %v", err)
	}
	if path != filepath.Join(store.Dir(), "gen-1.svg") {
		t.Fatalf("path = %q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "<svg/>" {
		t.Fatalf("file = %q, %v", data, err)
	}
	if _, err := store.SaveGeneration(context.Background(), &domain.Generation{ID: "gen-2"}); err == nil {
		t.Fatalf("expected error for empty markup")
	}
}

func TestSaveArtifactSkipsIdenticalContent(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	ctx := context.Background()
	path, err := store.SaveArtifact(ctx, "gen", []byte("<svg/>"), "image/svg+xml")
	if err != nil {
		t.Fatalf("SaveArtifact: %v", err)
	}
	old := time.Now().Add(-time.Hour)
	if err := os.Chtimes(path, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	if _, err := store.SaveArtifact(ctx, "gen", []byte("<svg/>"), "image/svg+xml"); err != nil {
		t.Fatalf("SaveArtifact again: %v", err)
	}
	info, _ := os.Stat(path)
	if !info.ModTime().Equal(old) {
		t.Fatalf("identical artifact was rewritten")
	}

	if _, err := store.SaveArtifact(ctx, "gen", []byte("<svg><g/></svg>"), "image/svg+xml"); err != nil {
		t.Fatalf("SaveArtifact changed: %v", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "<svg><g/></svg>" {
		t.Fatalf("changed artifact not written: %q", data)
	}
	entries, _ := os.ReadDir(store.Dir())
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
}

func TestSaveHonoursCancelledContext(t *testing.T) {
	store, _ := NewFileStore(t.TempDir())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := store.SaveArtifact(ctx, "gen", []byte("x"), "image/svg+xml"); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
