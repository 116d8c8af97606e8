package filestore

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestLocalUploadAndOpen(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "http://localhost:8085/files/")
	if err != nil {
		t.Fatalf("new local store failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Upload(ctx, "t1/abc123", strings.NewReader("file body")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	rc, err := store.Open("t1/abc123")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()
	body, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(body) != "file body" {
		t.Fatalf("unexpected body: %q", body)
	}
}

func TestLocalUploadReplaces(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "http://localhost:8085/files")
	if err != nil {
		t.Fatalf("new local store failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Upload(ctx, "t1/op", strings.NewReader("first")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if err := store.Upload(ctx, "t1/op", strings.NewReader("second")); err != nil {
		t.Fatalf("re-upload failed: %v", err)
	}
	rc, err := store.Open("t1/op")
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "second" {
		t.Fatalf("re-upload did not replace content: %q", body)
	}
}

func TestLocalDownloadLink(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "http://localhost:8085/files/")
	if err != nil {
		t.Fatalf("new local store failed: %v", err)
	}
	ctx := context.Background()

	if _, err := store.DownloadLink(ctx, "t1/missing", time.Hour); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound for missing object, got %v", err)
	}

	if err := store.Upload(ctx, "t1/present", strings.NewReader("x")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	link, err := store.DownloadLink(ctx, "t1/present", time.Hour)
	if err != nil {
		t.Fatalf("download link failed: %v", err)
	}
	if link != "http://localhost:8085/files/t1%2Fpresent" {
		t.Fatalf("unexpected link: %s", link)
	}
}

func TestLocalDeleteIsIdempotent(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "http://localhost:8085/files")
	if err != nil {
		t.Fatalf("new local store failed: %v", err)
	}
	ctx := context.Background()

	if err := store.Upload(ctx, "t1/op", strings.NewReader("x")); err != nil {
		t.Fatalf("upload failed: %v", err)
	}
	if err := store.Delete(ctx, "t1/op"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if err := store.Delete(ctx, "t1/op"); err != nil {
		t.Fatalf("second delete should be a no-op: %v", err)
	}
	if _, err := store.Open("t1/op"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLocalRejectsTraversalKeys(t *testing.T) {
	store, err := NewLocal(t.TempDir(), "http://localhost:8085/files")
	if err != nil {
		t.Fatalf("new local store failed: %v", err)
	}
	for _, key := range []string{"../escape", "/abs/path", "a/../../b"} {
		if err := store.Upload(context.Background(), key, strings.NewReader("x")); err == nil {
			t.Fatalf("key %q should be rejected", key)
		}
	}
}
