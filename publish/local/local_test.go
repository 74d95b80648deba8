package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/wudi/pagegrab/publish"
)

func TestPublishCopiesOnce(t *testing.T) {
	src := filepath.Join(t.TempDir(), "0003.png")
	os.WriteFile(src, []byte("png"), 0o644)
	dir := filepath.Join(t.TempDir(), "out")
	p := New(dir, false, nil)
	it := publish.NewItem("Book", "Page", 3, src)

	if err := p.Publish(context.Background(), it); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "Book - 0003.png"))
	if err != nil || string(got) != "png" {
		t.Fatalf("copy = %q, %v", got, err)
	}
	desc, _ := os.ReadFile(filepath.Join(dir, "Book - 0003.png"+DescriptionSuffix))
	if string(desc) != "{{Page|0003}}\n" {
		t.Fatalf("description = %q", desc)
	}
	if err := p.Publish(context.Background(), it); !errors.Is(err, publish.ErrExists) {
		t.Fatalf("second Publish() error = %v, want ErrExists", err)
	}
}

func TestPublishForceOverwrites(t *testing.T) {
	src := filepath.Join(t.TempDir(), "0001.jpg")
	os.WriteFile(src, []byte("new"), 0o644)
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "B - 0001.jpg"), []byte("old content"), 0o644)

	p := New(dir, true, nil)
	if err := p.Publish(context.Background(), publish.NewItem("B", "T", 1, src)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	got, _ := os.ReadFile(filepath.Join(dir, "B - 0001.jpg"))
	if string(got) != "new" {
		t.Fatalf("expected overwrite, got %q", got)
	}
}
