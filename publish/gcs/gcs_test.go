package gcs

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"google.golang.org/api/googleapi"

	"github.com/wudi/pagegrab/publish"
)

type fakeWriter struct {
	bytes.Buffer
	closeErr error
}

func (w *fakeWriter) Close() error { return w.closeErr }

func fakePublisher(force bool, closeErr error) (*Publisher, *fakeWriter, *bool) {
	w := &fakeWriter{closeErr: closeErr}
	createOnly := new(bool)
	p := &Publisher{Force: force}
	p.open = func(_ context.Context, _ publish.Item, co bool) io.WriteCloser {
		*createOnly = co
		return w
	}
	return p, w, createOnly
}

func pageFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "0002.jpg")
	if err := os.WriteFile(path, []byte("jpeg"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestPublishWritesObject(t *testing.T) {
	p, w, createOnly := fakePublisher(false, nil)
	if err := p.Publish(context.Background(), publish.NewItem("B", "T", 2, pageFile(t))); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if w.String() != "jpeg" || !*createOnly {
		t.Fatalf("wrote %q createOnly=%v", w.String(), *createOnly)
	}
}

func TestPreconditionFailedIsErrExists(t *testing.T) {
	p, _, _ := fakePublisher(false, &googleapi.Error{Code: 412})
	err := p.Publish(context.Background(), publish.NewItem("B", "T", 2, pageFile(t)))
	if !errors.Is(err, publish.ErrExists) {
		t.Fatalf("Publish() error = %v, want ErrExists", err)
	}
}

func TestForceDropsCondition(t *testing.T) {
	p, _, createOnly := fakePublisher(true, nil)
	if err := p.Publish(context.Background(), publish.NewItem("B", "T", 2, pageFile(t))); err != nil {
		t.Fatal(err)
	}
	if *createOnly {
		t.Fatalf("forced publish must not be create-only")
	}
}

func TestOtherErrorsWrapped(t *testing.T) {
	p, _, _ := fakePublisher(false, &googleapi.Error{Code: 403})
	err := p.Publish(context.Background(), publish.NewItem("B", "T", 2, pageFile(t)))
	var gerr *googleapi.Error
	if errors.Is(err, publish.ErrExists) || !errors.As(err, &gerr) || gerr.Code != 403 {
		t.Fatalf("unexpected error %v", err)
	}
}
