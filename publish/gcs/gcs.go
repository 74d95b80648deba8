// Package gcs publishes page images to a Cloud Storage bucket.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"

	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/publish"
)

// Publisher writes items as objects of a bucket, create-only unless Force
// is set.
type Publisher struct {
	Force  bool
	Logger observability.Logger

	open func(ctx context.Context, it publish.Item, createOnly bool) io.WriteCloser
}

// New wraps an existing bucket handle.
func New(bucket *storage.BucketHandle, force bool, log observability.Logger) *Publisher {
	return &Publisher{
		Force:  force,
		Logger: log,
		open: func(ctx context.Context, it publish.Item, createOnly bool) io.WriteCloser {
			obj := bucket.Object(it.Name)
			if createOnly {
				obj = obj.If(storage.Conditions{DoesNotExist: true})
			}
			w := obj.NewWriter(ctx)
			w.ContentType = it.ContentType
			if it.Description != "" {
				w.Metadata = map[string]string{"description": it.Description}
			}
			return w
		},
	}
}

// Open creates a storage client and a Publisher for the named bucket. The
// returned close function releases the client.
func Open(ctx context.Context, bucket string, force bool, log observability.Logger) (*Publisher, func() error, error) {
	if bucket == "" {
		return nil, nil, errors.New("gcs: bucket name required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return New(client.Bucket(bucket), force, log), client.Close, nil
}

func (p *Publisher) Publish(ctx context.Context, it publish.Item) error {
	f, err := os.Open(it.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := p.open(ctx, it, !p.Force)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return p.mapErr(it, err)
	}
	if err := w.Close(); err != nil {
		return p.mapErr(it, err)
	}
	observability.OrNop(p.Logger).Debug("published object", observability.String("object", it.Name))
	return nil
}

func (p *Publisher) mapErr(it publish.Item, err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed {
		observability.OrNop(p.Logger).Info("object already exists", observability.String("object", it.Name))
		return publish.ErrExists
	}
	return fmt.Errorf("failed to write to GCS: %w", err)
}
