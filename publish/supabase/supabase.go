// Package supabase publishes page images to a Supabase storage bucket.
package supabase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	storage_go "github.com/supabase-community/storage-go"
	supa "github.com/supabase-community/supabase-go"

	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/publish"
)

// Uploader is the part of the storage client used here.
type Uploader interface {
	UploadFile(bucketID, relativePath string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
}

// Publisher uploads items to Bucket under their published names.
type Publisher struct {
	Storage Uploader
	Bucket  string
	// Force sets Upsert so existing objects are replaced.
	Force  bool
	Logger observability.Logger
}

// Open connects to the project at url with key.
func Open(url, key, bucket string, force bool, log observability.Logger) (*Publisher, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("supabase URL and key must be provided")
	}
	if bucket == "" {
		return nil, errors.New("supabase: bucket name required")
	}
	client, err := supa.NewClient(url, key, &supa.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to create Supabase client: %w", err)
	}
	return &Publisher{Storage: client.Storage, Bucket: bucket, Force: force, Logger: log}, nil
}

func (p *Publisher) Publish(ctx context.Context, it publish.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f, err := os.Open(it.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	ct, upsert := it.ContentType, p.Force
	_, err = p.Storage.UploadFile(p.Bucket, it.Name, f, storage_go.FileOptions{
		ContentType: &ct,
		Upsert:      &upsert,
	})
	if err != nil {
		if isDuplicate(err) {
			return publish.ErrExists
		}
		return fmt.Errorf("upload %s: %w", it.Name, err)
	}
	observability.OrNop(p.Logger).Debug("uploaded page",
		observability.String("bucket", p.Bucket), observability.String("object", it.Name))
	return nil
}

// isDuplicate recognises the storage API's conflict response: a 409 status,
// or the "Duplicate" error some deployments send with another status.
func isDuplicate(err error) bool {
	var se *storage_go.StorageError
	if !errors.As(err, &se) {
		return false
	}
	if se.Status == http.StatusConflict {
		return true
	}
	msg := strings.ToLower(se.Message)
	return strings.Contains(msg, "duplicate") || strings.Contains(msg, "already exists")
}
