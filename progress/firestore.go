package progress

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"

	"github.com/wudi/pagegrab/grab"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/page"
)

// FirestoreMirror copies page progress to Firestore documents under
// jobs/<job>/pages/<NNNN>, and the run summary to jobs/<job>. Write
// failures are logged and never reach the run.
type FirestoreMirror struct {
	ctx    context.Context
	job    string
	log    observability.Logger
	set    func(ctx context.Context, path string, data map[string]interface{}) error
	now    func() time.Time
	failed bool
}

// NewFirestoreMirror writes through client. Writes use ctx, which should
// outlive the run so the final summary is recorded.
func NewFirestoreMirror(ctx context.Context, client *firestore.Client, job string, log observability.Logger) *FirestoreMirror {
	return &FirestoreMirror{
		ctx: ctx,
		job: job,
		log: observability.OrNop(log),
		set: func(ctx context.Context, path string, data map[string]interface{}) error {
			_, err := client.Doc(path).Set(ctx, data, firestore.MergeAll)
			return err
		},
		now: time.Now,
	}
}

// NewFirestoreClient creates a client for the given project.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return client, nil
}

func (m *FirestoreMirror) pagePath(n int) string {
	return fmt.Sprintf("jobs/%s/pages/%s", m.job, page.BaseName(n))
}

func (m *FirestoreMirror) Observe(e grab.Event) {
	switch ev := e.(type) {
	case grab.PageListReady:
		m.write("jobs/"+m.job, map[string]interface{}{
			"pages":      len(ev.Pages),
			"started_at": m.now(),
			"finished":   false,
		})
	case grab.AllProcessed:
		s := ev.Summary
		data := map[string]interface{}{
			"finished":       true,
			"finished_at":    m.now(),
			"acquired":       s.Acquired,
			"missing":        s.Missing,
			"appended":       s.Appended,
			"published":      s.Published,
			"aborted":        s.Aborted,
			"container_size": s.ContainerSize,
		}
		if s.Err != nil {
			data["error"] = s.Err.Error()
		}
		m.write("jobs/"+m.job, data)
	case grab.Waiting:
		// one write per delay second is not worth it
	case grab.PageScoped:
		p := ev.PageInfo()
		m.write(m.pagePath(p.Number), map[string]interface{}{
			"number":     p.Number,
			"state":      p.State.String(),
			"status":     p.Status,
			"failed":     p.Failed,
			"image_url":  p.ImageURL,
			"page_size":  p.PageSize,
			"published":  p.PublishedAs,
			"updated_at": m.now(),
		})
	}
}

func (m *FirestoreMirror) write(path string, data map[string]interface{}) {
	if err := m.set(m.ctx, path, data); err != nil {
		// log the first failure loudly, the rest quietly
		if !m.failed {
			m.log.Warn("firestore mirror write failed", observability.String("doc", path), observability.Error("error", err))
			m.failed = true
			return
		}
		m.log.Debug("firestore mirror write failed", observability.String("doc", path), observability.Error("error", err))
	}
}
