// Package progress turns the events of a grab run into something a person
// can follow: log lines, a status table with time and size estimates, an
// HTTP status endpoint and a Firestore mirror.
package progress

import (
	"sort"
	"sync"
	"time"

	"github.com/wudi/pagegrab/grab"
	"github.com/wudi/pagegrab/page"
)

// Fanout delivers every event to each observer in turn.
type Fanout []grab.Observer

func (f Fanout) Observe(e grab.Event) {
	for _, o := range f {
		if o != nil {
			o.Observe(e)
		}
	}
}

// Estimate is the projected remaining work of a run.
type Estimate struct {
	Total     int
	Done      int
	Elapsed   time.Duration
	Remaining time.Duration
	// ProjectedSize extrapolates the container size from the average
	// converted page. Zero until a page has been converted.
	ProjectedSize int64
}

// Tracker keeps the latest snapshot of every page.
type Tracker struct {
	mu      sync.RWMutex
	pages   map[int]page.Info
	done    map[int]bool
	started time.Time
	summary *grab.Summary

	now func() time.Time
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{pages: map[int]page.Info{}, done: map[int]bool{}, now: time.Now}
}

func (t *Tracker) Observe(e grab.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev := e.(type) {
	case grab.PageListReady:
		t.started = t.now()
		for _, p := range ev.Pages {
			t.pages[p.Number] = p
		}
		return
	case grab.AllProcessed:
		s := ev.Summary
		t.summary = &s
		return
	}
	pe, ok := e.(grab.PageScoped)
	if !ok {
		return
	}
	t.pages[pe.Number()] = pe.PageInfo()
	switch e.(type) {
	case grab.PageComplete, grab.PageMissing, grab.FetchFailed:
		t.done[pe.Number()] = true
	}
}

// Pages returns the known pages in ascending order.
func (t *Tracker) Pages() []page.Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]page.Info, 0, len(t.pages))
	for _, p := range t.pages {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// Page returns the snapshot of page n.
func (t *Tracker) Page(n int) (page.Info, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	p, ok := t.pages[n]
	return p, ok
}

// Summary returns the run summary once AllProcessed was seen.
func (t *Tracker) Summary() (grab.Summary, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.summary == nil {
		return grab.Summary{}, false
	}
	return *t.summary, true
}

// Estimate projects the remaining time from the average time per finished
// page.
func (t *Tracker) Estimate() Estimate {
	t.mu.RLock()
	defer t.mu.RUnlock()
	est := Estimate{Total: len(t.pages), Done: len(t.done)}
	if !t.started.IsZero() {
		est.Elapsed = t.now().Sub(t.started)
	}
	if est.Done > 0 && est.Done < est.Total {
		per := est.Elapsed / time.Duration(est.Done)
		est.Remaining = per * time.Duration(est.Total-est.Done)
	}
	var sum int64
	var converted int
	for _, p := range t.pages {
		if p.PageSize > 0 {
			sum += p.PageSize
			converted++
		}
	}
	if converted > 0 {
		est.ProjectedSize = sum / int64(converted) * int64(est.Total)
	}
	return est
}
