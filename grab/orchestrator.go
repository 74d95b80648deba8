// Package grab runs a page-grabbing job: it walks the page range in order,
// fetches what is missing, and drives each page through recognition,
// conversion, assembly and publication while reporting progress.
package grab

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/page"
)

const (
	// DumpFileName collects the text of every page of a run.
	DumpFileName = "OCR_DUMP.txt"
	// workingPageIndex is the page of the single-page working container
	// that receives the text layer.
	workingPageIndex = 1
)

// Options selects the stages of a run.
type Options struct {
	First, Last int

	Download bool
	// Delay is waited before each fetch, in whole seconds.
	Delay  time.Duration
	Policy page.DownloadPolicy

	PerformOCR    bool
	UseSavedOCR   bool
	ForceLocalOCR bool
	DumpText      bool

	// Assemble converts pages and appends them to the container.
	Assemble bool
	Publish  bool

	// Prefix names the container file.
	Prefix string
}

// Orchestrator runs one job. Run may be called once; Abort may be called
// from any goroutine.
type Orchestrator struct {
	env    *page.Env
	opts   Options
	sink   Sink
	log    observability.Logger
	tracer observability.Tracer

	// sleep waits one delay tick; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time

	aborted atomic.Bool
	mu      sync.Mutex
	cancel  context.CancelFunc

	records   []*page.Record
	container string
	pageFile  string
	dumpFile  string
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithTracer records a span per page.
func WithTracer(t observability.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithSleep replaces the delay tick.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *Orchestrator) { o.sleep = fn }
}

// New prepares a job. A nil sink discards events.
func New(env *page.Env, opts Options, sink Sink, options ...Option) (*Orchestrator, error) {
	if opts.First > opts.Last {
		return nil, fmt.Errorf("invalid page range %d-%d", opts.First, opts.Last)
	}
	if opts.Assemble && env.Assembler == nil {
		return nil, errors.New("assembly requested without an assembler")
	}
	if opts.Publish && env.Publisher == nil {
		return nil, errors.New("publishing requested without a publisher")
	}
	if opts.Download && env.Source == nil {
		return nil, errors.New("downloading requested without a source")
	}
	if opts.Policy.Attempts <= 0 {
		opts.Policy = page.DefaultDownloadPolicy
	}
	if sink == nil {
		sink = discard{}
	}
	o := &Orchestrator{
		env:    env,
		opts:   opts,
		sink:   sink,
		log:    observability.OrNop(env.Logger),
		tracer: observability.NopTracer(),
		sleep:  sleepCtx,
		now:    time.Now,
	}
	for _, opt := range options {
		opt(o)
	}
	if env.Assembler != nil {
		ext := env.Assembler.Ext()
		o.container = filepath.Join(env.Dir, opts.Prefix+ext)
		o.pageFile = filepath.Join(env.Dir, "TEMP-"+strings.ToUpper(strings.TrimPrefix(ext, "."))+"-PAGE"+ext)
	}
	o.dumpFile = filepath.Join(env.Dir, DumpFileName)
	return o, nil
}

type discard struct{}

func (discard) Send(Event) {}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Abort asks the run to stop at its next checkpoint. Tools already started
// finish; an in-flight HTTP request is cancelled.
func (o *Orchestrator) Abort() {
	o.aborted.Store(true)
	o.mu.Lock()
	if o.cancel != nil {
		o.cancel()
	}
	o.mu.Unlock()
}

// Aborted reports whether Abort was called.
func (o *Orchestrator) Aborted() bool { return o.aborted.Load() }

// Pages returns snapshots of every page record.
func (o *Orchestrator) Pages() []page.Info {
	out := make([]page.Info, len(o.records))
	for i, r := range o.records {
		out[i] = r.Snapshot()
	}
	return out
}

// Run processes the page range. Per-page failures are reported as events;
// only local filesystem failures end the run with an error. Cleanup runs and
// AllProcessed is sent in every case.
func (o *Orchestrator) Run(ctx context.Context) (Summary, error) {
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.cancel = cancel
	if o.aborted.Load() {
		cancel()
	}
	o.mu.Unlock()
	defer cancel()

	start := o.now()
	err := o.run(ctx)
	if err != nil && ctx.Err() != nil {
		// cancellation is an abort, not a failure
		o.aborted.Store(true)
		err = nil
	}
	if cerr := o.cleanup(); cerr != nil && err == nil {
		err = cerr
	}
	sum := o.summary(o.now().Sub(start), err)
	o.sink.Send(AllProcessed{Summary: sum})
	if o.Aborted() {
		o.log.Info("book grab aborted")
	} else if err == nil {
		o.log.Info("completed book grab", observability.Int("pages", sum.Pages))
	}
	return sum, err
}

func (o *Orchestrator) run(ctx context.Context) error {
	if err := o.setupFiles(); err != nil {
		return err
	}
	o.buildPageList()

	for _, r := range o.records {
		if o.Aborted() {
			break
		}
		o.log.Info("processing page", observability.Int("page", r.Number))
		o.sink.Send(ReachedPage{o.pe(r)})

		if !r.Acquired() && o.opts.Download {
			if !o.delay(ctx, r) {
				break
			}
			ok, err := o.fetch(ctx, r)
			if err != nil {
				return err
			}
			if !ok {
				r.State = page.Missing
				r.Failed = true
				r.Status = "Fetch failed, skipping."
				o.sink.Send(FetchFailed{o.pe(r)})
				continue
			}
		}
		if o.Aborted() {
			break
		}

		if r.Acquired() {
			if err := o.process(ctx, r); err != nil {
				return err
			}
			o.sink.Send(PageComplete{o.pe(r)})
		} else {
			r.MarkMissing()
			o.sink.Send(PageMissing{o.pe(r)})
		}
	}
	return nil
}

func (o *Orchestrator) pe(r *page.Record) PageEvent { return PageEvent{Page: r.Snapshot()} }

func (o *Orchestrator) setupFiles() error {
	if err := os.MkdirAll(o.env.Dir, 0o755); err != nil {
		return fmt.Errorf("create book directory: %w", err)
	}
	if o.opts.Assemble {
		if err := os.Remove(o.container); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove old container: %w", err)
		}
	}
	if o.opts.PerformOCR && o.opts.DumpText {
		if err := os.WriteFile(o.dumpFile, nil, 0o644); err != nil {
			return fmt.Errorf("create text dump: %w", err)
		}
	}
	return nil
}

func (o *Orchestrator) buildPageList() {
	o.records = o.records[:0]
	for n := o.opts.First; n <= o.opts.Last; n++ {
		r := page.New(n, o.env)
		if path, ok := page.FindLocal(o.env.Dir, n); ok {
			if err := r.AdoptLocalFile(path); err != nil {
				o.log.Warn("cannot use local file", observability.String("file", path), observability.Error("error", err))
			}
		}
		o.records = append(o.records, r)
	}
	o.sink.Send(PageListReady{Pages: o.Pages()})
}

func (o *Orchestrator) cleanup() error {
	if o.pageFile == "" {
		return nil
	}
	if err := os.Remove(o.pageFile); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// delay waits out the inter-fetch delay one second at a time. It returns
// false when the run was aborted during the wait.
func (o *Orchestrator) delay(ctx context.Context, r *page.Record) bool {
	secs := int(o.opts.Delay / time.Second)
	if secs <= 0 {
		r.Status = "Waiting to begin file fetch."
		o.sink.Send(Waiting{PageEvent: o.pe(r)})
		return !o.Aborted()
	}
	for i := 0; i < secs; i++ {
		if o.Aborted() {
			return false
		}
		left := secs - i
		r.Status = fmt.Sprintf("Waiting to begin file fetch. Delayed by %d seconds.", left)
		o.sink.Send(Waiting{PageEvent: o.pe(r), Remaining: time.Duration(left) * time.Second})
		if err := o.sleep(ctx, time.Second); err != nil {
			o.aborted.Store(true)
			return false
		}
	}
	return !o.Aborted()
}

// fetch resolves and downloads the page image. It reports false when the
// page could not be acquired.
func (o *Orchestrator) fetch(ctx context.Context, r *page.Record) (bool, error) {
	if err := r.LocatePage(); err != nil {
		return false, err
	}
	if r.LocatorURL != "" {
		o.sink.Send(LocatorFound{o.pe(r), r.LocatorURL})
	} else {
		o.log.Debug("no html page needed to find the image url", observability.Int("page", r.Number))
	}
	ok, err := r.LocateImage(ctx)
	if err != nil || !ok {
		return false, err
	}
	o.sink.Send(ImageURLFound{o.pe(r), r.ImageURL})

	data, err := r.FetchImage(ctx, o.opts.Policy)
	if err != nil || data == nil {
		return false, err
	}
	if err := r.PersistImage(data); err != nil {
		return false, err
	}
	o.sink.Send(ImageSaved{o.pe(r), r.ImageSize})
	return true, nil
}

// process runs the enabled stages for an acquired page in their fixed
// order, stopping at an abort or a conversion failure.
func (o *Orchestrator) process(ctx context.Context, r *page.Record) (err error) {
	ctx, span := o.tracer.StartSpan(ctx, "page.process")
	span.SetTag("page", r.Number)
	defer func() {
		span.SetError(err)
		span.Finish()
	}()

	if o.opts.PerformOCR {
		if err := r.ObtainText(ctx, o.opts.UseSavedOCR, o.opts.ForceLocalOCR); err != nil {
			return err
		}
		o.sink.Send(OCRComplete{o.pe(r), len([]rune(r.Text))})
	}
	if o.Aborted() {
		return nil
	}

	if o.opts.Assemble {
		ok, err := r.Convert(ctx, o.pageFile)
		if err != nil {
			return err
		}
		if !ok {
			o.sink.Send(AssemblyFailed{o.pe(r)})
			return nil
		}
		o.sink.Send(PageConverted{o.pe(r), r.PageSize})
	}
	if o.Aborted() {
		return nil
	}

	if o.opts.PerformOCR && o.opts.Assemble {
		ok, err := r.InjectText(ctx, o.pageFile, workingPageIndex)
		if err != nil {
			return err
		}
		if ok {
			o.sink.Send(TextInjected{o.pe(r)})
		}
	}
	if o.Aborted() {
		return nil
	}

	if o.opts.PerformOCR && o.opts.DumpText {
		if err := r.DumpText(o.dumpFile); err != nil {
			return fmt.Errorf("dump text: %w", err)
		}
	}
	if o.Aborted() {
		return nil
	}

	if o.opts.Assemble {
		ok, err := r.Append(ctx, o.pageFile, o.container)
		if err != nil {
			return err
		}
		if !ok {
			o.sink.Send(AssemblyFailed{o.pe(r)})
			return nil
		}
		o.sink.Send(PageAppended{o.pe(r), r.ContainerSize})
	}
	if o.Aborted() {
		return nil
	}

	if o.opts.Publish {
		ok, err := r.Publish(ctx)
		if err != nil {
			return err
		}
		if ok {
			o.sink.Send(Published{o.pe(r), r.PublishedAs})
		} else {
			o.sink.Send(PublishFailed{o.pe(r)})
		}
	}
	return nil
}

func (o *Orchestrator) summary(elapsed time.Duration, err error) Summary {
	s := Summary{
		First:   o.opts.First,
		Last:    o.opts.Last,
		Pages:   len(o.records),
		Aborted: o.Aborted(),
		Elapsed: elapsed,
		Err:     err,
	}
	for _, r := range o.records {
		if r.Acquired() {
			s.Acquired++
		}
		if r.State == page.Missing {
			s.Missing++
		}
		if r.PageSize > 0 {
			s.Converted++
		}
		if r.State >= page.Appended {
			s.Appended++
		}
		if r.PublishedAs != "" {
			s.Published++
		}
	}
	if o.opts.Assemble {
		s.Container = o.container
		if st, err := os.Stat(o.container); err == nil {
			s.ContainerSize = st.Size()
		}
	}
	return s
}
