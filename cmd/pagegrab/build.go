package main

import (
	"context"
	"fmt"
	"time"

	"github.com/wudi/pagegrab/assembler"
	"github.com/wudi/pagegrab/assembler/djvu"
	"github.com/wudi/pagegrab/assembler/pdf"
	"github.com/wudi/pagegrab/config"
	"github.com/wudi/pagegrab/fetch"
	"github.com/wudi/pagegrab/grab"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/ocr"
	"github.com/wudi/pagegrab/ocr/tesseract"
	"github.com/wudi/pagegrab/page"
	"github.com/wudi/pagegrab/progress"
	"github.com/wudi/pagegrab/publish"
	"github.com/wudi/pagegrab/publish/gcs"
	"github.com/wudi/pagegrab/publish/local"
	"github.com/wudi/pagegrab/publish/supabase"
	"github.com/wudi/pagegrab/raster"
	"github.com/wudi/pagegrab/source"
	"github.com/wudi/pagegrab/toolexec"
)

// job is everything a run needs, built from the settings.
type job struct {
	env     *page.Env
	opts    grab.Options
	mirror  *progress.FirestoreMirror
	closers []func() error
}

func (j *job) Close() {
	for i := len(j.closers) - 1; i >= 0; i-- {
		j.closers[i]()
	}
}

// buildJob wires the job's components. Ending kill terminates any external
// tool still running.
func buildJob(ctx context.Context, cfg *config.Config, reg *source.Registry, log observability.Logger, kill context.Context) (*job, error) {
	j := &job{}
	fetcher, err := newFetcher(cfg, log)
	if err != nil {
		return nil, err
	}
	src, err := reg.Open(cfg.Source, cfg.TextID, fetcher, log)
	if err != nil {
		return nil, err
	}
	runner := &toolexec.NiceRunner{Logger: log, Kill: kill}
	conv := &raster.Converter{Runner: runner, Logger: log}

	var engine ocr.Engine
	if cfg.PerformOCR {
		if engine, err = tesseract.New(cfg.OCREngine, runner); err != nil {
			return nil, err
		}
	}

	var asm assembler.Assembler
	if cfg.ConvertDjVu {
		asm = newAssembler(cfg.ContainerFormat, runner, conv, log)
	}

	var pub publish.Publisher
	if cfg.UploadImages {
		var closeFn func() error
		if pub, closeFn, err = newPublisher(ctx, cfg, log); err != nil {
			return nil, err
		}
		if closeFn != nil {
			j.closers = append(j.closers, closeFn)
		}
	}

	if cfg.FirestoreProject != "" {
		client, err := progress.NewFirestoreClient(ctx, cfg.FirestoreProject)
		if err != nil {
			j.Close()
			return nil, err
		}
		j.closers = append(j.closers, client.Close)
		j.mirror = progress.NewFirestoreMirror(ctx, client, jobName(cfg), log)
	}

	j.env = &page.Env{
		Dir:         cfg.BookDirectory(),
		Source:      src,
		OCR:         engine,
		Raster:      conv,
		Runner:      runner,
		Assembler:   asm,
		Publisher:   pub,
		Clean:       cfg.CleanPipeline(),
		CleanText:   cfg.CleanText,
		FallbackOCR: cfg.FallbackTesseract,
		Languages:   cfg.Languages(),
		OCROptions:  cfg.OCROptions(),
		PageOptions: assembler.PageOptions{Bitonal: cfg.DjVuBitonal, Quality: cfg.DjVuQuality, ForceConvert: cfg.ForceConvert},
		Prefix:      cfg.Prefix(),
		Template:    cfg.Template,
		Logger:      log.With(observability.String("job", jobName(cfg))),
	}
	j.opts = grab.Options{
		First:         cfg.PgStart,
		Last:          cfg.PgEnd,
		Download:      cfg.Download,
		Delay:         time.Duration(cfg.Delay) * time.Second,
		Policy:        page.DownloadPolicy{Attempts: cfg.DownloadAttempts, MinBytes: cfg.MinImageBytes},
		PerformOCR:    cfg.PerformOCR,
		UseSavedOCR:   cfg.UseSavedOCR,
		ForceLocalOCR: cfg.ForceTesseract,
		DumpText:      cfg.DumpOCR,
		Assemble:      cfg.ConvertDjVu,
		Publish:       cfg.UploadImages,
		Prefix:        cfg.Prefix(),
	}
	return j, nil
}

func jobName(cfg *config.Config) string { return cfg.Source + "_" + cfg.TextID }

func newFetcher(cfg *config.Config, log observability.Logger) (*fetch.Client, error) {
	opts := fetch.Options{
		UserAgent: cfg.Network.UserAgent,
		Timeout:   time.Duration(cfg.Network.TimeoutSeconds) * time.Second,
		Retry: fetch.RetryPolicy{
			MaxAttempts: cfg.Network.MaxTransportRetries,
			Delay:       time.Duration(cfg.Network.RetryDelayMS) * time.Millisecond,
		},
		Logger: log,
	}
	if cfg.UseProxy {
		opts.Proxy = cfg.Proxy
	}
	return fetch.New(opts)
}

func newAssembler(format string, runner toolexec.Runner, conv *raster.Converter, log observability.Logger) assembler.Assembler {
	if format == config.FormatPDF {
		return pdf.New(conv, log)
	}
	a := djvu.New(runner, log)
	a.Raster = conv
	return a
}

func newPublisher(ctx context.Context, cfg *config.Config, log observability.Logger) (publish.Publisher, func() error, error) {
	p := cfg.Publisher
	switch p.Kind {
	case config.PublishLocal:
		return local.New(p.Directory, cfg.ForceUpload, log), nil, nil
	case config.PublishGCS:
		pub, closeFn, err := gcs.Open(ctx, p.Bucket, cfg.ForceUpload, log)
		if err != nil {
			return nil, nil, err
		}
		return pub, closeFn, nil
	case config.PublishSupabase:
		pub, err := supabase.Open(p.SupabaseURL, p.SupabaseKey, p.Bucket, cfg.ForceUpload, log)
		if err != nil {
			return nil, nil, err
		}
		return pub, nil, nil
	}
	return nil, nil, fmt.Errorf("unknown publisher kind %q", p.Kind)
}
