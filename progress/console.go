package progress

import (
	"time"

	"github.com/wudi/pagegrab/grab"
	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/page"
)

// Console logs one line per event.
type Console struct {
	Logger observability.Logger
}

func (c Console) Observe(e grab.Event) {
	log := observability.OrNop(c.Logger)
	switch ev := e.(type) {
	case grab.PageListReady:
		log.Info("page list ready", observability.Int("pages", len(ev.Pages)))
	case grab.Waiting:
		log.Debug(ev.Page.Status, observability.Int("page", ev.Number()))
	case grab.FetchFailed, grab.PageMissing, grab.AssemblyFailed, grab.PublishFailed:
		pe := ev.(grab.PageScoped)
		log.Warn(pe.PageInfo().Status, observability.Int("page", pe.Number()))
	case grab.PageAppended:
		log.Info(ev.Page.Status, observability.Int("page", ev.Number()),
			observability.String("total", page.SizeText(ev.ContainerSize, "MB")))
	case grab.AllProcessed:
		s := ev.Summary
		fields := []observability.Field{
			observability.Int("pages", s.Pages),
			observability.Int("acquired", s.Acquired),
			observability.Int("missing", s.Missing),
			observability.Int("appended", s.Appended),
			observability.Int("published", s.Published),
			observability.Duration("elapsed", s.Elapsed.Round(time.Second)),
		}
		switch {
		case s.Err != nil:
			log.Error("run failed", append(fields, observability.Error("error", s.Err))...)
		case s.Aborted:
			log.Warn("run aborted", fields...)
		default:
			log.Info("all pages processed", fields...)
		}
	case grab.PageScoped:
		log.Info(ev.PageInfo().Status, observability.Int("page", ev.Number()))
	}
}
