package grab

import (
	"time"

	"github.com/wudi/pagegrab/page"
)

// Event is a progress notification from the worker. The set of variants is
// closed; observers switch on the concrete type.
type Event interface {
	event()
}

// PageEvent carries a snapshot of the page an event is about.
type PageEvent struct {
	Page page.Info
}

// Number is the page number.
func (e PageEvent) Number() int { return e.Page.Number }

// PageInfo returns the page snapshot.
func (e PageEvent) PageInfo() page.Info { return e.Page }

// PageScoped is implemented by every event about a single page.
type PageScoped interface {
	Event
	Number() int
	PageInfo() page.Info
}

type (
	// PageListReady is sent once the page records exist.
	PageListReady struct {
		Pages []page.Info
	}
	ReachedPage struct{ PageEvent }
	// Waiting is sent for every tick of the inter-fetch delay.
	Waiting struct {
		PageEvent
		Remaining time.Duration
	}
	LocatorFound struct {
		PageEvent
		URL string
	}
	ImageURLFound struct {
		PageEvent
		URL string
	}
	FetchFailed struct{ PageEvent }
	ImageSaved  struct {
		PageEvent
		Size int64
	}
	OCRComplete struct {
		PageEvent
		Chars int
	}
	PageConverted struct {
		PageEvent
		Size int64
	}
	TextInjected struct{ PageEvent }
	PageAppended struct {
		PageEvent
		ContainerSize int64
	}
	Published struct {
		PageEvent
		Name string
	}
	PublishFailed  struct{ PageEvent }
	AssemblyFailed struct{ PageEvent }
	PageComplete   struct{ PageEvent }
	PageMissing    struct{ PageEvent }
	// AllProcessed is always the last event of a run.
	AllProcessed struct {
		Summary Summary
	}
)

func (PageListReady) event()  {}
func (ReachedPage) event()    {}
func (Waiting) event()        {}
func (LocatorFound) event()   {}
func (ImageURLFound) event()  {}
func (FetchFailed) event()    {}
func (ImageSaved) event()     {}
func (OCRComplete) event()    {}
func (PageConverted) event()  {}
func (TextInjected) event()   {}
func (PageAppended) event()   {}
func (Published) event()      {}
func (PublishFailed) event()  {}
func (AssemblyFailed) event() {}
func (PageComplete) event()   {}
func (PageMissing) event()    {}
func (AllProcessed) event()   {}

// Summary describes a finished run.
type Summary struct {
	First, Last   int
	Pages         int
	Acquired      int
	Missing       int
	Converted     int
	Appended      int
	Published     int
	Aborted       bool
	Container     string
	ContainerSize int64
	Elapsed       time.Duration
	Err           error
}
