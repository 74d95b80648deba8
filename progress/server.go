package progress

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/wudi/pagegrab/observability"
	"github.com/wudi/pagegrab/page"
)

// Server exposes a Tracker over HTTP.
type Server struct {
	Tracker *Tracker
	// Abort is called by POST /api/abort; nil disables the route.
	Abort func()
	// Token, when set, must be sent as "Authorization: Bearer <token>" to
	// abort.
	Token  string
	Logger observability.Logger
	// AllowedOrigins for CORS; empty means LocalOrigins.
	AllowedOrigins []string
}

// LocalOrigins are the browser origins allowed when none are configured.
var LocalOrigins = []string{"http://localhost:*", "http://127.0.0.1:*"}

// BindAddr puts addr on the loopback interface when it names no host, so
// ":8080" only listens locally.
func BindAddr(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil || host != "" {
		return addr
	}
	return net.JoinHostPort("127.0.0.1", port)
}

type pageView struct {
	Number        int        `json:"number"`
	State         page.State `json:"state"`
	Status        string     `json:"status"`
	ImageURL      string     `json:"image_url,omitempty"`
	LocalPath     string     `json:"local_path,omitempty"`
	ImageSize     int64      `json:"image_size,omitempty"`
	TextMethod    string     `json:"text_method,omitempty"`
	TextChars     int        `json:"text_chars"`
	PageSize      int64      `json:"page_size,omitempty"`
	ContainerSize int64      `json:"container_size,omitempty"`
	PublishedAs   string     `json:"published_as,omitempty"`
	Failed        bool       `json:"failed"`
}

func viewOf(p page.Info) pageView {
	return pageView{
		Number:        p.Number,
		State:         p.State,
		Status:        p.Status,
		ImageURL:      p.ImageURL,
		LocalPath:     p.LocalPath,
		ImageSize:     p.ImageSize,
		TextMethod:    p.TextMethod,
		TextChars:     len([]rune(p.Text)),
		PageSize:      p.PageSize,
		ContainerSize: p.ContainerSize,
		PublishedAs:   p.PublishedAs,
		Failed:        p.Failed,
	}
}

type summaryView struct {
	Finished         bool    `json:"finished"`
	Total            int     `json:"total"`
	Done             int     `json:"done"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
	RemainingSeconds float64 `json:"remaining_seconds"`
	ProjectedSize    int64   `json:"projected_size"`

	Acquired      int    `json:"acquired,omitempty"`
	Missing       int    `json:"missing,omitempty"`
	Appended      int    `json:"appended,omitempty"`
	Published     int    `json:"published,omitempty"`
	Aborted       bool   `json:"aborted,omitempty"`
	Container     string `json:"container,omitempty"`
	ContainerSize int64  `json:"container_size,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/pages", s.listPages).Methods(http.MethodGet)
	api.HandleFunc("/pages/{number:[0-9]+}", s.getPage).Methods(http.MethodGet)
	api.HandleFunc("/summary", s.getSummary).Methods(http.MethodGet)
	if s.Abort != nil {
		api.HandleFunc("/abort", s.abort).Methods(http.MethodPost)
	}

	origins := s.AllowedOrigins
	if len(origins) == 0 {
		origins = LocalOrigins
	}
	c := cors.New(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	})
	return c.Handler(router)
}

// ListenAndServe serves until ctx is done. An address without a host is
// bound to the loopback interface.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	addr = BindAddr(addr)
	srv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	observability.OrNop(s.Logger).Info("status server listening", observability.String("addr", addr))
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) listPages(w http.ResponseWriter, r *http.Request) {
	pages := s.Tracker.Pages()
	out := make([]pageView, len(pages))
	for i, p := range pages {
		out[i] = viewOf(p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getPage(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(mux.Vars(r)["number"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page number")
		return
	}
	p, ok := s.Tracker.Page(n)
	if !ok {
		writeError(w, http.StatusNotFound, "page not in range")
		return
	}
	writeJSON(w, http.StatusOK, viewOf(p))
}

func (s *Server) getSummary(w http.ResponseWriter, r *http.Request) {
	est := s.Tracker.Estimate()
	v := summaryView{
		Total:            est.Total,
		Done:             est.Done,
		ElapsedSeconds:   est.Elapsed.Seconds(),
		RemainingSeconds: est.Remaining.Seconds(),
		ProjectedSize:    est.ProjectedSize,
	}
	if sum, ok := s.Tracker.Summary(); ok {
		v.Finished = true
		v.Acquired = sum.Acquired
		v.Missing = sum.Missing
		v.Appended = sum.Appended
		v.Published = sum.Published
		v.Aborted = sum.Aborted
		v.Container = sum.Container
		v.ContainerSize = sum.ContainerSize
		if sum.Err != nil {
			v.Error = sum.Err.Error()
		}
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	if s.Token != "" {
		got := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.Token)) != 1 {
			writeError(w, http.StatusUnauthorized, "abort needs a valid token")
			return
		}
	}
	observability.OrNop(s.Logger).Info("abort requested over http", observability.String("remote", r.RemoteAddr))
	s.Abort()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "aborting"})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
