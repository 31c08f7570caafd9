// Package status serves the read-only observability API for the scheduler:
// current phase, resume point, last run and the feed catalog. The API carries
// no authentication and is meant to listen on localhost or an internal
// network only.
package status

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"stormsync/internal/config"
	"stormsync/internal/scheduler"
	"stormsync/internal/types"
)

// readHeaderTimeout bounds how long a client may dribble request headers.
const readHeaderTimeout = 5 * time.Second

// StateSource provides the scheduler view served by /v1/state.
type StateSource interface {
	Snapshot() scheduler.Snapshot
}

// Config holds the configuration for creating a Server.
type Config struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string
	// State is the scheduler the API reports on.
	State StateSource
	// Feeds is the catalog served by /v1/feeds.
	Feeds []types.FeedDescriptor
	// Build stamps the health endpoint.
	Build  config.BuildInfo
	Logger *slog.Logger
}

// Server is the status HTTP server.
type Server struct {
	httpServer *http.Server
	state      StateSource
	feeds      []types.FeedDescriptor
	build      config.BuildInfo
	logger     *slog.Logger
}

// NewServer creates a Server listening on cfg.Addr.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		state:  cfg.State,
		feeds:  cfg.Feeds,
		build:  cfg.Build,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealth)
	r.Route("/v1", func(r chi.Router) {
		r.Get("/state", s.handleState)
		r.Get("/feeds", s.handleFeeds)
		// Feed ids contain slashes ("CONUS/PrecipRate_00.00"), so the
		// lookup route is a wildcard rather than a single param.
		r.Get("/feeds/*", s.handleFeed)
	})

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s
}

// Handler returns the route tree, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe serves the API until Shutdown. A cleanly closed server
// returns nil.
func (s *Server) ListenAndServe() error {
	s.logger.Info("status API listening", "addr", s.httpServer.Addr)
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthResponse is the GET /healthz body.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:  "healthy",
		Version: s.build.Version,
		Commit:  s.build.Commit,
	})
}

func (s *Server) handleState(w http.ResponseWriter, _ *http.Request) {
	if s.state == nil {
		writeError(w, types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"scheduler state unavailable",
			nil,
		))
		return
	}
	writeJSON(w, http.StatusOK, s.state.Snapshot())
}

// feedView is the wire shape of one catalog entry.
type feedView struct {
	ID        string `json:"id"`
	Product   string `json:"product"`
	Bucket    string `json:"bucket"`
	Region    string `json:"region"`
	Modifier  string `json:"modifier,omitempty"`
	Layout    string `json:"layout"`
	OutputDir string `json:"output_dir"`
	MultiPart bool   `json:"multi_part"`
}

type feedListResponse struct {
	Feeds []feedView `json:"feeds"`
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	views := make([]feedView, len(s.feeds))
	for i, feed := range s.feeds {
		views[i] = newFeedView(feed)
	}
	writeJSON(w, http.StatusOK, feedListResponse{Feeds: views})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "*")
	for _, feed := range s.feeds {
		if feed.ID() == id {
			writeJSON(w, http.StatusOK, newFeedView(feed))
			return
		}
	}
	writeError(w, types.NewAppError(
		types.ErrCodeNotFoundFeed,
		fmt.Sprintf("feed %s is not configured", id),
		nil,
	))
}

func newFeedView(feed types.FeedDescriptor) feedView {
	return feedView{
		ID:        feed.ID(),
		Product:   feed.Product(),
		Bucket:    feed.Bucket,
		Region:    feed.Region,
		Modifier:  feed.Modifier,
		Layout:    string(feed.Layout),
		OutputDir: feed.OutputDir,
		MultiPart: feed.MultiPart,
	}
}
