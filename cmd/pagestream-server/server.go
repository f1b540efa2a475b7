package main

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/Sternrassler/pagestream/internal/catalog"
	"github.com/Sternrassler/pagestream/pkg/loadstate"
	"github.com/Sternrassler/pagestream/pkg/metrics"
	"github.com/Sternrassler/pagestream/pkg/source"
	"github.com/Sternrassler/pagestream/pkg/stream"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// productStream is the consumer surface the handlers need.
type productStream interface {
	Snapshot() stream.Snapshot[catalog.Product]
	RequestMore(dir source.Direction) error
	Refresh() error
	Retry() error
}

type server struct {
	stream productStream
	ready  func(ctx context.Context) error
	logger zerolog.Logger
}

func newServer(s productStream, ready func(ctx context.Context) error, logger zerolog.Logger) *server {
	if ready == nil {
		ready = func(context.Context) error { return nil }
	}
	return &server{stream: s, ready: ready, logger: logger}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", healthHandler)
	mux.HandleFunc("GET /ready", s.readyHandler)
	mux.HandleFunc("GET /state", s.stateHandler)
	mux.HandleFunc("GET /items", s.itemsHandler)
	mux.HandleFunc("POST /more", s.moreHandler)
	mux.HandleFunc("POST /refresh", s.actionHandler("refresh", s.stream.Refresh))
	mux.HandleFunc("POST /retry", s.actionHandler("retry", s.stream.Retry))
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (s *server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Readiness check failed")
		http.Error(w, "mirror unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type signalView struct {
	Kind      string `json:"kind"`
	Operation string `json:"operation,omitempty"`
	Tier      string `json:"tier,omitempty"`
	Error     string `json:"error,omitempty"`
}

type tierView struct {
	Local  string `json:"local"`
	Remote string `json:"remote"`
}

type retryView struct {
	Operation string   `json:"operation"`
	Tiers     []string `json:"tiers"`
	Key       string   `json:"key"`
}

type stateView struct {
	Version uint64              `json:"version"`
	Signal  signalView          `json:"signal"`
	States  map[string]tierView `json:"states"`
	Retry   *retryView          `json:"retry,omitempty"`
	Before  string              `json:"before"`
	After   string              `json:"after"`
	Items   int                 `json:"items"`
	Closed  bool                `json:"closed"`
}

type itemsView struct {
	Version uint64            `json:"version"`
	Items   []catalog.Product `json:"items"`
	Before  string            `json:"before"`
	After   string            `json:"after"`
}

func viewOf(snap stream.Snapshot[catalog.Product]) stateView {
	view := stateView{
		Version: snap.Version,
		Signal:  signalViewOf(snap.Signal),
		States:  make(map[string]tierView, len(loadstate.Operations)),
		Before:  snap.Before.String(),
		After:   snap.After.String(),
		Items:   len(snap.Items),
		Closed:  snap.Closed,
	}

	for _, op := range loadstate.Operations {
		local, remote := snap.State.Of(op)
		view.States[op.String()] = tierView{Local: local.String(), Remote: remote.String()}
	}

	if snap.Retry != nil {
		rv := &retryView{Operation: snap.Retry.Operation.String(), Key: snap.Retry.Key.String()}
		for _, tier := range snap.Retry.Tiers {
			rv.Tiers = append(rv.Tiers, tier.String())
		}
		view.Retry = rv
	}

	return view
}

func signalViewOf(sig loadstate.Signal) signalView {
	view := signalView{Kind: sig.Kind.String()}
	if sig.Failed() {
		view.Operation = sig.Operation.String()
		view.Tier = sig.Tier.String()
		if sig.Err != nil {
			view.Error = sig.Err.Error()
		}
	}
	return view
}

func (s *server) stateHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, viewOf(s.stream.Snapshot()))
}

func (s *server) itemsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.stream.Snapshot()
	items := snap.Items

	// optional paging of the visible window
	if v := r.URL.Query().Get("offset"); v != "" {
		off, err := strconv.Atoi(v)
		if err != nil || off < 0 {
			http.Error(w, "invalid offset", http.StatusBadRequest)
			return
		}
		if off > len(items) {
			off = len(items)
		}
		items = items[off:]
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		if n < len(items) {
			items = items[:n]
		}
	}

	s.writeJSON(w, http.StatusOK, itemsView{
		Version: snap.Version,
		Items:   items,
		Before:  snap.Before.String(),
		After:   snap.After.String(),
	})
}

func (s *server) moreHandler(w http.ResponseWriter, r *http.Request) {
	dir, err := source.ParseDirection(r.URL.Query().Get("direction"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.actionHandler("more", func() error { return s.stream.RequestMore(dir) })(w, r)
}

func (s *server) actionHandler(name string, action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(); err != nil {
			status := statusFor(err)
			s.logger.Debug().Err(err).Str("action", name).Int("status", status).Msg("Stream call rejected")
			http.Error(w, err.Error(), status)
			return
		}
		s.writeJSON(w, http.StatusAccepted, viewOf(s.stream.Snapshot()))
	}
}

// statusFor maps stream misuse errors to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, stream.ErrInvalidDirection):
		return http.StatusBadRequest
	case errors.Is(err, stream.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, stream.ErrNothingToRetry),
		errors.Is(err, stream.ErrEndOfList),
		errors.Is(err, stream.ErrNoWindow):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to write response")
	}
}
