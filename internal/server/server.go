// Package server exposes the node's five protocol endpoints over
// JSON/HTTP, plus a Prometheus metrics endpoint. Only FULL nodes run
// a server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/koi-net/koinet/internal/config"
	"github.com/koi-net/koinet/internal/network"
	"github.com/koi-net/koinet/internal/processor"
	"github.com/koi-net/koinet/internal/protocol"
)

// Server serves the node's knowledge to its peers.
type Server struct {
	proc     *processor.Processor
	response *network.ResponseHandler
	srv      *http.Server
	log      *slog.Logger
}

func New(cfg config.ServerConfig, proc *processor.Processor, response *network.ResponseHandler, registry *prometheus.Registry) *Server {
	s := &Server{
		proc:     proc,
		response: response,
		log:      slog.With("component", "server"),
	}

	r := mux.NewRouter()
	api := r.PathPrefix(cfg.Path).Subrouter()
	api.HandleFunc(protocol.BroadcastEventsPath, s.handleBroadcastEvents).Methods("POST")
	api.HandleFunc(protocol.PollEventsPath, s.handlePollEvents).Methods("POST")
	api.HandleFunc(protocol.FetchRidsPath, s.handleFetchRids).Methods("POST")
	api.HandleFunc(protocol.FetchManifestsPath, s.handleFetchManifests).Methods("POST")
	api.HandleFunc(protocol.FetchBundlesPath, s.handleFetchBundles).Methods("POST")

	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.srv = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}
	return s
}

// Handler returns the server's root handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start blocks serving requests until Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// handleBroadcastEvents accepts a batch of events from a peer. The
// events are queued for processing and the request returns immediately;
// the sender gets no feedback about what the pipeline does with them.
func (s *Server) handleBroadcastEvents(w http.ResponseWriter, r *http.Request) {
	var req protocol.EventsPayload
	if !s.decode(w, r, &req) {
		return
	}
	s.log.Info("received events batch", "count", len(req.Events))
	for _, event := range req.Events {
		s.proc.HandleEvent(event, processor.SourceExternal)
	}
	s.respond(w, struct{}{})
}

// handlePollEvents drains the caller's poll queue, up to the requested
// limit. Unknown pollers get an empty payload, not an error.
func (s *Server) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	var req protocol.PollEvents
	if !s.decode(w, r, &req) {
		return
	}
	events := s.proc.Network.FlushPollQueue(req.RID, req.Limit)
	s.respond(w, protocol.EventsPayload{Events: events})
}

func (s *Server) handleFetchRids(w http.ResponseWriter, r *http.Request) {
	var req protocol.FetchRids
	if !s.decode(w, r, &req) {
		return
	}
	payload, err := s.response.FetchRids(req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, payload)
}

func (s *Server) handleFetchManifests(w http.ResponseWriter, r *http.Request) {
	var req protocol.FetchManifests
	if !s.decode(w, r, &req) {
		return
	}
	payload, err := s.response.FetchManifests(req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, payload)
}

func (s *Server) handleFetchBundles(w http.ResponseWriter, r *http.Request) {
	var req protocol.FetchBundles
	if !s.decode(w, r, &req) {
		return
	}
	payload, err := s.response.FetchBundles(req)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.respond(w, payload)
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func (s *Server) respond(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	s.log.Warn("request failed", "error", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
