// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package api exposes the daemon's authenticated HTTP API: mind lifecycle
// and message delivery, connector management, and operational log/event
// streams for operators. Adapted from the teacher's internal/api/router.go
// (gorilla/mux, the same global middleware stack, the same Server/
// ListenAndServe/Shutdown shape) down to the endpoint set spec §6 names.
package api

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/volute/volute/internal/api/handlers"
	"github.com/volute/volute/internal/api/middleware"
	"github.com/volute/volute/internal/connector"
	"github.com/volute/volute/internal/delivery"
	"github.com/volute/volute/internal/events"
	"github.com/volute/volute/internal/mind"
	"github.com/volute/volute/internal/registry"
)

// ServerConfig holds configuration for the API server.
type ServerConfig struct {
	Host  string
	Port  int
	Token string // bearer token every /api request must present
}

// Dependencies holds every component the API surfaces.
type Dependencies struct {
	Registry   *registry.Store
	Minds      *mind.Manager
	Connectors *connector.Manager
	Delivery   *delivery.Manager
	Bus        events.EventBus
	DaemonLog  string // path to daemon.log, for GET /api/system/logs
}

// NewRouter builds the full mux.Router for the daemon.
func NewRouter(token string, deps Dependencies) *mux.Router {
	r := mux.NewRouter()

	r.Use(middleware.Logging)
	r.Use(middleware.Recovery)
	r.Use(middleware.CORS)

	r.HandleFunc("/healthz", healthz).Methods("GET")

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.Use(middleware.Auth(token))

	mindHandler := handlers.NewMindHandler(deps.Registry, deps.Minds, deps.Connectors, deps.Delivery)
	apiRouter.HandleFunc("/minds", mindHandler.List).Methods("GET")
	apiRouter.HandleFunc("/minds/{name}", mindHandler.Get).Methods("GET")
	apiRouter.HandleFunc("/minds/{name}/message", mindHandler.Message).Methods("POST")
	apiRouter.HandleFunc("/minds/{name}/start", mindHandler.Start).Methods("POST")
	apiRouter.HandleFunc("/minds/{name}/stop", mindHandler.Stop).Methods("POST")
	apiRouter.HandleFunc("/minds/{name}/restart", mindHandler.Restart).Methods("POST")
	apiRouter.HandleFunc("/minds/{name}/typing", mindHandler.Typing).Methods("POST")
	apiRouter.HandleFunc("/minds/{name}/connectors/{type}", mindHandler.AddConnector).Methods("POST")
	apiRouter.HandleFunc("/minds/{name}/connectors/{type}", mindHandler.RemoveConnector).Methods("DELETE")

	eventHandler := handlers.NewEventHandler(deps.Bus)
	apiRouter.HandleFunc("/events", eventHandler.History).Methods("GET")
	apiRouter.HandleFunc("/events/ws", eventHandler.WebSocket).Methods("GET")

	if deps.DaemonLog != "" {
		logHandler := handlers.NewLogHandler(deps.DaemonLog)
		apiRouter.HandleFunc("/system/logs", logHandler.Stream).Methods("GET")
	}

	return r
}

func healthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

// Server represents the daemon's HTTP API server.
type Server struct {
	router *mux.Router
	cfg    ServerConfig
	server *http.Server
}

// NewServer creates a new API server.
func NewServer(cfg ServerConfig, deps Dependencies) *Server {
	return &Server{router: NewRouter(cfg.Token, deps), cfg: cfg}
}

// Router returns the underlying router, mainly for tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ListenAndServe starts the server. Returns http.ErrServerClosed on a
// clean Shutdown.
func (s *Server) ListenAndServe() error {
	addr := s.cfg.Host + ":" + strconv.Itoa(s.cfg.Port)
	s.server = &http.Server{Addr: addr, Handler: s.router}
	log.Printf("API server listening on http://%s", addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	log.Println("shutting down API server")
	shutdownCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
