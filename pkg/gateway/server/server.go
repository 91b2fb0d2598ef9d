// Package server wires the handlers, middleware, and routes.
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/parley-ai/parley/pkg/gateway/auth"
	"github.com/parley-ai/parley/pkg/gateway/config"
	"github.com/parley-ai/parley/pkg/gateway/handlers"
	"github.com/parley-ai/parley/pkg/gateway/media"
	"github.com/parley-ai/parley/pkg/gateway/mw"
	"github.com/parley-ai/parley/pkg/gateway/turn"
)

// Deps are the constructed dependencies the routes need.
type Deps struct {
	Store       handlers.ConversationStore
	Runner      handlers.TurnRunner
	Transcriber turn.Transcriber
	Media       *media.Library
	Images      handlers.ImageGenerator
	Verifier    *auth.Verifier
	// Ping reports database reachability for the readiness probe.
	Ping func(ctx context.Context) error
}

type Server struct {
	cfg    config.Config
	logger *slog.Logger
	mux    *http.ServeMux
}

func New(cfg config.Config, logger *slog.Logger, deps Deps) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:    cfg,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.routes(deps)
	return s
}

func (s *Server) routes(deps Deps) {
	s.mux.Handle("GET /healthz", handlers.HealthHandler{})
	s.mux.Handle("GET /readyz", handlers.ReadyHandler{Ping: deps.Ping})

	conversations := handlers.ConversationsHandler{
		Store:  deps.Store,
		Logger: s.logger,
	}
	messages := handlers.MessagesHandler{
		Runner:       deps.Runner,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		TurnTimeout:  s.cfg.TurnTimeout,
		Logger:       s.logger,
	}
	transcriptions := handlers.TranscriptionsHandler{
		Transcriber:  deps.Transcriber,
		MaxBodyBytes: s.cfg.MaxBodyBytes,
		Logger:       s.logger,
	}

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/conversations", conversations.Create)
	api.HandleFunc("GET /v1/conversations", conversations.List)
	api.HandleFunc("GET /v1/conversations/{id}", conversations.Get)
	api.HandleFunc("DELETE /v1/conversations/{id}", conversations.Delete)
	api.HandleFunc("PATCH /v1/conversations/{id}/title", conversations.Rename)
	api.HandleFunc("POST /v1/conversations/{id}/messages", messages.Send)
	api.HandleFunc("PUT /v1/conversations/{id}/messages/{pair}", messages.Edit)
	api.Handle("POST /v1/transcriptions", transcriptions)
	api.Handle("GET /v1/media/{path...}", handlers.MediaHandler{Resolver: deps.Media})
	api.Handle("POST /v1/images", handlers.ImagesHandler{
		Generator: deps.Images,
		Media:     deps.Media,
		Logger:    s.logger,
	})

	// Everything under /v1/ requires a session.
	s.mux.Handle("/v1/", mw.Auth(deps.Verifier, api))
}

func (s *Server) Handler() http.Handler {
	var h http.Handler = s.mux
	h = mw.Recover(s.logger, h)
	h = mw.AccessLog(s.logger, h)
	h = mw.RequestID(h)
	return h
}
