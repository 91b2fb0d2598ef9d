// Package handlers implements the HTTP API.
package handlers

import (
	"context"
	"net/http"
)

type HealthHandler struct{}

func (HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok\n"))
}

// ReadyHandler reports readiness by pinging the database.
type ReadyHandler struct {
	Ping func(ctx context.Context) error
}

func (h ReadyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}
