// Package server provides HTTP server initialization and lifecycle
// management for the chat API.
package server

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/brieflens/brieflens/internal/agent"
	"github.com/brieflens/brieflens/internal/api"
	"github.com/brieflens/brieflens/internal/config"
	"github.com/brieflens/brieflens/internal/session"
	"github.com/brieflens/brieflens/internal/storage"
)

// Start wires the routes and starts the HTTP server. Returns the actual
// address being listened on (useful for testing with port 0) and the event
// hub for wiring turn and summarization broadcasts.
func Start(ctx context.Context, cfg *config.Config, sessions *session.Manager, orchestrator *agent.Orchestrator, store storage.Store) (string, *api.EventHub, error) {
	mux := http.NewServeMux()

	hub := api.NewEventHub([]string{
		fmt.Sprintf("localhost:%d", cfg.Server.Port),
		fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port),
	})
	go hub.Run()

	handlers := api.NewHandlers(sessions, orchestrator, store, "")
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst)

	apiMux := http.NewServeMux()
	apiMux.HandleFunc("POST /api/sessions", handlers.CreateSession)
	apiMux.HandleFunc("POST /api/sessions/{id}/messages", handlers.PostMessage)
	apiMux.HandleFunc("GET /api/sessions/{id}/messages", handlers.ListMessages)
	apiMux.HandleFunc("DELETE /api/sessions/{id}", handlers.DeleteSession)

	// Health endpoint stays outside auth for monitoring.
	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	})

	mux.Handle("/api/", api.RequireAuth(apiMux, cfg))

	// Event stream; origin validation happens in the upgrade.
	mux.Handle("/ws", hub)

	handler := api.RateLimitMiddleware(mux, rateLimiter)
	handler = api.SecurityHeaders(handler)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	// WriteTimeout stays generous: message responses are long-lived SSE
	// streams.
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return "", nil, fmt.Errorf("server: listen on %s: %w", addr, err)
	}
	actualAddr := listener.Addr().String()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: server error: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("ERROR: server shutdown: %v", err)
		}
		hub.Stop()
	}()

	return actualAddr, hub, nil
}
