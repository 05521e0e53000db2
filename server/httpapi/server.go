// Package httpapi exposes maildock's admin HTTP API: listener status,
// runtime start/stop of protocol listeners and the Prometheus metrics
// endpoint.
package httpapi

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maildock/maildock/logger"
	"github.com/maildock/maildock/server"
)

// ManagedListener pairs a lifecycle-managed Server with the endpoint it is
// started on when driven through the API.
type ManagedListener struct {
	Server  *server.Server
	Address string
	Port    int
}

// ServerOptions holds configuration options for the admin API server.
type ServerOptions struct {
	Addr   string
	APIKey string
}

// Server is the admin HTTP API server.
type Server struct {
	addr      string
	apiKey    string
	listeners map[string]*ManagedListener // keyed by lowercase protocol kind
	server    *http.Server
}

// New creates the admin API server over the given managed listeners.
func New(listeners map[string]*ManagedListener, options ServerOptions) (*Server, error) {
	if options.APIKey == "" {
		return nil, fmt.Errorf("API key is required for the admin API server")
	}
	return &Server{
		addr:      options.Addr,
		apiKey:    options.APIKey,
		listeners: listeners,
	}, nil
}

// Start creates and runs the admin API server, reporting fatal errors on
// errChan. It returns when the server stops.
func Start(ctx context.Context, listeners map[string]*ManagedListener, options ServerOptions, errChan chan error) {
	s, err := New(listeners, options)
	if err != nil {
		errChan <- fmt.Errorf("failed to create admin API server: %w", err)
		return
	}
	logger.Info("starting admin API server", "addr", options.Addr)
	if err := s.start(ctx); err != nil && err != http.ErrServerClosed && ctx.Err() == nil {
		errChan <- fmt.Errorf("admin API server failed: %w", err)
	}
}

func (s *Server) start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.setupRoutes(),
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down admin API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down admin API server", "error", err)
		}
	}()

	return s.server.ListenAndServe()
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)

	// Metrics are exposed without authentication for scrapers.
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	v1 := router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.authMiddleware)
	v1.HandleFunc("/listeners", s.handleListListeners).Methods("GET")
	v1.HandleFunc("/listeners/{protocol}", s.handleGetListener).Methods("GET")
	v1.HandleFunc("/listeners/{protocol}/start", s.handleStartListener).Methods("POST")
	v1.HandleFunc("/listeners/{protocol}/stop", s.handleStopListener).Methods("POST")

	return router
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Debug("admin API request", "method", r.Method, "path", r.URL.Path, "remote", r.RemoteAddr, "duration", time.Since(start))
	})
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get("Authorization")
		key = strings.TrimPrefix(key, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// listenerStatus is the JSON representation of one managed listener.
type listenerStatus struct {
	Protocol string `json:"protocol"`
	Address  string `json:"address"`
	Port     int    `json:"port"`
	Active   bool   `json:"active"`
	BoundTo  string `json:"bound_to,omitempty"`
}

func (s *Server) status(name string, ml *ManagedListener) listenerStatus {
	st := listenerStatus{
		Protocol: name,
		Address:  ml.Address,
		Port:     ml.Port,
		Active:   ml.Server.Active(),
	}
	if addr := ml.Server.Addr(); addr != nil {
		st.BoundTo = addr.String()
	}
	return st
}

func (s *Server) handleListListeners(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(s.listeners))
	for name := range s.listeners {
		names = append(names, name)
	}
	sort.Strings(names)

	statuses := make([]listenerStatus, 0, len(names))
	for _, name := range names {
		statuses = append(statuses, s.status(name, s.listeners[name]))
	}
	writeJSON(w, http.StatusOK, statuses)
}

func (s *Server) handleGetListener(w http.ResponseWriter, r *http.Request) {
	name, ml, ok := s.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.status(name, ml))
}

func (s *Server) handleStartListener(w http.ResponseWriter, r *http.Request) {
	name, ml, ok := s.lookup(w, r)
	if !ok {
		return
	}
	if err := ml.Server.Start(ml.Address, ml.Port); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.status(name, ml))
}

func (s *Server) handleStopListener(w http.ResponseWriter, r *http.Request) {
	name, ml, ok := s.lookup(w, r)
	if !ok {
		return
	}
	ml.Server.Stop()
	writeJSON(w, http.StatusOK, s.status(name, ml))
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *ManagedListener, bool) {
	name := strings.ToLower(mux.Vars(r)["protocol"])
	ml, ok := s.listeners[name]
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown protocol '%s'", name))
		return "", nil, false
	}
	return name, ml, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
