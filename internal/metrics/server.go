package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Valves is the control surface the admin routes act on
type Valves interface {
	// CloseValve closes an open valve and reports whether it was open
	CloseValve(id int64) (bool, error)
	// Status returns a JSON-encodable view of all sensors
	Status() any
}

// NewHandler returns the HTTP routes: /metrics, /healthz, GET /valves and
// POST /valves/{id}/close. valves may be nil, which leaves out the valve routes.
func NewHandler(valves Valves) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if valves == nil {
		return mux
	}

	mux.HandleFunc("GET /valves", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, valves.Status())
	})
	mux.HandleFunc("POST /valves/{id}/close", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid sensor id"})
			return
		}
		closed, err := valves.CloseValve(id)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]any{"sensor_id": id, "closed": closed, "error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sensor_id": id, "closed": closed})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

// Server serves the HTTP routes until its context is cancelled
type Server struct {
	srv *http.Server
}

// NewServer creates a server on addr
func NewServer(addr string, valves Valves) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           NewHandler(valves),
			ReadHeaderTimeout: 5 * time.Second,
		},
	}
}

// Run listens and serves until ctx is cancelled
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("HTTP listening on %s", s.srv.Addr)
		errCh <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}
