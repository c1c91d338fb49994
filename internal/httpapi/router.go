package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"mhw-backend/internal/services"
)

// StatusProvider exposes the controller snapshot
type StatusProvider interface {
	Status() services.Status
}

// NewRouter builds the read-only status API
func NewRouter(provider StatusProvider) *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/status", statusHandler(provider)).Methods("GET")
	r.HandleFunc("/records/latest", latestRecordHandler(provider)).Methods("GET")

	return r
}

// Serve runs the status API on addr until ctx is cancelled
func Serve(ctx context.Context, addr string, provider StatusProvider) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handlers.LoggingHandler(os.Stdout, NewRouter(provider)),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Status API: shutdown error: %v", err)
		}
	}()

	log.Printf("Status API listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func statusHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, provider.Status())
	}
}

func latestRecordHandler(provider StatusProvider) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := provider.Status()
		if status.LastTick == nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no tick recorded yet"})
			return
		}
		writeJSON(w, http.StatusOK, status.LastTick)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Status API: failed to encode response: %v", err)
	}
}
