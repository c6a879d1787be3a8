// Package main provides a small demo backend for exercising the proxy.
// It reports its pool and release on every path and can be flipped into a
// failing state at runtime to simulate a broken deployment.
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

type app struct {
	pool    string
	release string
	failing atomic.Bool
	logger  zerolog.Logger
}

func main() {
	pool := os.Getenv("APP_POOL")
	if pool == "" {
		pool = "blue"
	}
	release := os.Getenv("RELEASE_ID")
	if release == "" {
		release = "dev"
	}
	port := os.Getenv("APP_PORT")
	if port == "" {
		port = "8000"
	}

	log := zerolog.New(os.Stdout).
		With().
		Timestamp().
		Str("service", "chaosapp").
		Str("pool", pool).
		Str("release", release).
		Logger()

	a := &app{pool: pool, release: release, logger: log}
	if os.Getenv("CHAOS_MODE") == "true" {
		a.failing.Store(true)
		log.Warn().Msg("starting in failing mode")
	}

	r := chi.NewRouter()
	r.Get("/healthz", a.healthz)
	r.Get("/version", a.version)
	r.Post("/chaos/on", a.chaosOn)
	r.Post("/chaos/off", a.chaosOff)
	r.Handle("/*", http.HandlerFunc(a.serve))

	server := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx) //nolint:errcheck // demo binary
	log.Info().Msg("stopped")
}

// serve answers any method and path so the proxy can be exercised with
// arbitrary traffic.
func (a *app) serve(w http.ResponseWriter, r *http.Request) {
	if a.failing.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "simulated failure",
			"pool":  a.pool,
		})
		return
	}

	w.Header().Set("X-App-Pool", a.pool)
	w.Header().Set("X-Release-Id", a.release)
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":    a.pool,
		"release": a.release,
		"path":    r.URL.Path,
	})
}

func (a *app) healthz(w http.ResponseWriter, _ *http.Request) {
	if a.failing.Load() {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"status": "failing"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) version(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("X-App-Pool", a.pool)
	w.Header().Set("X-Release-Id", a.release)
	writeJSON(w, http.StatusOK, map[string]string{
		"pool":    a.pool,
		"release": a.release,
	})
}

func (a *app) chaosOn(w http.ResponseWriter, _ *http.Request) {
	a.failing.Store(true)
	a.logger.Warn().Msg("chaos enabled")
	writeJSON(w, http.StatusOK, map[string]bool{"failing": true})
}

func (a *app) chaosOff(w http.ResponseWriter, _ *http.Request) {
	a.failing.Store(false)
	a.logger.Info().Msg("chaos disabled")
	writeJSON(w, http.StatusOK, map[string]bool{"failing": false})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload) //nolint:errcheck // response already committed
}
