package main

import (
	"log/slog"
	"net/http"

	"github.com/markovbaj/markovbaj/pkg/markov"
)

const (
	actionShutdown = "shutdown"
	actionRestart  = "restart"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// ServerAPI holds the dependencies for the health and lifecycle handlers.
type ServerAPI struct {
	engine     *markov.Engine
	actionChan chan string
	logger     *slog.Logger
}

// VersionInfo defines the structure for build/version information.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
}

// HealthResponse reports whether a chain is serving.
type HealthResponse struct {
	Status      string `json:"status"`
	ChainLoaded bool   `json:"chain_loaded"`
}

// NewServerAPI creates a new instance of the ServerAPI.
func NewServerAPI(engine *markov.Engine, actionChan chan string, logger *slog.Logger) *ServerAPI {
	return &ServerAPI{
		engine:     engine,
		actionChan: actionChan,
		logger:     logger,
	}
}

// RegisterRoutes sets up the routing for the health check and /api/server endpoints.
func (a *ServerAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", a.handleHealthCheck)
	mux.HandleFunc("/api/server/version", a.handleVersion)
	mux.HandleFunc("/api/server/shutdown", a.handleShutdown)
	mux.HandleFunc("/api/server/restart", a.handleRestart)
}

// handleHealthCheck is unauthenticated so something like docker can use it.
// It answers 503 until the first chain is loaded.
func (a *ServerAPI) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	if a.engine.Current() == nil {
		respondWithJSON(w, http.StatusServiceUnavailable, HealthResponse{Status: "starting"})
		return
	}
	respondWithJSON(w, http.StatusOK, HealthResponse{Status: "ok", ChainLoaded: true})
}

// handleVersion returns the application's build information.
func (a *ServerAPI) handleVersion(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	info := VersionInfo{
		Version:   Version,
		Commit:    Commit,
		BuildDate: BuildDate,
	}
	respondWithJSON(w, http.StatusOK, info)
}

// handleShutdown initiates a graceful shutdown of the server.
func (a *ServerAPI) handleShutdown(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	a.logger.Warn("Shutdown initiated via API")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server is shutting down..."})

	go func() {
		a.actionChan <- actionShutdown
	}()
}

// handleRestart initiates a graceful restart of the server, which reloads the
// configuration and the chain.
func (a *ServerAPI) handleRestart(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	a.logger.Warn("Restart initiated via API")
	respondWithJSON(w, http.StatusAccepted, map[string]string{"message": "Server is restarting..."})

	go func() {
		a.actionChan <- actionRestart
	}()
}
