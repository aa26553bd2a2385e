package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/markovbaj/markovbaj/pkg/markov"
)

// maxQueryLength is the longest prompt, in characters, the query endpoint accepts.
const maxQueryLength = 500

// MarkovAPI holds the dependencies for the query and model API handlers.
type MarkovAPI struct {
	server *Server
	logger *slog.Logger
}

// NewMarkovAPI creates a new instance of the MarkovAPI.
func NewMarkovAPI(server *Server, logger *slog.Logger) *MarkovAPI {
	return &MarkovAPI{
		server: server,
		logger: logger,
	}
}

// RegisterRoutes sets up the routing for the query and /api/markov endpoints.
func (m *MarkovAPI) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/query", m.handleQuery)
	mux.HandleFunc("/api/markov/stats", m.handleStats)
	mux.HandleFunc("/api/markov/reload", m.handleReload)
	mux.HandleFunc("/api/markov/prune", m.handlePrune)
	mux.HandleFunc("/api/markov/export", m.handleExport)
	mux.HandleFunc("/api/markov/import", m.handleImport)
	mux.HandleFunc("/api/markov/models", m.handleListModels)
	mux.HandleFunc("/api/markov/models/", m.handleModelByName)
}

type QueryResponse struct {
	Input      string `json:"input"`
	Reply      string `json:"reply"`
	Contextual bool   `json:"contextual"`
}

type PruneRequest struct {
	MinFreq int `json:"minFreq"`
}

type ChainResponse struct {
	ChainID  string       `json:"chain_id"`
	LoadedAt time.Time    `json:"loaded_at"`
	Stats    markov.Stats `json:"stats"`
}

func chainResponse(snap *markov.Snapshot) ChainResponse {
	return ChainResponse{
		ChainID:  snap.ID.String(),
		LoadedAt: snap.LoadedAt,
		Stats:    snap.Chain.Stats(),
	}
}

// handleQuery answers a prompt from the chain in service.
func (m *MarkovAPI) handleQuery(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	input := r.URL.Query().Get("input")
	if utf8.RuneCountInString(input) > maxQueryLength {
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Input must be at most %d characters", maxQueryLength))
		return
	}

	reply, err := m.server.engine.GenerateReply(r.Context(), input)
	if err != nil {
		if errors.Is(err, markov.ErrNotReady) {
			respondWithError(w, http.StatusServiceUnavailable, "No chain loaded yet")
			return
		}
		m.logger.Error("Failed to generate reply", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to generate reply: %v", err))
		return
	}

	m.logger.Debug("Answered query", "input", input, "reply", reply.Text, "contextual", reply.Contextual)
	respondWithJSON(w, http.StatusOK, QueryResponse{Input: input, Reply: reply.Text, Contextual: reply.Contextual})
}

// handleStats returns statistics for the chain in service.
func (m *MarkovAPI) handleStats(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap := m.server.engine.Current()
	if snap == nil {
		respondWithError(w, http.StatusServiceUnavailable, "No chain loaded yet")
		return
	}
	respondWithJSON(w, http.StatusOK, chainResponse(snap))
}

// handleReload rebuilds the chain from the corpus.
func (m *MarkovAPI) handleReload(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	snap, err := m.server.ReloadFromCorpus(r.Context())
	if err != nil {
		m.logger.Error("Failed to reload chain", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Reload failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, chainResponse(snap))
}

// handlePrune replaces the chain in service with a pruned copy.
func (m *MarkovAPI) handlePrune(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	var req PruneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid JSON request body")
		return
	}
	if req.MinFreq < 0 {
		respondWithError(w, http.StatusBadRequest, "minFreq must not be negative")
		return
	}
	current := m.server.engine.Current()
	if current == nil {
		respondWithError(w, http.StatusServiceUnavailable, "No chain loaded yet")
		return
	}

	snap, err := m.server.Replace(r.Context(), current.Chain.Prune(req.MinFreq))
	if err != nil {
		m.logger.Error("Failed to save pruned chain", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Pruning failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusOK, chainResponse(snap))
}

// handleExport streams the chain in service as JSON.
func (m *MarkovAPI) handleExport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	snap := m.server.engine.Current()
	if snap == nil {
		respondWithError(w, http.StatusServiceUnavailable, "No chain loaded yet")
		return
	}
	name := m.server.config.Markov.ModelName
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s.json\"", name))
	if err := markov.ExportChain(w, name, snap.Chain); err != nil {
		m.logger.Error("Failed to export chain", "name", name, "error", err)
	}
}

// handleImport puts an uploaded JSON chain into service.
func (m *MarkovAPI) handleImport(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}

	chain, name, err := markov.ImportChain(r.Body, markov.WithLogger(m.logger))
	if err != nil {
		m.logger.Error("Failed to import chain", "error", err)
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Import failed: %v", err))
		return
	}
	if chain.Order() != m.server.config.Markov.Order {
		m.logger.Warn("Imported chain order differs from configuration",
			"name", name, "imported_order", chain.Order(), "configured_order", m.server.config.Markov.Order)
	}

	snap, err := m.server.Replace(r.Context(), chain)
	if err != nil {
		m.logger.Error("Failed to save imported chain", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Import failed: %v", err))
		return
	}
	respondWithJSON(w, http.StatusAccepted, chainResponse(snap))
}

// handleListModels lists the models saved in the database.
func (m *MarkovAPI) handleListModels(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	models, err := m.server.store.ListModels(r.Context())
	if err != nil {
		m.logger.Error("Failed to list models", "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to retrieve models: %v", err))
		return
	}
	if models == nil {
		models = []markov.ModelInfo{}
	}
	respondWithJSON(w, http.StatusOK, models)
}

// handleModelByName deletes a saved model.
func (m *MarkovAPI) handleModelByName(w http.ResponseWriter, r *http.Request) {
	modelName := strings.TrimPrefix(r.URL.Path, "/api/markov/models/")
	if modelName == "" || strings.Contains(modelName, "/") {
		respondWithError(w, http.StatusBadRequest, "Model name not specified")
		return
	}
	if !allowMethod(w, r, http.MethodDelete) {
		return
	}

	if err := m.server.store.RemoveModel(r.Context(), modelName); err != nil {
		if errors.Is(err, markov.ErrModelNotFound) {
			respondWithError(w, http.StatusNotFound, "Model not found")
			return
		}
		m.logger.Error("Failed to remove model", "name", modelName, "error", err)
		respondWithError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to remove model: %v", err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
