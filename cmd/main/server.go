package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/markovbaj/markovbaj/pkg/corpus"
	"github.com/markovbaj/markovbaj/pkg/markov"
)

// Server wires the chain engine, its store and the HTTP API together.
type Server struct {
	config    *Config
	db        *sql.DB
	logger    *slog.Logger
	store     *markov.Store
	engine    *markov.Engine
	sanitizer *corpus.Sanitizer
	markovAPI *MarkovAPI
	serverAPI *ServerAPI
	apiMux    *http.ServeMux

	// reloadMu serializes rebuilds from the corpus; replies never wait on it.
	reloadMu sync.Mutex
}

// buildOptions translates the markov config into chain build options.
func (c *MarkovConfig) buildOptions(logger *slog.Logger) []markov.BuildOption {
	normalizer, _ := markov.NormalizerByName(c.Normalizer)
	return []markov.BuildOption{
		markov.WithNormalizer(normalizer),
		markov.WithSecondStart(c.SecondStart),
		markov.WithLogger(logger),
	}
}

// loadOptions returns the options for loading a saved model. A saved model
// keeps the normalizer it was built with; the configured one only stands in
// for models built with a custom normalizer.
func (c *MarkovConfig) loadOptions(info markov.ModelInfo, logger *slog.Logger) []markov.BuildOption {
	opts := []markov.BuildOption{markov.WithLogger(logger)}
	if info.Normalizer == markov.NormalizerCustom {
		normalizer, _ := markov.NormalizerByName(c.Normalizer)
		opts = append(opts, markov.WithNormalizer(normalizer))
	}
	return opts
}

// loadSavedChain loads the model saved under name.
func loadSavedChain(ctx context.Context, store *markov.Store, c *MarkovConfig, name string, logger *slog.Logger) (*markov.Chain, error) {
	info, err := store.GetModelInfo(ctx, name)
	if err != nil {
		return nil, err
	}
	return store.LoadChain(ctx, name, c.loadOptions(info, logger)...)
}

// newEngine creates an engine and planner for the markov config.
func newEngine(c *MarkovConfig, logger *slog.Logger) *markov.Engine {
	tokenizer := markov.NewDefaultTokenizer()
	planner := markov.NewPlanner(tokenizer,
		markov.WithTrigger(c.Trigger),
		markov.WithUnrelatedChance(c.UnrelatedChance),
		markov.WithReplyMaxLength(c.MaxReplyLength),
		markov.WithPlannerLogger(logger),
	)
	engine := markov.NewEngine(tokenizer, planner, c.Order, c.buildOptions(logger)...)
	engine.SetLogger(logger)
	return engine
}

func NewServer(config *Config, logger *slog.Logger, db *sql.DB, actionChan chan string) (*Server, error) {

	store, err := markov.NewStore(db)
	if err != nil {
		return nil, fmt.Errorf("error creating markov store: %w", err)
	}
	store.SetLogger(logger)

	sanitizer, err := corpus.NewSanitizer(config.Corpus.Sanitizer)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to create sanitizer: %w", err)
	}
	sanitizer.SetLogger(logger)

	server := &Server{
		config:    config,
		db:        db,
		logger:    logger,
		store:     store,
		engine:    newEngine(config.Markov, logger),
		sanitizer: sanitizer,
		apiMux:    http.NewServeMux(),
	}

	// api initialization
	server.markovAPI = NewMarkovAPI(server, logger)
	server.serverAPI = NewServerAPI(server.engine, actionChan, logger)

	server.markovAPI.RegisterRoutes(server.apiMux)
	server.serverAPI.RegisterRoutes(server.apiMux)

	return server, nil
}

// Close releases the store's prepared statements. The database is owned by
// the caller.
func (s *Server) Close() {
	s.store.Close()
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.apiMux
}

// LoadInitial puts the first chain in service: the saved model when
// configured and present, otherwise a build from the corpus.
func (s *Server) LoadInitial(ctx context.Context) error {
	if s.config.Markov.LoadFromStore {
		chain, err := loadSavedChain(ctx, s.store, s.config.Markov, s.config.Markov.ModelName, s.logger)
		switch {
		case err == nil:
			snap := s.engine.Load(chain)
			s.logger.Info("Loaded saved model", "model", s.config.Markov.ModelName, "chain_id", snap.ID.String())
			return nil
		case errors.Is(err, markov.ErrModelNotFound):
			s.logger.Info("No saved model found, building from corpus", "model", s.config.Markov.ModelName)
		default:
			return fmt.Errorf("failed to load saved model: %w", err)
		}
	}
	_, err := s.ReloadFromCorpus(ctx)
	return err
}

// ReloadFromCorpus reads, sanitizes and rebuilds the corpus, swaps the new
// chain into service and saves it when configured.
func (s *Server) ReloadFromCorpus(ctx context.Context) (*markov.Snapshot, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	messages, err := corpus.Load(s.config.Corpus.Path)
	if err != nil {
		return nil, err
	}
	snap, err := s.engine.Reload(ctx, s.sanitizer.SanitizeAll(messages))
	if err != nil {
		return nil, err
	}

	if s.config.Markov.SaveOnBuild {
		if err = s.store.SaveChain(ctx, s.config.Markov.ModelName, snap.Chain); err != nil {
			// The new chain is already serving; only persistence failed.
			s.logger.Error("Failed to save rebuilt model", "model", s.config.Markov.ModelName, "error", err)
		}
	}
	return snap, nil
}

// Replace swaps chain into service and saves it under the configured model name.
func (s *Server) Replace(ctx context.Context, chain *markov.Chain) (*markov.Snapshot, error) {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if err := s.store.SaveChain(ctx, s.config.Markov.ModelName, chain); err != nil {
		return nil, err
	}
	return s.engine.Load(chain), nil
}
