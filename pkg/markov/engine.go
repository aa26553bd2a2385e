package markov

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// ErrNotReady is returned when a reply is requested before any chain has been
// loaded.
var ErrNotReady = errors.New("markov: no chain loaded")

// Snapshot is a loaded chain together with its identity.
type Snapshot struct {
	Chain    *Chain
	ID       uuid.UUID
	LoadedAt time.Time
}

// Engine serves replies from the current chain and swaps in rebuilt chains.
// Readers always see one complete chain; a failed rebuild keeps the previous
// one in service.
type Engine struct {
	tokenizer Tokenizer
	planner   *Planner
	order     int
	buildOpts []BuildOption
	current   atomic.Pointer[Snapshot]
	logger    *slog.Logger
}

// NewEngine creates an Engine that builds chains of the given order.
func NewEngine(tokenizer Tokenizer, planner *Planner, order int, buildOpts ...BuildOption) *Engine {
	return &Engine{
		tokenizer: tokenizer,
		planner:   planner,
		order:     order,
		buildOpts: buildOpts,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Engine. By default, all logs are discarded.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger != nil {
		e.logger = logger
	}
}

// Reload tokenizes messages, builds a new chain and makes it current.
func (e *Engine) Reload(ctx context.Context, messages []string) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	began := time.Now()
	opts := append([]BuildOption{WithLogger(e.logger)}, e.buildOpts...)
	chain, err := Build(TokenizeAll(e.tokenizer, messages), e.order, opts...)
	if err != nil {
		e.logger.ErrorContext(ctx, "Chain rebuild failed, keeping current chain", slog.Any("error", err))
		return nil, fmt.Errorf("failed to build chain: %w", err)
	}
	snap := e.Load(chain)
	e.logger.InfoContext(ctx, "Chain reloaded",
		slog.String("chain_id", snap.ID.String()),
		slog.Int("messages", len(messages)),
		slog.Duration("build_time", time.Since(began)),
	)
	return snap, nil
}

// Load makes a prebuilt chain current, for example one read from a Store.
func (e *Engine) Load(chain *Chain) *Snapshot {
	snap := &Snapshot{Chain: chain, ID: uuid.New(), LoadedAt: time.Now()}
	e.current.Store(snap)
	return snap
}

// Current returns the chain in service, or nil before the first load.
func (e *Engine) Current() *Snapshot {
	return e.current.Load()
}

// GenerateReply answers prompt from the current chain.
func (e *Engine) GenerateReply(ctx context.Context, prompt string) (Reply, error) {
	return e.GenerateReplyWith(ctx, prompt, nil)
}

// GenerateReplyWith is GenerateReply with an explicit randomness source.
func (e *Engine) GenerateReplyWith(ctx context.Context, prompt string, rng Rand) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}
	snap := e.current.Load()
	if snap == nil {
		return Reply{}, ErrNotReady
	}
	return e.planner.Reply(snap.Chain, prompt, rng)
}
