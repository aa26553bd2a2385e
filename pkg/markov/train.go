package markov

import (
	"fmt"
	"log/slog"
)

// buildOptions configures Build.
type buildOptions struct {
	normalizer    Normalizer
	normalizerSet bool
	secondStart   bool
	logger        *slog.Logger
}

// BuildOption is a function that configures how a chain is built.
type BuildOption func(*buildOptions)

// WithNormalizer sets the strategy used to compare windows.
// Default: FoldNormalizer
func WithNormalizer(n Normalizer) BuildOption {
	return func(o *buildOptions) {
		if n != nil {
			o.normalizer = n
			o.normalizerSet = true
		}
	}
}

// WithSecondStart controls whether the window at offset 1 of every message is
// recorded as a chain start in addition to the window at offset 0.
// Default: true
func WithSecondStart(enabled bool) BuildOption {
	return func(o *buildOptions) { o.secondStart = enabled }
}

// WithLogger sets the logger used while building and by the resulting chain.
// By default, all logs are discarded.
func WithLogger(logger *slog.Logger) BuildOption {
	return func(o *buildOptions) { o.logger = logger }
}

func defaultBuildOptions() *buildOptions {
	return &buildOptions{
		normalizer:  FoldNormalizer,
		secondStart: true,
	}
}

// Build trains a chain of the given order from tokenized messages. Each message
// contributes its first window (and, unless disabled, its window at offset 1)
// to the chain starts, and every run of order+1 tokens over the message plus a
// trailing end marker to the transition table.
func Build(corpus [][]Token, order int, opts ...BuildOption) (*Chain, error) {
	if order < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidOrder, order)
	}
	if len(corpus) == 0 {
		return nil, ErrEmptyCorpus
	}

	options := defaultBuildOptions()
	for _, opt := range opts {
		opt(options)
	}

	c := newChain(order, options.normalizer, options.logger)

	var tokenCount int
	ids := make([]int, 0, 64)
	keys := make([]int, 0, 64)
	for _, message := range corpus {
		ids = ids[:0]
		keys = keys[:0]
		for _, t := range message {
			if t.Kind == EndToken {
				continue
			}
			id := c.intern(t)
			ids = append(ids, id)
			keys = append(keys, c.keyOf[id])
		}
		tokenCount += len(ids)
		c.processMessage(ids, keys, options.secondStart)
	}

	if c.starts.Total() == 0 {
		return nil, ErrEmptyCorpus
	}

	c.logger.Info("Chain built",
		slog.Int("order", order),
		slog.Int("messages_processed", len(corpus)),
		slog.Int("tokens_processed", tokenCount),
		slog.Int("vocab_size", len(c.vocab)),
		slog.Int("prefixes", len(c.transitions)),
		slog.Int("chain_starts", c.starts.Len()),
	)

	return c, nil
}

func (c *Chain) processMessage(ids, keys []int, secondStart bool) {
	c.addStart(ids, keys, 0)
	if secondStart {
		c.addStart(ids, keys, 1)
	}

	if len(ids) < c.order {
		return
	}

	for i := 0; i+c.order <= len(ids); i++ { // The last window is followed by the end marker.
		next := EndTokenID
		if i+c.order < len(ids) {
			next = ids[i+c.order]
		}
		prefix := keys[i : i+c.order]
		prefixKey := idsKey(prefix)

		tr, ok := c.transitions[prefixKey]
		if !ok {
			tr = &transition{
				prefix: append([]int(nil), prefix...),
				next:   NewWeightedSet[int](),
			}
			c.transitions[prefixKey] = tr
			c.prefixOrder = append(c.prefixOrder, prefixKey)
		}
		tr.next.Add(next)
	}
}

// addStart records the window of up to order tokens beginning at offset.
// Empty windows carry nothing to generate from and are skipped.
func (c *Chain) addStart(ids, keys []int, offset int) {
	if offset >= len(ids) {
		return
	}
	end := min(offset+c.order, len(ids))
	c.recordStart(idsKey(ids[offset:end]), idsKey(keys[offset:end]), 1)
}

func (c *Chain) recordStart(surfaceKey, normKey string, count int) {
	c.starts.addCount(surfaceKey, count)
	if _, ok := c.startByNorm[normKey]; !ok {
		c.startByNorm[normKey] = surfaceKey
	}
}
