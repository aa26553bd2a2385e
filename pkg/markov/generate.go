package markov

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrInvalidMaxLength is returned when a generation is requested with a
// maximum length shorter than the chain order.
var ErrInvalidMaxLength = errors.New("markov: max length must be at least the chain order")

// DefaultMaxLength is the generation limit used when none is given, unless the
// chain order is larger.
const DefaultMaxLength = 100

// generateOptions is used by Generate to configure default options.
type generateOptions struct {
	start       Window
	hasStart    bool
	maxLength   int
	rng         Rand
	temperature float64
	topK        int
}

// GenerateOption is a function that configures generation parameters.
type GenerateOption func(*generateOptions)

// WithStart seeds generation with w instead of a randomly drawn chain start.
func WithStart(w Window) GenerateOption {
	return func(o *generateOptions) {
		o.start = w
		o.hasStart = true
	}
}

// WithMaxLength sets the maximum number of tokens in the result, the start
// window included. The limit wins over the start: a start longer than n is
// cut to its first n tokens rather than returned whole.
func WithMaxLength(n int) GenerateOption {
	return func(o *generateOptions) { o.maxLength = n }
}

// WithRand sets the randomness source. Pass a seeded *rand.Rand for
// reproducible output.
func WithRand(rng Rand) GenerateOption {
	return func(o *generateOptions) {
		if rng != nil {
			o.rng = rng
		}
	}
}

// WithTemperature adjusts the randomness of the token selection.
// A value of 1.0 is standard weighted random selection.
// Values > 1.0 increase randomness (making less frequent tokens more likely).
// Values < 1.0 decrease randomness (making more frequent tokens even more likely).
// A value of 0 or less results in deterministic selection (always choosing the most frequent token).
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts the token selection pool to the top `k` most frequent tokens
// at each step. A value of 0 disables Top-K sampling.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

// Generate extends a start window token by token until the end marker is
// drawn, the current window has no recorded successors, or the maximum length
// is reached. Without WithStart the start is drawn from the chain starts.
func (c *Chain) Generate(opts ...GenerateOption) ([]Token, error) {
	options := &generateOptions{
		maxLength:   max(DefaultMaxLength, c.order),
		rng:         DefaultRand,
		temperature: 1.0,
	}
	for _, opt := range opts {
		opt(options)
	}

	if options.maxLength < c.order {
		return nil, fmt.Errorf("%w: max length %d, order %d", ErrInvalidMaxLength, options.maxLength, c.order)
	}

	start := options.start
	if !options.hasStart {
		key, err := c.starts.Sample(options.rng)
		if err != nil {
			return nil, fmt.Errorf("failed to draw chain start: %w", err)
		}
		start = c.decodeWindow(key)
	}

	if len(start) < c.order {
		return append([]Token(nil), start...), nil
	}
	if len(start) > options.maxLength {
		start = start[:options.maxLength]
	}

	generated := make([]Token, len(start), min(options.maxLength, len(start)+64))
	copy(generated, start)

	prefix := make([]int, c.order)
	for i, t := range start[len(start)-c.order:] {
		id, ok := c.keyID(t)
		if !ok {
			c.logger.Debug("Generation stopped at unknown start token",
				slog.String("token", t.String()),
			)
			return generated, nil
		}
		prefix[i] = id
	}

	sampling := sampleOptions{temperature: options.temperature, topK: options.topK}

	for len(generated) < options.maxLength {
		prefixKey := idsKey(prefix)
		tr, ok := c.transitions[prefixKey]
		if !ok { // Dead end in chain
			c.logger.Debug("Generation terminated due to dead-end",
				slog.String("last_prefix", prefixKey),
				slog.Int("generated_length", len(generated)),
			)
			return generated, nil
		}

		next, err := tr.next.sampleWith(options.rng, sampling)
		if err != nil {
			return nil, fmt.Errorf("failed to sample successor of '%s': %w", prefixKey, err)
		}
		if next == EndTokenID {
			c.logger.Debug("Generation terminated by end token",
				slog.Int("generated_length", len(generated)),
			)
			return generated, nil
		}

		generated = append(generated, c.vocab[next])
		prefix = append(prefix[1:], c.keyOf[next])
	}

	c.logger.Debug("Generation terminated by reaching maxLength",
		slog.Int("max_length", options.maxLength),
	)
	return generated, nil
}

// GenerateText is Generate followed by Detokenize.
func (c *Chain) GenerateText(opts ...GenerateOption) (string, error) {
	tokens, err := c.Generate(opts...)
	if err != nil {
		return "", err
	}
	return Detokenize(tokens), nil
}
