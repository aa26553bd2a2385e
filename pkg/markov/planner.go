package markov

import (
	"io"
	"log/slog"
	"strings"
)

// DefaultUnrelatedChance is the probability of ignoring the prompt.
const DefaultUnrelatedChance = 0.33

// Reply is a generated answer and how it was produced.
type Reply struct {
	Text string `json:"text"`
	// Contextual is true when the reply was seeded from a window of the prompt.
	Contextual bool `json:"contextual"`
	// Seed is the window generation started from.
	Seed Window `json:"-"`
}

// Planner decides whether a reply should continue something from the prompt
// or start somewhere random, and produces it.
type Planner struct {
	tokenizer       Tokenizer
	trigger         string
	unrelatedChance float64
	maxLength       int
	logger          *slog.Logger
}

// PlannerOption configures a Planner.
type PlannerOption func(*Planner)

// WithTrigger sets the phrase (usually the bot's own name) that prompt windows
// must not contain to be used as seeds. Matching is case-insensitive.
func WithTrigger(trigger string) PlannerOption {
	return func(p *Planner) { p.trigger = foldText(trigger) }
}

// WithUnrelatedChance sets the probability, in [0, 1], of skipping the
// contextual attempt entirely.
// Default: DefaultUnrelatedChance
func WithUnrelatedChance(chance float64) PlannerOption {
	return func(p *Planner) { p.unrelatedChance = chance }
}

// WithReplyMaxLength sets the maximum reply length in tokens. Zero uses the
// chain default.
func WithReplyMaxLength(n int) PlannerOption {
	return func(p *Planner) { p.maxLength = n }
}

// WithPlannerLogger sets the logger. By default, all logs are discarded.
func WithPlannerLogger(logger *slog.Logger) PlannerOption {
	return func(p *Planner) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// NewPlanner creates a Planner that tokenizes prompts with tokenizer.
func NewPlanner(tokenizer Tokenizer, opts ...PlannerOption) *Planner {
	p := &Planner{
		tokenizer:       tokenizer,
		unrelatedChance: DefaultUnrelatedChance,
		logger:          slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Reply answers prompt using chain. With probability unrelatedChance, or when
// no window of the prompt matches a chain start, the reply is generated from a
// random chain start. rng may be nil.
func (p *Planner) Reply(chain *Chain, prompt string, rng Rand) (Reply, error) {
	if rng == nil {
		rng = DefaultRand
	}

	var genOpts []GenerateOption
	genOpts = append(genOpts, WithRand(rng))
	if p.maxLength > 0 {
		genOpts = append(genOpts, WithMaxLength(max(p.maxLength, chain.Order())))
	}

	if rng.Float64() >= p.unrelatedChance {
		candidates := p.candidateWindows(p.tokenizer.Tokenize(prompt), chain.Order())
		rng.Shuffle(len(candidates), func(i, j int) {
			candidates[i], candidates[j] = candidates[j], candidates[i]
		})
		for _, candidate := range candidates {
			start, ok := chain.MatchStart(candidate)
			if !ok {
				continue
			}
			tokens, err := chain.Generate(append(genOpts, WithStart(start))...)
			if err != nil {
				return Reply{}, err
			}
			p.logger.Info("Generated response for chain start",
				slog.String("chain_start", start.String()),
			)
			return Reply{
				Text:       strings.TrimSpace(Detokenize(tokens)),
				Contextual: true,
				Seed:       start,
			}, nil
		}
		p.logger.Info("Unable to generate a contextual response, using a random chain start instead")
	}

	tokens, err := chain.Generate(genOpts...)
	if err != nil {
		return Reply{}, err
	}
	seed := Window(tokens[:min(len(tokens), chain.Order())])
	return Reply{
		Text: strings.TrimSpace(Detokenize(tokens)),
		Seed: seed,
	}, nil
}

// candidateWindows lists every window of the prompt that holds some text and
// does not touch an occurrence of the trigger phrase.
func (p *Planner) candidateWindows(tokens []Token, order int) []Window {
	if len(tokens) < order {
		return nil
	}
	blocked := p.triggerMask(tokens)
	windows := make([]Window, 0, len(tokens)-order+1)

next:
	for i := 0; i+order <= len(tokens); i++ {
		hasText := false
		for j := i; j < i+order; j++ {
			if blocked[j] {
				continue next
			}
			hasText = hasText || tokens[j].IsText()
		}
		if hasText {
			windows = append(windows, Window(tokens[i:i+order]))
		}
	}
	return windows
}

// triggerMask marks the tokens that overlap an occurrence of the trigger. The
// search runs over the joined prompt so a trigger split across tokens (for
// example by a camel-case boundary) is still found.
func (p *Planner) triggerMask(tokens []Token) []bool {
	blocked := make([]bool, len(tokens))
	if p.trigger == "" {
		return blocked
	}

	offsets := make([]int, len(tokens)+1)
	var builder strings.Builder
	for i, t := range tokens {
		offsets[i] = builder.Len()
		if t.Kind == TextToken {
			builder.WriteString(foldText(t.Text))
		}
	}
	offsets[len(tokens)] = builder.Len()
	folded := builder.String()

	for from := 0; from < len(folded); {
		idx := strings.Index(folded[from:], p.trigger)
		if idx < 0 {
			break
		}
		start := from + idx
		end := start + len(p.trigger)
		for i := range tokens {
			if offsets[i] < end && offsets[i+1] > start {
				blocked[i] = true
			}
		}
		from = start + 1
	}
	return blocked
}
