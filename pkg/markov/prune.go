package markov

import "log/slog"

// Prune returns a copy of the chain without the transitions whose frequency is
// less than or equal to minFreq. Prefixes left without successors are dropped.
// This is useful for reducing the size of a model by removing rare, and often
// noisy, transitions. The receiver is not modified; the vocabulary and chain
// starts are shared with the copy since neither is ever written after a build.
func (c *Chain) Prune(minFreq int) *Chain {
	pruned := &Chain{
		order:       c.order,
		normalizer:  c.normalizer,
		vocab:       c.vocab,
		vocabIDs:    c.vocabIDs,
		keyOf:       c.keyOf,
		keys:        c.keys,
		keyIDs:      c.keyIDs,
		starts:      c.starts,
		startByNorm: c.startByNorm,
		transitions: make(map[string]*transition, len(c.transitions)),
		logger:      c.logger,
	}

	var removed int
	for _, prefixKey := range c.prefixOrder {
		tr := c.transitions[prefixKey]
		next := NewWeightedSet[int]()
		tr.next.Each(func(id int, count int) {
			if count > minFreq {
				next.addCount(id, count)
			} else {
				removed++
			}
		})
		if next.Len() == 0 {
			continue
		}
		pruned.transitions[prefixKey] = &transition{prefix: tr.prefix, next: next}
		pruned.prefixOrder = append(pruned.prefixOrder, prefixKey)
	}

	c.logger.Info("Chain pruned",
		slog.Int("min_frequency", minFreq),
		slog.Int("chains_removed", removed),
		slog.Int("prefixes_removed", len(c.prefixOrder)-len(pruned.prefixOrder)),
	)
	return pruned
}
