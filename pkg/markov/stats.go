package markov

// Stats holds aggregated statistics for a single chain.
type Stats struct {
	Order          int    `json:"order"`
	Normalizer     string `json:"normalizer"`
	VocabSize      int    `json:"vocab_size"`      // Distinct surface tokens, markers included.
	KeySize        int    `json:"key_size"`        // Distinct normalized tokens, markers included.
	Prefixes       int    `json:"prefixes"`        // Distinct normalized windows with successors.
	TotalChains    int    `json:"total_chains"`    // Distinct prefix->next_token links.
	TotalFrequency int    `json:"total_frequency"` // Sum of all link frequencies; the number of trained transitions.
	StartWindows   int    `json:"start_windows"`   // Distinct chain starts.
	StartFrequency int    `json:"start_frequency"` // Sum of chain start weights.
}

// Stats returns a snapshot of statistics for the chain.
func (c *Chain) Stats() Stats {
	s := Stats{
		Order:          c.order,
		Normalizer:     normalizerName(c.normalizer),
		VocabSize:      len(c.vocab),
		KeySize:        len(c.keys),
		Prefixes:       len(c.transitions),
		StartWindows:   c.starts.Len(),
		StartFrequency: c.starts.Total(),
	}
	for _, tr := range c.transitions {
		s.TotalChains += tr.next.Len()
		s.TotalFrequency += tr.next.Total()
	}
	return s
}
