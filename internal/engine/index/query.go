package index

// FindByPattern returns the symbols whose FQN matches pattern, in
// registration order. Each symbol appears at most once.
func (idx *Index) FindByPattern(pattern string) ([]Symbol, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return idx.FindMatching(p), nil
}

func (idx *Index) FindMatching(p *Pattern) []Symbol {
	var out []Symbol
	for _, s := range idx.symbols {
		if s.ID != GlobalID && p.Match(s.FQN) {
			out = append(out, s)
		}
	}
	return out
}

// ReferencesTo returns the edges whose target or candidate names match
// pattern, in reference-pass order.
func (idx *Index) ReferencesTo(pattern string) ([]Edge, error) {
	p, err := CompilePattern(pattern)
	if err != nil {
		return nil, err
	}
	return idx.ReferencesMatching(p, nil), nil
}

// ReferencesMatching is ReferencesTo with a precompiled pattern and an
// optional extra edge filter.
func (idx *Index) ReferencesMatching(p *Pattern, keep func(Edge) bool) []Edge {
	var out []Edge
	for _, e := range idx.edges {
		if !p.MatchEdge(e) {
			continue
		}
		if keep != nil && !keep(e) {
			continue
		}
		out = append(out, e)
	}
	return out
}
