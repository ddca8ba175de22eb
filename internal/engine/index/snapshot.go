package index

// Snapshot is the serializable form of an Index.
type Snapshot struct {
	Version  int               `json:"version"`
	Symbols  []Symbol          `json:"symbols"`
	Edges    []Edge            `json:"edges"`
	Manifest []DependencyEntry `json:"manifest"`
	Warnings []Warning         `json:"warnings,omitempty"`
	Files    []string          `json:"files"`
}

const SnapshotVersion = 1

func (idx *Index) Snapshot() Snapshot {
	return Snapshot{
		Version:  SnapshotVersion,
		Symbols:  append([]Symbol(nil), idx.symbols...),
		Edges:    append([]Edge(nil), idx.edges...),
		Manifest: append([]DependencyEntry(nil), idx.manifest...),
		Warnings: append([]Warning(nil), idx.warnings...),
		Files:    append([]string(nil), idx.files...),
	}
}

// FromSnapshot rebuilds the lookup tables of a persisted index.
func FromSnapshot(s Snapshot) *Index {
	idx := &Index{
		symbols:  append([]Symbol(nil), s.Symbols...),
		edges:    append([]Edge(nil), s.Edges...),
		manifest: append([]DependencyEntry(nil), s.Manifest...),
		warnings: append([]Warning(nil), s.Warnings...),
		files:    append([]string(nil), s.Files...),
		byID:     make(map[string]int, len(s.Symbols)),
		byFQN:    make(map[string][]int, len(s.Symbols)),
	}
	for i, sym := range idx.symbols {
		idx.byID[sym.ID] = i
		idx.byFQN[sym.FQN] = append(idx.byFQN[sym.FQN], i)
	}
	return idx
}
