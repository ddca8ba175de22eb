package index

import (
	"sort"
	"strings"

	"csharp-provider/internal/engine/parser"
	"csharp-provider/internal/shared/util"
)

// Input is everything the index is built from.
type Input struct {
	Files    []*parser.File
	Manifest []DependencyEntry
	Warnings []Warning
}

// Index is immutable once built and safe for concurrent readers.
type Index struct {
	symbols  []Symbol
	edges    []Edge
	manifest []DependencyEntry
	warnings []Warning
	files    []string

	byID  map[string]int
	byFQN map[string][]int
}

func symbolID(kind SymbolKind, fqn string) string {
	if kind == KindExternalPackage {
		return "pkg:" + fqn
	}
	return string(kind) + ":" + fqn
}

func symbolKindOf(k parser.DefinitionKind) SymbolKind {
	switch {
	case k == parser.KindNamespace:
		return KindNamespace
	case k.IsType():
		return KindType
	default:
		return KindMember
	}
}

// Build runs both passes. Files are processed in path order so the result
// does not depend on the order of in.Files.
func Build(in Input) *Index {
	files := make([]*parser.File, 0, len(in.Files))
	for _, f := range in.Files {
		if f != nil {
			files = append(files, f)
		}
	}
	sort.SliceStable(files, func(i, j int) bool { return files[i].Path < files[j].Path })

	idx := &Index{
		manifest: append([]DependencyEntry(nil), in.Manifest...),
		warnings: append([]Warning(nil), in.Warnings...),
		byID:     make(map[string]int),
		byFQN:    make(map[string][]int),
	}
	idx.addSymbol(Symbol{ID: GlobalID, Kind: KindNamespace, Origin: parser.OriginSource})

	// pass 1: declarations
	for _, f := range files {
		idx.files = append(idx.files, f.Path)
		for _, def := range f.Definitions {
			kind := symbolKindOf(def.Kind)
			sym := Symbol{
				ID:     symbolID(kind, def.FullName),
				FQN:    def.FullName,
				Name:   def.Name,
				Kind:   kind,
				Detail: def.Kind.String(),
				Sites:  []Site{siteOf(def.Location)},
				Origin: originOf(f),
			}
			if f.Origin == parser.OriginDependency {
				sym.Package = f.Package
			}
			idx.addSymbol(sym)
		}
	}
	for _, dep := range idx.manifest {
		idx.addSymbol(Symbol{
			ID:      symbolID(KindExternalPackage, dep.Name),
			FQN:     dep.Name,
			Name:    dep.Name,
			Kind:    KindExternalPackage,
			Origin:  parser.OriginDependency,
			Package: dep.Name,
		})
	}

	// pass 2: references
	r := newResolver(idx, files)
	for _, f := range files {
		if f.Origin == parser.OriginDependency {
			continue
		}
		scope := newFileScope(f)
		for _, ref := range f.References {
			idx.edges = append(idx.edges, r.resolve(scope, ref))
		}
	}
	return idx
}

func originOf(f *parser.File) parser.Origin {
	if f.Origin == "" {
		return parser.OriginSource
	}
	return f.Origin
}

// addSymbol registers sym, merging declaration sites into an existing
// symbol with the same ID.
func (idx *Index) addSymbol(sym Symbol) {
	if i, ok := idx.byID[sym.ID]; ok {
		existing := &idx.symbols[i]
		existing.Sites = append(existing.Sites, sym.Sites...)
		if existing.Origin == parser.OriginDependency && sym.Origin == parser.OriginSource {
			existing.Origin = parser.OriginSource
			existing.Package = ""
		}
		return
	}
	idx.byID[sym.ID] = len(idx.symbols)
	idx.byFQN[sym.FQN] = append(idx.byFQN[sym.FQN], len(idx.symbols))
	idx.symbols = append(idx.symbols, sym)
}

// lookup returns the declared symbol for fqn, preferring types over members
// over namespaces. Package symbols never satisfy a name lookup.
func (idx *Index) lookup(fqn string) (*Symbol, bool) {
	var best *Symbol
	for _, i := range idx.byFQN[fqn] {
		sym := &idx.symbols[i]
		if sym.ID == GlobalID || sym.Kind == KindExternalPackage {
			continue
		}
		if best == nil || kindRank(sym.Kind) < kindRank(best.Kind) {
			best = sym
		}
	}
	return best, best != nil
}

func kindRank(k SymbolKind) int {
	switch k {
	case KindType:
		return 0
	case KindMember:
		return 1
	default:
		return 2
	}
}

// Symbol returns the symbol with the given ID.
func (idx *Index) Symbol(id string) (Symbol, bool) {
	i, ok := idx.byID[id]
	if !ok {
		return Symbol{}, false
	}
	return idx.symbols[i], true
}

// Symbols returns every symbol except the synthetic global one, in
// registration order.
func (idx *Index) Symbols() []Symbol {
	out := make([]Symbol, 0, len(idx.symbols))
	for _, s := range idx.symbols {
		if s.ID != GlobalID {
			out = append(out, s)
		}
	}
	return out
}

func (idx *Index) Edges() []Edge {
	return append([]Edge(nil), idx.edges...)
}

func (idx *Index) Manifest() []DependencyEntry {
	return append([]DependencyEntry(nil), idx.manifest...)
}

func (idx *Index) Warnings() []Warning {
	return append([]Warning(nil), idx.warnings...)
}

func (idx *Index) Files() []string {
	return append([]string(nil), idx.files...)
}

// DeclaresSymbols reports whether any source or dependency declaration was
// registered.
func (idx *Index) DeclaresSymbols() bool {
	for _, s := range idx.symbols {
		if s.ID != GlobalID && s.Kind != KindExternalPackage {
			return true
		}
	}
	return false
}

func (idx *Index) Stats() Stats {
	st := Stats{
		Files:    len(idx.files),
		Symbols:  len(idx.symbols) - 1,
		Edges:    len(idx.edges),
		Packages: len(idx.manifest),
		Warnings: len(idx.warnings),
	}
	for _, e := range idx.edges {
		if !e.Resolved {
			st.Unresolved++
		}
	}
	return st
}

// packageFor associates a qualified name with a manifest package: first by
// namespaces declared in that package's decompiled code, then by exact
// namespace-prefix match on the package name.
func (idx *Index) packageFor(name string, declared map[string]string) string {
	for prefix := name; prefix != ""; prefix = parentName(prefix) {
		if pkg, ok := declared[prefix]; ok {
			return pkg
		}
	}
	best := ""
	for _, dep := range idx.manifest {
		if util.HasNamespacePrefix(name, dep.Name) && len(dep.Name) > len(best) {
			best = dep.Name
		}
	}
	return best
}

func parentName(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i]
	}
	return ""
}
