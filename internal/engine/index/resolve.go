package index

import (
	"strings"

	"csharp-provider/internal/engine/parser"
)

type resolver struct {
	idx *Index
	// namespace -> package, from declarations in decompiled dependency code
	declared map[string]string
}

func newResolver(idx *Index, files []*parser.File) *resolver {
	r := &resolver{idx: idx, declared: make(map[string]string)}
	for _, f := range files {
		if f.Origin != parser.OriginDependency || f.Package == "" {
			continue
		}
		for _, ns := range f.Namespaces {
			if _, ok := r.declared[ns]; !ok {
				r.declared[ns] = f.Package
			}
		}
	}
	return r
}

// fileScope holds the using-directives that apply to a file's references.
type fileScope struct {
	usings  []string
	statics []string
	aliases map[string]string
}

func newFileScope(f *parser.File) fileScope {
	scope := fileScope{aliases: make(map[string]string)}
	for _, u := range f.Usings {
		switch {
		case u.Alias != "":
			scope.aliases[u.Alias] = u.Target
		case u.Static:
			scope.statics = append(scope.statics, u.Target)
		default:
			scope.usings = append(scope.usings, u.Target)
		}
	}
	return scope
}

func (s fileScope) expandAlias(name string) string {
	head, rest, found := strings.Cut(name, ".")
	target, ok := s.aliases[head]
	if !ok {
		return name
	}
	if !found {
		return target
	}
	return target + "." + rest
}

// candidate is a fully-qualified guess for a written name. written is the
// number of trailing segments that came from the source text.
type candidate struct {
	name    string
	written int
}

type candidateSet struct {
	list []candidate
	seen map[string]bool
}

func (c *candidateSet) add(name string, written int) {
	if name == "" || c.seen[name] {
		return
	}
	if c.seen == nil {
		c.seen = make(map[string]bool)
	}
	c.seen[name] = true
	c.list = append(c.list, candidate{name: name, written: written})
}

func segments(name string) int {
	return strings.Count(name, ".") + 1
}

// localCandidates lists names in C# lookup order: enclosing declarations
// innermost first, the name as written, static usings, then usings.
func localCandidates(scope fileScope, ref parser.Reference, names []string) []candidate {
	var set candidateSet
	for _, name := range names {
		n := segments(name)
		for p := ref.Context; p != ""; p = parentName(p) {
			set.add(p+"."+name, n)
		}
		set.add(name, n)
		for _, s := range scope.statics {
			set.add(s+"."+name, n)
		}
		for _, u := range scope.usings {
			set.add(u+"."+name, n)
		}
	}
	return set.list
}

func usingCandidates(prefixes, names []string) []string {
	var set candidateSet
	for _, name := range names {
		for _, p := range prefixes {
			set.add(p+"."+name, 0)
		}
	}
	out := make([]string, 0, len(set.list))
	for _, c := range set.list {
		out = append(out, c.name)
	}
	return out
}

// narrowUsings picks the using prefixes an unresolved name most likely came
// from. A prefix whose candidate is a known framework type wins outright.
// Prefixes whose namespace is declared by decompiled code that lacks the name
// are dropped, then prefixes that map to a manifest package are preferred.
// With no signal every prefix is kept.
func (r *resolver) narrowUsings(scope fileScope, names []string) []string {
	prefixes := append(append([]string(nil), scope.usings...), scope.statics...)
	if len(prefixes) < 2 {
		return prefixes
	}

	var confirmed, open, packaged []string
	for _, p := range prefixes {
		known, absent, pkg := false, true, false
		for _, n := range names {
			fqn := p + "." + n
			if wellKnown(fqn) {
				known = true
			}
			if _, ok := r.declared[parentName(fqn)]; !ok {
				absent = false
			}
			if r.idx.packageFor(fqn, r.declared) != "" {
				pkg = true
			}
		}
		if known {
			confirmed = append(confirmed, p)
		}
		if !absent {
			open = append(open, p)
			if pkg {
				packaged = append(packaged, p)
			}
		}
	}

	switch {
	case len(confirmed) > 0:
		return confirmed
	case len(packaged) > 0:
		return packaged
	case len(open) > 0:
		return open
	}
	return prefixes
}

func (r *resolver) sourceOf(context string) string {
	if context == "" {
		return GlobalID
	}
	if sym, ok := r.idx.lookup(context); ok {
		return sym.ID
	}
	return GlobalID
}

func (r *resolver) resolve(scope fileScope, ref parser.Reference) Edge {
	edge := Edge{
		Source: r.sourceOf(ref.Context),
		Name:   ref.Name,
		Kind:   ref.Kind,
		Site:   siteOf(ref.Location),
	}

	name := ref.Name
	if ref.Kind != parser.RefImport {
		name = scope.expandAlias(ref.Name)
	}
	names := []string{name}
	for _, alt := range ref.Alternates {
		names = append(names, scope.expandAlias(alt))
	}

	var candidates []candidate
	if ref.Kind == parser.RefImport {
		candidates = []candidate{{name: name, written: segments(name)}}
	} else {
		candidates = localCandidates(scope, ref, names)
	}

	for _, c := range candidates {
		if sym, ok := r.idx.lookup(c.name); ok {
			return r.bind(edge, sym)
		}
	}

	// a.b.c where only a (or a.b) is declared: bind to the declared prefix
	if ref.Kind == parser.RefInvocation || ref.Kind == parser.RefMemberAccess || ref.Kind == parser.RefTypeUsage {
		for _, c := range candidates {
			p := c.name
			for stripped := 1; stripped < c.written; stripped++ {
				p = parentName(p)
				if sym, ok := r.idx.lookup(p); ok && sym.Kind != KindNamespace {
					return r.bind(edge, sym)
				}
			}
		}
	}

	edge.Target = name
	edge.External = true
	if ref.Kind != parser.RefImport {
		if c := usingCandidates(r.narrowUsings(scope, names), names); len(c) > 0 {
			edge.Candidates = c
		}
	}
	for _, c := range append(append([]string(nil), edge.Candidates...), name) {
		if pkg := r.idx.packageFor(c, r.declared); pkg != "" {
			edge.Package = pkg
			break
		}
	}
	return edge
}

func (r *resolver) bind(edge Edge, sym *Symbol) Edge {
	edge.Target = sym.FQN
	edge.TargetID = sym.ID
	edge.Resolved = true
	if sym.Origin == parser.OriginDependency {
		edge.External = true
		edge.Package = sym.Package
		if edge.Package == "" {
			edge.Package = r.idx.packageFor(sym.FQN, r.declared)
		}
	}
	return edge
}
