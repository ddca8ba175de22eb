package index

import (
	"encoding/json"
	"testing"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/parser"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loc(file string, line int) parser.Location {
	return parser.Location{File: file, Line: line, Column: 1, EndLine: line, EndColumn: 10}
}

func def(file, fqn string, kind parser.DefinitionKind, line int) parser.Definition {
	return parser.Definition{Name: lastSegmentOf(fqn), FullName: fqn, Kind: kind, Location: loc(file, line)}
}

func lastSegmentOf(fqn string) string {
	for i := len(fqn) - 1; i >= 0; i-- {
		if fqn[i] == '.' {
			return fqn[i+1:]
		}
	}
	return fqn
}

func ref(file, name string, kind parser.ReferenceKind, context, ns string, line int) parser.Reference {
	return parser.Reference{Name: name, Kind: kind, Context: context, Namespace: ns, Location: loc(file, line)}
}

// homeController mirrors:
//
//	using System.Web.Mvc;
//	namespace Shop.Web { class HomeController : Controller { ShopContext _db; void Index() { _db.Save(); } } }
func homeController() *parser.File {
	const path = "/repo/Controllers/HomeController.cs"
	return &parser.File{
		Path:       path,
		Origin:     parser.OriginSource,
		Namespaces: []string{"Shop.Web"},
		Usings:     []parser.Using{{Target: "System.Web.Mvc"}},
		Definitions: []parser.Definition{
			def(path, "Shop.Web", parser.KindNamespace, 2),
			def(path, "Shop.Web.HomeController", parser.KindClass, 3),
			def(path, "Shop.Web.HomeController._db", parser.KindField, 4),
			def(path, "Shop.Web.HomeController.Index", parser.KindMethod, 5),
		},
		References: []parser.Reference{
			ref(path, "System.Web.Mvc", parser.RefImport, "", "", 1),
			ref(path, "Controller", parser.RefInheritance, "Shop.Web.HomeController", "Shop.Web", 3),
			ref(path, "ShopContext", parser.RefTypeUsage, "Shop.Web.HomeController", "Shop.Web", 4),
			ref(path, "_db.Save", parser.RefInvocation, "Shop.Web.HomeController.Index", "Shop.Web", 5),
		},
	}
}

// shopContext mirrors:
//
//	using System.Data.Entity;
//	namespace Shop.Web { partial class ShopContext : DbContext { } }
func shopContext(path string, line int) *parser.File {
	return &parser.File{
		Path:       path,
		Origin:     parser.OriginSource,
		Namespaces: []string{"Shop.Web"},
		Usings:     []parser.Using{{Target: "System.Data.Entity"}},
		Definitions: []parser.Definition{
			def(path, "Shop.Web", parser.KindNamespace, line-1),
			def(path, "Shop.Web.ShopContext", parser.KindClass, line),
		},
		References: []parser.Reference{
			ref(path, "System.Data.Entity", parser.RefImport, "", "", 1),
			ref(path, "DbContext", parser.RefInheritance, "Shop.Web.ShopContext", "Shop.Web", line),
		},
	}
}

func sampleInput() Input {
	return Input{
		Files: []*parser.File{
			homeController(),
			shopContext("/repo/Data/ShopContext.cs", 3),
			shopContext("/repo/Data/ShopContext.Partial.cs", 7),
		},
		Manifest: []DependencyEntry{
			{Name: "EntityFramework", Version: "6.4.4", Resolved: true, Location: "/repo/packages/EntityFramework"},
			{Name: "System.Web.Mvc", Version: "5.2.7"},
		},
	}
}

func TestFindByPatternExactFQNReturnsMergedSymbolOnce(t *testing.T) {
	idx := Build(sampleInput())

	syms, err := idx.FindByPattern("Shop.Web.ShopContext")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, KindType, syms[0].Kind)
	assert.Len(t, syms[0].Sites, 2, "partial declarations merge into one symbol")
	assert.Equal(t, "/repo/Data/ShopContext.Partial.cs", syms[0].Sites[1].File)
}

func TestFindByPatternWildcards(t *testing.T) {
	idx := Build(sampleInput())

	syms, err := idx.FindByPattern("Shop.Web.*")
	require.NoError(t, err)
	var fqns []string
	for _, s := range syms {
		fqns = append(fqns, s.FQN)
	}
	assert.ElementsMatch(t, []string{"Shop.Web.HomeController", "Shop.Web.ShopContext"}, fqns)

	syms, err = idx.FindByPattern("Shop.**")
	require.NoError(t, err)
	assert.Len(t, syms, 5)

	syms, err = idx.FindByPattern("shop.web.*")
	require.NoError(t, err)
	assert.Empty(t, syms, "matching is case-sensitive")
}

func TestBuildIsOrderIndependent(t *testing.T) {
	in := sampleInput()
	forward := Build(in)

	reversed := sampleInput()
	reversed.Files = []*parser.File{reversed.Files[2], reversed.Files[1], reversed.Files[0]}
	backward := Build(reversed)

	a, err := forward.FindByPattern("**")
	require.NoError(t, err)
	b, err := backward.FindByPattern("**")
	require.NoError(t, err)
	assert.ElementsMatch(t, a, b)
	assert.Equal(t, forward.Snapshot(), backward.Snapshot())
}

func TestReferencesToMatchesUsingCandidates(t *testing.T) {
	idx := Build(sampleInput())

	edges, err := idx.ReferencesTo("System.Web.Mvc.*")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	e := edges[0]
	assert.Equal(t, "Controller", e.Target)
	assert.Equal(t, []string{"System.Web.Mvc.Controller"}, e.Candidates)
	assert.False(t, e.Resolved)
	assert.True(t, e.External)
	assert.Equal(t, "System.Web.Mvc", e.Package)
	assert.Equal(t, "type:Shop.Web.HomeController", e.Source)
	assert.Equal(t, 3, e.Site.Line)

	for _, e := range edges {
		assert.NotEqual(t, "DbContext", e.Target)
	}

	edges, err = idx.ReferencesTo("System.Data.Entity.DbContext")
	require.NoError(t, err)
	assert.Len(t, edges, 2, "one inheritance edge per partial declaration")
	assert.Empty(t, edges[0].Package, "EntityFramework does not prefix System.Data.Entity")
}

// mixedFile mirrors a single file importing both frameworks:
//
//	using System.Data.Entity;
//	using System.Web.Mvc;
//	namespace Shop.Web { class HomeController : Controller { DbContext _db; } }
func mixedFile() *parser.File {
	const path = "/repo/Controllers/MixedController.cs"
	return &parser.File{
		Path:       path,
		Origin:     parser.OriginSource,
		Namespaces: []string{"Shop.Web"},
		Usings:     []parser.Using{{Target: "System.Data.Entity"}, {Target: "System.Web.Mvc"}},
		Definitions: []parser.Definition{
			def(path, "Shop.Web", parser.KindNamespace, 3),
			def(path, "Shop.Web.HomeController", parser.KindClass, 4),
			def(path, "Shop.Web.HomeController._db", parser.KindField, 5),
		},
		References: []parser.Reference{
			ref(path, "System.Data.Entity", parser.RefImport, "", "", 1),
			ref(path, "System.Web.Mvc", parser.RefImport, "", "", 2),
			ref(path, "Controller", parser.RefInheritance, "Shop.Web.HomeController", "Shop.Web", 4),
			ref(path, "DbContext", parser.RefTypeUsage, "Shop.Web.HomeController", "Shop.Web", 5),
		},
	}
}

func edgeNamed(t *testing.T, idx *Index, name string) Edge {
	t.Helper()
	for _, e := range idx.Edges() {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no edge named %q", name)
	return Edge{}
}

func TestReferencesToSameFileUsingsDoNotCrossMatch(t *testing.T) {
	in := sampleInput()
	in.Files = []*parser.File{mixedFile()}
	idx := Build(in)

	edges, err := idx.ReferencesTo("System.Web.Mvc.*")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "Controller", edges[0].Target)
	assert.Equal(t, []string{"System.Web.Mvc.Controller"}, edges[0].Candidates)

	db := edgeNamed(t, idx, "DbContext")
	assert.Equal(t, "DbContext", db.Target)
	assert.Equal(t, []string{"System.Data.Entity.DbContext"}, db.Candidates)

	edges, err = idx.ReferencesTo("System.Data.Entity.DbContext")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 5, edges[0].Site.Line)
}

// twoUsings builds a source file that references name under usings a and b.
func twoUsings(a, b, name string) *parser.File {
	const path = "/repo/Billing/Job.cs"
	return &parser.File{
		Path:       path,
		Origin:     parser.OriginSource,
		Namespaces: []string{"Shop.Billing"},
		Usings:     []parser.Using{{Target: a}, {Target: b}},
		Definitions: []parser.Definition{
			def(path, "Shop.Billing", parser.KindNamespace, 3),
			def(path, "Shop.Billing.Job", parser.KindClass, 4),
		},
		References: []parser.Reference{
			ref(path, name, parser.RefTypeUsage, "Shop.Billing.Job", "Shop.Billing", 5),
		},
	}
}

func TestUnresolvedNameDropsNamespacesDeclaredWithoutIt(t *testing.T) {
	const dep = "/cache/Acme.Shipping/Parcel.cs"
	decompiled := &parser.File{
		Path:        dep,
		Origin:      parser.OriginDependency,
		Package:     "Acme.Shipping",
		Namespaces:  []string{"Acme.Shipping"},
		Definitions: []parser.Definition{def(dep, "Acme.Shipping.Parcel", parser.KindClass, 3)},
	}
	idx := Build(Input{Files: []*parser.File{twoUsings("Acme.Billing", "Acme.Shipping", "Invoice"), decompiled}})

	e := edgeNamed(t, idx, "Invoice")
	assert.False(t, e.Resolved)
	assert.Equal(t, []string{"Acme.Billing.Invoice"}, e.Candidates)
}

func TestUnresolvedNamePrefersManifestNamespaces(t *testing.T) {
	idx := Build(Input{
		Files:    []*parser.File{twoUsings("Contoso.Payments", "Fabrikam.Util", "Gateway")},
		Manifest: []DependencyEntry{{Name: "Contoso.Payments", Version: "2.0.0"}},
	})

	e := edgeNamed(t, idx, "Gateway")
	assert.Equal(t, []string{"Contoso.Payments.Gateway"}, e.Candidates)
	assert.Equal(t, "Contoso.Payments", e.Package)
}

func TestUnresolvedNameKeepsAllCandidatesWithoutSignal(t *testing.T) {
	idx := Build(Input{Files: []*parser.File{twoUsings("Contoso.Payments", "Fabrikam.Util", "Gateway")}})

	e := edgeNamed(t, idx, "Gateway")
	assert.Equal(t, []string{"Contoso.Payments.Gateway", "Fabrikam.Util.Gateway"}, e.Candidates)
	assert.Empty(t, e.Package)
}

func TestWellKnownMatchesAttributeForm(t *testing.T) {
	assert.True(t, wellKnown("System.Web.Mvc.Controller"))
	assert.True(t, wellKnown("System.Web.Mvc.Authorize"))
	assert.False(t, wellKnown("System.Web.Mvc.DbContext"))
	assert.False(t, wellKnown("# Framework and common NuGet types, one fully-qualified name per line."))
}

func TestLocalResolution(t *testing.T) {
	idx := Build(sampleInput())

	var typeUsage, invocation, imp *Edge
	for _, e := range idx.Edges() {
		e := e
		switch {
		case e.Name == "ShopContext":
			typeUsage = &e
		case e.Name == "_db.Save":
			invocation = &e
		case e.Kind == parser.RefImport && e.Name == "System.Web.Mvc":
			imp = &e
		}
	}

	require.NotNil(t, typeUsage)
	assert.True(t, typeUsage.Resolved)
	assert.False(t, typeUsage.External)
	assert.Equal(t, "Shop.Web.ShopContext", typeUsage.Target)
	assert.Equal(t, "type:Shop.Web.ShopContext", typeUsage.TargetID)

	require.NotNil(t, invocation)
	assert.True(t, invocation.Resolved, "member chain binds to the declared field")
	assert.Equal(t, "Shop.Web.HomeController._db", invocation.Target)
	assert.Equal(t, "member:Shop.Web.HomeController.Index", invocation.Source)

	require.NotNil(t, imp)
	assert.Equal(t, GlobalID, imp.Source)
	assert.False(t, imp.Resolved)
	assert.Equal(t, "System.Web.Mvc", imp.Package)
}

func TestDependencyDeclarationsResolveAsExternal(t *testing.T) {
	in := sampleInput()
	const decompiled = "/state/decompiled/EntityFramework/System.Data.Entity/DbContext.cs"
	in.Files = append(in.Files, &parser.File{
		Path:       decompiled,
		Origin:     parser.OriginDependency,
		Package:    "EntityFramework",
		Namespaces: []string{"System.Data.Entity"},
		Definitions: []parser.Definition{
			def(decompiled, "System.Data.Entity", parser.KindNamespace, 1),
			def(decompiled, "System.Data.Entity.DbContext", parser.KindClass, 3),
		},
		References: []parser.Reference{
			ref(decompiled, "System", parser.RefImport, "", "", 1),
		},
	})
	idx := Build(in)

	edges, err := idx.ReferencesTo("System.Data.Entity.DbContext")
	require.NoError(t, err)
	require.Len(t, edges, 2)
	for _, e := range edges {
		assert.True(t, e.Resolved)
		assert.True(t, e.External)
		assert.Equal(t, "EntityFramework", e.Package)
		assert.Equal(t, "System.Data.Entity.DbContext", e.Target)
	}

	for _, e := range idx.Edges() {
		assert.NotEqual(t, decompiled, e.Site.File, "dependency code contributes declarations only")
	}

	syms, err := idx.FindByPattern("System.Data.Entity.DbContext")
	require.NoError(t, err)
	require.Len(t, syms, 1)
	assert.Equal(t, parser.OriginDependency, syms[0].Origin)
	assert.Equal(t, "EntityFramework", syms[0].Package)
}

func TestAliasAndAttributeAlternates(t *testing.T) {
	const path = "/repo/Filters.cs"
	idx := Build(Input{Files: []*parser.File{{
		Path: path,
		Usings: []parser.Using{
			{Target: "System.Data.Entity", Alias: "Db"},
			{Target: "Shop.Security"},
		},
		Definitions: []parser.Definition{
			def(path, "Shop.Security", parser.KindNamespace, 1),
			def(path, "Shop.Security.AuthorizeAttribute", parser.KindClass, 2),
		},
		References: []parser.Reference{
			ref(path, "Db.DbSet", parser.RefTypeUsage, "", "", 3),
			{Name: "Authorize", Kind: parser.RefAttribute, Alternates: []string{"AuthorizeAttribute"}, Location: loc(path, 4)},
		},
	}}})

	edges := idx.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, "System.Data.Entity.DbSet", edges[0].Target)
	assert.Equal(t, "Db.DbSet", edges[0].Name)
	assert.True(t, edges[1].Resolved)
	assert.Equal(t, "Shop.Security.AuthorizeAttribute", edges[1].Target)
}

func TestPackageSymbolsAndStats(t *testing.T) {
	idx := Build(sampleInput())

	pkg, ok := idx.Symbol("pkg:EntityFramework")
	require.True(t, ok)
	assert.Equal(t, KindExternalPackage, pkg.Kind)

	st := idx.Stats()
	assert.Equal(t, 3, st.Files)
	assert.Equal(t, 2, st.Packages)
	assert.Equal(t, len(idx.Edges()), st.Edges)
	assert.True(t, idx.DeclaresSymbols())
	assert.False(t, Build(Input{}).DeclaresSymbols())
}

func TestInvalidPatterns(t *testing.T) {
	idx := Build(sampleInput())
	for _, p := range []string{"", "   ", "System..Web", ".System", "System."} {
		_, err := idx.FindByPattern(p)
		assert.True(t, domainErrors.IsCode(err, domainErrors.CodeInvalidCondition), "pattern %q", p)
		_, err = idx.ReferencesTo(p)
		assert.True(t, domainErrors.IsCode(err, domainErrors.CodeInvalidCondition), "pattern %q", p)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	idx := Build(sampleInput())

	data, err := json.Marshal(idx.Snapshot())
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	restored := FromSnapshot(snap)

	assert.Equal(t, idx.Snapshot(), restored.Snapshot())

	before, err := idx.ReferencesTo("System.**")
	require.NoError(t, err)
	after, err := restored.ReferencesTo("System.**")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
