// Package parser extracts C# declarations and name references with
// tree-sitter.
package parser

import (
	"fmt"
	"time"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/shared/observability"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_c_sharp "github.com/tree-sitter/tree-sitter-c-sharp/bindings/go"
)

const maxProblems = 20

// Parser parses C# sources. It is safe for concurrent use; each call leases
// its own tree-sitter parser from the pool.
type Parser struct {
	pool *ParserPool
}

func NewParser() (*Parser, error) {
	lang := sitter.NewLanguage(tree_sitter_c_sharp.Language())
	if lang == nil {
		return nil, domainErrors.New(domainErrors.CodeInternal, "c# grammar failed to load")
	}
	return &Parser{pool: NewParserPool(lang)}, nil
}

// ParseFile extracts the declarations and references of one file. Syntax
// errors do not fail the call; they are reported in File.Problems.
func (p *Parser) ParseFile(path string, content []byte) (*File, error) {
	start := time.Now()
	defer func() { observability.ParsingDuration.Observe(time.Since(start).Seconds()) }()

	sp := p.pool.Get()
	defer p.pool.Put(sp)

	tree := sp.Parse(content, nil)
	if tree == nil {
		return nil, domainErrors.AddContext(
			domainErrors.New(domainErrors.CodeParseFailure, "parser returned no tree"),
			domainErrors.CtxFile, path,
		)
	}
	defer tree.Close()

	root := tree.RootNode()
	file := NewCSharpExtractor().Extract(root, content, path)
	if root.HasError() {
		ctx := &ExtractionContext{Source: content, File: file}
		collectProblems(ctx, root)
	}
	return file, nil
}

func collectProblems(ctx *ExtractionContext, node *sitter.Node) {
	if node == nil || len(ctx.File.Problems) >= maxProblems {
		return
	}
	if node.IsError() || node.IsMissing() {
		ctx.File.Problems = append(ctx.File.Problems, ctx.Location(node))
		return
	}
	if !node.HasError() {
		return
	}
	for i := uint(0); i < node.ChildCount(); i++ {
		collectProblems(ctx, node.Child(i))
	}
}

// ProblemSummary renders the first syntax problem of f for warnings.
func ProblemSummary(f *File) string {
	if len(f.Problems) == 0 {
		return ""
	}
	first := f.Problems[0]
	return fmt.Sprintf("%d syntax error(s), first at %d:%d", len(f.Problems), first.Line, first.Column)
}
