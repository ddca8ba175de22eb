// Package index builds the immutable symbol index of a C# codebase: symbols
// with their declaration sites and the reference edges between them.
package index

import (
	"csharp-provider/internal/engine/parser"
)

type SymbolKind string

const (
	KindNamespace       SymbolKind = "namespace"
	KindType            SymbolKind = "type"
	KindMember          SymbolKind = "member"
	KindExternalPackage SymbolKind = "external-package"
)

// GlobalID identifies the synthetic symbol that owns file-level references
// outside any namespace.
const GlobalID = "global"

// Site is a 1-based source span.
type Site struct {
	File      string `json:"file"`
	Line      int    `json:"line"`
	Column    int    `json:"column"`
	EndLine   int    `json:"end_line"`
	EndColumn int    `json:"end_column"`
}

func siteOf(loc parser.Location) Site {
	return Site{File: loc.File, Line: loc.Line, Column: loc.Column, EndLine: loc.EndLine, EndColumn: loc.EndColumn}
}

type Symbol struct {
	ID      string        `json:"id"`
	FQN     string        `json:"fqn"`
	Name    string        `json:"name"`
	Kind    SymbolKind    `json:"kind"`
	Detail  string        `json:"detail,omitempty"` // class, method, property, ...
	Sites   []Site        `json:"sites,omitempty"`
	Origin  parser.Origin `json:"origin"`
	Package string        `json:"package,omitempty"`
}

// Edge is one reference site. Target is the resolved symbol's FQN, or the
// name as written (alias-expanded) when nothing resolved.
type Edge struct {
	Source     string               `json:"source"`
	Name       string               `json:"name"`
	Target     string               `json:"target"`
	TargetID   string               `json:"target_id,omitempty"`
	Resolved   bool                 `json:"resolved"`
	External   bool                 `json:"external"`
	Package    string               `json:"package,omitempty"`
	Candidates []string             `json:"candidates,omitempty"`
	Kind       parser.ReferenceKind `json:"kind"`
	Site       Site                 `json:"site"`
}

// DependencyEntry is one package of the dependency manifest.
type DependencyEntry struct {
	Name     string `json:"name"`
	Version  string `json:"version"`
	Resolved bool   `json:"resolved"`
	Location string `json:"location,omitempty"`
}

type Warning struct {
	File    string `json:"file"`
	Message string `json:"message"`
}

type Stats struct {
	Files      int `json:"files"`
	Symbols    int `json:"symbols"`
	Edges      int `json:"edges"`
	Unresolved int `json:"unresolved"`
	Packages   int `json:"packages"`
	Warnings   int `json:"warnings"`
}
