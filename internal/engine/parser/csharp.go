package parser

import (
	"slices"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// CSharpExtractor turns a C# syntax tree into declarations and name
// references. It keeps scope state and must not be shared between files.
type CSharpExtractor struct {
	engine *ExtractorEngine

	namespaces    []string
	fileNamespace string
	types         []string
	scopes        []string
	typeParams    []map[string]struct{}
	locals        []map[string]struct{}
}

func NewCSharpExtractor() *CSharpExtractor {
	e := &CSharpExtractor{}
	e.engine = NewExtractorEngine(map[string]NodeHandler{
		"using_directive":                   e.extractUsing,
		"namespace_declaration":             e.extractNamespace,
		"file_scoped_namespace_declaration": e.extractFileScopedNamespace,
		"class_declaration":                 e.typeDeclaration(KindClass),
		"struct_declaration":                e.typeDeclaration(KindStruct),
		"interface_declaration":             e.typeDeclaration(KindInterface),
		"enum_declaration":                  e.typeDeclaration(KindEnum),
		"record_declaration":                e.typeDeclaration(KindRecord),
		"record_struct_declaration":         e.typeDeclaration(KindRecord),
		"delegate_declaration":              e.extractDelegate,
		"method_declaration":                e.memberDeclaration(KindMethod),
		"constructor_declaration":           e.memberDeclaration(KindConstructor),
		"property_declaration":              e.memberDeclaration(KindProperty),
		"event_declaration":                 e.memberDeclaration(KindEvent),
		"field_declaration":                 e.fieldDeclaration(KindField),
		"event_field_declaration":           e.fieldDeclaration(KindEvent),
		"enum_member_declaration":           e.extractEnumMember,
		"local_function_statement":          e.extractLocalFunction,
		"variable_declaration":              e.extractVariableDeclaration,
		"parameter":                         e.extractParameter,
		"declaration_expression":            e.extractDeclarationExpression,
		"declaration_pattern":               e.extractDeclarationPattern,
		"foreach_statement":                 e.extractForeach,
		"catch_declaration":                 e.extractCatch,
		"lambda_expression":                 e.extractLambda,
		"from_clause":                       e.extractFromClause,
		"object_creation_expression":        e.extractObjectCreation,
		"invocation_expression":             e.extractInvocation,
		"member_access_expression":          e.extractMemberAccess,
		"attribute":                         e.extractAttribute,
		"typeof_expression":                 e.typeOperand("type"),
		"default_expression":                e.typeOperand("type"),
		"sizeof_expression":                 e.typeOperand("type"),
		"cast_expression":                   e.typeOperand("type"),
		"as_expression":                     e.typeOperand("right", "type"),
		"is_expression":                     e.typeOperand("right", "type"),
		"type_constraint":                   e.typeOperand("type"),
		"type_parameter_constraint":         e.typeOperand("type"),
	})
	return e
}

// Extract walks root and fills a File for path.
func (e *CSharpExtractor) Extract(root *sitter.Node, source []byte, path string) *File {
	file := &File{Path: path, Origin: OriginSource}
	e.namespaces, e.types, e.scopes = nil, nil, nil
	e.fileNamespace = ""
	e.typeParams = nil
	e.locals = []map[string]struct{}{{}}

	ctx := &ExtractionContext{Source: source, File: file}
	e.engine.Walk(ctx, root)
	return file
}

func (e *CSharpExtractor) namespace() string {
	if n := len(e.namespaces); n > 0 {
		return e.namespaces[n-1]
	}
	return e.fileNamespace
}

func (e *CSharpExtractor) container() string {
	if n := len(e.types); n > 0 {
		return e.types[n-1]
	}
	return ""
}

func (e *CSharpExtractor) context() string {
	if n := len(e.scopes); n > 0 {
		return e.scopes[n-1]
	}
	return e.namespace()
}

func (e *CSharpExtractor) qualify(name string) string {
	parent := e.container()
	if parent == "" {
		parent = e.namespace()
	}
	return joinName(parent, name)
}

func joinName(parent, name string) string {
	if parent == "" {
		return name
	}
	if name == "" {
		return parent
	}
	return parent + "." + name
}

func (e *CSharpExtractor) define(ctx *ExtractionContext, name, fqn string, kind DefinitionKind, node *sitter.Node) {
	ctx.File.Definitions = append(ctx.File.Definitions, Definition{
		Name:      name,
		FullName:  fqn,
		Kind:      kind,
		Namespace: e.namespace(),
		Container: e.container(),
		Location:  ctx.Location(node),
	})
}

func (e *CSharpExtractor) addNamespace(ctx *ExtractionContext, ns string, node *sitter.Node) {
	if !slices.Contains(ctx.File.Namespaces, ns) {
		ctx.File.Namespaces = append(ctx.File.Namespaces, ns)
	}
	ctx.File.Definitions = append(ctx.File.Definitions, Definition{
		Name:      lastSegment(ns),
		FullName:  ns,
		Kind:      KindNamespace,
		Namespace: ns,
		Location:  ctx.Location(node),
	})
}

func (e *CSharpExtractor) pushLocals() {
	e.locals = append(e.locals, map[string]struct{}{})
}

func (e *CSharpExtractor) popLocals() {
	e.locals = e.locals[:len(e.locals)-1]
}

func (e *CSharpExtractor) addLocal(ctx *ExtractionContext, node *sitter.Node) {
	if node == nil || len(e.locals) == 0 {
		return
	}
	switch node.Kind() {
	case "identifier", "implicit_parameter":
		e.locals[len(e.locals)-1][ctx.Text(node)] = struct{}{}
	case "single_variable_designation":
		e.addLocal(ctx, ChildOfKind(node, "identifier"))
	}
}

func (e *CSharpExtractor) pushTypeParams(ctx *ExtractionContext, node *sitter.Node) bool {
	list := ChildOfKind(node, "type_parameter_list")
	if list == nil {
		return false
	}
	set := map[string]struct{}{}
	for i := uint(0); i < list.NamedChildCount(); i++ {
		tp := list.NamedChild(i)
		if tp.Kind() != "type_parameter" {
			continue
		}
		name := Field(tp, "name")
		if name == nil {
			name = ChildOfKind(tp, "identifier")
		}
		if name != nil {
			set[ctx.Text(name)] = struct{}{}
		}
	}
	e.typeParams = append(e.typeParams, set)
	return true
}

func (e *CSharpExtractor) popTypeParams(pushed bool) {
	if pushed {
		e.typeParams = e.typeParams[:len(e.typeParams)-1]
	}
}

// shadowed reports whether the first segment of name is a local variable,
// parameter or type parameter in scope.
func (e *CSharpExtractor) shadowed(name string) bool {
	head, _, _ := strings.Cut(name, ".")
	for i := len(e.locals) - 1; i >= 0; i-- {
		if _, ok := e.locals[i][head]; ok {
			return true
		}
	}
	for i := len(e.typeParams) - 1; i >= 0; i-- {
		if _, ok := e.typeParams[i][head]; ok {
			return true
		}
	}
	return false
}

func (e *CSharpExtractor) addReference(ctx *ExtractionContext, name string, kind ReferenceKind, node *sitter.Node, alternates ...string) {
	if name == "" || e.shadowed(name) {
		return
	}
	ctx.File.References = append(ctx.File.References, Reference{
		Name:       name,
		Kind:       kind,
		Context:    e.context(),
		Namespace:  e.namespace(),
		Alternates: alternates,
		Location:   ctx.Location(node),
	})
}

// nameOf renders a name-like node as a dotted name. It returns "" for
// anything that is not a plain (possibly qualified or generic) name.
func nameOf(ctx *ExtractionContext, node *sitter.Node) string {
	if node == nil {
		return ""
	}
	switch node.Kind() {
	case "identifier":
		return ctx.Text(node)
	case "generic_name":
		return nameOf(ctx, ChildOfKind(node, "identifier"))
	case "qualified_name":
		qualifier := Field(node, "qualifier")
		name := Field(node, "name")
		if qualifier == nil || name == nil {
			if node.NamedChildCount() < 2 {
				return ""
			}
			qualifier, name = node.NamedChild(0), node.NamedChild(node.NamedChildCount()-1)
		}
		left, right := nameOf(ctx, qualifier), nameOf(ctx, name)
		if left == "" || right == "" {
			return ""
		}
		return left + "." + right
	case "alias_qualified_name":
		name := Field(node, "name")
		if name == nil && node.NamedChildCount() > 0 {
			name = node.NamedChild(node.NamedChildCount() - 1)
		}
		return nameOf(ctx, name)
	case "member_access_expression":
		expr, name := Field(node, "expression"), Field(node, "name")
		if expr == nil || name == nil {
			return ""
		}
		right := nameOf(ctx, name)
		switch expr.Kind() {
		case "this_expression", "this", "base_expression", "base":
			return right
		}
		left := nameOf(ctx, expr)
		if left == "" || right == "" {
			return ""
		}
		return left + "." + right
	}
	return ""
}

// recordType records references for a type node, descending into generic
// arguments, arrays, nullables and tuples.
func (e *CSharpExtractor) recordType(ctx *ExtractionContext, node *sitter.Node, kind ReferenceKind) {
	if node == nil {
		return
	}
	switch node.Kind() {
	case "predefined_type", "implicit_type":
		return
	case "identifier", "qualified_name", "alias_qualified_name":
		e.addReference(ctx, nameOf(ctx, node), kind, node)
		e.recordTypeArguments(ctx, node)
	case "generic_name":
		e.addReference(ctx, nameOf(ctx, node), kind, node)
		e.recordTypeArguments(ctx, node)
	case "nullable_type", "array_type", "pointer_type", "ref_type", "scoped_type":
		inner := Field(node, "type")
		if inner == nil && node.NamedChildCount() > 0 {
			inner = node.NamedChild(0)
		}
		e.recordType(ctx, inner, kind)
	case "tuple_type":
		for i := uint(0); i < node.NamedChildCount(); i++ {
			elem := node.NamedChild(i)
			t := Field(elem, "type")
			if t == nil && elem.NamedChildCount() > 0 {
				t = elem.NamedChild(0)
			}
			e.recordType(ctx, t, RefTypeUsage)
		}
	}
}

func (e *CSharpExtractor) recordTypeArguments(ctx *ExtractionContext, node *sitter.Node) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		switch child.Kind() {
		case "type_argument_list":
			for j := uint(0); j < child.NamedChildCount(); j++ {
				e.recordType(ctx, child.NamedChild(j), RefTypeUsage)
			}
		case "generic_name", "qualified_name":
			e.recordTypeArguments(ctx, child)
		}
	}
}

func (e *CSharpExtractor) walkExcept(ctx *ExtractionContext, node *sitter.Node, skip ...*sitter.Node) {
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		skipped := false
		for _, s := range skip {
			if s != nil && s.Id() == child.Id() {
				skipped = true
				break
			}
		}
		if !skipped {
			e.engine.Walk(ctx, child)
		}
	}
}

func (e *CSharpExtractor) extractUsing(ctx *ExtractionContext, node *sitter.Node) bool {
	using := Using{Location: ctx.Location(node)}
	var target *sitter.Node
	afterEquals := false
	for i := uint(0); i < node.ChildCount(); i++ {
		child := node.Child(i)
		switch child.Kind() {
		case "global":
			using.Global = true
		case "static":
			using.Static = true
		case "=":
			afterEquals = true
			if target != nil {
				using.Alias = ctx.Text(target)
				target = nil
			}
		case "name_equals":
			using.Alias = ctx.Text(ChildOfKind(child, "identifier"))
		case ";", "using", "unsafe":
		default:
			if child.IsNamed() && (target == nil || afterEquals) {
				target = child
			}
		}
	}
	if target == nil {
		return true
	}
	using.Target = nameOf(ctx, target)
	if using.Target == "" {
		return true
	}
	ctx.File.Usings = append(ctx.File.Usings, using)
	ctx.File.References = append(ctx.File.References, Reference{
		Name:      using.Target,
		Kind:      RefImport,
		Context:   e.namespace(),
		Namespace: e.namespace(),
		Location:  ctx.Location(target),
	})
	if using.Alias != "" {
		e.recordTypeArguments(ctx, target)
	}
	return true
}

func (e *CSharpExtractor) extractNamespace(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := Field(node, "name")
	name := nameOf(ctx, nameNode)
	if name == "" {
		return false
	}
	ns := joinName(e.namespace(), name)
	e.addNamespace(ctx, ns, nameNode)

	e.namespaces = append(e.namespaces, ns)
	e.walkExcept(ctx, node, nameNode)
	e.namespaces = e.namespaces[:len(e.namespaces)-1]
	return true
}

// A file-scoped namespace applies to everything after it, whether the
// grammar nests the following declarations under it or not.
func (e *CSharpExtractor) extractFileScopedNamespace(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := Field(node, "name")
	name := nameOf(ctx, nameNode)
	if name == "" {
		return false
	}
	e.fileNamespace = name
	e.addNamespace(ctx, name, nameNode)
	e.walkExcept(ctx, node, nameNode)
	return true
}

func (e *CSharpExtractor) typeDeclaration(kind DefinitionKind) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		nameNode := Field(node, "name")
		if nameNode == nil {
			return false
		}
		name := ctx.Text(nameNode)
		fqn := e.qualify(name)
		e.define(ctx, name, fqn, kind, nameNode)

		pushed := e.pushTypeParams(ctx, node)
		e.types = append(e.types, fqn)
		e.scopes = append(e.scopes, fqn)
		e.pushLocals()

		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			switch {
			case child.Id() == nameNode.Id():
			case child.Kind() == "base_list":
				e.extractBaseList(ctx, child)
			default:
				e.engine.Walk(ctx, child)
			}
		}

		e.popLocals()
		e.scopes = e.scopes[:len(e.scopes)-1]
		e.types = e.types[:len(e.types)-1]
		e.popTypeParams(pushed)
		return true
	}
}

func (e *CSharpExtractor) extractBaseList(ctx *ExtractionContext, node *sitter.Node) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child.Kind() == "primary_constructor_base_type" {
			t := Field(child, "type")
			if t == nil && child.NamedChildCount() > 0 {
				t = child.NamedChild(0)
			}
			e.recordType(ctx, t, RefInheritance)
			e.walkExcept(ctx, child, t)
			continue
		}
		e.recordType(ctx, child, RefInheritance)
	}
}

func (e *CSharpExtractor) extractDelegate(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := Field(node, "name")
	if nameNode == nil {
		return false
	}
	name := ctx.Text(nameNode)
	fqn := e.qualify(name)
	e.define(ctx, name, fqn, KindDelegate, nameNode)

	pushed := e.pushTypeParams(ctx, node)
	e.scopes = append(e.scopes, fqn)
	e.pushLocals()
	returns := Field(node, "returns", "type")
	e.recordType(ctx, returns, RefTypeUsage)
	e.walkExcept(ctx, node, nameNode, returns)
	e.popLocals()
	e.scopes = e.scopes[:len(e.scopes)-1]
	e.popTypeParams(pushed)
	return true
}

func (e *CSharpExtractor) memberDeclaration(kind DefinitionKind) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		nameNode := Field(node, "name")
		if nameNode == nil || e.container() == "" {
			return false
		}
		name := ctx.Text(nameNode)
		fqn := joinName(e.container(), name)
		e.define(ctx, name, fqn, kind, nameNode)

		pushed := e.pushTypeParams(ctx, node)
		e.scopes = append(e.scopes, fqn)
		e.pushLocals()

		var typeNode *sitter.Node
		if kind != KindConstructor {
			typeNode = Field(node, "returns", "type")
			e.recordType(ctx, typeNode, RefTypeUsage)
		}
		e.walkExcept(ctx, node, nameNode, typeNode)

		e.popLocals()
		e.scopes = e.scopes[:len(e.scopes)-1]
		e.popTypeParams(pushed)
		return true
	}
}

func (e *CSharpExtractor) fieldDeclaration(kind DefinitionKind) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		decl := ChildOfKind(node, "variable_declaration")
		if decl == nil || e.container() == "" {
			return false
		}
		typeNode := Field(decl, "type")
		e.recordType(ctx, typeNode, RefTypeUsage)

		for i := uint(0); i < node.ChildCount(); i++ {
			child := node.Child(i)
			if child.Id() != decl.Id() {
				e.engine.Walk(ctx, child)
			}
		}
		for i := uint(0); i < decl.NamedChildCount(); i++ {
			declarator := decl.NamedChild(i)
			if declarator.Kind() != "variable_declarator" {
				continue
			}
			nameNode := Field(declarator, "name")
			if nameNode == nil {
				nameNode = ChildOfKind(declarator, "identifier")
			}
			if nameNode == nil {
				continue
			}
			name := ctx.Text(nameNode)
			fqn := joinName(e.container(), name)
			e.define(ctx, name, fqn, kind, nameNode)

			e.scopes = append(e.scopes, fqn)
			e.walkExcept(ctx, declarator, nameNode)
			e.scopes = e.scopes[:len(e.scopes)-1]
		}
		return true
	}
}

func (e *CSharpExtractor) extractEnumMember(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := Field(node, "name")
	if nameNode == nil {
		nameNode = ChildOfKind(node, "identifier")
	}
	if nameNode == nil || e.container() == "" {
		return false
	}
	name := ctx.Text(nameNode)
	e.define(ctx, name, joinName(e.container(), name), KindEnumMember, nameNode)
	e.walkExcept(ctx, node, nameNode)
	return true
}

func (e *CSharpExtractor) extractLocalFunction(ctx *ExtractionContext, node *sitter.Node) bool {
	if nameNode := Field(node, "name"); nameNode != nil {
		e.locals[len(e.locals)-1][ctx.Text(nameNode)] = struct{}{}
	}
	pushed := e.pushTypeParams(ctx, node)
	e.pushLocals()
	returns := Field(node, "returns", "type")
	e.recordType(ctx, returns, RefTypeUsage)
	e.walkExcept(ctx, node, returns)
	e.popLocals()
	e.popTypeParams(pushed)
	return true
}

func (e *CSharpExtractor) extractVariableDeclaration(ctx *ExtractionContext, node *sitter.Node) bool {
	typeNode := Field(node, "type")
	e.recordType(ctx, typeNode, RefTypeUsage)
	for i := uint(0); i < node.NamedChildCount(); i++ {
		declarator := node.NamedChild(i)
		if declarator.Kind() != "variable_declarator" {
			continue
		}
		nameNode := Field(declarator, "name")
		if nameNode == nil {
			nameNode = ChildOfKind(declarator, "identifier")
		}
		// the initializer is walked before the name is in scope
		e.walkExcept(ctx, declarator, nameNode)
		e.addLocal(ctx, nameNode)
	}
	return true
}

func (e *CSharpExtractor) extractParameter(ctx *ExtractionContext, node *sitter.Node) bool {
	typeNode := Field(node, "type")
	nameNode := Field(node, "name")
	e.recordType(ctx, typeNode, RefTypeUsage)
	e.addLocal(ctx, nameNode)
	e.walkExcept(ctx, node, typeNode, nameNode)
	return true
}

func (e *CSharpExtractor) extractDeclarationExpression(ctx *ExtractionContext, node *sitter.Node) bool {
	e.recordType(ctx, Field(node, "type"), RefTypeUsage)
	e.addLocal(ctx, Field(node, "name"))
	return true
}

func (e *CSharpExtractor) extractDeclarationPattern(ctx *ExtractionContext, node *sitter.Node) bool {
	e.recordType(ctx, Field(node, "type"), RefTypeUsage)
	e.addLocal(ctx, Field(node, "designation", "name"))
	return true
}

func (e *CSharpExtractor) extractForeach(ctx *ExtractionContext, node *sitter.Node) bool {
	typeNode := Field(node, "type")
	left := Field(node, "left")
	e.recordType(ctx, typeNode, RefTypeUsage)
	e.addLocal(ctx, left)
	e.walkExcept(ctx, node, typeNode, left)
	return true
}

func (e *CSharpExtractor) extractCatch(ctx *ExtractionContext, node *sitter.Node) bool {
	e.recordType(ctx, Field(node, "type"), RefTypeUsage)
	e.addLocal(ctx, Field(node, "name"))
	return true
}

func (e *CSharpExtractor) extractLambda(ctx *ExtractionContext, node *sitter.Node) bool {
	e.pushLocals()
	defer e.popLocals()
	if params := Field(node, "parameters"); params != nil {
		e.addLocal(ctx, params)
	}
	e.engine.WalkChildren(ctx, node)
	return true
}

func (e *CSharpExtractor) extractFromClause(ctx *ExtractionContext, node *sitter.Node) bool {
	e.recordType(ctx, Field(node, "type"), RefTypeUsage)
	e.addLocal(ctx, Field(node, "name"))
	return false
}

func (e *CSharpExtractor) extractObjectCreation(ctx *ExtractionContext, node *sitter.Node) bool {
	typeNode := Field(node, "type")
	e.recordType(ctx, typeNode, RefObjectCreation)
	e.walkExcept(ctx, node, typeNode)
	return true
}

func (e *CSharpExtractor) extractInvocation(ctx *ExtractionContext, node *sitter.Node) bool {
	fn := Field(node, "function")
	if fn == nil && node.NamedChildCount() > 0 {
		fn = node.NamedChild(0)
	}
	if name := nameOf(ctx, fn); name != "" {
		e.addReference(ctx, name, RefInvocation, fn)
		e.recordTypeArguments(ctx, fn)
		if fn.Kind() == "member_access_expression" {
			e.recordTypeArguments(ctx, Field(fn, "name"))
		}
		e.walkExcept(ctx, node, fn)
		return true
	}
	return false
}

// Only the outermost member access of a plain dotted chain is recorded.
func (e *CSharpExtractor) extractMemberAccess(ctx *ExtractionContext, node *sitter.Node) bool {
	name := nameOf(ctx, node)
	if name == "" || !strings.Contains(name, ".") {
		return false
	}
	e.addReference(ctx, name, RefMemberAccess, node)
	return true
}

func (e *CSharpExtractor) extractAttribute(ctx *ExtractionContext, node *sitter.Node) bool {
	nameNode := Field(node, "name")
	if nameNode == nil && node.NamedChildCount() > 0 {
		nameNode = node.NamedChild(0)
	}
	name := nameOf(ctx, nameNode)
	if name != "" {
		var alternates []string
		if !strings.HasSuffix(name, "Attribute") {
			alternates = []string{name + "Attribute"}
		}
		e.addReference(ctx, name, RefAttribute, nameNode, alternates...)
	}
	e.walkExcept(ctx, node, nameNode)
	return true
}

// typeOperand handles expressions with a single type operand found under one
// of the given field names.
func (e *CSharpExtractor) typeOperand(fields ...string) NodeHandler {
	return func(ctx *ExtractionContext, node *sitter.Node) bool {
		typeNode := Field(node, fields...)
		if typeNode == nil {
			return false
		}
		e.recordType(ctx, typeNode, RefTypeUsage)
		e.walkExcept(ctx, node, typeNode)
		return true
	}
}

func lastSegment(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i+1:]
	}
	return name
}
