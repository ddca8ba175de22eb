package parser

// Origin tells whether a file came from the project or from decompiled
// dependency assemblies.
type Origin string

const (
	OriginSource     Origin = "source"
	OriginDependency Origin = "dependency"
)

type File struct {
	Path        string
	Origin      Origin
	Package     string // dependency package for decompiled files
	Namespaces  []string
	Usings      []Using
	Definitions []Definition
	References  []Reference
	Problems    []Location // ERROR / MISSING nodes reported by the grammar
}

// Using is a using-directive. Alias is set for `using X = A.B;`, Static for
// `using static A.B;`.
type Using struct {
	Target   string
	Alias    string
	Static   bool
	Global   bool
	Location Location
}

type Definition struct {
	Name      string
	FullName  string
	Kind      DefinitionKind
	Namespace string
	Container string // FQN of the enclosing type, empty for top-level types
	Location  Location
}

// Reference is a syntactic use of a name. Name is the dotted name as
// written, with generic arguments and `global::` stripped.
type Reference struct {
	Name       string
	Kind       ReferenceKind
	Context    string   // FQN of the innermost enclosing declaration
	Namespace  string   // innermost enclosing namespace
	Alternates []string // extra spellings, e.g. Authorize -> AuthorizeAttribute
	Location   Location
}

// Location is a 1-based source span.
type Location struct {
	File      string
	Line      int
	Column    int
	EndLine   int
	EndColumn int
}

type DefinitionKind int

const (
	KindNamespace DefinitionKind = iota
	KindClass
	KindStruct
	KindInterface
	KindEnum
	KindRecord
	KindDelegate
	KindMethod
	KindConstructor
	KindProperty
	KindField
	KindEvent
	KindEnumMember
)

var definitionKindNames = map[DefinitionKind]string{
	KindNamespace:   "namespace",
	KindClass:       "class",
	KindStruct:      "struct",
	KindInterface:   "interface",
	KindEnum:        "enum",
	KindRecord:      "record",
	KindDelegate:    "delegate",
	KindMethod:      "method",
	KindConstructor: "constructor",
	KindProperty:    "property",
	KindField:       "field",
	KindEvent:       "event",
	KindEnumMember:  "enum_member",
}

func (k DefinitionKind) String() string {
	if name, ok := definitionKindNames[k]; ok {
		return name
	}
	return "unknown"
}

func (k DefinitionKind) IsType() bool {
	return k >= KindClass && k <= KindDelegate
}

func (k DefinitionKind) IsMember() bool {
	return k >= KindMethod
}

type ReferenceKind string

const (
	RefImport         ReferenceKind = "import"
	RefTypeUsage      ReferenceKind = "type-usage"
	RefInvocation     ReferenceKind = "invocation"
	RefMemberAccess   ReferenceKind = "member-access"
	RefObjectCreation ReferenceKind = "object-creation"
	RefInheritance    ReferenceKind = "inheritance"
	RefAttribute      ReferenceKind = "attribute"
)

// ReferenceKinds lists every kind in a stable order.
var ReferenceKinds = []ReferenceKind{
	RefImport, RefTypeUsage, RefInvocation, RefMemberAccess,
	RefObjectCreation, RefInheritance, RefAttribute,
}
