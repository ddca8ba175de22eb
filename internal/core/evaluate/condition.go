package evaluate

import (
	"encoding/json"
	"strings"

	domainErrors "csharp-provider/internal/core/errors"
	"csharp-provider/internal/engine/parser"

	"github.com/getkin/kin-openapi/openapi3"
	"gopkg.in/yaml.v3"
)

// Location restricts which reference kinds a "referenced" condition matches.
type Location string

const (
	LocationAll         Location = "all"
	LocationImport      Location = "import"
	LocationType        Location = "type"
	LocationMethod      Location = "method"
	LocationInheritance Location = "inheritance"
	LocationAttribute   Location = "attribute"
)

var locationKinds = map[Location][]parser.ReferenceKind{
	LocationImport:      {parser.RefImport},
	LocationType:        {parser.RefTypeUsage, parser.RefObjectCreation},
	LocationMethod:      {parser.RefInvocation, parser.RefMemberAccess},
	LocationInheritance: {parser.RefInheritance},
	LocationAttribute:   {parser.RefAttribute},
}

type ReferencedCondition struct {
	Pattern   string   `json:"pattern"`
	Location  Location `json:"location,omitempty"`
	FilePaths []string `json:"file_paths,omitempty"`
}

// accepts reports whether an edge of kind k passes the location filter.
func (c ReferencedCondition) accepts(k parser.ReferenceKind) bool {
	if c.Location == "" || c.Location == LocationAll {
		return true
	}
	for _, allowed := range locationKinds[c.Location] {
		if allowed == k {
			return true
		}
	}
	return false
}

type referencedPayload struct {
	Referenced *ReferencedCondition `json:"referenced"`
}

func referencedSchema() *openapi3.Schema {
	locations := []interface{}{
		string(LocationAll), string(LocationImport), string(LocationType),
		string(LocationMethod), string(LocationInheritance), string(LocationAttribute),
	}
	inner := openapi3.NewObjectSchema().
		WithProperty("pattern", openapi3.NewStringSchema().WithMinLength(1)).
		WithProperty("location", openapi3.NewStringSchema().WithEnum(locations...)).
		WithProperty("file_paths", openapi3.NewArraySchema().WithItems(openapi3.NewStringSchema()))
	inner.Required = []string{"pattern"}

	root := openapi3.NewObjectSchema().WithProperty("referenced", inner)
	root.Required = []string{"referenced"}
	return root
}

// decodeCondition parses conditionInfo (YAML or JSON) into a generic value,
// validates it against schema and then decodes it into out.
func decodeCondition(conditionInfo string, schema *openapi3.Schema, out interface{}) error {
	if strings.TrimSpace(conditionInfo) == "" {
		return domainErrors.New(domainErrors.CodeInvalidCondition, "condition is empty")
	}

	var raw interface{}
	if err := yaml.Unmarshal([]byte(conditionInfo), &raw); err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeInvalidCondition, "condition is not valid YAML or JSON")
	}
	// round trip through JSON so the validator sees plain JSON types
	encoded, err := json.Marshal(raw)
	if err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeInvalidCondition, "condition cannot be represented as JSON")
	}
	var doc interface{}
	if err := json.Unmarshal(encoded, &doc); err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeInvalidCondition, "decoding condition")
	}

	if err := schema.VisitJSON(doc); err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeInvalidCondition, "condition does not match capability schema")
	}
	if err := json.Unmarshal(encoded, out); err != nil {
		return domainErrors.Wrap(err, domainErrors.CodeInvalidCondition, "decoding condition")
	}
	return nil
}
