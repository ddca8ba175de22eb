package index

import (
	_ "embed"
	"strings"
)

//go:embed wellknown/dotnet.txt
var wellKnownData string

// wellKnownTypes holds framework type names that confirm a using candidate.
var wellKnownTypes = map[string]bool{}

func init() {
	for _, line := range strings.Split(wellKnownData, "\n") {
		line = strings.TrimSpace(line)
		if line != "" && !strings.HasPrefix(line, "#") {
			wellKnownTypes[line] = true
		}
	}
}

// wellKnown reports whether name, or its Attribute-suffixed form, is a
// listed framework type.
func wellKnown(name string) bool {
	return wellKnownTypes[name] || wellKnownTypes[name+"Attribute"]
}
