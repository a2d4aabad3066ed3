package language

import (
	"strings"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/formatter"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// PrintQuery renders a single operation together with the document's
// fragments in canonical GraphQL syntax.
func PrintQuery(op *OperationDefinition, fragments FragmentDefinitionList) string {
	var b strings.Builder
	formatter.NewFormatter(&b).FormatQueryDocument(&QueryDocument{
		Operations: OperationList{op},
		Fragments:  fragments,
	})
	return strings.TrimSpace(b.String())
}
