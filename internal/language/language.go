package language

import (
	"fmt"

	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

func ParseQuery(source string) (*QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: source})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SelectOperation picks the operation to run from doc: the one named name,
// or the only operation when name is empty.
func SelectOperation(doc *QueryDocument, name string) (*OperationDefinition, error) {
	if name != "" {
		op := doc.Operations.ForName(name)
		if op == nil {
			return nil, fmt.Errorf("language: unknown operation %q", name)
		}
		return op, nil
	}
	switch len(doc.Operations) {
	case 0:
		return nil, fmt.Errorf("language: document has no operations")
	case 1:
		return doc.Operations[0], nil
	default:
		return nil, fmt.Errorf("language: operation name required for document with %d operations", len(doc.Operations))
	}
}

// OperationInfo parses source and reports the type and name of the
// operation selected by name.
func OperationInfo(source, name string) (Operation, string, error) {
	doc, err := ParseQuery(source)
	if err != nil {
		return "", "", err
	}
	op, err := SelectOperation(doc, name)
	if err != nil {
		return "", "", err
	}
	return op.Operation, op.Name, nil
}
