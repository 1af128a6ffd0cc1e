package sources

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
)

// javaParser reads package declarations from Java sources. It is not safe for
// concurrent use.
type javaParser struct {
	parser *sitter.Parser
}

func newJavaParser() *javaParser {
	p := sitter.NewParser()
	p.SetLanguage(java.GetLanguage())
	return &javaParser{parser: p}
}

// DeclaredPackage returns the package named by the source's package declaration,
// or "" when it has none.
func (j *javaParser) DeclaredPackage(ctx context.Context, content []byte) (string, error) {
	tree, err := j.parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return "", fmt.Errorf("parse java source: %w", err)
	}
	defer tree.Close()

	root := tree.RootNode()
	for i := 0; i < int(root.NamedChildCount()); i++ {
		child := root.NamedChild(i)
		if child.Type() != "package_declaration" {
			continue
		}
		for k := 0; k < int(child.NamedChildCount()); k++ {
			name := child.NamedChild(k)
			switch name.Type() {
			case "scoped_identifier", "identifier":
				return name.Content(content), nil
			}
		}
	}
	return "", nil
}
