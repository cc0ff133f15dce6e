// Package reply renders backend answers for IM clients that show raw text.
package reply

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var (
	markdown   = goldmark.New()
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// PlainText strips markdown syntax from answer while keeping its line
// structure. List items keep a "- " or "N. " marker and links keep their
// destination in parentheses.
func PlainText(answer string) string {
	if strings.TrimSpace(answer) == "" {
		return ""
	}

	source := []byte(answer)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var out strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				out.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					out.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				out.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				out.Write(node.Label(source))
			}
			return ast.WalkSkipChildren, nil
		case *ast.Link:
			if !entering && len(node.Destination) > 0 {
				out.WriteString(" (")
				out.Write(node.Destination)
				out.WriteByte(')')
			}
		case *ast.RawHTML, *ast.HTMLBlock:
			return ast.WalkSkipChildren, nil
		case *ast.ListItem:
			if entering {
				out.WriteString(listMarker(node))
			}
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					segment := lines.At(i)
					out.Write(segment.Value(source))
				}
				return ast.WalkSkipChildren, nil
			}
			endBlock(&out, n)
		case *ast.Paragraph, *ast.TextBlock, *ast.Heading, *ast.List, *ast.ThematicBreak:
			if !entering {
				endBlock(&out, n)
			}
		}
		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(blankLines.ReplaceAllString(out.String(), "\n\n"))
}

func endBlock(out *strings.Builder, n ast.Node) {
	if !strings.HasSuffix(out.String(), "\n") {
		out.WriteByte('\n')
	}
	if parent := n.Parent(); parent != nil && parent.Kind() == ast.KindDocument {
		out.WriteByte('\n')
	}
}

func listMarker(item *ast.ListItem) string {
	list, ok := item.Parent().(*ast.List)
	if !ok || !list.IsOrdered() {
		return "- "
	}

	index := list.Start
	for sibling := item.PreviousSibling(); sibling != nil; sibling = sibling.PreviousSibling() {
		index++
	}
	return strconv.Itoa(index) + ". "
}
