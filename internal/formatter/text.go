package formatter

import (
	"fmt"
	"io"
	"strings"

	"github.com/jjhenkel/sqltoolsservice/internal/metadata"
)

// TextFormatter renders a catalog tree as compact indented text, one line
// per object, suitable for direct prompt injection.
type TextFormatter struct {
	writer io.Writer
}

// NewTextFormatter creates a new text formatter
func NewTextFormatter(w io.Writer) *TextFormatter {
	return &TextFormatter{writer: w}
}

// Format writes the tree in compact text format. The root node itself is
// not printed; its databases start at indent zero.
func (f *TextFormatter) Format(root *metadata.Node) error {
	for _, child := range root.Children {
		if err := f.formatNode(child, 0); err != nil {
			return err
		}
	}
	return nil
}

func (f *TextFormatter) formatNode(node *metadata.Node, depth int) error {
	indent := strings.Repeat("  ", depth)

	var err error
	switch node.Kind {
	case metadata.KindColumn:
		_, err = fmt.Fprintf(f.writer, "%s%s: %s\n", indent, node.Name, columnType(node))
	case metadata.KindForeignKey:
		_, err = fmt.Fprintf(f.writer, "%sFK %s: %s -> %s.%s\n", indent, node.Name,
			node.ExtraProperties["ColumnName"],
			node.ExtraProperties["ReferencedTableName"],
			node.ExtraProperties["ReferencedColumnName"])
	default:
		_, err = fmt.Fprintf(f.writer, "%s%s %s\n", indent, strings.ToUpper(node.Kind.String()), node.Name)
	}
	if err != nil {
		return err
	}

	// Column children are type leaves already folded into the column line.
	if node.Kind == metadata.KindColumn || node.Kind == metadata.KindForeignKey {
		return nil
	}

	for _, child := range node.Children {
		if err := f.formatNode(child, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func columnType(column *metadata.Node) string {
	if len(column.Children) > 0 {
		return column.Children[0].Name
	}
	return "unknown"
}
