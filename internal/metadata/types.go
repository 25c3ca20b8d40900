package metadata

import (
	"encoding/json"
	"strings"
)

// RootName is the name assigned to the synthetic root node of every tree.
const RootName = "$root"

// Kind identifies the catalog object a node represents.
type Kind int

const (
	KindRoot Kind = iota
	KindDatabase
	KindSchema
	KindTable
	KindView
	KindStoredProcedure
	KindFunction
	KindColumn
	KindColumnType
	KindForeignKey
)

var kindNames = map[Kind]string{
	KindRoot:            "Root",
	KindDatabase:        "Database",
	KindSchema:          "Schema",
	KindTable:           "Table",
	KindView:            "View",
	KindStoredProcedure: "StoredProcedure",
	KindFunction:        "Function",
	KindColumn:          "Column",
	KindColumnType:      "ColumnType",
	KindForeignKey:      "ForeignKey",
}

// String returns the canonical name for the kind
func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "Unknown"
}

// Node is one entry in the hierarchical catalog snapshot.
// Children are ordered in catalog iteration order, not sorted.
type Node struct {
	Kind            Kind              `json:"kind"`
	Name            string            `json:"name"`
	QualifiedName   string            `json:"qualifiedName"`
	ExtraProperties map[string]string `json:"extraProperties"`
	Children        []*Node           `json:"children"`
}

// NewRoot creates an empty root node. A root always exists, even for a
// catalog that produced no children.
func NewRoot() *Node {
	return &Node{
		Kind:            KindRoot,
		Name:            RootName,
		ExtraProperties: map[string]string{},
		Children:        []*Node{},
	}
}

// NewChild creates a node of the given kind under n, appends it to n's
// children, and returns it. The child's qualified name extends the parent's
// by the bracket-quoted object name.
func (n *Node) NewChild(kind Kind, name string) *Node {
	qualified := QuoteName(name)
	if n.QualifiedName != "" {
		qualified = n.QualifiedName + "." + qualified
	}

	child := &Node{
		Kind:            kind,
		Name:            name,
		QualifiedName:   qualified,
		ExtraProperties: map[string]string{},
		Children:        []*Node{},
	}
	n.Children = append(n.Children, child)
	return child
}

// NewColumnType creates a column type leaf. Type names are flat, so the
// qualified name is the bare type name rather than a path.
func NewColumnType(typeName string) *Node {
	return &Node{
		Kind:            KindColumnType,
		Name:            typeName,
		QualifiedName:   typeName,
		ExtraProperties: map[string]string{},
		Children:        []*Node{},
	}
}

// QuoteName bracket-quotes a catalog identifier, doubling any closing
// brackets in the name itself.
func QuoteName(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// MarshalJSON emits the node with an additional kindName field derived from
// the kind tag. kindName has no corresponding struct field, so it can never
// be set independently on the way back in.
func (n *Node) MarshalJSON() ([]byte, error) {
	type alias Node
	return json.Marshal(struct {
		*alias
		KindName string `json:"kindName"`
	}{(*alias)(n), n.Kind.String()})
}
