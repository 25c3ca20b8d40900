package metadata

// PruneEmpty removes container nodes that have no children once their own
// subtrees have been pruned, so a schema whose last table was removed is
// itself removed in the same pass. Only Database, Schema, Table, and View
// nodes are eligible; every other kind survives regardless of child count.
// The operation is idempotent.
func PruneEmpty(n *Node) *Node {
	pruned := make([]*Node, 0, len(n.Children))
	for _, child := range n.Children {
		child = PruneEmpty(child)
		if child.prunable() && len(child.Children) == 0 {
			continue
		}
		pruned = append(pruned, child)
	}
	n.Children = pruned
	return n
}

func (n *Node) prunable() bool {
	switch n.Kind {
	case KindDatabase, KindSchema, KindTable, KindView:
		return true
	default:
		return false
	}
}
