// pkg/masstree/register.go
package masstree

import "masstree/pkg/tree"

func init() {
	// Claim the mass-tree kind in the engine factory
	tree.Register(tree.KindMass, func() (tree.Index, error) {
		return New(), nil
	})
}

var _ tree.IndexWithStats = (*Tree)(nil)
