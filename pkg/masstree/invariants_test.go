// pkg/masstree/invariants_test.go
package masstree

import (
	"testing"

	"masstree/internal/encoding"
)

// checkInvariants validates the structural invariants of a quiescent
// tree: permutation bijections, permuted slice order, interior routing
// bounds, the border sibling chain, and a single root per layer. It
// returns every stored key with its value, keyed by the reconstructed
// full key bytes.
func checkInvariants(t *testing.T, tr *Tree) map[string]any {
	t.Helper()
	found := make(map[string]any)
	root := tr.root.Load()
	if root == nil {
		t.Fatal("tree has no root")
	}
	checkLayer(t, root, nil, found)
	return found
}

// checkLayer validates one layer rooted at root and recurses into
// deeper layers. prefix holds the key bytes consumed above this layer.
func checkLayer(t *testing.T, root *node, prefix []byte, found map[string]any) {
	t.Helper()
	if root.getVersion()&rootBit == 0 {
		t.Fatal("layer root lost its root bit")
	}

	var borders []*node
	checkSubtree(t, root, true, 0, ^uint64(0), &borders)

	// the borders collected in key order must be exactly the sibling chain
	for i, b := range borders {
		var wantPrev, wantNext *node
		if i > 0 {
			wantPrev = borders[i-1]
		}
		if i < len(borders)-1 {
			wantNext = borders[i+1]
		}
		if b.prev.Load() != wantPrev || b.next.Load() != wantNext {
			t.Fatal("border sibling chain disagrees with tree order")
		}
		if i > 0 {
			prev := borders[i-1]
			pp := prev.loadPerm()
			if pp.count() > 0 && b.loadPerm().count() > 0 {
				if b.lowSlice() < prev.slices[pp.slot(pp.count()-1)] {
					t.Fatal("sibling order: next border starts below the previous one")
				}
			}
		}
	}

	for _, b := range borders {
		p := b.loadPerm()
		for i := 0; i < p.count(); i++ {
			phys := p.slot(i)
			e := &b.entries[phys]
			kb := append(append([]byte{}, prefix...), encoding.SliceBytes(b.slices[phys], entrySpan(e))...)
			if e.kind == entryLayer {
				if e.link.parent.Load() != b {
					t.Fatal("layer root not parented to its link's border")
				}
				checkLayer(t, e.link, kb, found)
				continue
			}
			key := append(kb, e.suffix...)
			if _, dup := found[string(key)]; dup {
				t.Fatalf("key %q stored twice", key)
			}
			found[string(key)] = e.value
		}
	}
}

func entrySpan(e *entry) int {
	if e.kind == entryLayer {
		return keylenMax
	}
	return int(e.keylen)
}

// checkSubtree validates node-local invariants and routing bounds
// [lo, hi) for every node under n, appending border nodes in key order.
func checkSubtree(t *testing.T, n *node, isRoot bool, lo, hi uint64, borders *[]*node) {
	t.Helper()
	v := n.getVersion()
	if v&(lockBit|insertBit|splitBit) != 0 {
		t.Fatalf("quiescent node carries writer bits: %#x", v)
	}
	if v&deletedBit != 0 {
		t.Fatal("deleted bit set; deletion is not implemented")
	}
	if !isRoot && v&rootBit != 0 {
		t.Fatal("two roots in one layer")
	}

	p := n.loadPerm()
	c := p.count()
	if c > fanout {
		t.Fatalf("count = %d exceeds fanout", c)
	}
	seen := make(map[int]bool, c)
	for i := 0; i < c; i++ {
		phys := p.slot(i)
		if seen[phys] {
			t.Fatal("permutation references a physical slot twice")
		}
		seen[phys] = true
		if i > 0 && n.slices[p.slot(i-1)] > n.slices[phys] {
			t.Fatal("permuted slices out of order")
		}
		s := n.slices[phys]
		if s < lo || (hi != ^uint64(0) && s >= hi) {
			t.Fatalf("slice %#x escapes its routing bounds [%#x, %#x)", s, lo, hi)
		}
	}

	if v&borderBit != 0 {
		*borders = append(*borders, n)
		return
	}

	// interior: child i covers [slice[i-1], slice[i])
	for i := 0; i <= c; i++ {
		clo, chi := lo, hi
		if i > 0 {
			clo = n.slices[p.slot(i-1)]
		}
		if i < c {
			chi = n.slices[p.slot(i)]
		}
		var child *node
		if i == 0 {
			child = n.children[0].Load()
		} else {
			child = n.children[p.slot(i-1)+1].Load()
		}
		if child == nil {
			t.Fatal("interior node with a nil child")
		}
		if child.parent.Load() != n {
			t.Fatal("child's parent link does not point at its parent")
		}
		checkSubtree(t, child, false, clo, chi, borders)
	}
}
