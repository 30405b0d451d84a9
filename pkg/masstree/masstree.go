// pkg/masstree/masstree.go
package masstree

import (
	"errors"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"masstree/internal/encoding"
)

var (
	ErrKeyNotFound = errors.New("key not found")
	ErrTreeClosed  = errors.New("tree is closed")
)

// Config holds tree configuration.
type Config struct {
	// ReaderHint is an advisory count of goroutines expected to operate
	// on the tree concurrently. It may be ignored.
	ReaderHint int
}

// DefaultConfig returns the default tree configuration.
func DefaultConfig() Config {
	return Config{}
}

// Tree is a concurrent, in-memory, ordered index over variable-length
// byte keys: a trie of B+-tree layers, each layer keyed by one 8-byte
// slice of the key. Point reads take no locks and validate against
// per-node version words; writers lock individual nodes and hold at
// most three locks while propagating a split.
//
// Values are opaque to the tree and never inspected.
type Tree struct {
	// root is the top-level layer root, replaced only by root growth.
	root atomic.Pointer[node]

	_ cpu.CacheLinePad // keep the stats block off the root's cache line

	stats  TreeStats
	epoch  *epochManager
	cfg    Config
	closed atomic.Int32
}

// New creates an empty tree with the default configuration.
func New() *Tree {
	return NewWithConfig(DefaultConfig())
}

// NewWithConfig creates an empty tree. The initial root is a border node
// marked as its layer's root.
func NewWithConfig(cfg Config) *Tree {
	t := &Tree{
		epoch: newEpochManager(),
		cfg:   cfg,
	}
	t.root.Store(newBorder(true))
	atomic.AddInt64(&t.stats.NodeCount, 1)
	atomic.AddInt64(&t.stats.LayerCount, 1)
	return t
}

// Get returns the value stored under key, or ErrKeyNotFound. It is safe
// for any number of concurrent callers; a lookup racing writers returns
// either ErrKeyNotFound or a value that was live at some moment during
// the call.
func (t *Tree) Get(key []byte) (any, error) {
	if t.closed.Load() == 1 {
		return nil, ErrTreeClosed
	}
	atomic.AddInt64(&t.stats.GetCount, 1)
	g := t.epoch.enter()
	defer g.leave()

	n := t.root.Load()
	off := 0
	for {
		b, v := t.findBorder(n, key, off)
		s, c := encoding.ReadSlice(key, off)
		rest := keyTail(key, off+c)
		for {
			val, link, found := b.searchBorder(s, c, rest)
			nv := b.getVersion()
			if changedBeyondLock(nv, v) {
				// The border changed under the search. Re-stabilize,
				// then chase right: splits only ever move keys into
				// new right siblings.
				v = b.stableVersion()
				for {
					next := b.next.Load()
					if next == nil || s < next.lowSlice() {
						break
					}
					b = next
					v = b.stableVersion()
				}
				continue
			}
			if v&deletedBit != 0 {
				panic("masstree: deleted node on read path")
			}
			if link != nil {
				n = link
				off += keylenMax
				break
			}
			if !found {
				return nil, ErrKeyNotFound
			}
			return val, nil
		}
	}
}

// Put inserts value under key. It returns true when the key was
// inserted and false when the key was already present, in which case
// the existing entry is left untouched.
func (t *Tree) Put(key []byte, value any) (bool, error) {
	if t.closed.Load() == 1 {
		return false, ErrTreeClosed
	}
	atomic.AddInt64(&t.stats.PutCount, 1)
	g := t.epoch.enter()
	defer g.leave()

	n := t.root.Load()
	off := 0
	for {
		b, v := t.findBorder(n, key, off)
		s, _ := encoding.ReadSlice(key, off)
		b.lock()
		if changedBeyondLock(b.getVersion(), v) {
			// The border split between the descent and the lock; the
			// key can only have moved right. Hand-over-hand until the
			// next sibling no longer covers it.
			for {
				next := b.next.Load()
				if next == nil || s < next.lowSlice() {
					break
				}
				next.lock()
				b.unlock()
				b = next
			}
		}
		outcome, link, cidx := b.insertLeaf(key, off, value)
		switch outcome {
		case insertExisting:
			b.unlock()
			return false, nil
		case insertDone:
			b.unlock()
			atomic.AddInt64(&t.stats.KeyCount, 1)
			return true, nil
		case insertDescend:
			b.unlock()
			n = link
			off += keylenMax
		case insertConflict:
			t.buildLayer(b, cidx, key, off, value)
			b.unlock()
			atomic.AddInt64(&t.stats.KeyCount, 1)
			return true, nil
		case insertFull:
			t.splitAndInsert(b, key, off, value)
			atomic.AddInt64(&t.stats.KeyCount, 1)
			return true, nil
		}
	}
}

// findBorder descends from start to the border node covering key at
// slice offset off and returns it with a stable version. The descent is
// optimistic: each step is validated against the parent's version, a
// vsplit change restarts from the layer root, and any other change
// retries the step.
func (t *Tree) findBorder(start *node, key []byte, off int) (*node, uint32) {
	s, _ := encoding.ReadSlice(key, off)
retry:
	n := start
	v := n.stableVersion()
	for v&rootBit == 0 {
		// The root grew while we were reaching it; the displaced root
		// is parent-linked before its root bit drops, so climbing
		// always lands on the current layer root.
		if p := n.parent.Load(); p != nil {
			n = p
		}
		v = n.stableVersion()
	}
	for v&borderBit == 0 {
		child := n.locateChild(n.loadPerm(), s)
		if child == nil {
			goto retry
		}
		cv := child.stableVersion()
		nv := n.getVersion()
		if !changedBeyondLock(nv, v) {
			n, v = child, cv
			continue
		}
		if splitChanged(nv, v) {
			goto retry
		}
		v = n.stableVersion()
	}
	return n, v
}

// buildLayer resolves a full-slice conflict: the entry at physical slot
// idx and the new key agree on the whole slice at off, so both continue
// one layer down. Further shared slices chain single-link layers until
// the keys diverge; the conflicting entry then becomes a link to the
// chain. Callers hold b's lock and unlock after return.
func (t *Tree) buildLayer(b *node, idx int, key []byte, off int, value any) {
	e := &b.entries[idx]
	r1 := e.suffix
	r2 := keyTail(key, off+keylenMax)

	top := newBorder(true)
	top.parent.Store(b)
	atomic.AddInt64(&t.stats.NodeCount, 1)
	atomic.AddInt64(&t.stats.LayerCount, 1)
	atomic.AddInt64(&t.stats.LayerBuildCount, 1)

	cur := top
	for {
		s1, c1 := encoding.ReadSlice(r1, 0)
		s2, c2 := encoding.ReadSlice(r2, 0)
		if s1 == s2 && c1 == keylenMax && c2 == keylenMax {
			deeper := newBorder(true)
			deeper.parent.Store(cur)
			cur.appendEntry(s1, entry{kind: entryLayer, link: deeper})
			atomic.AddInt64(&t.stats.NodeCount, 1)
			atomic.AddInt64(&t.stats.LayerCount, 1)
			cur = deeper
			r1 = r1[keylenMax:]
			r2 = r2[keylenMax:]
			continue
		}
		cur.appendEntry(s1, entry{
			kind:   entryValue,
			keylen: uint8(c1),
			suffix: keyTail(r1, c1),
			value:  e.value,
		})
		cur.appendEntry(s2, entry{
			kind:   entryValue,
			keylen: uint8(c2),
			suffix: copyBytes(keyTail(r2, c2)),
			value:  value,
		})
		break
	}

	// The chain is fully built; retag the conflicting entry. Readers
	// that raced the rewrite retry on the vinsert bump at unlock.
	b.markInsert()
	e.link = top
	e.kind = entryLayer
	e.suffix = nil
	e.value = nil
}

// splitAndInsert splits the full border b, lands the key in the correct
// half, and propagates the fence upward. b is locked on entry; every
// lock is released by the time it returns.
func (t *Tree) splitAndInsert(b *node, key []byte, off int, value any) {
	s, _ := encoding.ReadSlice(key, off)
	right, fence := b.splitBorder()
	atomic.AddInt64(&t.stats.NodeCount, 1)
	atomic.AddInt64(&t.stats.SplitCount, 1)

	target := b
	if s >= fence {
		target = right
	}
	outcome, _, _ := target.insertLeaf(key, off, value)
	if outcome != insertDone {
		panic("masstree: post-split insert did not land")
	}
	t.promote(b, fence, right)
}

// promote inserts a fence separating two locked siblings into their
// parent, splitting parents and recursing upward as needed. A new root
// is grown when the split reaches a layer root. At most three locks are
// held at any moment: the pair and one parent.
func (t *Tree) promote(left *node, fence uint64, right *node) {
	for {
		p := left.lockedParent()
		if p == nil {
			t.growRoot(nil, left, fence, right)
			left.unlock()
			right.unlock()
			return
		}
		if p.isBorder() {
			// left was the root of a deeper layer, reached through a
			// link entry in p.
			t.growRoot(p, left, fence, right)
			p.unlock()
			left.unlock()
			right.unlock()
			return
		}
		if !p.loadPerm().full() {
			right.parent.Store(p)
			p.insertSeparator(fence, right)
			p.unlock()
			left.unlock()
			right.unlock()
			return
		}
		left.unlock()
		p1, fence1 := p.splitInterior()
		atomic.AddInt64(&t.stats.NodeCount, 1)
		atomic.AddInt64(&t.stats.SplitCount, 1)
		if fence < fence1 {
			right.parent.Store(p)
			p.insertSeparator(fence, right)
		} else {
			right.parent.Store(p1)
			p1.insertSeparator(fence, right)
		}
		right.unlock()
		left, fence, right = p, fence1, p1
	}
}

// growRoot replaces a split layer root with a fresh interior node over
// the two halves. For the top-level layer the tree's root pointer is
// republished; for a deeper layer the link entry in the parent border p
// (locked by the caller) is swapped. left and right stay locked
// throughout, and left keeps its root bit until it is parent-linked
// under the new root.
func (t *Tree) growRoot(p, left *node, fence uint64, right *node) {
	r := &node{}
	r.version.Store(rootBit)
	r.slices[0] = fence
	r.children[0].Store(left)
	r.children[1].Store(right)
	r.storePerm(identityPermutation(1))
	if p != nil {
		r.parent.Store(p)
	}
	left.parent.Store(r)
	right.parent.Store(r)
	left.clearRoot()
	atomic.AddInt64(&t.stats.NodeCount, 1)
	if p == nil {
		t.root.Store(r)
	} else {
		p.swapLink(left, r)
	}
}

// KeyCount returns the number of live keys.
func (t *Tree) KeyCount() int64 {
	return atomic.LoadInt64(&t.stats.KeyCount)
}

// Close marks the tree closed, retires every node through the epoch
// manager, and reclaims once no reader guard is live. The caller must
// guarantee no operation is in flight or started afterwards.
func (t *Tree) Close() error {
	if !t.closed.CompareAndSwap(0, 1) {
		return ErrTreeClosed
	}
	if root := t.root.Swap(nil); root != nil {
		t.retireAll(root)
	}
	t.epoch.advance()
	for t.epoch.activeReaders() > 0 {
		runtime.Gosched()
	}
	reclaimed := t.epoch.tryReclaim()
	atomic.AddInt64(&t.stats.NodeCount, -int64(reclaimed))
	return nil
}

// retireAll walks a quiesced subtree, retiring every node including the
// roots of deeper layers.
func (t *Tree) retireAll(n *node) {
	p := n.loadPerm()
	if n.isBorder() {
		for i := 0; i < p.count(); i++ {
			e := &n.entries[p.slot(i)]
			if e.kind == entryLayer {
				t.retireAll(e.link)
			}
		}
	} else {
		t.retireAll(n.children[0].Load())
		for i := 0; i < p.count(); i++ {
			t.retireAll(n.children[p.slot(i)+1].Load())
		}
	}
	t.epoch.retire(n)
}
