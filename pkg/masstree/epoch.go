// pkg/masstree/epoch.go
package masstree

import (
	"sync"
	"sync/atomic"
)

// epochManager provides epoch-based memory reclamation for the tree.
// Nodes taken out of the structure must survive until no concurrent
// reader can still hold a version observed before the removal; the
// epoch protocol decides when that point has passed.
//
// 1. The global epoch is a monotonically increasing counter.
// 2. Operations enter an epoch before touching the tree and leave when
//    done.
// 3. Retired nodes are bucketed under the epoch of their retirement.
// 4. A bucket is freed once every active reader entered after it.
type epochManager struct {
	// globalEpoch is atomically advanced by advance; the tree calls it
	// only from Close.
	globalEpoch uint64

	// readers maps reader IDs to their entry state.
	readers sync.Map // uint64 -> *readerState

	retiredMu sync.Mutex
	retired   map[uint64][]*node

	nextReaderID uint64
}

type readerState struct {
	epoch  uint64
	active int32 // atomic: 1 while the guard is held
}

func newEpochManager() *epochManager {
	return &epochManager{
		globalEpoch: 1, // epoch 0 means "not set"
		retired:     make(map[uint64][]*node),
	}
}

// epochGuard is an active operation's claim on its entry epoch.
type epochGuard struct {
	mgr      *epochManager
	state    *readerState
	readerID uint64
}

// enter begins an operation, recording the current epoch. The returned
// guard must be released with leave.
func (e *epochManager) enter() *epochGuard {
	readerID := atomic.AddUint64(&e.nextReaderID, 1)
	state := &readerState{}

	state.epoch = atomic.LoadUint64(&e.globalEpoch)
	atomic.StoreInt32(&state.active, 1)

	e.readers.Store(readerID, state)

	return &epochGuard{
		mgr:      e,
		state:    state,
		readerID: readerID,
	}
}

// leave ends the operation, allowing its entry epoch to retire.
func (g *epochGuard) leave() {
	if g == nil || g.state == nil {
		return
	}
	atomic.StoreInt32(&g.state.active, 0)
	g.mgr.readers.Delete(g.readerID)
}

// advance increments the global epoch and returns the new value.
func (e *epochManager) advance() uint64 {
	return atomic.AddUint64(&e.globalEpoch, 1)
}

// retire parks a node until no reader from its epoch remains.
func (e *epochManager) retire(n *node) {
	if n == nil {
		return
	}
	epoch := atomic.LoadUint64(&e.globalEpoch)

	e.retiredMu.Lock()
	e.retired[epoch] = append(e.retired[epoch], n)
	e.retiredMu.Unlock()
}

// tryReclaim frees every bucket retired before the minimum active
// reader epoch and returns the number of nodes reclaimed. The nodes
// themselves are released to the garbage collector.
func (e *epochManager) tryReclaim() int {
	minEpoch := e.minActiveEpoch()

	e.retiredMu.Lock()
	defer e.retiredMu.Unlock()

	reclaimed := 0
	for epoch, nodes := range e.retired {
		if epoch < minEpoch {
			reclaimed += len(nodes)
			delete(e.retired, epoch)
		}
	}
	return reclaimed
}

// minActiveEpoch returns the minimum epoch among active readers, or the
// current epoch when none are active.
func (e *epochManager) minActiveEpoch() uint64 {
	minEpoch := atomic.LoadUint64(&e.globalEpoch)

	e.readers.Range(func(_, value interface{}) bool {
		state := value.(*readerState)
		if atomic.LoadInt32(&state.active) == 1 && state.epoch < minEpoch {
			minEpoch = state.epoch
		}
		return true
	})

	return minEpoch
}

// pendingCount returns the number of nodes waiting to be reclaimed.
func (e *epochManager) pendingCount() int {
	e.retiredMu.Lock()
	defer e.retiredMu.Unlock()

	count := 0
	for _, nodes := range e.retired {
		count += len(nodes)
	}
	return count
}

// activeReaders returns the number of guards currently held.
func (e *epochManager) activeReaders() int {
	count := 0
	e.readers.Range(func(_, value interface{}) bool {
		if atomic.LoadInt32(&value.(*readerState).active) == 1 {
			count++
		}
		return true
	})
	return count
}
