// pkg/masstree/stats.go
package masstree

import "sync/atomic"

// TreeStats holds tree statistics. All counters are maintained with
// atomic adds on the live struct; Stats returns a consistent-enough
// snapshot for monitoring.
type TreeStats struct {
	KeyCount        int64 // live keys
	NodeCount       int64 // nodes across all layers, minus reclaimed
	LayerCount      int64 // layers, including the top-level one
	PutCount        int64 // Put calls
	GetCount        int64 // Get calls
	SplitCount      int64 // border and interior splits
	LayerBuildCount int64 // conflicts that built a deeper-layer chain
}

// Stats returns a snapshot of the tree's counters.
func (t *Tree) Stats() TreeStats {
	return TreeStats{
		KeyCount:        atomic.LoadInt64(&t.stats.KeyCount),
		NodeCount:       atomic.LoadInt64(&t.stats.NodeCount),
		LayerCount:      atomic.LoadInt64(&t.stats.LayerCount),
		PutCount:        atomic.LoadInt64(&t.stats.PutCount),
		GetCount:        atomic.LoadInt64(&t.stats.GetCount),
		SplitCount:      atomic.LoadInt64(&t.stats.SplitCount),
		LayerBuildCount: atomic.LoadInt64(&t.stats.LayerBuildCount),
	}
}
