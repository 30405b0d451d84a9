// pkg/tree/interface.go
// Package tree defines the engine-neutral interface for ordered index
// implementations. Callers program against Index so that engines with
// additional capabilities (deletion, range scans) can be introduced
// without touching call sites.
package tree

// Index is the interface for point operations on an ordered index.
type Index interface {
	// Put inserts value under key; it reports false when the key was
	// already present, leaving the existing entry untouched.
	Put(key []byte, value any) (bool, error)

	// Get retrieves the value stored under key.
	Get(key []byte) (any, error)

	// Close shuts the index down. The caller guarantees quiescence.
	Close() error
}

// IndexWithStats is an extension for engines that count their keys.
type IndexWithStats interface {
	Index
	KeyCount() int64
}
