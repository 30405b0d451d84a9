// pkg/tree/factory.go
package tree

import "fmt"

// Kind selects an index engine.
type Kind int

const (
	// KindMass is the concurrent mass-tree engine.
	KindMass Kind = iota
)

// Creator builds an instance of a registered engine.
type Creator func() (Index, error)

var creators = map[Kind]Creator{}

// Register claims a kind for an engine. Engines register from an init
// function; registering a kind twice panics.
func Register(k Kind, c Creator) {
	if _, dup := creators[k]; dup {
		panic(fmt.Sprintf("tree: kind %d registered twice", k))
	}
	creators[k] = c
}

// Open creates a new index of the given kind.
func Open(k Kind) (Index, error) {
	c, ok := creators[k]
	if !ok {
		return nil, fmt.Errorf("tree: no engine registered for kind %d", k)
	}
	return c()
}
