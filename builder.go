package collective

import "fmt"

// TreeBuilder constructs spanning trees with a fluent API
type TreeBuilder struct {
	size    int
	root    int
	rootSet bool
	edges   []edgeConfig
}

// edgeConfig holds one parent assignment until Build
type edgeConfig struct {
	rank   int
	parent int
}

// NewTreeBuilder creates a builder for a group of the given size
func NewTreeBuilder(size int) *TreeBuilder {
	return &TreeBuilder{
		size:  size,
		edges: make([]edgeConfig, 0),
	}
}

// SetRoot names the root rank
func (b *TreeBuilder) SetRoot(rank int) *TreeBuilder {
	b.root = rank
	b.rootSet = true
	return b
}

// SetParent hangs rank under parent
func (b *TreeBuilder) SetParent(rank, parent int) *TreeBuilder {
	b.edges = append(b.edges, edgeConfig{
		rank:   rank,
		parent: parent,
	})
	return b
}

// Build assembles and validates the tree
func (b *TreeBuilder) Build() (*Tree, error) {
	if b.size < 1 {
		return nil, fmt.Errorf("tree must have at least one rank")
	}
	if !b.rootSet {
		return nil, fmt.Errorf("root rank must be set")
	}
	if b.root < 0 || b.root >= b.size {
		return nil, fmt.Errorf("root rank %d out of range for group of %d", b.root, b.size)
	}

	parents := make([]int, b.size)
	assigned := make([]bool, b.size)
	parents[b.root] = -1
	assigned[b.root] = true

	for _, edge := range b.edges {
		if edge.rank < 0 || edge.rank >= b.size {
			return nil, fmt.Errorf("rank %d out of range for group of %d", edge.rank, b.size)
		}
		if assigned[edge.rank] {
			return nil, fmt.Errorf("rank %d assigned more than one parent", edge.rank)
		}
		parents[edge.rank] = edge.parent
		assigned[edge.rank] = true
	}

	for rank := range parents {
		if !assigned[rank] {
			return nil, fmt.Errorf("rank %d has no parent and is not the root", rank)
		}
	}

	return NewTree(parents)
}
