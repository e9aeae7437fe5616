package collective

import "fmt"

// Tree is the whole-group spanning tree: every rank, its parent and its
// children. A tree is immutable once built; the group shares one Tree and
// each rank takes its own view from it
type Tree struct {
	// parents maps rank to parent rank, -1 for the root
	parents []int

	// children maps rank to its child ranks in ascending order
	children [][]int

	// root is the rank with no parent
	root int
}

// NewTree builds a tree from a parent table: parents[rank] is the parent
// of rank, negative for the root. The table must describe a spanning tree
// over the whole group
func NewTree(parents []int) (*Tree, error) {
	if err := validateTree(parents); err != nil {
		return nil, err
	}

	t := &Tree{
		parents:  append([]int(nil), parents...),
		children: make([][]int, len(parents)),
	}
	for rank, parent := range parents {
		if parent < 0 {
			t.parents[rank] = -1
			t.root = rank
			continue
		}
		t.children[parent] = append(t.children[parent], rank)
	}
	return t, nil
}

// NewKaryTree builds the canonical tree for a group: rank 0 is the root
// and every other rank hangs under (rank-1)/arity
func NewKaryTree(size, arity int) (*Tree, error) {
	if size < 1 {
		return nil, ValidationError{
			Message: "tree validation failed",
			Details: "group size must be at least 1",
		}
	}
	if arity < 1 {
		return nil, ValidationError{
			Message: "tree validation failed",
			Details: "arity must be at least 1",
		}
	}

	parents := make([]int, size)
	parents[0] = -1
	for rank := 1; rank < size; rank++ {
		parents[rank] = (rank - 1) / arity
	}
	return NewTree(parents)
}

// Size returns the number of ranks in the group
func (t *Tree) Size() int {
	return len(t.parents)
}

// Root returns the root rank
func (t *Tree) Root() int {
	return t.root
}

// View returns one rank's topology view of the tree
func (t *Tree) View(rank int) (*TreeView, error) {
	if rank < 0 || rank >= len(t.parents) {
		return nil, fmt.Errorf("rank %d out of range for group of %d", rank, len(t.parents))
	}
	return &TreeView{tree: t, rank: rank}, nil
}

// TreeView is one rank's read-only slice of a tree
type TreeView struct {
	tree *Tree
	rank int
}

// Rank returns the viewing rank
func (v *TreeView) Rank() int {
	return v.rank
}

// Size returns the group size
func (v *TreeView) Size() int {
	return v.tree.Size()
}

// IsRoot reports whether the viewing rank is the root
func (v *TreeView) IsRoot() bool {
	return v.tree.parents[v.rank] < 0
}

// Parent returns the viewing rank's parent, -1 at the root
func (v *TreeView) Parent() int {
	return v.tree.parents[v.rank]
}

// NChildren returns the number of children under the viewing rank
func (v *TreeView) NChildren() int {
	return len(v.tree.children[v.rank])
}

// Child returns the i-th child of the viewing rank
func (v *TreeView) Child(i int) int {
	return v.tree.children[v.rank][i]
}
