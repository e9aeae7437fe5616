package collective

import "fmt"

// ValidationError represents a tree validation error with context
type ValidationError struct {
	Message string
	Details string
}

func (e ValidationError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s", e.Message, e.Details)
	}
	return e.Message
}

// validateTree checks that a parent table describes a spanning tree:
// exactly one root, every parent inside the group, no rank on a parent
// cycle. A cycle is also what an unreachable rank looks like in a parent
// table, since every terminating chain ends at the root
func validateTree(parents []int) error {
	if len(parents) == 0 {
		return ValidationError{
			Message: "tree validation failed",
			Details: "group has no ranks",
		}
	}

	root := -1
	for rank, parent := range parents {
		if parent < 0 {
			if root >= 0 {
				return ValidationError{
					Message: "tree validation failed",
					Details: fmt.Sprintf("ranks %d and %d are both roots", root, rank),
				}
			}
			root = rank
			continue
		}
		if parent >= len(parents) {
			return ValidationError{
				Message: "tree validation failed",
				Details: fmt.Sprintf("rank %d has parent %d outside the group", rank, parent),
			}
		}
		if parent == rank {
			return ValidationError{
				Message: "tree validation failed",
				Details: fmt.Sprintf("rank %d is its own parent", rank),
			}
		}
	}
	if root < 0 {
		return ValidationError{
			Message: "tree validation failed",
			Details: "no root rank",
		}
	}

	return detectCycles(parents)
}

// detectCycles walks each rank's ancestor chain looking for a rank that
// repeats before the chain terminates at the root
func detectCycles(parents []int) error {
	visited := make([]bool, len(parents))
	onChain := make([]bool, len(parents))

	for start := range parents {
		if visited[start] {
			continue
		}

		chain := make([]int, 0)
		rank := start
		for rank >= 0 && !visited[rank] {
			visited[rank] = true
			onChain[rank] = true
			chain = append(chain, rank)
			rank = parents[rank]
		}

		if rank >= 0 && onChain[rank] {
			return ValidationError{
				Message: "tree validation failed",
				Details: fmt.Sprintf("cycle through rank %d", rank),
			}
		}

		for _, r := range chain {
			onChain[r] = false
		}
	}

	return nil
}
