package ir

import "fmt"

// buildOrder returns nodes so that every node comes after its dependencies.
// Dependencies outside nodes are ignored.
func buildOrder[K comparable](nodes []K, dependencies func(K) []K) ([]K, error) {
	member := make(map[K]bool, len(nodes))
	for _, n := range nodes {
		member[n] = true
	}

	evaluationOrder := make([]K, 0, len(nodes))
	done := make(map[K]bool)

	for {
		progress := false
		for _, n := range nodes {
			if done[n] {
				continue
			}

			ready := true
			for _, dep := range dependencies(n) {
				if member[dep] && !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[n] = true
				evaluationOrder = append(evaluationOrder, n)
				progress = true
			}
		}
		if !progress {
			break
		}
	}

	if len(evaluationOrder) != len(nodes) {
		return nil, fmt.Errorf("%w: %d of %d operators are part of a cycle", ErrInconsistent, len(nodes)-len(evaluationOrder), len(nodes))
	}
	return evaluationOrder, nil
}
