package evaluator

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/graph/community"
	"gonum.org/v1/gonum/graph/simple"
)

// Communities runs Louvain modularity optimization over ug and returns the
// number of communities found and their modularity Q. A graph without
// edges puts every node in its own community with Q = 0.
func Communities(ug *simple.UndirectedGraph, src rand.Source) (int, float64) {
	if ug.Edges().Len() == 0 {
		return ug.Nodes().Len(), 0
	}

	reduced := community.Modularize(ug, 1, src)
	comms := reduced.Communities()

	count := 0
	for _, members := range comms {
		if len(members) > 0 {
			count++
		}
	}
	return count, community.Q(ug, comms, 1)
}
