package molecule

import (
	"errors"

	"github.com/dominikbraun/graph"
)

// Stats summarizes the bond topology of a record.
type Stats struct {
	Atoms      int `json:"atoms"`
	Bonds      int `json:"bonds"`
	Dropped    int `json:"dropped"`
	Duplicates int `json:"duplicates"`
	Fragments  int `json:"fragments"`
}

// Analyze builds the undirected bond graph of r. It only reports; composition
// keeps rendering every valid bond including duplicates.
func Analyze(r *Record) Stats {
	st := Stats{Atoms: len(r.Atoms)}
	g := graph.New(graph.IntHash)
	for i := range r.Atoms {
		_ = g.AddVertex(i)
	}

	for _, b := range r.Bonds {
		if !r.ValidBond(b) {
			st.Dropped++
			continue
		}
		st.Bonds++
		if err := g.AddEdge(b.Source, b.Target); err != nil {
			if errors.Is(err, graph.ErrEdgeAlreadyExists) {
				st.Duplicates++
			}
		}
	}

	seen := make(map[int]bool, len(r.Atoms))
	for i := range r.Atoms {
		if seen[i] {
			continue
		}
		st.Fragments++
		_ = graph.BFS(g, i, func(v int) bool {
			seen[v] = true
			return false
		})
	}
	return st
}
