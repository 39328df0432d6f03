package graph

import (
	"encoding/json"
	"fmt"
)

// CompactGraph is the reduced layout consumed by d3 visualizations: a map of
// ID to name and a list of [advisor, student] pairs.
type CompactGraph struct {
	Nodes map[int]*string `json:"nodes"`
	Edges [][2]int        `json:"edges"`
}

// Compact returns the d3 layout of the store.
func (s *Store) Compact() CompactGraph {
	nodes := s.Nodes()
	edges := s.Edges()
	out := CompactGraph{
		Nodes: make(map[int]*string, len(nodes)),
		Edges: make([][2]int, 0, len(edges)),
	}
	for _, n := range nodes {
		out.Nodes[n.ID] = n.Name
	}
	for _, e := range edges {
		out.Edges = append(out.Edges, [2]int{e.AdvisorID, e.StudentID})
	}
	return out
}

// EncodeCompact renders the d3 layout as JSON.
func (s *Store) EncodeCompact() ([]byte, error) {
	b, err := json.Marshal(s.Compact())
	if err != nil {
		return nil, fmt.Errorf("encode compact graph: %w", err)
	}
	return b, nil
}
