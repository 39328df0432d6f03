// Package graph holds the deduplicated person graph and its on-disk codecs.
//
// The Store is the single place nodes and edges are merged. Node merges are
// first-write-wins keyed by ID; edge merges are keyed by the ordered
// (advisor, student) pair. Endpoints are never validated, so an edge may
// reference an ID that has not been crawled yet.
package graph

import (
	"sort"
	"sync"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

// MergeResult reports whether a merge added something.
type MergeResult int

// Merge outcomes.
const (
	MergeNew MergeResult = iota
	MergeDuplicate
)

func (r MergeResult) String() string {
	if r == MergeNew {
		return "new"
	}
	return "duplicate"
}

// Store is a concurrency-safe node and edge set.
type Store struct {
	mu     sync.RWMutex
	nodes  map[int]genealogy.Node
	edges  map[genealogy.EdgeKey]struct{}
	byNode map[int][]genealogy.Edge
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		nodes:  make(map[int]genealogy.Node),
		edges:  make(map[genealogy.EdgeKey]struct{}),
		byNode: make(map[int][]genealogy.Edge),
	}
}

// FromData builds a Store from decoded file contents. Duplicates in d are
// collapsed with the same rules as MergeNode and MergeEdge.
func FromData(d Data) *Store {
	s := New()
	for _, n := range d.Nodes {
		s.MergeNode(n)
	}
	for _, e := range d.Edges {
		s.MergeEdge(e)
	}
	return s
}

// MergeNode inserts n unless its ID is already present. Existing attributes
// are never overwritten.
func (s *Store) MergeNode(n genealogy.Node) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.ID]; ok {
		return MergeDuplicate
	}
	s.nodes[n.ID] = n
	return MergeNew
}

// MergeEdge inserts e unless the same ordered pair is already present.
func (s *Store) MergeEdge(e genealogy.Edge) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeEdgeLocked(e)
}

func (s *Store) mergeEdgeLocked(e genealogy.Edge) MergeResult {
	key := e.Key()
	if _, ok := s.edges[key]; ok {
		return MergeDuplicate
	}
	s.edges[key] = struct{}{}
	s.byNode[e.AdvisorID] = append(s.byNode[e.AdvisorID], e)
	if e.StudentID != e.AdvisorID {
		s.byNode[e.StudentID] = append(s.byNode[e.StudentID], e)
	}
	return MergeNew
}

// MergeRecord merges a parsed record and returns whether the node was new and
// which of its edges were.
func (s *Store) MergeRecord(r genealogy.Record) (bool, []genealogy.Edge) {
	s.mu.Lock()
	defer s.mu.Unlock()

	nodeNew := false
	if _, ok := s.nodes[r.Node.ID]; !ok {
		s.nodes[r.Node.ID] = r.Node
		nodeNew = true
	}
	var added []genealogy.Edge
	for _, e := range r.Edges {
		if s.mergeEdgeLocked(e) == MergeNew {
			added = append(added, e)
		}
	}
	return nodeNew, added
}

// HasNode reports whether id has been stored.
func (s *Store) HasNode(id int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// Node returns the stored node for id.
func (s *Store) Node(id int) (genealogy.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	return n, ok
}

// HasEdge reports whether the ordered pair is stored.
func (s *Store) HasEdge(e genealogy.Edge) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.edges[e.Key()]
	return ok
}

// NodeCount returns the number of nodes.
func (s *Store) NodeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// MinNodeID returns the smallest stored ID, or false when empty.
func (s *Store) MinNodeID() (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	minID, ok := 0, false
	for id := range s.nodes {
		if !ok || id < minID {
			minID, ok = id, true
		}
	}
	return minID, ok
}

// Nodes returns every node sorted by ID.
func (s *Store) Nodes() []genealogy.Node {
	s.mu.RLock()
	out := make([]genealogy.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns every edge sorted by (advisor, student).
func (s *Store) Edges() []genealogy.Edge {
	s.mu.RLock()
	out := make([]genealogy.Edge, 0, len(s.edges))
	for k := range s.edges {
		out = append(out, genealogy.Edge{AdvisorID: k[0], StudentID: k[1]})
	}
	s.mu.RUnlock()
	SortEdges(out)
	return out
}

// EdgesOf returns the edges incident to id, sorted.
func (s *Store) EdgesOf(id int) []genealogy.Edge {
	s.mu.RLock()
	out := append([]genealogy.Edge(nil), s.byNode[id]...)
	s.mu.RUnlock()
	SortEdges(out)
	return out
}

// Data snapshots the store into its file representation.
func (s *Store) Data() Data {
	return Data{Nodes: s.Nodes(), Edges: s.Edges()}
}

// SortEdges orders edges by advisor, then student.
func SortEdges(edges []genealogy.Edge) {
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].AdvisorID != edges[j].AdvisorID {
			return edges[i].AdvisorID < edges[j].AdvisorID
		}
		return edges[i].StudentID < edges[j].StudentID
	})
}
