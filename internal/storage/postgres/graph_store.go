package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
)

// GraphStore writes nodes and edges with first-write-wins semantics.
type GraphStore struct {
	pool  Pool
	nodes string
	edges string
}

// NewGraphStore builds a GraphStore over pool. Empty table names fall back to
// genealogy_nodes and genealogy_edges.
func NewGraphStore(pool Pool, nodesTable, edgesTable string) (*GraphStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	nodes, err := checkTable(nodesTable, "genealogy_nodes")
	if err != nil {
		return nil, err
	}
	edges, err := checkTable(edgesTable, "genealogy_edges")
	if err != nil {
		return nil, err
	}
	return &GraphStore{pool: pool, nodes: nodes, edges: edges}, nil
}

// EnsureSchema creates the node and edge tables if they are missing.
func (s *GraphStore) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY,
	name TEXT,
	school TEXT,
	country TEXT,
	year INTEGER,
	subject TEXT
)`, s.nodes),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	advisor_id INTEGER NOT NULL,
	student_id INTEGER NOT NULL,
	PRIMARY KEY (advisor_id, student_id)
)`, s.edges),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_student_idx ON %s (student_id)`, s.edges, s.edges),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure graph schema: %w", err)
		}
	}
	return nil
}

// UpsertNodes inserts nodes that are not stored yet and returns how many were
// new. Existing rows are never updated.
func (s *GraphStore) UpsertNodes(ctx context.Context, nodes []genealogy.Node) (int64, error) {
	if len(nodes) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, name, school, country, year, subject)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO NOTHING`, s.nodes)

	var inserted int64
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, n := range nodes {
			tag, err := tx.Exec(ctx, query, n.ID, n.Name, n.School, n.Country, n.Year, n.Subject)
			if err != nil {
				return fmt.Errorf("insert node %d: %w", n.ID, err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// UpsertEdges inserts edges that are not stored yet and returns how many were
// new.
func (s *GraphStore) UpsertEdges(ctx context.Context, edges []genealogy.Edge) (int64, error) {
	if len(edges) == 0 {
		return 0, nil
	}
	query := fmt.Sprintf(`
INSERT INTO %s (advisor_id, student_id)
VALUES ($1, $2)
ON CONFLICT (advisor_id, student_id) DO NOTHING`, s.edges)

	var inserted int64
	err := inTx(ctx, s.pool, func(tx pgx.Tx) error {
		for _, e := range edges {
			tag, err := tx.Exec(ctx, query, e.AdvisorID, e.StudentID)
			if err != nil {
				return fmt.Errorf("insert edge %s: %w", e, err)
			}
			inserted += tag.RowsAffected()
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}
