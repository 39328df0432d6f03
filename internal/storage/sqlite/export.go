// Package sqlite exports the genealogy graph into a standalone SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/JakeFAU/genealogy-crawler/internal/graph"
)

const schema = `
DROP TABLE IF EXISTS edges;
DROP TABLE IF EXISTS nodes;
CREATE TABLE nodes (
	id INTEGER PRIMARY KEY,
	name TEXT,
	school TEXT,
	country TEXT,
	year INTEGER,
	subject TEXT
);
CREATE TABLE edges (
	advisor_id INTEGER NOT NULL,
	student_id INTEGER NOT NULL,
	PRIMARY KEY (advisor_id, student_id)
);
CREATE INDEX edges_student_idx ON edges (student_id);
`

// Stats reports what an export wrote.
type Stats struct {
	Nodes int
	Edges int
}

// Export replaces the nodes and edges tables in the database at path with the
// contents of store, in one transaction.
func Export(ctx context.Context, path string, store *graph.Store) (Stats, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return Stats{}, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return Stats{}, fmt.Errorf("ping sqlite: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, schema); err != nil {
		return Stats{}, fmt.Errorf("apply schema: %w", err)
	}

	var stats Stats
	nodeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO nodes (id, name, school, country, year, subject) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return Stats{}, fmt.Errorf("prepare node insert: %w", err)
	}
	defer nodeStmt.Close()
	for _, n := range store.Nodes() {
		if _, err := nodeStmt.ExecContext(ctx, n.ID, n.Name, n.School, n.Country, n.Year, n.Subject); err != nil {
			return Stats{}, fmt.Errorf("insert node %d: %w", n.ID, err)
		}
		stats.Nodes++
	}

	edgeStmt, err := tx.PrepareContext(ctx, `INSERT INTO edges (advisor_id, student_id) VALUES (?, ?)`)
	if err != nil {
		return Stats{}, fmt.Errorf("prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()
	for _, e := range store.Edges() {
		if _, err := edgeStmt.ExecContext(ctx, e.AdvisorID, e.StudentID); err != nil {
			return Stats{}, fmt.Errorf("insert edge %s: %w", e, err)
		}
		stats.Edges++
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit export: %w", err)
	}
	return stats, nil
}
