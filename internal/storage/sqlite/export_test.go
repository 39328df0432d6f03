package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/genealogy-crawler/internal/genealogy"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
)

func strPtr(s string) *string { return &s }

func TestExportWritesGraph(t *testing.T) {
	t.Parallel()

	store := graph.New()
	store.MergeRecord(genealogy.Record{
		Node:  genealogy.Node{ID: 18231, Name: strPtr("Carl Friedrich Gauß"), Country: strPtr("Germany")},
		Edges: []genealogy.Edge{{AdvisorID: 18230, StudentID: 18231}, {AdvisorID: 18231, StudentID: 18603}},
	})
	store.MergeNode(genealogy.Node{ID: 18603, Name: strPtr("Friedrich Wilhelm Bessel")})

	path := filepath.Join(t.TempDir(), "graph.db")
	ctx := context.Background()

	stats, err := Export(ctx, path, store)
	require.NoError(t, err)
	require.Equal(t, Stats{Nodes: 2, Edges: 2}, stats)

	// A second export replaces the tables rather than failing on duplicates.
	stats, err = Export(ctx, path, store)
	require.NoError(t, err)
	require.Equal(t, 2, stats.Nodes)

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()

	var name string
	var school sql.NullString
	require.NoError(t, db.QueryRowContext(ctx, `SELECT name, school FROM nodes WHERE id = ?`, 18231).Scan(&name, &school))
	require.Equal(t, "Carl Friedrich Gauß", name)
	require.False(t, school.Valid)

	var students int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges WHERE advisor_id = ?`, 18231).Scan(&students))
	require.Equal(t, 1, students)
}
