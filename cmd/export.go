package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/app"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
	"github.com/JakeFAU/genealogy-crawler/internal/storage/sqlite"
)

// Export formats.
const (
	FormatD3       = "d3"
	FormatSQLite   = "sqlite"
	FormatPostgres = "postgres"
)

// newExportCmd creates the 'export' subcommand, which renders the persisted
// graph into another format without crawling.
func newExportCmd() *cobra.Command {
	var format, out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Exports the persisted graph",
		Long: `Renders the data file as compact d3 JSON ({nodes: {id: name}, edges:
[[advisor, student]]}), a SQLite database with nodes and edges tables, or
rows upserted into the configured Postgres mirror.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return runExport(cmd.Context(), appInstance, format, out)
		},
	}
	cmd.Flags().StringVar(&format, "format", FormatD3, "export format: d3, sqlite or postgres")
	cmd.Flags().StringVar(&out, "out", "", "output path (default: genealogy_graph.json or genealogy.db in <output-dir>)")
	cmd.Flags().String("data-file", "", "data file to export (default: <output-dir>/data.json)")
	return cmd
}

func runExport(ctx context.Context, a *app.App, format, out string) error {
	cfg := a.Config()
	logger := a.Logger().Named("export")

	dataFile := resolveDataFile(cfg)
	store, existed, err := graph.LoadFile(dataFile)
	if err != nil {
		return err
	}
	if !existed {
		return fmt.Errorf("data file %s does not exist", dataFile)
	}

	switch format {
	case FormatD3:
		if out == "" {
			out = filepath.Join(cfg.Output.Dir, "genealogy_graph.json")
		}
		b, err := store.EncodeCompact()
		if err != nil {
			return err
		}
		if err := graph.WriteFileAtomic(out, b, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		logger.Info("exported d3 graph",
			zap.String("path", out),
			zap.Int("nodes", store.NodeCount()),
			zap.Int("edges", store.EdgeCount()),
		)
	case FormatSQLite:
		if out == "" {
			out = filepath.Join(cfg.Output.Dir, "genealogy.db")
		}
		if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
			return fmt.Errorf("create directory for %s: %w", out, err)
		}
		stats, err := sqlite.Export(ctx, out, store)
		if err != nil {
			return err
		}
		logger.Info("exported sqlite database",
			zap.String("path", out),
			zap.Int("nodes", stats.Nodes),
			zap.Int("edges", stats.Edges),
		)
	case FormatPostgres:
		db := a.GraphDB()
		if db == nil {
			return errors.New("postgres export requires db.dsn")
		}
		nodes, err := db.UpsertNodes(ctx, store.Nodes())
		if err != nil {
			return err
		}
		edges, err := db.UpsertEdges(ctx, store.Edges())
		if err != nil {
			return err
		}
		logger.Info("exported to postgres",
			zap.Int64("new_nodes", nodes),
			zap.Int64("new_edges", edges),
		)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
	return nil
}
