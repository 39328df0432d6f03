package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/genealogy-crawler/internal/api"
	"github.com/JakeFAU/genealogy-crawler/internal/app"
	"github.com/JakeFAU/genealogy-crawler/internal/graph"
	"github.com/JakeFAU/genealogy-crawler/internal/metrics"
)

const shutdownTimeout = 10 * time.Second

// newServeCmd creates the 'serve' subcommand: a read-only HTTP view of the
// persisted graph and its run history.
func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves a read-only HTTP view of the crawled graph",
		Long: `Loads the data file once and serves graph statistics, individual
people with their advisors and students, the run snapshot listing and
Prometheus metrics. The server stops on SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			addr := net.JoinHostPort("", strconv.Itoa(appInstance.Config().Server.Port))
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("listen on %s: %w", addr, err)
			}
			return runServe(cmd.Context(), appInstance, ln)
		},
	}
	cmd.Flags().Int("port", 8080, "HTTP listen port")
	cmd.Flags().String("data-file", "", "data file to serve (default: <output-dir>/data.json)")
	return cmd
}

// runServe serves on ln until ctx is canceled, then shuts down gracefully.
func runServe(ctx context.Context, a *app.App, ln net.Listener) error {
	cfg := a.Config()
	logger := a.Logger().Named("api")
	metrics.Init()

	dataFile := resolveDataFile(cfg)
	store, _, err := graph.LoadFile(dataFile)
	if err != nil {
		_ = ln.Close()
		return err
	}

	server := api.NewServer(api.Config{
		Graph:     store,
		OutputDir: cfg.Output.Dir,
		Runs:      a.RunReader(),
	}, logger)
	httpServer := &http.Server{
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", ln.Addr().String()),
			zap.String("data_file", dataFile),
			zap.Int("nodes", store.NodeCount()),
		)
		errCh <- httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	logger.Info("http server stopped")
	return nil
}
