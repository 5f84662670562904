package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/banshee-data/footage.report/internal/analysis"
	"github.com/banshee-data/footage.report/internal/api"
	"github.com/banshee-data/footage.report/internal/db"
	"github.com/banshee-data/footage.report/internal/detect"
	"github.com/banshee-data/footage.report/internal/match"
	"github.com/banshee-data/footage.report/internal/monitoring"
)

func newServeCommand(opts *rootOptions) *cobra.Command {
	var (
		listenAddr    string
		dbPath        string
		migrationsDir string
		uploadDir     string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the analysis HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			detector := detect.NewClient(opts.detectorURL, opts.tuning.GetDetectionTimeout())
			matcher := match.NewClient(opts.matcherURL, opts.tuning.GetMatchingTimeout())

			var history *db.DB
			if dbPath != "" {
				var err error
				history, err = db.NewDB(dbPath)
				if err != nil {
					return fmt.Errorf("failed to open database: %w", err)
				}
				defer history.Close()
				if err := history.MigrateUp(migrationsDir); err != nil {
					return fmt.Errorf("failed to migrate database: %w", err)
				}
			}

			var sink analysis.HistorySink
			var lister api.HistoryLister
			if history != nil {
				sink = history
				lister = history
			}

			manager := analysis.NewManager(opts.tuning, detector, matcher, sink)
			server := api.NewServer(manager, matcher, detector, lister, uploadDir)

			httpServer := &http.Server{
				Addr:    listenAddr,
				Handler: server.ServeMux(),
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			go func() {
				color.Green("footage server listening on %s", listenAddr)
				if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					monitoring.Opsf("[Serve] server error: %v", err)
					stop()
				}
			}()

			<-ctx.Done()
			monitoring.Opsf("[Serve] shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				monitoring.Opsf("[Serve] shutdown error: %v", err)
				return httpServer.Close()
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listenAddr, "listen", ":8080", "address to listen on")
	cmd.Flags().StringVar(&dbPath, "db", "", "sqlite path for analysis history (empty disables persistence)")
	cmd.Flags().StringVar(&migrationsDir, "migrations", "internal/db/migrations", "path to migration files")
	cmd.Flags().StringVar(&uploadDir, "upload-dir", "", "scratch directory for uploads (empty uses the OS temp dir)")
	return cmd
}
