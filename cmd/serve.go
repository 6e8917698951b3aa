package cmd

import (
	"context"

	"lims-backup/internal/api"
	"lims-backup/internal/backup"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run scheduled snapshots",
	Long: `Start the HTTP API. When schedule.enabled is set, daily, weekly and monthly
snapshots also run on their cron specs in the same process.

Endpoints:
  GET  /health
  GET  /api/export                     download a SQL dump
  POST /api/import                     multipart upload in field "file"
  GET  /api/snapshots                  list artifacts
  POST /api/snapshots                  create a snapshot
  GET  /api/snapshots/log              backup log
  POST /api/snapshots/restore          restore {"backup_data": {...}}
  POST /api/snapshots/cleanup          ?retention_days=N&dry_run=true
  POST /api/snapshots/{name}/restore   restore an artifact
  GET  /api/snapshots/{name}/verify    verify an artifact`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withManager(cmd, runServe)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default from api.listen)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(ctx context.Context, rt *runtime) error {
	apiConfig := rt.config.API
	if serveListen != "" {
		apiConfig.Listen = serveListen
	}
	server := api.NewServer(rt.manager, apiConfig, rt.config.Backup.MaxUploadSize, rt.logger)

	// A server failure cancels gctx, which also stops the scheduler.
	g, gctx := errgroup.WithContext(ctx)

	if rt.config.Schedule.Enabled {
		scheduler, err := backup.NewScheduler(rt.manager, rt.config.Schedule, rt.logger)
		if err != nil {
			return err
		}
		scheduler.Start(gctx)
		defer scheduler.Stop()
	} else {
		rt.logger.Info("Scheduled backups are disabled")
	}

	g.Go(func() error {
		return server.ListenAndServe(gctx)
	})
	return g.Wait()
}
