package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Long: `Serves POST /query, POST /upload, GET /documents, DELETE /documents/:id,
GET /health and GET /metrics. When watch.dir is configured, files in that
directory are kept in sync with the index. SIGINT or SIGTERM shut down
gracefully within server.shutdown_timeout.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, log, err := openApp(ctx)
	if err != nil {
		return err
	}
	if !strings.EqualFold(a.Config.Logging.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	srv := a.Server()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.ListenAndServe)
	if w := a.Watcher(); w != nil {
		g.Go(func() error { return w.Run(gctx) })
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	closeCtx, cancel := context.WithTimeout(context.Background(), a.Config.Server.ShutdownTimeout)
	defer cancel()
	if cerr := a.Close(closeCtx); cerr != nil {
		log.Warn().Err(cerr).Msg("closing resources failed")
	}
	return err
}
