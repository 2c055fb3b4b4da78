package main

import (
	"context"
	"errors"
	"net/http"

	httpserver "github.com/fyrsmithlabs/devbrain/internal/http"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	// serverPort overrides server.port
	serverPort int
)

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntVarP(&serverPort, "port", "p", 0, "port to listen on (default from config, 3000)")
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the dashboard API server",
	Long: `Serve the knowledge base over HTTP.

Routes:
  GET  /health
  GET  /api/fixes          POST /api/fixes
  GET  /api/stats
  GET  /api/anti-patterns  POST /api/anti-patterns
  GET  /metrics`,
	Args: cobra.NoArgs,
	RunE: runServer,
}

func runServer(cmd *cobra.Command, _ []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	cfg := &httpserver.Config{Host: a.cfg.Server.Host, Port: a.cfg.Server.Port}
	if serverPort > 0 {
		cfg.Port = serverPort
	}
	srv, err := httpserver.NewServer(a.store, a.scrubber(), a.publisher, a.logger.Named("http"), cfg)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()
	cmd.Printf("[DevBrain API] Server running at http://%s\n", srv.Addr())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-cmd.Context().Done():
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		a.logger.Warn("server shutdown incomplete", zap.Error(err))
		return err
	}
	return nil
}
