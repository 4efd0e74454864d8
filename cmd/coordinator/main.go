// Command coordinator runs the C5 server: it exposes Negotiate/Upload/
// Download/Delete over HTTP for every logical directory under its storage
// root, per spec.md §4.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/abuss/syncpair/internal/coordinator"
	"github.com/abuss/syncpair/internal/logging"
)

// shutdownTimeout bounds how long in-flight requests get to finish once a
// shutdown signal arrives before the listener is forced closed.
const shutdownTimeout = 10 * time.Second

var (
	flagPort       int
	flagStorageDir string
	flagToken      string
	flagLogLevel   string
	flagLogFile    string
	flagQuiet      bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "coordinator",
		Short:         "syncpair coordinator: the shared server half of the sync pair",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "error, warn, info, debug, trace")
	cmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "optional path to also write logs to")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress below-warning console output")

	cmd.AddCommand(newServerCmd())
	return cmd
}

func newServerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the coordinator HTTP server",
		RunE:  runServer,
	}
	cmd.Flags().IntVar(&flagPort, "port", 8080, "listen port")
	cmd.Flags().StringVar(&flagStorageDir, "storage-dir", "./server_storage", "root directory for per-directory storage keys")
	cmd.Flags().StringVar(&flagToken, "token", "", "optional bearer token required of every request")
	return cmd
}

func runServer(cmd *cobra.Command, _ []string) error {
	logger, closeLog, err := logging.New(logging.Options{Level: flagLogLevel, LogFile: flagLogFile, Quiet: flagQuiet})
	if err != nil {
		return err
	}
	defer closeLog()

	engine := coordinator.NewEngine(flagStorageDir, logger)
	handler := coordinator.NewHandler(engine, flagToken, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	addr := fmt.Sprintf(":%d", flagPort)
	srv := &http.Server{Addr: addr, Handler: mux}

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("coordinator listening", "addr", addr, "storage_dir", flagStorageDir)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		return srv.Shutdown(shutdownCtx)
	}
}
