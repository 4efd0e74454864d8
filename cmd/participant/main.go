// Command participant runs the C6/C7 client: it loads a directory
// configuration and reconciles every enabled directory against a
// coordinator, per spec.md §5 and §6.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/abuss/syncpair/internal/config"
	"github.com/abuss/syncpair/internal/logging"
	"github.com/abuss/syncpair/internal/protocol"
	"github.com/abuss/syncpair/internal/supervisor"
)

var (
	flagConfigFile string
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
		Use:           "participant",
		Short:         "syncpair participant: the per-machine client half of the sync pair",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "error, warn, info, debug, trace")
	cmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "optional path to also write logs to")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress below-warning console output")

	cmd.AddCommand(newClientCmd())
	return cmd
}

func newClientCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "client",
		Short: "Run the participant sync loop",
		RunE:  runClient,
	}
	cmd.Flags().StringVar(&flagConfigFile, "file", "", "path to the participant configuration YAML file")
	cmd.Flags().StringVar(&flagToken, "token", "", "optional bearer token presented to the coordinator")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func runClient(cmd *cobra.Command, _ []string) error {
	logger, closeLog, err := logging.New(logging.Options{Level: flagLogLevel, LogFile: flagLogFile, Quiet: flagQuiet})
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := config.Load(flagConfigFile)
	if err != nil {
		return err
	}

	client := protocol.NewClient(cfg.ServerURL, flagToken)
	sup := supervisor.New(cfg, client, logger)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("participant starting", "participant_id", cfg.ParticipantID,
		"server", cfg.ServerURL, "directories", len(cfg.Directories))

	if err := sup.Run(ctx); err != nil {
		return err
	}
	logger.Info("participant shut down cleanly")
	return nil
}
