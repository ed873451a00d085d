package commands

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mailfred-go/internal/app"
	"mailfred-go/internal/config"
)

var (
	// configPath overrides the config.yaml lookup.
	configPath string

	// owner is the mailbox owner for per-owner commands.
	owner string
)

var rootCmd = &cobra.Command{
	Use:   "mailfred",
	Short: "Schedule Gmail messages to come back later",
	Long: `mailfred hides messages until a chosen time and then brings them back
to the inbox, starred or unread, unless a reply arrived in the meantime.`,
	SilenceUsage: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&configPath, "config", "",
		"Path to the config file (default: ./config.yaml or ./config/config.yaml)",
	)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(authorizeCmd)
}

// loadApp wires the application for one-shot commands.
func loadApp() (*app.App, error) {
	cfg, err := config.LoadConfigFrom(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	app.SetupLogging(cfg.Log)
	return app.New(cfg)
}

func requireOwner() error {
	if owner == "" {
		return fmt.Errorf("--owner is required")
	}
	return nil
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the periodic processing trigger",
	RunE: func(cmd *cobra.Command, args []string) error {
		return app.Run(configPath)
	},
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process every due schedule once and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		summary, err := a.Trigger.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		logrus.WithField("run_id", summary.RunID).Info("Processing finished")
		return printJSON(cmd, summary)
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Restore messages that carry the scheduled label without a pending schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := requireOwner(); err != nil {
			return err
		}
		a, err := loadApp()
		if err != nil {
			return err
		}
		defer a.Close()

		result, err := a.Reconciler.ReconcileAfterReauth(cmd.Context(), owner)
		if err != nil {
			return err
		}
		return printJSON(cmd, result)
	},
}

func init() {
	reconcileCmd.Flags().StringVar(&owner, "owner", "", "Mailbox owner")
}
