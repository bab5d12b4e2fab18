// Package main is the entry point of the learning pipeline worker.
//
// The worker wires the event bus to the skill, recommendation and retention
// pipelines and runs the scheduled audit digest. The inspection commands
// read the audit trail and the recommendation feed.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tryouthub/learning-pipeline/config"
)

var rootCmd = &cobra.Command{
	Use:           "worker",
	Short:         "Adaptive-learning event pipeline worker",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the event pipeline, scheduler and metrics endpoint until signalled",
	Args:  cobra.NoArgs,
	RunE:  runWorker,
}

var publishCmd = &cobra.Command{
	Use:   "publish <event-type> <json-payload>",
	Short: "Publish one event through the pipeline and wait for its handlers",
	Args:  cobra.ExactArgs(2),
	RunE:  runPublish,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the event audit log",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the newest audit entries",
	Args:  cobra.NoArgs,
	RunE:  runAuditList,
}

var auditSummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize processed and failed counts per event type",
	Args:  cobra.NoArgs,
	RunE:  runAuditSummary,
}

var recommendationsCmd = &cobra.Command{
	Use:   "recommendations <user-id>",
	Short: "Show the active recommendation feed of a user",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecommendations,
}

var (
	listLimit     int
	listStatus    string
	listEventType string
	summaryLimit  int
)

func init() {
	auditListCmd.Flags().IntVar(&listLimit, "limit", 0, "entries to return (default 50, max 1000)")
	auditListCmd.Flags().StringVar(&listStatus, "status", "", "filter by status: processed or failed")
	auditListCmd.Flags().StringVar(&listEventType, "type", "", "filter by event type")
	auditSummaryCmd.Flags().IntVar(&summaryLimit, "limit", 0, "entries to scan (default 500, max 1000)")

	auditCmd.AddCommand(auditListCmd, auditSummaryCmd)
	rootCmd.AddCommand(runCmd, publishCmd, auditCmd, recommendationsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// withApp loads config, wires the pipeline and closes it after fn.
func withApp(ctx context.Context, mutate func(*config.Config), fn func(ctx context.Context, a *app) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if mutate != nil {
		mutate(cfg)
	}

	log := newLogger(cfg)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}

	runErr := fn(ctx, a)

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := a.Close(closeCtx); err != nil && runErr == nil {
		runErr = fmt.Errorf("shutdown: %w", err)
	}

	return runErr
}
