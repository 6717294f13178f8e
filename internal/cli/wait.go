package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	waitTimeout time.Duration
	waitPoll    time.Duration
)

var waitCmd = &cobra.Command{
	Use:   "wait",
	Short: "Block until an ingestion completes",
	Long: `Poll the status record until ingestion completes. Exits non-zero when the
run fails, when an in-progress run stops sending heartbeats, or when the
timeout passes. Meant for services that must not start before the taxonomy
is loaded.

Examples:
  escograph wait
  escograph wait --timeout 30m --poll 5s`,
	Args: cobra.NoArgs,
	RunE: runWait,
}

func init() {
	waitCmd.Flags().DurationVar(&waitTimeout, "timeout", 0, "give up after this long (default from ESCO_WAIT_TIMEOUT)")
	waitCmd.Flags().DurationVar(&waitPoll, "poll", 0, "poll interval (default from ESCO_WAIT_POLL_INTERVAL)")
}

func runWait(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, _, err := getIngestionService(ctx, dbClient, false)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	timeout := cfg.WaitTimeout
	if waitTimeout > 0 {
		timeout = waitTimeout
	}
	poll := cfg.WaitPollInterval
	if waitPoll > 0 {
		poll = waitPoll
	}

	if err := svc.WaitForStore(ctx); err != nil {
		return err
	}
	fmt.Printf("Waiting up to %s for ingestion to complete...\n", timeout)
	rec, err := svc.WaitForCompletion(ctx, timeout, poll)
	if err != nil {
		return err
	}
	fmt.Println(defaultTheme.completedStyle().Render("✓ Ingestion completed") + " at " + rec.Timestamp)
	return nil
}
