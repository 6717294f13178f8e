package cli

import (
	"fmt"
	"time"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/state"
	"github.com/spf13/cobra"
)

var statusWatch bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the ingestion status record",
	Long: `Show the current ingestion state as other processes see it. An in_progress
record whose last heartbeat is older than the staleness threshold is shown
as unknown.

Examples:
  escograph status
  escograph status --watch`,
	Args: cobra.NoArgs,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "follow progress until the run ends")
}

func runStatus(cmd *cobra.Command, args []string) error {
	if statusWatch {
		return RunStatusWatch(dbClient, cfg.StalenessThreshold)
	}

	rec, err := dbClient.ReadStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	printStatus(rec, state.DetermineState(rec, cfg.StalenessThreshold, time.Now()))
	return nil
}

func printStatus(rec models.StatusRecord, resolved models.IngestionState) {
	t := defaultTheme
	fmt.Printf("State:     %s\n", t.stateStyle(resolved).Render(string(resolved)))
	if raw := models.ParseIngestionState(string(rec.Status)); raw != resolved && !rec.Empty() {
		fmt.Printf("Recorded:  %s (heartbeat older than %s)\n", rec.Status, cfg.StalenessThreshold)
	}
	if rec.Timestamp != "" {
		fmt.Printf("Heartbeat: %s\n", rec.Timestamp)
	}
	if p := models.ProgressString(rec.Details); p != "" {
		fmt.Printf("Progress:  %s\n", p)
	}

	switch d := rec.Details.(type) {
	case models.RunCompleted:
		fmt.Printf("Run:       %s\n", d.RunID)
		fmt.Printf("Steps:     %d/%d\n", d.StepsCompleted, models.TotalSteps)
		fmt.Printf("Duration:  %s\n", d.Duration.Round(time.Second))
	case models.RunFailed:
		fmt.Printf("Run:       %s\n", d.RunID)
		if d.Step != "" {
			fmt.Printf("Step:      %s\n", d.Step)
		}
		fmt.Println(t.errorStyle().Render("Error:     ") + d.Error)
	case models.EntityStep:
		fmt.Printf("Class:     %s\n", d.Class)
	case models.RelationStep:
		if d.Relation != "" {
			fmt.Printf("Relation:  %s (%d inserted, %d skipped)\n", d.Relation, d.Inserted, d.Skipped)
		}
	case models.UnknownDetails:
		if verbose {
			fmt.Printf("Details:   %s\n", d.Raw)
		}
	}
}
