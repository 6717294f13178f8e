package cli

import (
	"fmt"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/spf13/cobra"
)

var metricsJSON bool

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show object counts per class",
	Long: `Count the objects of every configured class and show the ingestion state.
A class whose count could not be read is shown as -1 and left out of the
total.

Examples:
  escograph metrics
  escograph metrics --json`,
	Args: cobra.NoArgs,
	RunE: runMetrics,
}

func init() {
	metricsCmd.Flags().BoolVar(&metricsJSON, "json", false, "print as JSON")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, _, err := getIngestionService(ctx, dbClient, false)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	m := svc.GetIngestionMetrics(ctx)
	if metricsJSON {
		return printJSON(struct {
			ClassCounts  map[string]int `json:"class_counts"`
			TotalObjects int            `json:"total_objects"`
			Status       string         `json:"ingestion_status"`
			Timestamp    string         `json:"ingestion_timestamp,omitempty"`
			Progress     string         `json:"progress,omitempty"`
		}{m.ClassCounts, m.TotalObjects, string(m.Status), m.Timestamp, models.ProgressString(m.Details)})
	}

	t := defaultTheme
	fmt.Printf("Ingestion Metrics\n")
	fmt.Printf("═══════════════════════════════════════\n")
	for _, class := range cfg.ClassesToIngest {
		n := m.ClassCounts[class]
		if n < 0 {
			fmt.Printf("  %-16s %10s\n", class, t.errorStyle().Render("error"))
			continue
		}
		fmt.Printf("  %-16s %10d\n", class, n)
	}
	fmt.Printf("  %-16s %10d\n", "total", m.TotalObjects)
	fmt.Printf("\nState: %s", t.stateStyle(m.Status).Render(string(m.Status)))
	if m.Timestamp != "" {
		fmt.Printf(" (%s)", m.Timestamp)
	}
	fmt.Println()
	return nil
}
