package cli

import (
	"errors"
	"fmt"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/store"
	"github.com/raphaelgruber/escograph/internal/store/memstore"
	"github.com/spf13/cobra"
)

var (
	ingestForce    bool
	ingestDryRun   bool
	ingestNoVerify bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load the ESCO CSV export into the database",
	Long: `Run the ingestion pipeline: schema, the five entity classes, then the six
relation steps. The run is skipped when the status record says an ingestion
already completed or another process is still sending heartbeats.

With --dry-run the pipeline writes to an in-memory store instead, which
checks the source files without touching the database.

Examples:
  escograph ingest
  escograph ingest --force
  escograph ingest --dry-run -v`,
	Args: cobra.NoArgs,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().BoolVarP(&ingestForce, "force", "f", false, "re-ingest even if data exists or a run completed")
	ingestCmd.Flags().BoolVar(&ingestDryRun, "dry-run", false, "ingest into an in-memory store")
	ingestCmd.Flags().BoolVar(&ingestNoVerify, "no-verify", false, "skip the completion check after a successful run")
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	var st store.Store = dbClient
	if ingestDryRun {
		st = memstore.New()
		fmt.Println(defaultTheme.hintStyle().Render("Dry run: writing to an in-memory store"))
	}

	svc, collector, err := getIngestionService(ctx, st, !ingestDryRun)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	if err := svc.WaitForStore(ctx); err != nil {
		return err
	}

	prereq := svc.ValidatePrerequisites(ctx)
	printValidation("Prerequisites", prereq)
	if !prereq.IsValid {
		return errors.New("prerequisites not met")
	}

	decision, err := svc.ShouldRunIngestion(ctx, ingestForce)
	if err != nil {
		return fmt.Errorf("decide: %w", err)
	}
	if !decision.ShouldRun {
		fmt.Printf("\nSkipping ingestion: %s\n", decision.Reason)
		return nil
	}
	fmt.Printf("\n%s\n\n", defaultTheme.statusStyle().Render("Starting ingestion: "+decision.Reason))

	res := svc.RunIngestion(ctx, newStepPrinter())
	fmt.Println()
	printIngestionResult(res)
	if verbose {
		printRunStats(collector.Snapshot())
	}
	if !res.Success {
		return fmt.Errorf("ingestion failed after %d of %d steps", res.StepsCompleted, res.TotalSteps)
	}

	if !ingestNoVerify {
		fmt.Println()
		check := svc.VerifyCompletion(ctx)
		printValidation("Verification", check)
		if !check.IsValid {
			return errors.New("verification failed")
		}
	}
	return nil
}

// newStepPrinter prints a line when a step starts and, in verbose mode,
// item progress within entity steps.
func newStepPrinter() models.ProgressFunc {
	last := 0
	return func(p models.Progress) {
		if p.Step != last {
			last = p.Step
			fmt.Printf("%s %s\n",
				defaultTheme.statusStyle().Render(fmt.Sprintf("[%2d/%d]", p.Step, p.TotalSteps)),
				p.StepName)
			return
		}
		if verbose && p.Total > 0 {
			fmt.Printf("        %s\n", defaultTheme.hintStyle().Render(fmt.Sprintf("%d/%d", p.Processed, p.Total)))
		}
	}
}
