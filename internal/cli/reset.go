package cli

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var resetYes bool

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Remove all taxonomy tables and the status record",
	Long: `Drop every taxonomy table, the reference table and the ingestion status.
The next ingest starts from scratch. Asks for confirmation unless --yes is
given; non-interactive sessions must pass --yes.`,
	Args: cobra.NoArgs,
	RunE: runReset,
}

func init() {
	resetCmd.Flags().BoolVarP(&resetYes, "yes", "y", false, "skip confirmation")
}

func runReset(cmd *cobra.Command, args []string) error {
	if !resetYes {
		if !cfg.IsInteractiveMode() {
			return errors.New("refusing to reset without --yes in non-interactive mode")
		}
		fmt.Printf("This deletes all ESCO data in %s/%s. Type 'yes' to continue: ",
			cfg.SurrealDBNamespace, cfg.SurrealDBDatabase)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.TrimSpace(answer) != "yes" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	if err := dbClient.DeleteSchema(cmd.Context()); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	fmt.Println(defaultTheme.completedStyle().Render("✓ Schema deleted"))
	return nil
}
