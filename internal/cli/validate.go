package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that an ingestion could start",
	Long: `Check database connectivity, the schema, the configuration and the presence
of the required source files in the data directory. Missing optional files
are reported as warnings.

Examples:
  escograph validate
  ESCO_DATA_DIR=/data escograph validate -v`,
	Args: cobra.NoArgs,
	RunE: runValidate,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check that the last ingestion completed",
	Long: `Check that the status record says completed and that every configured class
holds objects. Empty classes are reported as warnings.`,
	Args: cobra.NoArgs,
	RunE: runVerify,
}

func runValidate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, _, err := getIngestionService(ctx, dbClient, false)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	res := svc.ValidatePrerequisites(ctx)
	printValidation("Prerequisites", res)
	if !res.IsValid {
		return errors.New("validation failed")
	}
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, _, err := getIngestionService(ctx, dbClient, false)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	res := svc.VerifyCompletion(ctx)
	printValidation("Verification", res)
	if !res.IsValid {
		return errors.New("verification failed")
	}
	return nil
}
