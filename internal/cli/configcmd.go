package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after defaults, the YAML profile (ESCO_CONFIG_PATH,
ESCO_PROFILE) and environment variables are applied, then check it. Does not
connect to the database.`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{offline: "true"},
	RunE:        runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(cmd *cobra.Command, args []string) error {
	profile := cfg.Profile
	if profile == "" {
		profile = "(none)"
	}

	fmt.Printf("Profile:            %s\n", profile)
	fmt.Printf("SurrealDB:          %s (%s/%s, user %s)\n", cfg.SurrealDBURL, cfg.SurrealDBNamespace, cfg.SurrealDBDatabase, cfg.SurrealDBUser)
	fmt.Printf("Embeddings:         %s %s (%d dims)\n", cfg.EmbedProvider, cfg.EmbedModel, cfg.EmbedDimension)
	if cfg.EmbedRateLimit > 0 {
		fmt.Printf("Embed rate limit:   %g req/s\n", cfg.EmbedRateLimit)
	}
	fmt.Printf("Data dir:           %s\n", cfg.DataDir)
	fmt.Printf("Batch size:         %d\n", cfg.BatchSize)
	fmt.Printf("Staleness:          %s\n", cfg.StalenessThreshold)
	fmt.Printf("Classes:            %s\n", strings.Join(cfg.ClassesToIngest, ", "))
	fmt.Printf("Force re-ingest:    %t\n", cfg.ForceReingest)
	fmt.Printf("Interactive:        %t\n", cfg.IsInteractiveMode())
	fmt.Printf("Connect retries:    %d every %s\n", cfg.ConnectRetries, cfg.ConnectRetryInterval)
	fmt.Printf("Wait:               %s, polling every %s\n", cfg.WaitTimeout, cfg.WaitPollInterval)
	fmt.Printf("Log:                %s (%s)\n\n", cfg.LogFile, cfg.LogLevel)

	res := cfg.Validate()
	printValidation("Configuration", res)
	if !res.IsValid {
		return errors.New("invalid configuration")
	}
	return nil
}
