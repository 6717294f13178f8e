package cli

import (
	"fmt"

	"github.com/raphaelgruber/escograph/internal/models"
	"github.com/raphaelgruber/escograph/internal/service"
	"github.com/spf13/cobra"
)

var (
	searchLimit     int
	searchThreshold float64
	searchJSON      bool
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Semantic search over occupations and skills",
	Long: `Search the ingested taxonomy by vector similarity. Requires an embedding
provider (ESCO_EMBED_PROVIDER) and an ingestion that stored embeddings.

Examples:
  escograph search occupations "software developer"
  escograph search skills "manage kubernetes clusters" --limit 5
  escograph search profile http://data.europa.eu/esco/occupation/f2b15a0e-e65a-438a-affb-29b9d50b77d1`,
}

var searchOccupationsCmd = &cobra.Command{
	Use:   "occupations <query>",
	Short: "Find occupations similar to the query",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchOccupations,
}

var searchSkillsCmd = &cobra.Command{
	Use:   "skills <query>",
	Short: "Find skills similar to the query",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchSkills,
}

var searchProfileCmd = &cobra.Command{
	Use:   "profile <uri-or-id>",
	Short: "Show an occupation with its skills, ISCO group and hierarchy",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearchProfile,
}

func init() {
	searchCmd.PersistentFlags().IntVarP(&searchLimit, "limit", "n", 0, "max results (default 10 occupations, 20 skills)")
	searchCmd.PersistentFlags().Float64Var(&searchThreshold, "threshold", 0, "minimum similarity (default 0.7 occupations, 0.6 skills)")
	searchCmd.PersistentFlags().BoolVar(&searchJSON, "json", false, "print as JSON")

	searchCmd.AddCommand(searchOccupationsCmd)
	searchCmd.AddCommand(searchSkillsCmd)
	searchCmd.AddCommand(searchProfileCmd)
}

func runSearchOccupations(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := getSearchService(ctx)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	results, err := svc.SearchOccupations(ctx, args[0],
		orDefault(searchLimit, service.DefaultOccupationLimit),
		orDefault(searchThreshold, service.DefaultOccupationThreshold))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if searchJSON {
		return printJSON(results)
	}
	printObjects(results)
	return nil
}

func runSearchSkills(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, err := getSearchService(ctx)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	results, err := svc.SearchSkills(ctx, args[0],
		orDefault(searchLimit, service.DefaultSkillLimit),
		orDefault(searchThreshold, service.DefaultSkillThreshold))
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}
	if searchJSON {
		return printJSON(results)
	}
	printObjects(results)
	return nil
}

func runSearchProfile(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	// Profiles follow references only; no embedder needed.
	svc := service.NewSearchService(dbClient, nil)

	p, err := svc.GetOccupationProfile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("profile: %w", err)
	}
	if p == nil {
		return fmt.Errorf("occupation not found: %s", args[0])
	}
	if searchJSON {
		return printJSON(p)
	}

	fmt.Printf("%s\n", defaultTheme.completedStyle().Render(p.Occupation.Label()))
	fmt.Printf("  %s\n", p.Occupation.URI())
	if code := p.Occupation.String(models.PropCode); code != "" {
		fmt.Printf("  Code: %s\n", code)
	}
	if p.ISCOGroup != nil {
		fmt.Printf("  ISCO group: %s %s\n", p.ISCOGroup.String(models.PropCode), p.ISCOGroup.Label())
	}
	if desc := p.Occupation.String(models.PropDescription); desc != "" {
		fmt.Printf("\n  %s\n", truncate(desc, 400))
	}

	printLabels("Essential skills", p.EssentialSkills)
	printLabels("Optional skills", p.OptionalSkills)
	printLabels("Broader occupations", p.BroaderOccupations)
	printLabels("Narrower occupations", p.NarrowerOccupations)
	return nil
}

func printLabels(title string, objs []models.Object) {
	if len(objs) == 0 {
		return
	}
	fmt.Printf("\n%s (%d):\n", title, len(objs))
	for _, o := range objs {
		fmt.Printf("  • %s\n", o.Label())
	}
}

func orDefault[T int | float64](v, def T) T {
	if v > 0 {
		return v
	}
	return def
}
