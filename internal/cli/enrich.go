package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/raphaelgruber/escograph/internal/service"
	"github.com/spf13/cobra"
)

var (
	enrichTitle          string
	enrichDescription    string
	enrichFile           string
	enrichMaxOccupations int
	enrichMaxSkills      int
	enrichJSON           bool
	enrichSummary        bool
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Map job postings onto ESCO occupations and skills",
	Long: `Match a job posting against the taxonomy: similar occupations, skills
mentioned in the text, and essential skills of the matched occupations the
posting does not mention.

Postings come from --title/--description or from a JSON file holding an
array of {"title": ..., "description": ...} objects.

Examples:
  escograph enrich --title "Backend engineer" --description "Experience with Go and PostgreSQL."
  escograph enrich --file postings.json --summary --json`,
	Args: cobra.NoArgs,
	RunE: runEnrich,
}

func init() {
	enrichCmd.Flags().StringVarP(&enrichTitle, "title", "t", "", "job title")
	enrichCmd.Flags().StringVarP(&enrichDescription, "description", "d", "", "job description")
	enrichCmd.Flags().StringVarP(&enrichFile, "file", "f", "", "JSON file with postings")
	enrichCmd.Flags().IntVar(&enrichMaxOccupations, "max-occupations", service.DefaultMaxOccupations, "max matched occupations")
	enrichCmd.Flags().IntVar(&enrichMaxSkills, "max-skills", service.DefaultMaxSkills, "max extracted skills")
	enrichCmd.Flags().BoolVar(&enrichJSON, "json", false, "print as JSON")
	enrichCmd.Flags().BoolVar(&enrichSummary, "summary", false, "print summaries only")
}

func runEnrich(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	jobs, err := loadPostings()
	if err != nil {
		return err
	}

	svc, err := getSearchService(ctx)
	if err != nil {
		return fmt.Errorf("init services: %w", err)
	}

	var results []*service.EnrichmentResult
	if len(jobs) == 1 {
		res, err := svc.EnrichJobPosting(ctx, jobs[0], enrichMaxOccupations, enrichMaxSkills)
		if err != nil {
			return fmt.Errorf("enrich: %w", err)
		}
		results = append(results, res)
	} else {
		results = svc.BatchEnrich(ctx, jobs)
		if len(results) < len(jobs) {
			fmt.Fprintf(os.Stderr, "Warning: %d of %d postings failed\n", len(jobs)-len(results), len(jobs))
		}
	}

	if enrichJSON {
		if enrichSummary {
			sums := make([]service.EnrichmentSummary, len(results))
			for i, r := range results {
				sums[i] = r.Summary()
			}
			return printJSON(sums)
		}
		return printJSON(results)
	}

	for i, r := range results {
		if i > 0 {
			fmt.Println()
		}
		printEnrichment(r)
	}
	return nil
}

func loadPostings() ([]service.JobPosting, error) {
	if enrichFile != "" {
		data, err := os.ReadFile(enrichFile)
		if err != nil {
			return nil, fmt.Errorf("read postings: %w", err)
		}
		var jobs []service.JobPosting
		if err := json.Unmarshal(data, &jobs); err != nil {
			return nil, fmt.Errorf("parse postings %s: %w", enrichFile, err)
		}
		if len(jobs) == 0 {
			return nil, fmt.Errorf("no postings in %s", enrichFile)
		}
		return jobs, nil
	}
	if strings.TrimSpace(enrichTitle) == "" && strings.TrimSpace(enrichDescription) == "" {
		return nil, errors.New("provide --title/--description or --file")
	}
	return []service.JobPosting{{Title: enrichTitle, Description: enrichDescription}}, nil
}

func printEnrichment(r *service.EnrichmentResult) {
	t := defaultTheme
	sum := r.Summary()

	fmt.Printf("%s  confidence %.2f\n", t.completedStyle().Render(r.JobTitle), r.Confidence)
	if enrichSummary {
		fmt.Printf("  Top occupation: %s\n", sum.TopOccupation)
		fmt.Printf("  Top skills:     %s\n", strings.Join(sum.TopSkills, ", "))
		fmt.Printf("  Missing:        %s\n", strings.Join(sum.CriticalMissingSkills, ", "))
		fmt.Printf("  ISCO groups:    %s\n", strings.Join(sum.ISCOGroups, ", "))
		return
	}

	fmt.Printf("\nOccupations (%d):\n", len(r.MatchedOccupations))
	for _, o := range r.MatchedOccupations {
		fmt.Printf("  %.3f  %s\n", o.Score, o.Label())
	}
	fmt.Printf("\nSkills (%d):\n", len(r.ExtractedSkills))
	for _, s := range r.ExtractedSkills {
		fmt.Printf("  %.3f  %s\n", s.Score, s.Label())
	}
	if len(r.SkillGaps) > 0 {
		fmt.Println(t.warningStyle().Render(fmt.Sprintf("\nSkill gaps (%d):", len(r.SkillGaps))))
		for _, g := range r.SkillGaps {
			fmt.Printf("  • %s (%s)\n", g.Skill.Label(), g.Occupation)
		}
	}
	if len(r.Requirements.Essential) > 0 || len(r.Requirements.Preferred) > 0 {
		fmt.Printf("\nRequirements:\n")
		fmt.Printf("  essential: %s\n", strings.Join(r.Requirements.Essential, ", "))
		fmt.Printf("  preferred: %s\n", strings.Join(r.Requirements.Preferred, ", "))
	}
	if len(sum.ISCOGroups) > 0 {
		fmt.Printf("\nISCO groups: %s\n", strings.Join(sum.ISCOGroups, ", "))
	}
}
