package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/raphaelgruber/escograph/internal/metrics"
	"github.com/raphaelgruber/escograph/internal/models"
)

// Theme holds the color scheme for terminal output.
type Theme struct {
	Status     lipgloss.Color
	Success    lipgloss.Color
	Warning    lipgloss.Color
	Error      lipgloss.Color
	Hint       lipgloss.Color
	ProgressBg lipgloss.Color
}

// defaultTheme provides default colors.
var defaultTheme = Theme{
	Status:     lipgloss.Color("#5FAFD7"), // light blue
	Success:    lipgloss.Color("#00D787"), // green
	Warning:    lipgloss.Color("#FFAF00"), // amber
	Error:      lipgloss.Color("#FF005F"), // red
	Hint:       lipgloss.Color("#6C6C6C"), // dim gray
	ProgressBg: lipgloss.Color("#3A3A3A"), // dark gray
}

// Style functions for dynamic theming
func (t Theme) statusStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Status)
}

func (t Theme) completedStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Success).Bold(true)
}

func (t Theme) warningStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Warning)
}

func (t Theme) errorStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Error).Bold(true)
}

func (t Theme) hintStyle() lipgloss.Style {
	return lipgloss.NewStyle().Foreground(t.Hint).Italic(true)
}

// stateStyle colors a state by how a user should read it.
func (t Theme) stateStyle(st models.IngestionState) lipgloss.Style {
	switch st {
	case models.StateCompleted:
		return t.completedStyle()
	case models.StateFailed:
		return t.errorStyle()
	case models.StateUnknown:
		return t.warningStyle()
	default:
		return t.statusStyle()
	}
}

// printValidation displays a validation result with its findings.
func printValidation(title string, v *models.ValidationResult) {
	t := defaultTheme
	if v.IsValid {
		fmt.Printf("%s %s\n", t.completedStyle().Render("✓"), title)
	} else {
		fmt.Printf("%s %s\n", t.errorStyle().Render("✗"), title)
	}

	components := make([]string, 0, len(v.Details))
	for c := range v.Details {
		components = append(components, c)
	}
	sort.Strings(components)
	for _, c := range components {
		d := v.Details[c]
		var mark string
		switch d.Status {
		case "ok":
			mark = t.completedStyle().Render("ok  ")
		case "warning":
			mark = t.warningStyle().Render("warn")
		default:
			mark = t.errorStyle().Render("err ")
		}
		fmt.Printf("  %s %-18s %s\n", mark, c, d.Message)
	}

	if len(v.Errors) > 0 {
		fmt.Println(t.errorStyle().Render(fmt.Sprintf("\nErrors (%d):", len(v.Errors))))
		for _, e := range v.Errors {
			fmt.Printf("  • %s\n", e)
		}
	}
	if len(v.Warnings) > 0 && verbose {
		fmt.Println(t.warningStyle().Render(fmt.Sprintf("\nWarnings (%d):", len(v.Warnings))))
		for _, w := range v.Warnings {
			fmt.Printf("  • %s\n", w)
		}
	}
}

// printIngestionResult displays the outcome of a run.
func printIngestionResult(res *models.IngestionResult) {
	t := defaultTheme
	if res.Success {
		fmt.Println(t.completedStyle().Render("✓ Ingestion completed"))
	} else {
		fmt.Println(t.errorStyle().Render("✗ Ingestion failed"))
	}
	fmt.Printf("  Steps:    %d/%d (%.0f%%)\n", res.StepsCompleted, res.TotalSteps, res.CompletionPercentage())
	if res.LastCompletedStep != "" {
		fmt.Printf("  Last:     %s\n", res.LastCompletedStep)
	}
	fmt.Printf("  Duration: %s\n", res.Duration().Round(time.Millisecond))

	for _, e := range res.Errors {
		fmt.Println(t.errorStyle().Render("  Error: ") + e)
	}
	for _, w := range res.Warnings {
		fmt.Println(t.warningStyle().Render("  Warning: ") + w)
	}
}

// printRunStats displays step timings and store statistics of a run.
func printRunStats(snap metrics.Snapshot) {
	fmt.Printf("\nRun Statistics (%s)\n", snap.Elapsed.Round(time.Millisecond))
	fmt.Printf("═══════════════════════════════════════\n")

	for _, s := range snap.Steps {
		fmt.Printf("  %-34s %8dms\n", s.Name, s.TotalTimeMs)
	}
	if slow := snap.SlowestSteps(3); len(slow) > 1 {
		names := make([]string, len(slow))
		for i, s := range slow {
			names[i] = s.Name
		}
		fmt.Println(defaultTheme.hintStyle().Render("  slowest: " + strings.Join(names, ", ")))
	}

	for _, op := range []struct {
		title string
		snap  *metrics.OperationSnapshot
	}{
		{"Embeddings", snap.Embedding},
		{"Store writes", snap.StoreWrite},
		{"Status writes", snap.StatusWrite},
	} {
		if op.snap != nil {
			fmt.Printf("\n%s:\n", op.title)
			printOpStats(op.snap)
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(op *metrics.OperationSnapshot) {
	fmt.Printf("  Calls: %d, Total: %dms\n", op.Count, op.TotalTimeMs)
	fmt.Printf("  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
	if op.TotalItems != nil && op.AvgItems != nil {
		fmt.Printf("  Items: %d total, avg %.0f per call", *op.TotalItems, *op.AvgItems)
		if op.ItemsPerSec != nil {
			fmt.Printf(", %.0f/s", *op.ItemsPerSec)
		}
		fmt.Println()
	}
}

// printObjects lists search hits.
func printObjects(objs []models.Object) {
	if len(objs) == 0 {
		fmt.Println("No results found.")
		return
	}
	fmt.Printf("Found %d results:\n\n", len(objs))
	for i, o := range objs {
		fmt.Printf("%d. %s [%.3f]\n", i+1, o.Label(), o.Score)
		fmt.Printf("   %s\n", o.URI())
		if verbose {
			if desc := o.String(models.PropDescription); desc != "" {
				fmt.Printf("   %s\n", truncate(desc, 160))
			}
		}
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
