package service

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/raphaelgruber/escograph/internal/models"
	"golang.org/x/sync/errgroup"
)

// Enrichment limits and thresholds.
const (
	enrichOccupationThreshold = 0.6
	enrichPhraseThreshold     = 0.5
	enrichDescThreshold       = 0.4
	enrichPhraseLimit         = 3
	enrichMaxPhrases          = 10
	enrichProfiles            = 3

	DefaultMaxOccupations = 5
	DefaultMaxSkills      = 20
)

// GapEssentialMissing marks an essential skill of a matched occupation that
// the posting does not mention.
const GapEssentialMissing = "essential_missing"

var (
	skillPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\b(?:experience with|knowledge of|proficient in|skilled in|expertise in)\s+([^.,;]+)`),
		regexp.MustCompile(`\b(?:must have|required|essential):\s*([^.,;]+)`),
		regexp.MustCompile(`\b([a-z\s]+)\s+(?:skills?|experience|knowledge)`),
		regexp.MustCompile(`\b(?:programming|coding|development)\s+(?:in|with)?\s*([^.,;]+)`),
	}

	stopWords = map[string]bool{
		"and": true, "or": true, "the": true, "a": true, "an": true, "with": true,
		"in": true, "on": true, "at": true, "for": true, "to": true, "of": true,
	}

	essentialTerms = []string{"required", "must have", "essential", "mandatory", "minimum"}
	preferredTerms = []string{"preferred", "nice to have", "bonus", "plus", "desirable"}
)

// JobPosting is the input to enrichment.
type JobPosting struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Requirements splits extracted phrases by how strongly they are asked for.
type Requirements struct {
	Essential []string `json:"essential"`
	Preferred []string `json:"preferred"`
}

// SkillGap is an essential skill of a matched occupation missing from the posting.
type SkillGap struct {
	Skill      models.Object `json:"skill"`
	Occupation string        `json:"occupation"`
	GapType    string        `json:"gap_type"`
}

// EnrichmentResult maps a job posting onto the taxonomy.
type EnrichmentResult struct {
	JobTitle            string          `json:"job_title"`
	MatchedOccupations  []models.Object `json:"matched_occupations"`
	ExtractedSkills     []models.Object `json:"extracted_skills"`
	SkillGaps           []SkillGap      `json:"skill_gaps"`
	ISCOGroups          []models.Object `json:"isco_groups"`
	Confidence          float64         `json:"confidence_score"`
	ExtractedPhrases    []string        `json:"extracted_phrases"`
	Requirements        Requirements    `json:"categorized_requirements"`
	ProfilesConsidered  int             `json:"occupation_profiles_count"`
	ProcessingTimestamp time.Time       `json:"processing_timestamp"`
}

// EnrichmentSummary is a compact view of an EnrichmentResult.
type EnrichmentSummary struct {
	JobTitle              string   `json:"job_title"`
	Confidence            float64  `json:"confidence_score"`
	MatchedOccupations    int      `json:"matched_occupations_count"`
	TopOccupation         string   `json:"top_occupation,omitempty"`
	ExtractedSkills       int      `json:"extracted_skills_count"`
	SkillGaps             int      `json:"skill_gaps_count"`
	ISCOGroups            []string `json:"isco_groups"`
	TopSkills             []string `json:"top_skills"`
	CriticalMissingSkills []string `json:"critical_missing_skills"`
}

// ExtractSkillPhrases pulls candidate skill phrases out of free text.
// The result is deduplicated and sorted.
func ExtractSkillPhrases(text string) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	for _, re := range skillPatterns {
		for _, m := range re.FindAllStringSubmatch(lower, -1) {
			for _, part := range strings.Split(m[1], ",") {
				part = strings.TrimSpace(part)
				if len(part) > 2 && !stopWords[part] {
					seen[part] = true
				}
			}
		}
	}
	phrases := make([]string, 0, len(seen))
	for p := range seen {
		phrases = append(phrases, p)
	}
	sort.Strings(phrases)
	return phrases
}

// CategorizeRequirements assigns the phrases of each sentence to essential
// or preferred based on the wording of that sentence.
func CategorizeRequirements(text string) Requirements {
	essential := make(map[string]bool)
	preferred := make(map[string]bool)
	for _, sentence := range strings.Split(text, ".") {
		lower := strings.ToLower(sentence)
		switch {
		case containsAny(lower, essentialTerms):
			for _, p := range ExtractSkillPhrases(sentence) {
				essential[p] = true
			}
		case containsAny(lower, preferredTerms):
			for _, p := range ExtractSkillPhrases(sentence) {
				preferred[p] = true
			}
		}
	}
	return Requirements{Essential: sortedKeys(essential), Preferred: sortedKeys(preferred)}
}

// EnrichJobPosting matches occupations and skills for a posting and lists
// the essential skills of the top occupations the posting does not mention.
func (s *SearchService) EnrichJobPosting(ctx context.Context, job JobPosting, maxOccupations, maxSkills int) (*EnrichmentResult, error) {
	if maxOccupations <= 0 {
		maxOccupations = DefaultMaxOccupations
	}
	if maxSkills <= 0 {
		maxSkills = DefaultMaxSkills
	}

	res := &EnrichmentResult{
		JobTitle:            job.Title,
		ExtractedPhrases:    ExtractSkillPhrases(job.Description),
		Requirements:        CategorizeRequirements(job.Description),
		ProcessingTimestamp: time.Now().UTC(),
	}

	occs, err := s.SearchOccupations(ctx, job.Title+". "+job.Description, maxOccupations, enrichOccupationThreshold)
	if err != nil {
		return nil, err
	}
	res.MatchedOccupations = occs

	var profiles []*OccupationProfile
	for _, occ := range occs[:min(enrichProfiles, len(occs))] {
		p, err := s.GetOccupationProfile(ctx, occ.ID)
		if err != nil {
			slog.Warn("occupation profile unavailable", "occupation", occ.ID, "error", err)
			continue
		}
		if p != nil {
			profiles = append(profiles, p)
		}
	}
	res.ProfilesConsidered = len(profiles)

	// Phrase hits and description hits merged by URI, best score wins.
	best := make(map[string]models.Object)
	merge := func(objs []models.Object) {
		for _, o := range objs {
			if cur, ok := best[o.URI()]; !ok || o.Score > cur.Score {
				best[o.URI()] = o
			}
		}
	}
	for _, phrase := range res.ExtractedPhrases[:min(enrichMaxPhrases, len(res.ExtractedPhrases))] {
		hits, err := s.SearchSkills(ctx, phrase, enrichPhraseLimit, enrichPhraseThreshold)
		if err != nil {
			return nil, err
		}
		merge(hits)
	}
	hits, err := s.SearchSkills(ctx, job.Description, maxSkills, enrichDescThreshold)
	if err != nil {
		return nil, err
	}
	merge(hits)

	skills := make([]models.Object, 0, len(best))
	for _, o := range best {
		skills = append(skills, o)
	}
	sort.Slice(skills, func(i, j int) bool {
		if skills[i].Score == skills[j].Score {
			return skills[i].URI() < skills[j].URI()
		}
		return skills[i].Score > skills[j].Score
	})
	if len(skills) > maxSkills {
		skills = skills[:maxSkills]
	}
	res.ExtractedSkills = skills

	found := make(map[string]bool, len(skills))
	for _, sk := range skills {
		found[sk.URI()] = true
	}
	groups := make(map[string]bool)
	for _, p := range profiles {
		for _, sk := range p.EssentialSkills {
			if !found[sk.URI()] {
				res.SkillGaps = append(res.SkillGaps, SkillGap{Skill: sk, Occupation: p.Occupation.Label(), GapType: GapEssentialMissing})
			}
		}
		if p.ISCOGroup != nil && !groups[p.ISCOGroup.URI()] {
			groups[p.ISCOGroup.URI()] = true
			res.ISCOGroups = append(res.ISCOGroups, *p.ISCOGroup)
		}
	}

	res.Confidence = (meanScore(occs) + meanScore(skills)) / 2
	slog.Info("job posting enriched",
		"title", job.Title,
		"occupations", len(occs),
		"skills", len(skills),
		"gaps", len(res.SkillGaps),
		"confidence", fmt.Sprintf("%.3f", res.Confidence))
	return res, nil
}

// BatchEnrich enriches postings with default limits, running up to
// s.concurrency at once. Results keep input order; postings that fail are
// logged and left out.
func (s *SearchService) BatchEnrich(ctx context.Context, jobs []JobPosting) []*EnrichmentResult {
	results := make([]*EnrichmentResult, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(s.concurrency, 1))
	for i, job := range jobs {
		g.Go(func() error {
			res, err := s.EnrichJobPosting(gctx, job, 0, 0)
			if err != nil {
				slog.Error("enrichment failed", "title", job.Title, "error", err)
				return nil
			}
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*EnrichmentResult, 0, len(jobs))
	for _, r := range results {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

// Summary condenses r.
func (r *EnrichmentResult) Summary() EnrichmentSummary {
	sum := EnrichmentSummary{
		JobTitle:              r.JobTitle,
		Confidence:            r.Confidence,
		MatchedOccupations:    len(r.MatchedOccupations),
		ExtractedSkills:       len(r.ExtractedSkills),
		SkillGaps:             len(r.SkillGaps),
		ISCOGroups:            []string{},
		TopSkills:             []string{},
		CriticalMissingSkills: []string{},
	}
	if len(r.MatchedOccupations) > 0 {
		sum.TopOccupation = r.MatchedOccupations[0].Label()
	}
	for _, g := range r.ISCOGroups {
		sum.ISCOGroups = append(sum.ISCOGroups, g.Label())
	}
	for _, sk := range r.ExtractedSkills[:min(5, len(r.ExtractedSkills))] {
		sum.TopSkills = append(sum.TopSkills, sk.Label())
	}
	for _, g := range r.SkillGaps[:min(3, len(r.SkillGaps))] {
		sum.CriticalMissingSkills = append(sum.CriticalMissingSkills, g.Skill.Label())
	}
	return sum
}

func meanScore(objs []models.Object) float64 {
	if len(objs) == 0 {
		return 0
	}
	var total float64
	for _, o := range objs {
		total += o.Score
	}
	return total / float64(len(objs))
}

func containsAny(s string, terms []string) bool {
	return slices.ContainsFunc(terms, func(t string) bool { return strings.Contains(s, t) })
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
