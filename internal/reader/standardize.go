package reader

import (
	"regexp"
	"sort"
	"strconv"
)

// Canonical column names produced by the standardizers.
const (
	ColBroaderURI       = "broaderUri"
	ColNarrowerURI      = "narrowerUri"
	ColConceptSchemeURI = "conceptSchemeUri"
	ColSkillURI         = "skillUri"
)

var (
	broaderAliases  = []string{"broaderConceptUri", "parentUri", "broaderSkillUri"}
	narrowerAliases = []string{"narrowerConceptUri", "childUri", "conceptUri", "targetUri", "skillUri"}

	schemeAliases = []string{"collectionUri", "conceptScheme", "schemeUri"}
	skillAliases  = []string{"conceptUri", "targetUri", "skillID"}

	levelColumn = regexp.MustCompile(`^Level (\d+) URI$`)
)

// StandardizeHierarchyColumns rewrites a hierarchy table so every row has
// broaderUri and narrowerUri. The leveled "Level N URI" layout takes the last
// two non-empty levels of each row; rows with fewer than two levels or a
// self-loop are dropped. Otherwise known alias columns are renamed.
func StandardizeHierarchyColumns(t *Table) *Table {
	if t == nil {
		return nil
	}

	if levels := levelColumns(t.Columns); len(levels) > 0 {
		kept := t.Rows[:0]
		for _, row := range t.Rows {
			var vals []string
			for _, col := range levels {
				if v := row.Get(col); v != "" {
					vals = append(vals, v)
				}
			}
			if len(vals) < 2 {
				continue
			}
			broader, narrower := vals[len(vals)-2], vals[len(vals)-1]
			if broader == narrower {
				continue
			}
			row[ColBroaderURI] = broader
			row[ColNarrowerURI] = narrower
			kept = append(kept, row)
		}
		t.Rows = kept
		t.addColumn(ColBroaderURI)
		t.addColumn(ColNarrowerURI)
		return t
	}

	t.renameFirst(ColBroaderURI, broaderAliases)
	t.renameFirst(ColNarrowerURI, narrowerAliases)
	return t
}

// StandardizeCollectionRelationColumns renames collection membership columns
// to conceptSchemeUri and skillUri.
func StandardizeCollectionRelationColumns(t *Table) *Table {
	if t == nil {
		return nil
	}
	t.renameFirst(ColConceptSchemeURI, schemeAliases)
	t.renameFirst(ColSkillURI, skillAliases)
	return t
}

// levelColumns returns the leveled URI columns ordered by level.
func levelColumns(cols []string) []string {
	type lc struct {
		name  string
		level int
	}
	var found []lc
	for _, c := range cols {
		m := levelColumn.FindStringSubmatch(c)
		if m == nil {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		found = append(found, lc{c, n})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].level < found[j].level })

	out := make([]string, len(found))
	for i, f := range found {
		out[i] = f.name
	}
	return out
}

// renameFirst renames the first alias present to target, unless target already exists.
func (t *Table) renameFirst(target string, aliases []string) {
	if t.HasColumn(target) {
		return
	}
	for _, alias := range aliases {
		if !t.HasColumn(alias) {
			continue
		}
		for i, c := range t.Columns {
			if c == alias {
				t.Columns[i] = target
			}
		}
		for _, row := range t.Rows {
			row[target] = row[alias]
			delete(row, alias)
		}
		return
	}
}

func (t *Table) addColumn(col string) {
	if !t.HasColumn(col) {
		t.Columns = append(t.Columns, col)
	}
}
