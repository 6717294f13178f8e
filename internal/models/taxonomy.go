package models

import "strings"

// Entity classes stored in the taxonomy.
const (
	ClassOccupation      = "Occupation"
	ClassSkill           = "Skill"
	ClassISCOGroup       = "ISCOGroup"
	ClassSkillGroup      = "SkillGroup"
	ClassSkillCollection = "SkillCollection"
)

// AllClasses lists every entity class in ingestion order.
var AllClasses = []string{
	ClassISCOGroup,
	ClassOccupation,
	ClassSkill,
	ClassSkillGroup,
	ClassSkillCollection,
}

// DefaultClasses are the primary classes checked for existing data and verified after a run.
var DefaultClasses = []string{
	ClassOccupation,
	ClassSkill,
	ClassISCOGroup,
	ClassSkillCollection,
}

// IsKnownClass reports whether name is one of AllClasses.
func IsKnownClass(name string) bool {
	for _, c := range AllClasses {
		if c == name {
			return true
		}
	}
	return false
}

// Reference properties.
const (
	RefHasEssentialSkill       = "hasEssentialSkill"
	RefHasOptionalSkill        = "hasOptionalSkill"
	RefBroaderOccupation       = "broaderOccupation"
	RefMemberOfISCOGroup       = "memberOfISCOGroup"
	RefMemberOfSkillCollection = "memberOfSkillCollection"
	RefHasRelatedSkill         = "hasRelatedSkill"
	RefBroaderSkill            = "broaderSkill"
)

// Object property names shared by every entity class.
const (
	PropURI            = "uri"
	PropPreferredLabel = "preferredLabel_en"
	PropDescription    = "description_en"
	PropAltLabels      = "altLabels_en"
	PropCode           = "code"
	PropEmbedding      = "embedding"
)

// Class-specific object property names.
const (
	PropDefinition = "definition_en"
	PropISCOCode   = "iscoCode"
	PropISCOLevel  = "iscoLevel"
	PropSkillType  = "skillType"
	PropReuseLevel = "reuseLevel"
)

// Object is a stored entity: its identifier plus properties.
type Object struct {
	ID         string         `json:"id"`
	Class      string         `json:"class"`
	Properties map[string]any `json:"properties"`
	// Score is set by similarity searches.
	Score float64 `json:"score,omitempty"`
}

// String returns a string property or "" when absent.
func (o Object) String(prop string) string {
	if o.Properties == nil {
		return ""
	}
	s, _ := o.Properties[prop].(string)
	return s
}

// URI returns the object's ESCO concept URI.
func (o Object) URI() string { return o.String(PropURI) }

// Label returns the English preferred label.
func (o Object) Label() string { return o.String(PropPreferredLabel) }

// Reference is a typed directed edge between two stored objects.
type Reference struct {
	FromClass string
	FromID    string
	Property  string
	ToClass   string
	ToID      string
}

// ObjectID derives a stable object identifier from an ESCO URI: the last
// non-empty path segment. Re-ingesting the same URI overwrites rather than duplicates.
func ObjectID(uri string) string {
	uri = strings.TrimSpace(uri)
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
