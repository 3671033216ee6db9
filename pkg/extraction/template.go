package extraction

import (
	"regexp"
	"strings"

	"github.com/contextmem/contextmem/pkg/types"
)

// Template-stage confidences. Pattern hits are reliable but shallow; they get
// a solid baseline that later stages can raise.
const (
	orgPatternConfidence    = 0.75
	personPatternConfidence = 0.7
	dictionaryConfidence    = 0.6
)

var (
	// Organization names end in a legal-form suffix, German or English.
	orgSuffixRe = regexp.MustCompile(
		`\b([A-ZÄÖÜ][\p{L}\d&.\-]*(?:\s+[A-ZÄÖÜ&][\p{L}\d&.\-]*)*)\s+(GmbH|AG|SE|KG|KGaA|Inc\.?|Corp\.?|Ltd\.?|LLC|PLC|Co\.)`)

	// Person names follow an honorific or German address form.
	personTitleRe = regexp.MustCompile(
		`\b(?:Dr\.|Prof\.|Herr|Frau|Mr\.|Mrs\.|Ms\.)\s+([A-ZÄÖÜ][\p{L}\-]+(?:\s+[A-ZÄÖÜ][\p{L}\-]+)?)`)
)

// knownLocations and knownTechnologies are small gazetteer dictionaries for
// the template stage. Lookups are case-insensitive against whole words.
var knownLocations = []string{
	"Berlin", "Munich", "München", "Hamburg", "Frankfurt", "Cologne", "Köln",
	"Stuttgart", "Walldorf", "Vienna", "Wien", "Zurich", "Zürich",
	"London", "Paris", "New York", "San Francisco", "Tokyo",
	"Germany", "Deutschland", "Austria", "Switzerland", "Europe",
}

var knownTechnologies = []string{
	"Kubernetes", "Docker", "PostgreSQL", "MySQL", "SQLite", "Redis", "Kafka",
	"Terraform", "Linux", "Python", "Java", "JavaScript", "TypeScript",
	"React", "GraphQL", "gRPC", "AWS", "Azure", "SAP HANA",
}

// TemplateExtractor is the first pipeline stage: deterministic pattern and
// dictionary matching. It needs no collaborators and never fails.
type TemplateExtractor struct {
	locations    map[string]string
	technologies map[string]string
}

// NewTemplateExtractor builds the extractor with the built-in dictionaries.
func NewTemplateExtractor() *TemplateExtractor {
	t := &TemplateExtractor{
		locations:    make(map[string]string, len(knownLocations)),
		technologies: make(map[string]string, len(knownTechnologies)),
	}
	for _, l := range knownLocations {
		t.locations[strings.ToLower(l)] = l
	}
	for _, tech := range knownTechnologies {
		t.technologies[strings.ToLower(tech)] = tech
	}
	return t
}

// Extract returns pattern-confirmed entity candidates from the text. Each
// surface form yields at most one candidate.
func (t *TemplateExtractor) Extract(text string) []*types.ExtractedEntity {
	var candidates []*types.ExtractedEntity
	seen := make(map[string]bool)

	add := func(name string, typ types.EntityType, confidence float64) {
		key := types.CanonicalName(name)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		e := &types.ExtractedEntity{
			Entity: types.Entity{
				Name:          name,
				CanonicalName: key,
				Type:          typ,
				Confidence:    confidence,
			},
		}
		e.Confirm(types.TemplateConfirmed)
		candidates = append(candidates, e)
	}

	for _, m := range orgSuffixRe.FindAllStringSubmatch(text, -1) {
		add(strings.TrimSpace(m[1]+" "+m[2]), types.EntityTypeOrganization, orgPatternConfidence)
	}
	for _, m := range personTitleRe.FindAllStringSubmatch(text, -1) {
		add(m[1], types.EntityTypePerson, personPatternConfidence)
	}

	t.matchDictionary(text, t.locations, types.EntityTypeLocation, add)
	t.matchDictionary(text, t.technologies, types.EntityTypeTechnology, add)

	return candidates
}

func (t *TemplateExtractor) matchDictionary(text string, dict map[string]string, typ types.EntityType, add func(string, types.EntityType, float64)) {
	lower := strings.ToLower(text)
	for key, surface := range dict {
		idx := strings.Index(lower, key)
		if idx < 0 {
			continue
		}
		// Whole-word match only.
		if idx > 0 && isWordChar(rune(lower[idx-1])) {
			continue
		}
		end := idx + len(key)
		if end < len(lower) && isWordChar(rune(lower[end])) {
			continue
		}
		add(surface, typ, dictionaryConfidence)
	}
}

func isWordChar(r rune) bool {
	return r == '_' || ('a' <= r && r <= 'z') || ('0' <= r && r <= '9')
}
