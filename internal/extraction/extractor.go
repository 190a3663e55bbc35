// Package extraction turns free-form memory content into entity mentions and
// relationship candidates. The streaming path is a regex-and-lexicon fallback
// used for every ingest; the batch path (llm.go) delegates to an external
// extractor.
package extraction

import (
	"regexp"
	"strings"

	"github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"
)

// Mention confidences by evidence strength.
const (
	confLexicon     = 0.9
	confOrgSuffix   = 0.85
	confPattern     = 0.8
	confCapitalized = 0.6
)

// capitalizedPhrase matches runs of capitalized words, the shape most named
// entities take in prose.
var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][A-Za-z0-9'-]*(?: [A-Z][A-Za-z0-9'-]*)*\b`)

// sentence-leading words that the capitalization pass would otherwise
// misread as entities.
var capitalizedStopwords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"i": {}, "he": {}, "she": {}, "it": {}, "we": {}, "they": {}, "you": {},
	"my": {}, "his": {}, "her": {}, "its": {}, "our": {}, "their": {},
	"after": {}, "before": {}, "when": {}, "while": {}, "if": {}, "but": {},
	"and": {}, "or": {}, "not": {}, "no": {}, "yes": {}, "on": {}, "in": {},
	"at": {}, "for": {}, "with": {}, "from": {}, "to": {}, "by": {}, "as": {},
	"there": {}, "here": {}, "however": {}, "also": {}, "then": {}, "now": {},
	"today": {}, "yesterday": {}, "tomorrow": {},
}

var orgSuffixes = []string{" inc", " corp", " ltd", " llc", " gmbh", " co", " labs", " systems", " technologies"}

var personVerbs = regexp.MustCompile(`^\s*(?:works?|worked|working|lives?|lived|says?|said|wrote|writes|joined|met|leads?|led|founded|manages?|managed|thinks?|thought|told|asked|presented)\b`)

var orgPrepositions = regexp.MustCompile(`(?:works?|worked|working|employed|hired|interns?|job)\s+(?:at|for|with)\s*$`)

// Extractor is the in-process streaming entity extractor.
type Extractor struct{}

func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the ordered mentions found in content. Mentions sharing a
// normalized surface are coalesced onto the most confident type so one
// memory never splits an entity across types.
func (e *Extractor) Extract(content string) []domain.Mention {
	if strings.TrimSpace(content) == "" {
		return nil
	}

	var mentions []domain.Mention
	covered := make([]bool, len(content))

	for _, loc := range capitalizedPhrase.FindAllStringIndex(content, -1) {
		start, end := loc[0], loc[1]
		surface := content[start:end]
		if _, stop := capitalizedStopwords[strings.ToLower(surface)]; stop {
			continue
		}

		before := content[:start]
		after := content[end:]
		etype, conf := classify(surface, before, after)
		mentions = append(mentions, domain.Mention{
			EntityType: etype,
			Surface:    surface,
			CharStart:  start,
			CharEnd:    end,
			Confidence: conf,
		})
		for i := start; i < end; i++ {
			covered[i] = true
		}
	}

	// Lowercase lexicon terms missed by the capitalization pass.
	mentions = append(mentions, e.lexiconScan(content, covered)...)

	return coalesceTypes(mentions)
}

// classify picks an entity type from the lexicon, surface shape, and the
// immediate context around the mention.
func classify(surface, before, after string) (domain.EntityType, float64) {
	if t, ok := LexiconType(surface); ok {
		return t, confLexicon
	}

	lower := strings.ToLower(surface)
	for _, suffix := range orgSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return domain.EntityOrganization, confOrgSuffix
		}
	}

	if orgPrepositions.MatchString(before) {
		return domain.EntityOrganization, confPattern
	}
	if personVerbs.MatchString(after) {
		return domain.EntityPerson, confPattern
	}

	return domain.EntityOther, confCapitalized
}

// lexiconScan finds lexicon terms written in lowercase, skipping spans the
// capitalization pass already claimed. The scan runs over an ASCII-lowered
// copy so every offset indexes content directly; full Unicode lowercasing can
// change byte lengths and would shift the spans.
func (e *Extractor) lexiconScan(content string, covered []bool) []domain.Mention {
	var mentions []domain.Mention
	lower := asciiLower(content)

	for term, etype := range lexicon {
		from := 0
		for {
			idx := strings.Index(lower[from:], term)
			if idx < 0 {
				break
			}
			start := from + idx
			end := start + len(term)
			from = end
			if !wordBoundary(lower, start, end) || covered[start] {
				continue
			}
			mentions = append(mentions, domain.Mention{
				EntityType: etype,
				Surface:    content[start:end],
				CharStart:  start,
				CharEnd:    end,
				Confidence: confLexicon,
			})
		}
	}
	return mentions
}

// asciiLower lowercases ASCII letters only, leaving every other byte (and so
// every offset) untouched. Lexicon terms are ASCII, so nothing is lost.
func asciiLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func wordBoundary(s string, start, end int) bool {
	if start > 0 && isWordByte(s[start-1]) {
		return false
	}
	if end < len(s) && isWordByte(s[end]) {
		return false
	}
	return true
}

func isWordByte(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9')
}

// coalesceTypes unifies the type of mentions sharing a normalized surface,
// keeping the highest-confidence non-OTHER classification, and sorts by
// position (insertion order is already positional for the regex pass, so a
// stable pass suffices).
func coalesceTypes(mentions []domain.Mention) []domain.Mention {
	type vote struct {
		etype domain.EntityType
		conf  float64
	}
	best := make(map[string]vote)
	for _, m := range mentions {
		key := normalizeKey(m.Surface)
		v, ok := best[key]
		if !ok || (m.EntityType != domain.EntityOther && (v.etype == domain.EntityOther || m.Confidence > v.conf)) {
			best[key] = vote{m.EntityType, m.Confidence}
		}
	}
	out := make([]domain.Mention, 0, len(mentions))
	for _, m := range mentions {
		v := best[normalizeKey(m.Surface)]
		m.EntityType = v.etype
		out = append(out, m)
	}
	sortMentions(out)
	return out
}

func sortMentions(mentions []domain.Mention) {
	// Insertion sort keeps this allocation-free; mention lists are short.
	for i := 1; i < len(mentions); i++ {
		for j := i; j > 0 && mentions[j].CharStart < mentions[j-1].CharStart; j-- {
			mentions[j], mentions[j-1] = mentions[j-1], mentions[j]
		}
	}
}

// normalizeKey is the casefolded, whitespace-collapsed surface used to group
// mentions. Full canonicalization lives in the graph provider.
func normalizeKey(surface string) string {
	return strings.Join(strings.Fields(strings.ToLower(surface)), " ")
}

// RelationTypeFor picks the relationship type from the endpoint types and
// the connective tokens between two mentions.
func RelationTypeFor(from, to domain.EntityType, connective string) domain.RelationshipType {
	c := strings.ToLower(connective)

	switch {
	case containsAny(c, "works at", "works for", "worked at", "worked for", "employed"):
		return domain.RelWorksFor
	case containsAny(c, "uses", "using", "used", "built with", "runs on", "adopted", "powered by"):
		return domain.RelUses
	case containsAny(c, "part of", "belongs to", "division of", "subsidiary"):
		return domain.RelPartOf
	case containsAny(c, "caused", "because of", "due to", "led to"):
		return domain.RelCausedBy
	case to == domain.EntityLocation && containsAny(c, "in", "based in", "located", "moved to"):
		return domain.RelLocatedIn
	case containsAny(c, "mentions", "mentioned"):
		return domain.RelMentions
	}
	return domain.RelRelatesTo
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
