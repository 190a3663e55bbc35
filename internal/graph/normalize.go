package graph

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// normalizeCacheSize bounds the surface-form cache. Entity vocabularies are
// heavy-tailed, so a small cache absorbs most lookups.
const normalizeCacheSize = 4096

// orgSuffixes are stripped during canonicalization so "Acme", "Acme Inc" and
// "Acme Inc." resolve to the same node.
var orgSuffixes = []string{"inc", "corp", "corporation", "ltd", "llc", "gmbh", "co"}

var normalizeCache, _ = lru.New[string, string](normalizeCacheSize)

// Normalize canonicalizes an entity surface form: casefold, strip punctuation
// except inner dashes, collapse whitespace, drop trailing org suffixes.
func Normalize(surface string) string {
	if v, ok := normalizeCache.Get(surface); ok {
		return v
	}
	n := normalize(surface)
	normalizeCache.Add(surface, n)
	return n
}

func normalize(surface string) string {
	var b strings.Builder
	b.Grow(len(surface))
	for _, r := range strings.ToLower(surface) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}

	fields := strings.Fields(b.String())
	if len(fields) > 1 {
		last := fields[len(fields)-1]
		for _, suffix := range orgSuffixes {
			if last == suffix {
				fields = fields[:len(fields)-1]
				break
			}
		}
	}
	return strings.Join(fields, " ")
}
