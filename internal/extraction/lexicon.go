package extraction

import "github.com/Von-Base-Enterprises/core-nexus-sub001/internal/domain"

// lexicon maps casefolded surface forms to entity types for terms the regex
// path cannot classify on shape alone. Lookups also catch lowercase usage
// ("python", "kubernetes") that the capitalization pass misses.
var lexicon = map[string]domain.EntityType{
	// Languages and runtimes
	"python":     domain.EntityTechnology,
	"golang":     domain.EntityTechnology,
	"java":       domain.EntityTechnology,
	"javascript": domain.EntityTechnology,
	"typescript": domain.EntityTechnology,
	"rust":       domain.EntityTechnology,
	"ruby":       domain.EntityTechnology,
	"kotlin":     domain.EntityTechnology,
	"swift":      domain.EntityTechnology,
	"scala":      domain.EntityTechnology,
	"node.js":    domain.EntityTechnology,
	"nodejs":     domain.EntityTechnology,

	// Infrastructure
	"kubernetes":    domain.EntityTechnology,
	"docker":        domain.EntityTechnology,
	"terraform":     domain.EntityTechnology,
	"postgres":      domain.EntityTechnology,
	"postgresql":    domain.EntityTechnology,
	"pgvector":      domain.EntityTechnology,
	"mysql":         domain.EntityTechnology,
	"sqlite":        domain.EntityTechnology,
	"redis":         domain.EntityTechnology,
	"kafka":         domain.EntityTechnology,
	"rabbitmq":      domain.EntityTechnology,
	"elasticsearch": domain.EntityTechnology,
	"nginx":         domain.EntityTechnology,
	"linux":         domain.EntityTechnology,
	"aws":           domain.EntityTechnology,
	"azure":         domain.EntityTechnology,
	"gcp":           domain.EntityTechnology,
	"chromadb":      domain.EntityTechnology,
	"pinecone":      domain.EntityTechnology,

	// Frameworks and libraries
	"django":     domain.EntityTechnology,
	"flask":      domain.EntityTechnology,
	"fastapi":    domain.EntityTechnology,
	"react":      domain.EntityTechnology,
	"vue":        domain.EntityTechnology,
	"angular":    domain.EntityTechnology,
	"pytorch":    domain.EntityTechnology,
	"tensorflow": domain.EntityTechnology,
	"spark":      domain.EntityTechnology,
	"graphql":    domain.EntityTechnology,
	"grpc":       domain.EntityTechnology,

	// Common locations
	"london":        domain.EntityLocation,
	"paris":         domain.EntityLocation,
	"berlin":        domain.EntityLocation,
	"tokyo":         domain.EntityLocation,
	"new york":      domain.EntityLocation,
	"san francisco": domain.EntityLocation,
	"seattle":       domain.EntityLocation,
	"boston":        domain.EntityLocation,
	"austin":        domain.EntityLocation,
	"singapore":     domain.EntityLocation,
}

// LexiconType returns the entity type for a known term, if any.
func LexiconType(surface string) (domain.EntityType, bool) {
	t, ok := lexicon[normalizeKey(surface)]
	return t, ok
}
