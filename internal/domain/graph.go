package domain

import (
	"regexp"
	"time"

	"github.com/google/uuid"
)

type EntityType string

const (
	EntityPerson       EntityType = "PERSON"
	EntityOrganization EntityType = "ORGANIZATION"
	EntityTechnology   EntityType = "TECHNOLOGY"
	EntityLocation     EntityType = "LOCATION"
	EntityConcept      EntityType = "CONCEPT"
	EntityEvent        EntityType = "EVENT"
	EntityProduct      EntityType = "PRODUCT"
	EntityOther        EntityType = "OTHER"
)

func ValidEntityType(t string) bool {
	switch EntityType(t) {
	case EntityPerson, EntityOrganization, EntityTechnology, EntityLocation,
		EntityConcept, EntityEvent, EntityProduct, EntityOther:
		return true
	}
	return false
}

type RelationshipType string

// Relationship types form an open enum; these are the ones the rule table
// emits. Unknown co-occurrences default to RelatesTo.
const (
	RelWorksFor  RelationshipType = "WORKS_FOR"
	RelUses      RelationshipType = "USES"
	RelPartOf    RelationshipType = "PART_OF"
	RelMentions  RelationshipType = "MENTIONS"
	RelRelatesTo RelationshipType = "RELATES_TO"
	RelCausedBy  RelationshipType = "CAUSED_BY"
	RelLocatedIn RelationshipType = "LOCATED_IN"
)

// GraphNode is an entity extracted from one or more memories.
// (EntityType, NormalizedName) is unique across nodes.
type GraphNode struct {
	ID              uuid.UUID  `json:"id"`
	EntityType      EntityType `json:"entity_type"`
	EntityName      string     `json:"entity_name"`
	NormalizedName  string     `json:"-"`
	ImportanceScore float64    `json:"importance_score"`
	MentionCount    int        `json:"mention_count"`
	FirstSeen       time.Time  `json:"first_seen"`
	LastSeen        time.Time  `json:"last_seen"`
}

// GraphRelationship is a directed edge; (FromID, ToID, Type) is unique.
type GraphRelationship struct {
	ID              uuid.UUID        `json:"id"`
	FromID          uuid.UUID        `json:"from_id"`
	ToID            uuid.UUID        `json:"to_id"`
	Type            RelationshipType `json:"relationship_type"`
	Strength        float64          `json:"strength"`
	Confidence      float64          `json:"confidence"`
	OccurrenceCount int              `json:"occurrence_count"`
	FirstSeen       time.Time        `json:"first_seen"`
	LastSeen        time.Time        `json:"last_seen"`
}

// Mention is one occurrence of an entity inside a memory at a character span.
type Mention struct {
	EntityType EntityType `json:"entity_type"`
	Surface    string     `json:"surface"`
	CharStart  int        `json:"char_start"`
	CharEnd    int        `json:"char_end"`
	Confidence float64    `json:"confidence"`
}

// Subgraph is the result of an explore query.
type Subgraph struct {
	Root          *GraphNode          `json:"root"`
	Nodes         []GraphNode         `json:"nodes"`
	Relationships []GraphRelationship `json:"relationships"`
}

// GraphPath is an ordered walk between two nodes.
type GraphPath struct {
	Nodes []GraphNode         `json:"nodes"`
	Edges []GraphRelationship `json:"edges"`
	Cost  float64             `json:"cost"`
}

// MemoryInsights lists the entities mentioned in one memory and the
// strongest edges among them.
type MemoryInsights struct {
	MemoryID      uuid.UUID           `json:"memory_id"`
	Entities      []GraphNode         `json:"entities"`
	Relationships []GraphRelationship `json:"relationships"`
}

type GraphStats struct {
	NodeCount  int64                      `json:"node_count"`
	EdgeCount  int64                      `json:"edge_count"`
	NodeTypes  map[EntityType]int64       `json:"node_types"`
	EdgeTypes  map[RelationshipType]int64 `json:"edge_types"`
	MeanDegree float64                    `json:"mean_degree"`
	Healthy    bool                       `json:"healthy"`
}

// BatchExtraction is what the external batch extractor returns per memory.
type BatchExtraction struct {
	MemoryID      uuid.UUID
	Mentions      []Mention
	Relationships []ExtractedRelationship
}

// ExtractedRelationship names both endpoints by surface form; the graph
// provider resolves them to nodes through normalization.
type ExtractedRelationship struct {
	FromSurface string
	ToSurface   string
	Type        RelationshipType
	Confidence  float64
}

// MaxTraversalDepth bounds explore and path queries.
const MaxTraversalDepth = 5

var entityNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9 \-]{0,254}$`)

// ValidEntityName reports whether a caller-supplied entity name is safe to
// use in a graph query: alphanumerics, dashes and spaces, length 1-255.
func ValidEntityName(name string) bool {
	return entityNamePattern.MatchString(name)
}
