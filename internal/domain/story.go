// Package domain defines the core domain models for the memory companion.
package domain

import "time"

// SessionStatus represents the lifecycle state of a session.
type SessionStatus string

const (
	SessionStatusActive SessionStatus = "active"
	SessionStatusEnded  SessionStatus = "ended"
)

// MessageRole identifies who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// Session represents one guided conversation with the storyteller.
// Ended is terminal: no messages may be appended and it cannot be ended again.
type Session struct {
	ID           string        `json:"id"`
	StartedAt    time.Time     `json:"startedAt"`
	EndedAt      *time.Time    `json:"endedAt"`
	Summary      *string       `json:"summary"`
	Status       SessionStatus `json:"status"`
	MessageCount int           `json:"messageCount"`
}

// Message is a single utterance within a session. Append-only.
type Message struct {
	ID        string      `json:"id"`
	SessionID string      `json:"sessionId"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
}

// EntityType is the fixed four-way taxonomy for extracted entities.
type EntityType string

const (
	EntityTypePerson EntityType = "person"
	EntityTypeYear   EntityType = "year"
	EntityTypePlace  EntityType = "place"
	EntityTypeEvent  EntityType = "event"
)

// ValidEntityType reports whether t is one of the four known types.
func ValidEntityType(t EntityType) bool {
	switch t {
	case EntityTypePerson, EntityTypeYear, EntityTypePlace, EntityTypeEvent:
		return true
	}
	return false
}

// Entity is a structured fact extracted from a user utterance. At most one
// entity exists per case-insensitive (name, type) pair; later extractions
// merge into the existing record. SourceMessageIDs and SourceSessionIDs are
// parallel arrays and only ever grow.
type Entity struct {
	ID               string     `json:"id"`
	Name             string     `json:"name"`
	Type             EntityType `json:"type"`
	Context          string     `json:"context"`
	Relationship     *string    `json:"relationship"` // person entities only
	Decade           *string    `json:"decade"`       // matches \d{4}s when set
	SourceMessageIDs []string   `json:"sourceMessageIds"`
	SourceSessionIDs []string   `json:"sourceSessionIds"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// CoverageStatus classifies how much material exists for a decade.
type CoverageStatus string

const (
	CoverageEmpty   CoverageStatus = "empty"
	CoverageThin    CoverageStatus = "thin"
	CoverageCovered CoverageStatus = "covered"
)

// DecadeCoverage is derived on demand, never stored.
type DecadeCoverage struct {
	Decade      string         `json:"decade"`
	EntityCount int            `json:"entityCount"`
	Status      CoverageStatus `json:"status"`
}

// Decades is the fixed ordered set of decades the gap analyzer covers.
var Decades = []string{
	"1930s", "1940s", "1950s", "1960s", "1970s",
	"1980s", "1990s", "2000s", "2010s", "2020s",
}
