package archive

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// EntityType names an archivable entity kind.
type EntityType string

const (
	EntityCompany     EntityType = "company"
	EntityFacility    EntityType = "facility"
	EntityApplication EntityType = "application"
	EntitySubmission  EntityType = "submission"
)

// Rank orders entity types parent-first: company, facility, application,
// submission. Unknown types rank last.
func (t EntityType) Rank() int {
	switch t {
	case EntityCompany:
		return 0
	case EntityFacility:
		return 1
	case EntityApplication:
		return 2
	case EntitySubmission:
		return 3
	}
	return 4
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	return t.Rank() < 4
}

// Ref points at one entity.
type Ref struct {
	Type EntityType `json:"type"`
	ID   int64      `json:"id"`
}

func (r Ref) String() string {
	return string(r.Type) + ":" + strconv.FormatInt(r.ID, 10)
}

// ParseRef parses the "type:id" form produced by Ref.String.
func ParseRef(raw string) (Ref, error) {
	kind, id, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Ref{}, fmt.Errorf("invalid entity reference %q", raw)
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil || n <= 0 {
		return Ref{}, fmt.Errorf("invalid entity id in %q", raw)
	}
	ref := Ref{Type: EntityType(strings.ToLower(kind)), ID: n}
	if !ref.Type.Valid() {
		return Ref{}, fmt.Errorf("unknown entity type %q", kind)
	}
	return ref, nil
}

// Record is a soft-deletion marker. An entity has at most one record with
// RestoredAt unset.
type Record struct {
	ID         string     `db:"id" json:"id"`
	EntityType EntityType `db:"entity_type" json:"entity_type"`
	EntityID   int64      `db:"entity_id" json:"entity_id"`
	Reason     string     `db:"reason" json:"reason"`
	Actor      string     `db:"actor" json:"actor"`
	ArchivedAt time.Time  `db:"archived_at" json:"archived_at"`
	RestoredAt *time.Time `db:"restored_at" json:"restored_at,omitempty"`
}

// Ref returns the entity the record archives.
func (r Record) Ref() Ref {
	return Ref{Type: r.EntityType, ID: r.EntityID}
}

// Open reports whether the record has not been restored.
func (r Record) Open() bool {
	return r.RestoredAt == nil
}

// Problem classifies a dangling reference.
type Problem string

const (
	ProblemArchived Problem = "archived"
	ProblemMissing  Problem = "missing"
)

// Issue is a live entity whose reference points at an archived or missing
// row.
type Issue struct {
	Entity     Ref     `json:"entity"`
	References Ref     `json:"references"`
	Problem    Problem `json:"problem"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s -> %s (%s)", i.Entity, i.References, i.Problem)
}
