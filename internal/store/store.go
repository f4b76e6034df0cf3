package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrDocumentNotFound = errors.New("document not found")
	ErrDocumentExists   = errors.New("document already exists")
)

// Collection names used across the service.
const (
	CollectionPrograms            = "programs"
	CollectionUserProgress        = "user_progress"
	CollectionExerciseCompletions = "exercise_completions"
	CollectionAuditEntries        = "audit_entries"
)

// Document is a single record in a collection. Data holds the raw JSON
// payload; callers marshal/unmarshal their typed DTOs at this boundary.
type Document struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Filter matches documents whose JSON payload contains all given
// top-level field values (equality only).
type Filter map[string]any

// FindOptions control pagination, sorting and time-range filtering.
// TimeField names a JSON field (RFC 3339 timestamp) that From/To apply to.
type FindOptions struct {
	Limit     int
	Page      int
	SortField string
	SortDesc  bool
	TimeField string
	From      *time.Time
	To        *time.Time
}

type FindResult struct {
	Docs        []Document `json:"docs"`
	TotalDocs   int        `json:"totalDocs"`
	HasNextPage bool       `json:"hasNextPage"`
}

// Store is the document persistence layer. All mutating progress writes go
// through it, either directly or via the transaction manager.
type Store interface {
	Find(ctx context.Context, collection string, filter Filter, opts FindOptions) (*FindResult, error)
	FindByID(ctx context.Context, collection, id string) (*Document, error)
	Create(ctx context.Context, collection, id string, data any) (*Document, error)
	Update(ctx context.Context, collection, id string, data any) (*Document, error)
	Delete(ctx context.Context, collection, id string) (*Document, error)
}

// Decode unmarshals a document payload into the given DTO.
func Decode(doc *Document, out any) error {
	if doc == nil {
		return ErrDocumentNotFound
	}
	return json.Unmarshal(doc.Data, out)
}
