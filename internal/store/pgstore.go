package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/forgefit/forgefit/internal/telemetry/tracing"
	"github.com/forgefit/forgefit/pkg"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
)

// compile time check - ensure that PgStore implements Store
var _ Store = (*PgStore)(nil)

// PgStore keeps all collections in a single "documents" table with a JSONB
// payload column. Equality filters use JSONB containment, so any top-level
// field of the payload is queryable without schema changes.
type PgStore struct {
	db *pgxpool.Pool
}

func NewPgStore(db *pgxpool.Pool) *PgStore {
	return &PgStore{db: db}
}

func (s *PgStore) Find(ctx context.Context, collection string, filter Filter, opts FindOptions) (_ *FindResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.pg.find")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("collection", collection))

	filterJson, err := json.Marshal(filter)
	if err != nil {
		return nil, fmt.Errorf("marshal filter: %w", err)
	}

	timeField := opts.TimeField
	if timeField == "" {
		timeField = "timestamp"
	}

	whereClause := `
		WHERE collection = $1
		AND ($2::jsonb IS NULL OR data @> $2)
		AND ($3::timestamptz IS NULL OR (data->>$5)::timestamptz >= $3)
		AND ($4::timestamptz IS NULL OR (data->>$5)::timestamptz <= $4)`

	var total int
	if err := s.db.QueryRow(
		ctx,
		`SELECT COUNT(*) FROM documents`+whereClause,
		collection, filterJson, opts.From, opts.To, timeField,
	).Scan(&total); err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	direction := "ASC"
	if opts.SortDesc {
		direction = "DESC"
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = total
	}
	offset := 0
	if opts.Page > 1 {
		offset = (opts.Page - 1) * limit
	}

	// the sort field is caller input, it enters the query as a bind
	// parameter, never as SQL text
	orderBy, bindSortField := pgSortExpression(opts.SortField)
	args := []any{collection, filterJson, opts.From, opts.To, timeField, limit, offset}
	if bindSortField {
		args = append(args, opts.SortField)
	}

	rows, err := s.db.Query(
		ctx,
		fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM documents%s ORDER BY %s %s LIMIT $6 OFFSET $7`,
			whereClause, orderBy, direction),
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	docs, err := rows2documents(rows)
	if err != nil {
		return nil, err
	}

	return &FindResult{
		Docs:        docs,
		TotalDocs:   total,
		HasNextPage: offset+len(docs) < total,
	}, nil
}

func (s *PgStore) FindByID(ctx context.Context, collection, id string) (_ *Document, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.pg.findByID")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("collection", collection))
	span.SetAttributes(attribute.String("id", id))

	var doc Document
	err = s.db.QueryRow(
		ctx,
		`SELECT id, data, created_at, updated_at FROM documents WHERE collection = $1 AND id = $2`,
		collection, id,
	).Scan(&doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	return &doc, nil
}

func (s *PgStore) Create(ctx context.Context, collection, id string, data any) (_ *Document, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.pg.create")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("collection", collection))

	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal document data: %w", err)
	}

	now := time.Now()
	if _, err := s.db.Exec(
		ctx,
		`INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		collection, id, payload, now,
	); err != nil {
		if pkg.IsUniqueViolationError(err) {
			return nil, ErrDocumentExists
		}
		return nil, fmt.Errorf("insert document: %w", err)
	}

	span.SetAttributes(attribute.String("id", id))
	return &Document{ID: id, Data: payload, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *PgStore) Update(ctx context.Context, collection, id string, data any) (_ *Document, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.pg.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("collection", collection))
	span.SetAttributes(attribute.String("id", id))

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal document data: %w", err)
	}

	var doc Document
	err = s.db.QueryRow(
		ctx,
		`UPDATE documents SET data = $3, updated_at = $4 WHERE collection = $1 AND id = $2
			RETURNING id, data, created_at, updated_at`,
		collection, id, payload, time.Now(),
	).Scan(&doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update document: %w", err)
	}
	return &doc, nil
}

func (s *PgStore) Delete(ctx context.Context, collection, id string) (_ *Document, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "store.pg.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("collection", collection))
	span.SetAttributes(attribute.String("id", id))

	var doc Document
	err = s.db.QueryRow(
		ctx,
		`DELETE FROM documents WHERE collection = $1 AND id = $2
			RETURNING id, data, created_at, updated_at`,
		collection, id,
	).Scan(&doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDocumentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("delete document: %w", err)
	}
	return &doc, nil
}

// pgSortExpression maps a sort field to the ORDER BY expression. An empty
// field sorts by creation time; anything else sorts by that JSON field,
// bound as the 8th query parameter.
func pgSortExpression(sortField string) (expr string, bindSortField bool) {
	if sortField == "" {
		return "created_at", false
	}
	return "data->>$8", true
}

func rows2documents(rows pgx.Rows) ([]Document, error) {
	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if docs == nil {
		docs = make([]Document, 0)
	}
	return docs, rows.Err()
}
