package program

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/forgefit/forgefit/internal/store"
	"github.com/forgefit/forgefit/internal/telemetry/tracing"

	"github.com/coocood/freecache"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
)

var ErrProgramNotFound = errors.New("program not found")

const (
	programCacheSize       = 10 * 1024 * 1024
	programCacheTTLSeconds = 300
)

// Repo reads and writes program definitions. Published programs are
// immutable, so they are cached aggressively.
type Repo struct {
	store store.Store
	cache *freecache.Cache
}

func NewRepo(s store.Store) *Repo {
	return &Repo{
		store: s,
		cache: freecache.NewCache(programCacheSize),
	}
}

func (r *Repo) Get(ctx context.Context, id string) (_ *Program, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.program.get")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("program.id", id))

	if cached, err := r.cache.Get([]byte(id)); err == nil {
		var p Program
		if err := json.Unmarshal(cached, &p); err == nil {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			return &p, nil
		}
	}

	doc, err := r.store.FindByID(ctx, store.CollectionPrograms, id)
	if errors.Is(err, store.ErrDocumentNotFound) {
		return nil, ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find program: %w", err)
	}

	var p Program
	if err := store.Decode(doc, &p); err != nil {
		return nil, fmt.Errorf("decode program: %w", err)
	}

	if p.Published {
		if data, err := json.Marshal(p); err == nil {
			// cache set failures are not interesting, the next Get will just miss
			_ = r.cache.Set([]byte(id), data, programCacheTTLSeconds)
		}
	}

	return &p, nil
}

func (r *Repo) List(ctx context.Context, publishedOnly bool) (_ []Program, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.program.list")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	filter := store.Filter{}
	if publishedOnly {
		filter["published"] = true
	}

	res, err := r.store.Find(ctx, store.CollectionPrograms, filter, store.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("find programs: %w", err)
	}

	programs := make([]Program, 0, len(res.Docs))
	for i := range res.Docs {
		var p Program
		if err := store.Decode(&res.Docs[i], &p); err != nil {
			return nil, fmt.Errorf("decode program %s: %w", res.Docs[i].ID, err)
		}
		programs = append(programs, p)
	}
	return programs, nil
}

func (r *Repo) Add(ctx context.Context, p Program) (_ *Program, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.program.add")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	doc, err := r.store.Create(ctx, store.CollectionPrograms, p.ID, p)
	if err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = doc.CreatedAt
	}

	span.SetAttributes(attribute.String("program.id", p.ID))
	return &p, nil
}

func (r *Repo) Update(ctx context.Context, p Program) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.program.update")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("program.id", p.ID))

	if _, err := r.store.Update(ctx, store.CollectionPrograms, p.ID, p); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return ErrProgramNotFound
		}
		return fmt.Errorf("update program: %w", err)
	}
	r.cache.Del([]byte(p.ID))
	return nil
}

func (r *Repo) Delete(ctx context.Context, id string) (err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.program.delete")
	defer func() {
		tracing.EndSpanWithErrCheck(span, err)
	}()
	span.SetAttributes(attribute.String("program.id", id))

	if _, err := r.store.Delete(ctx, store.CollectionPrograms, id); err != nil {
		if errors.Is(err, store.ErrDocumentNotFound) {
			return ErrProgramNotFound
		}
		return fmt.Errorf("delete program: %w", err)
	}
	r.cache.Del([]byte(id))
	return nil
}
