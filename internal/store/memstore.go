package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// compile time check - ensure that MemStore implements Store
var _ Store = (*MemStore)(nil)

// MemStore is a mutex-guarded in-memory Store, used in unit tests and for
// running the service without postgres.
type MemStore struct {
	mutex       sync.Mutex
	collections map[string]map[string]Document

	// FailNext, when set, makes the next matching operation fail with the
	// given error. Used to exercise transaction rollback paths in tests.
	FailNext map[string]error
}

func NewMemStore() *MemStore {
	return &MemStore{
		collections: map[string]map[string]Document{},
		FailNext:    map[string]error{},
	}
}

func (s *MemStore) failureFor(op, collection string) error {
	key := op + ":" + collection
	if err, ok := s.FailNext[key]; ok {
		delete(s.FailNext, key)
		return err
	}
	return nil
}

func (s *MemStore) Find(_ context.Context, collection string, filter Filter, opts FindOptions) (*FindResult, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.failureFor("find", collection); err != nil {
		return nil, err
	}

	timeField := opts.TimeField
	if timeField == "" {
		timeField = "timestamp"
	}

	var matched []Document
	for _, doc := range s.collections[collection] {
		fields := map[string]any{}
		if err := json.Unmarshal(doc.Data, &fields); err != nil {
			return nil, fmt.Errorf("unmarshal document %s: %w", doc.ID, err)
		}
		if !matchesFilter(fields, filter) {
			continue
		}
		if opts.From != nil || opts.To != nil {
			ts, ok := fieldTime(fields, timeField)
			if !ok {
				continue
			}
			if opts.From != nil && ts.Before(*opts.From) {
				continue
			}
			if opts.To != nil && ts.After(*opts.To) {
				continue
			}
		}
		matched = append(matched, doc)
	}

	sort.Slice(matched, func(i, j int) bool {
		less := matched[i].CreatedAt.Before(matched[j].CreatedAt)
		if opts.SortDesc {
			return !less
		}
		return less
	})

	total := len(matched)
	limit := opts.Limit
	if limit <= 0 {
		limit = total
	}
	offset := 0
	if opts.Page > 1 {
		offset = (opts.Page - 1) * limit
	}
	if offset > total {
		offset = total
	}
	end := offset + limit
	if end > total {
		end = total
	}
	page := matched[offset:end]
	if page == nil {
		page = make([]Document, 0)
	}

	return &FindResult{
		Docs:        page,
		TotalDocs:   total,
		HasNextPage: end < total,
	}, nil
}

func (s *MemStore) FindByID(_ context.Context, collection, id string) (*Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.failureFor("findByID", collection); err != nil {
		return nil, err
	}

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *MemStore) Create(_ context.Context, collection, id string, data any) (*Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.failureFor("create", collection); err != nil {
		return nil, err
	}

	if id == "" {
		id = uuid.NewString()
	}
	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal document data: %w", err)
	}

	if s.collections[collection] == nil {
		s.collections[collection] = map[string]Document{}
	}
	if _, ok := s.collections[collection][id]; ok {
		return nil, ErrDocumentExists
	}

	now := time.Now()
	doc := Document{ID: id, Data: payload, CreatedAt: now, UpdatedAt: now}
	s.collections[collection][id] = doc
	return &doc, nil
}

func (s *MemStore) Update(_ context.Context, collection, id string, data any) (*Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.failureFor("update", collection); err != nil {
		return nil, err
	}

	existing, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrDocumentNotFound
	}

	payload, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal document data: %w", err)
	}

	existing.Data = payload
	existing.UpdatedAt = time.Now()
	s.collections[collection][id] = existing
	return &existing, nil
}

func (s *MemStore) Delete(_ context.Context, collection, id string) (*Document, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if err := s.failureFor("delete", collection); err != nil {
		return nil, err
	}

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	delete(s.collections[collection], id)
	return &doc, nil
}

func matchesFilter(fields map[string]any, filter Filter) bool {
	for k, want := range filter {
		got, ok := fields[k]
		if !ok {
			return false
		}
		// normalize through JSON so that e.g. int and float64 compare equal
		wantJson, err1 := json.Marshal(want)
		gotJson, err2 := json.Marshal(got)
		if err1 != nil || err2 != nil || string(wantJson) != string(gotJson) {
			return false
		}
	}
	return true
}

func fieldTime(fields map[string]any, field string) (time.Time, bool) {
	raw, ok := fields[field].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		ts, err = time.Parse(time.RFC3339Nano, raw)
	}
	return ts, err == nil
}
