package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/forgefit/forgefit/internal/store"
	"github.com/forgefit/forgefit/internal/telemetry/tracing"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Manager writes and reads the append-only audit trail. Entries are never
// mutated after creation; the only deletion path is retention cleanup.
type Manager struct {
	store    store.Store
	resolver UserResolver
}

func NewManager(st store.Store, resolver UserResolver) *Manager {
	return &Manager{
		store:    st,
		resolver: resolver,
	}
}

// CreateEntryParams is everything a caller may attach to a new entry.
// Status defaults to success.
type CreateEntryParams struct {
	Action      Action
	EntityType  string
	EntityID    string
	ProgramID   string
	Before      map[string]any
	After       map[string]any
	Metadata    Metadata
	Context     string
	Status      Status
	Error       string
	Warnings    []string
	Performance *Performance
}

// CreateEntry persists a new audit entry for the current user. Fails closed:
// without a resolvable user it records nothing and returns nil.
func (m *Manager) CreateEntry(ctx context.Context, params CreateEntryParams) (*Entry, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "audit.createEntry")
	defer span.End()

	userID := m.resolver.CurrentUser(ctx)
	if userID == "" {
		log.Warnf("audit entry for action %s dropped, no current user", params.Action)
		return nil, nil
	}

	status := params.Status
	if status == "" {
		status = StatusSuccess
	}

	entry := Entry{
		ID:          uuid.NewString(),
		Timestamp:   time.Now(),
		UserID:      userID,
		ProgramID:   params.ProgramID,
		Action:      params.Action,
		EntityType:  params.EntityType,
		EntityID:    params.EntityID,
		Metadata:    params.Metadata,
		Context:     params.Context,
		Status:      status,
		Error:       params.Error,
		Warnings:    params.Warnings,
		Performance: params.Performance,
	}
	if params.Before != nil || params.After != nil {
		entry.Changes = &Changes{
			Before: params.Before,
			After:  params.After,
			Diff:   diffFields(params.Before, params.After),
		}
	}

	if _, err := m.store.Create(ctx, store.CollectionAuditEntries, entry.ID, entry); err != nil {
		return nil, fmt.Errorf("create audit entry: %w", err)
	}
	return &entry, nil
}

// diffFields records every key present in either snapshot whose values
// differ, as {from, to}.
func diffFields(before, after map[string]any) map[string]FieldChange {
	diff := map[string]FieldChange{}
	seen := map[string]struct{}{}
	for k := range before {
		seen[k] = struct{}{}
	}
	for k := range after {
		seen[k] = struct{}{}
	}
	for k := range seen {
		b, a := before[k], after[k]
		bJson, _ := json.Marshal(b)
		aJson, _ := json.Marshal(a)
		if !bytes.Equal(bJson, aJson) {
			diff[k] = FieldChange{From: b, To: a}
		}
	}
	if len(diff) == 0 {
		return nil
	}
	return diff
}

// QueryEntries returns entries matching the query, newest first. User,
// program and time range are store-native; the remaining predicates are
// applied in memory since the store cannot express them.
func (m *Manager) QueryEntries(ctx context.Context, q Query) ([]Entry, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "audit.queryEntries")
	defer span.End()

	filter := store.Filter{}
	if q.UserID != "" {
		filter["userId"] = q.UserID
	}
	if q.ProgramID != "" {
		filter["programId"] = q.ProgramID
	}

	res, err := m.store.Find(ctx, store.CollectionAuditEntries, filter, store.FindOptions{
		Limit:     q.Limit,
		Page:      q.Page,
		SortField: "timestamp",
		SortDesc:  true,
		TimeField: "timestamp",
		From:      q.From,
		To:        q.To,
	})
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}

	entries := make([]Entry, 0, len(res.Docs))
	for i := range res.Docs {
		var entry Entry
		if err := store.Decode(&res.Docs[i], &entry); err != nil {
			return nil, fmt.Errorf("decode audit entry %s: %w", res.Docs[i].ID, err)
		}
		if !matchesInMemory(entry, q) {
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func matchesInMemory(entry Entry, q Query) bool {
	if q.Action != "" && entry.Action != q.Action {
		return false
	}
	if q.EntityType != "" && entry.EntityType != q.EntityType {
		return false
	}
	if q.Status != "" && entry.Status != q.Status {
		return false
	}
	if q.Source != "" {
		source, _ := entry.Metadata["source"].(string)
		if source != q.Source {
			return false
		}
	}
	return true
}

// GetStats aggregates the matching entries: action/status/source counts,
// error and warning rates, top-10 users, performance averages.
func (m *Manager) GetStats(ctx context.Context, q Query) (*Stats, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "audit.getStats")
	defer span.End()

	entries, err := m.QueryEntries(ctx, q)
	if err != nil {
		return nil, err
	}

	stats := &Stats{
		TotalEntries: len(entries),
		ByAction:     map[Action]int{},
		ByStatus:     map[Status]int{},
		BySource:     map[string]int{},
	}

	perUser := map[string]int{}
	errored := 0
	warned := 0
	var durationSum int64
	for _, entry := range entries {
		stats.ByAction[entry.Action]++
		stats.ByStatus[entry.Status]++
		if source, ok := entry.Metadata["source"].(string); ok && source != "" {
			stats.BySource[source]++
		}
		perUser[entry.UserID]++
		if entry.Status == StatusError {
			errored++
		}
		if entry.Status == StatusWarning || len(entry.Warnings) > 0 {
			warned++
		}
		if entry.Performance != nil {
			stats.EntriesWithPerf++
			durationSum += entry.Performance.DurationMillis
		}
	}

	if len(entries) > 0 {
		stats.ErrorRatePercent = math.Round(float64(errored)/float64(len(entries))*10000) / 100
		stats.WarningRatePercent = math.Round(float64(warned)/float64(len(entries))*10000) / 100
	}
	if stats.EntriesWithPerf > 0 {
		stats.AvgDurationMillis = float64(durationSum) / float64(stats.EntriesWithPerf)
	}

	for userID, count := range perUser {
		stats.TopUsers = append(stats.TopUsers, UserEntryCount{UserID: userID, Entries: count})
	}
	sort.Slice(stats.TopUsers, func(i, j int) bool {
		if stats.TopUsers[i].Entries != stats.TopUsers[j].Entries {
			return stats.TopUsers[i].Entries > stats.TopUsers[j].Entries
		}
		return stats.TopUsers[i].UserID < stats.TopUsers[j].UserID
	})
	if len(stats.TopUsers) > 10 {
		stats.TopUsers = stats.TopUsers[:10]
	}

	return stats, nil
}

type ExportFormat string

const (
	ExportJSON ExportFormat = "json"
	ExportCSV  ExportFormat = "csv"
)

// Export serializes the matching entries and logs the export itself as a
// data_export entry.
func (m *Manager) Export(ctx context.Context, q Query, format ExportFormat) ([]byte, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "audit.export")
	defer span.End()

	entries, err := m.QueryEntries(ctx, q)
	if err != nil {
		return nil, err
	}

	var data []byte
	switch format {
	case ExportJSON:
		data, err = json.Marshal(entries)
		if err != nil {
			return nil, fmt.Errorf("marshal audit export: %w", err)
		}
	case ExportCSV:
		data, err = entriesToCSV(entries)
		if err != nil {
			return nil, fmt.Errorf("audit export to csv: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown export format %q", format)
	}

	if _, err := m.CreateEntry(ctx, CreateEntryParams{
		Action:     ActionDataExport,
		EntityType: "audit_trail",
		Metadata: Metadata{
			"source":        "audit_export",
			"format":        string(format),
			"exportedCount": len(entries),
		},
	}); err != nil {
		log.Errorf("log audit export: %s", err)
	}

	return data, nil
}

func entriesToCSV(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "timestamp", "userId", "programId", "action", "entityType", "entityId", "status", "error"}
	if err := w.Write(header); err != nil {
		return nil, err
	}
	for _, entry := range entries {
		row := []string{
			entry.ID,
			entry.Timestamp.Format(time.RFC3339),
			entry.UserID,
			entry.ProgramID,
			string(entry.Action),
			entry.EntityType,
			entry.EntityID,
			string(entry.Status),
			entry.Error,
		}
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Cleanup deletes entries older than the retention window, returning the
// purge count and logging a system_maintenance entry with the summary.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) (int, error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "audit.cleanup")
	defer span.End()

	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}

	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	entries, err := m.QueryEntries(ctx, Query{To: &cutoff})
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		if _, err := m.store.Delete(ctx, store.CollectionAuditEntries, entry.ID); err != nil {
			log.Errorf("cleanup audit entry %s: %s", entry.ID, err)
			continue
		}
		deleted++
	}

	if _, err := m.CreateEntry(ctx, CreateEntryParams{
		Action:     ActionSystemMaintenance,
		EntityType: "audit_trail",
		Metadata: Metadata{
			"source":        "audit_cleanup",
			"retentionDays": retentionDays,
			"cutoff":        cutoff.Format(time.RFC3339),
			"deletedCount":  deleted,
		},
	}); err != nil {
		log.Errorf("log audit cleanup: %s", err)
	}

	log.Debugf("audit cleanup done, %d entries removed", deleted)
	return deleted, nil
}
