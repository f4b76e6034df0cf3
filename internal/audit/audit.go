package audit

import (
	"context"
	"time"
)

type Action string

const (
	ActionProgressUpdate    Action = "progress_update"
	ActionProgressRepair    Action = "progress_repair"
	ActionExerciseComplete  Action = "exercise_complete"
	ActionDayComplete       Action = "day_complete"
	ActionSessionStart      Action = "session_start"
	ActionSessionEnd        Action = "session_end"
	ActionDataExport        Action = "data_export"
	ActionSystemMaintenance Action = "system_maintenance"
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
	StatusWarning Status = "warning"
)

// FieldChange is one diffed field, recorded as its old and new value.
type FieldChange struct {
	From any `json:"from"`
	To   any `json:"to"`
}

// Changes carries the before/after snapshots of a mutation plus the
// computed per-field diff.
type Changes struct {
	Before map[string]any         `json:"before,omitempty"`
	After  map[string]any         `json:"after,omitempty"`
	Diff   map[string]FieldChange `json:"diff,omitempty"`
}

// Metadata is free-form context attached by the caller: source system,
// related entity ids, request details.
type Metadata map[string]any

// Performance holds optional timing info reported by the caller.
type Performance struct {
	DurationMillis  int64 `json:"durationMillis"`
	StoreCallCount  int   `json:"storeCallCount,omitempty"`
	ValidationScore int   `json:"validationScore,omitempty"`
}

// Entry is one append-only audit record. UserID and ProgramID sit at the
// top level so the store can filter on them natively.
type Entry struct {
	ID          string       `json:"id"`
	Timestamp   time.Time    `json:"timestamp"`
	UserID      string       `json:"userId"`
	ProgramID   string       `json:"programId,omitempty"`
	Action      Action       `json:"action"`
	EntityType  string       `json:"entityType"`
	EntityID    string       `json:"entityId,omitempty"`
	Changes     *Changes     `json:"changes,omitempty"`
	Metadata    Metadata     `json:"metadata,omitempty"`
	Context     string       `json:"context,omitempty"`
	Status      Status       `json:"status"`
	Error       string       `json:"error,omitempty"`
	Warnings    []string     `json:"warnings,omitempty"`
	Performance *Performance `json:"performance,omitempty"`
}

// UserResolver yields the authenticated user for the request, or empty when
// there is none. Entry creation fails closed without a user.
type UserResolver interface {
	CurrentUser(ctx context.Context) string
}

// UserResolverFunc adapts a plain function to the UserResolver interface.
type UserResolverFunc func(ctx context.Context) string

func (f UserResolverFunc) CurrentUser(ctx context.Context) string {
	return f(ctx)
}

// Query filters audit entries. User, program and the time range are pushed
// down to the store; action, entity type, status and source are applied
// in memory after retrieval.
type Query struct {
	UserID     string     `json:"userId,omitempty"`
	ProgramID  string     `json:"programId,omitempty"`
	From       *time.Time `json:"from,omitempty"`
	To         *time.Time `json:"to,omitempty"`
	Action     Action     `json:"action,omitempty"`
	EntityType string     `json:"entityType,omitempty"`
	Status     Status     `json:"status,omitempty"`
	Source     string     `json:"source,omitempty"`
	Limit      int        `json:"limit,omitempty"`
	Page       int        `json:"page,omitempty"`
}

type UserEntryCount struct {
	UserID  string `json:"userId"`
	Entries int    `json:"entries"`
}

// Stats aggregates over the matching entries.
type Stats struct {
	TotalEntries       int              `json:"totalEntries"`
	ByAction           map[Action]int   `json:"byAction"`
	ByStatus           map[Status]int   `json:"byStatus"`
	BySource           map[string]int   `json:"bySource"`
	ErrorRatePercent   float64          `json:"errorRatePercent"`
	WarningRatePercent float64          `json:"warningRatePercent"`
	TopUsers           []UserEntryCount `json:"topUsers"`
	AvgDurationMillis  float64          `json:"avgDurationMillis"`
	EntriesWithPerf    int              `json:"entriesWithPerf"`
}
