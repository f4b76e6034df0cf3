package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgefit/forgefit/internal/audit"
	"github.com/forgefit/forgefit/internal/program"
	"github.com/forgefit/forgefit/internal/progression"
	"github.com/forgefit/forgefit/internal/store"
	"github.com/forgefit/forgefit/internal/telemetry/tracing"
	"github.com/forgefit/forgefit/internal/transaction"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyEnrolled    = errors.New("user already has a progress record")
	ErrValidationRejected = errors.New("progress update rejected by validation")
	ErrCommitFailed       = errors.New("progress update transaction failed")
)

type programRepo interface {
	Get(ctx context.Context, id string) (*program.Program, error)
}

// Service is the server-side progress update flow: validate, commit through
// a transaction, audit the outcome, return derived metrics.
type Service struct {
	store           store.Store
	programs        programRepo
	progressRepo    *Repo
	completionsRepo *CompletionsRepo
	validator       *Validator
	auditor         *audit.Manager
}

func NewService(
	st store.Store,
	programs programRepo,
	progressRepo *Repo,
	completionsRepo *CompletionsRepo,
	validator *Validator,
	auditor *audit.Manager,
) *Service {
	return &Service{
		store:           st,
		programs:        programs,
		progressRepo:    progressRepo,
		completionsRepo: completionsRepo,
		validator:       validator,
		auditor:         auditor,
	}
}

// Enroll creates the initial progress record at the first day of the first
// milestone.
func (s *Service) Enroll(ctx context.Context, userID, programID string) (up *UserProgress, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.enroll")
	defer tracing.EndSpanWithErrCheck(span, err)

	if _, err := s.programs.Get(ctx, programID); err != nil {
		return nil, fmt.Errorf("get program: %w", err)
	}
	if existing, err := s.progressRepo.GetByUser(ctx, userID); err == nil && existing != nil {
		return nil, ErrAlreadyEnrolled
	} else if err != nil && !errors.Is(err, ErrProgressNotFound) {
		return nil, fmt.Errorf("check existing progress: %w", err)
	}

	up = &UserProgress{
		ID:        uuid.NewString(),
		UserID:    userID,
		ProgramID: programID,
	}

	tx := transaction.New(s.store, userID)
	tx.AddCreate(store.CollectionUserProgress, up.ID, up)
	if res := tx.Commit(ctx); !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrCommitFailed, res.Error)
	}

	s.auditEntry(ctx, audit.CreateEntryParams{
		Action:     audit.ActionProgressUpdate,
		EntityType: "user_progress",
		EntityID:   up.ID,
		ProgramID:  programID,
		After:      progressFields(up),
		Context:    "program enrollment",
		Metadata:   audit.Metadata{"source": "progress_service"},
	})
	return up, nil
}

// Overview is a progress read bundled with everything derived from it.
type Overview struct {
	Progress          *UserProgress             `json:"progress"`
	ProgramProgress   program.ProgramProgress   `json:"programProgress"`
	MilestoneProgress program.MilestoneProgress `json:"milestoneProgress"`
	Analytics         program.Analytics         `json:"analytics"`
	Consistency       program.ConsistencyResult `json:"consistency"`
}

// Get returns the stored progress with derived metrics and a consistency
// verdict against the current program shape.
func (s *Service) Get(ctx context.Context, userID string) (overview *Overview, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.get")
	defer tracing.EndSpanWithErrCheck(span, err)

	up, err := s.progressRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.programs.Get(ctx, up.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("get program %s: %w", up.ProgramID, err)
	}

	pos := up.Position()
	return &Overview{
		Progress:          up,
		ProgramProgress:   program.ProgramProgressAt(p, pos),
		MilestoneProgress: program.MilestoneProgressAt(p, pos),
		Analytics:         program.AnalyticsAt(p, pos, nil),
		Consistency:       program.ValidateConsistency(p, pos),
	}, nil
}

// UpdateResult carries the validation verdict alongside the committed state.
// On rejection Progress holds the unchanged stored record.
type UpdateResult struct {
	Progress   *UserProgress    `json:"progress"`
	Validation ValidationResult `json:"validation"`
	Committed  bool             `json:"committed"`
}

// Update is the main flow: run the full validation pipeline against the
// proposed update, commit it transactionally when valid, audit either way.
// expected is the snapshot the caller based the update on; nil means the
// caller wants no conflict detection and the stored record is used.
func (s *Service) Update(ctx context.Context, userID string, expected *UserProgress, proposed ProposedUpdate) (res *UpdateResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.update")
	defer tracing.EndSpanWithErrCheck(span, err)
	started := time.Now()

	p, err := s.programs.Get(ctx, proposed.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("get program %s: %w", proposed.ProgramID, err)
	}
	stored, err := s.progressRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if expected == nil {
		expected = stored
	}

	validation := s.validator.Validate(ctx, &ValidationContext{
		UserID:   userID,
		Program:  p,
		Existing: expected,
		Proposed: proposed,
	})

	if !validation.IsValid {
		s.auditUpdate(ctx, stored, nil, proposed, validation, started, audit.StatusError, "update rejected")
		return &UpdateResult{Progress: stored, Validation: validation}, nil
	}

	updated := applyProposed(stored, proposed)
	tx := transaction.New(s.store, userID)
	tx.AddUpdate(store.CollectionUserProgress, stored.ID, updated, nil)
	if txRes := tx.Commit(ctx); !txRes.Success {
		s.auditUpdate(ctx, stored, nil, proposed, validation, started, audit.StatusError, txRes.Error)
		return nil, fmt.Errorf("%w: %s", ErrCommitFailed, txRes.Error)
	}

	status := audit.StatusSuccess
	if len(validation.Warnings) > 0 {
		status = audit.StatusWarning
	}
	s.auditUpdate(ctx, stored, updated, proposed, validation, started, status, "")

	return &UpdateResult{Progress: updated, Validation: validation, Committed: true}, nil
}

func applyProposed(stored *UserProgress, proposed ProposedUpdate) *UserProgress {
	updated := *stored
	if proposed.CurrentMilestone != nil {
		updated.CurrentMilestone = *proposed.CurrentMilestone
	}
	if proposed.CurrentDay != nil {
		updated.CurrentDay = *proposed.CurrentDay
	}
	if proposed.TotalWorkoutsCompleted != nil {
		updated.TotalWorkoutsCompleted = *proposed.TotalWorkoutsCompleted
	}
	if proposed.LastWorkoutDate != nil {
		date := *proposed.LastWorkoutDate
		updated.LastWorkoutDate = &date
	}
	return &updated
}

// CompleteExerciseParams identifies one exercise completion event.
type CompleteExerciseParams struct {
	ProgramID  string `json:"programId"`
	ExerciseID string `json:"exerciseId"`
	Milestone  int    `json:"milestone"`
	Day        int    `json:"day"`
	Round      int    `json:"round,omitempty"`
}

// CompleteExercise persists one completion record.
func (s *Service) CompleteExercise(ctx context.Context, userID string, params CompleteExerciseParams) (completion *ExerciseCompletion, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.completeExercise")
	defer tracing.EndSpanWithErrCheck(span, err)

	completion = &ExerciseCompletion{
		ID:             uuid.NewString(),
		UserID:         userID,
		ProgramID:      params.ProgramID,
		ExerciseID:     params.ExerciseID,
		MilestoneIndex: params.Milestone,
		DayIndex:       params.Day,
		Round:          params.Round,
		CompletedAt:    time.Now(),
	}

	tx := transaction.New(s.store, userID)
	tx.AddCreate(store.CollectionExerciseCompletions, completion.ID, completion)
	if res := tx.Commit(ctx); !res.Success {
		return nil, fmt.Errorf("%w: %s", ErrCommitFailed, res.Error)
	}

	s.auditEntry(ctx, audit.CreateEntryParams{
		Action:     audit.ActionExerciseComplete,
		EntityType: "exercise_completion",
		EntityID:   completion.ID,
		ProgramID:  params.ProgramID,
		Metadata: audit.Metadata{
			"source":     "progress_service",
			"exerciseId": params.ExerciseID,
			"milestone":  params.Milestone,
			"day":        params.Day,
			"round":      params.Round,
		},
	})
	return completion, nil
}

// CompleteDay advances the stored position to the next day, bumps the
// workout counter for workout days and stamps the workout date. The update
// goes through the full validation pipeline.
func (s *Service) CompleteDay(ctx context.Context, userID string) (res *UpdateResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.completeDay")
	defer tracing.EndSpanWithErrCheck(span, err)

	stored, err := s.progressRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	p, err := s.programs.Get(ctx, stored.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("get program %s: %w", stored.ProgramID, err)
	}

	pos := stored.Position()
	next, ok := progression.NextDay(p, pos)
	if !ok {
		return nil, fmt.Errorf("no day to complete at milestone %d, day %d", pos.Milestone, pos.Day)
	}

	proposed := ProposedUpdate{ProgramID: stored.ProgramID}
	completedDay := p.DayAt(pos)
	if completedDay != nil && completedDay.Type == program.DayTypeWorkout {
		total := stored.TotalWorkoutsCompleted + 1
		now := time.Now()
		proposed.TotalWorkoutsCompleted = &total
		proposed.LastWorkoutDate = &now
	}
	// the terminal sentinel is written directly, it is past milestone bounds
	if p.IsCompletePosition(next) {
		return s.completeProgram(ctx, stored, proposed)
	}

	proposed.CurrentMilestone = &next.Milestone
	proposed.CurrentDay = &next.Day

	updateRes, err := s.Update(ctx, userID, stored, proposed)
	if err != nil {
		return nil, err
	}
	if updateRes.Committed {
		s.auditEntry(ctx, audit.CreateEntryParams{
			Action:     audit.ActionDayComplete,
			EntityType: "user_progress",
			EntityID:   stored.ID,
			ProgramID:  stored.ProgramID,
			Before:     progressFields(stored),
			After:      progressFields(updateRes.Progress),
			Metadata:   audit.Metadata{"source": "progress_service"},
		})
	}
	return updateRes, nil
}

// completeProgram writes the terminal position. The milestone-bounds rule
// rejects the sentinel, so this path commits directly after a consistency
// check instead of the full pipeline.
func (s *Service) completeProgram(ctx context.Context, stored *UserProgress, proposed ProposedUpdate) (*UpdateResult, error) {
	p, err := s.programs.Get(ctx, stored.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("get program %s: %w", stored.ProgramID, err)
	}

	updated := applyProposed(stored, proposed)
	updated.CurrentMilestone = len(p.Milestones)
	updated.CurrentDay = 0

	if consistency := program.ValidateConsistency(p, updated.Position()); !consistency.IsValid {
		return nil, fmt.Errorf("terminal position rejected: %v", consistency.Errors)
	}

	tx := transaction.New(s.store, stored.UserID)
	tx.AddUpdate(store.CollectionUserProgress, stored.ID, updated, nil)
	if txRes := tx.Commit(ctx); !txRes.Success {
		return nil, fmt.Errorf("%w: %s", ErrCommitFailed, txRes.Error)
	}

	s.auditEntry(ctx, audit.CreateEntryParams{
		Action:     audit.ActionDayComplete,
		EntityType: "user_progress",
		EntityID:   stored.ID,
		ProgramID:  stored.ProgramID,
		Before:     progressFields(stored),
		After:      progressFields(updated),
		Context:    "program completed",
		Metadata:   audit.Metadata{"source": "progress_service"},
	})

	log.Debugf("user %s completed program %s", stored.UserID, stored.ProgramID)
	return &UpdateResult{Progress: updated, Committed: true}, nil
}

// ValidateStored runs the repair advisor against the stored position.
func (s *Service) ValidateStored(ctx context.Context, userID string) (result *program.EnhancedValidationResult, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.validateStored")
	defer tracing.EndSpanWithErrCheck(span, err)

	up, err := s.progressRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	p, err := s.programs.Get(ctx, up.ProgramID)
	if err != nil && !errors.Is(err, program.ErrProgramNotFound) {
		return nil, fmt.Errorf("get program %s: %w", up.ProgramID, err)
	}

	res := program.ValidatePosition(p, up.Position())
	return &res, nil
}

// ApplyRepairParams selects one advisor-suggested repair.
type ApplyRepairParams struct {
	Action program.RepairActionType `json:"action"`
	// Target is required for adjust_to_valid_position.
	Target *program.Position `json:"target,omitempty"`
	// NewProgramID is required for assign_new_program.
	NewProgramID string `json:"newProgramId,omitempty"`
}

// ApplyRepair applies one repair action to the stored progress. The advisor
// never mutates; this is the explicit application path.
func (s *Service) ApplyRepair(ctx context.Context, userID string, params ApplyRepairParams) (up *UserProgress, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.applyRepair")
	defer tracing.EndSpanWithErrCheck(span, err)

	stored, err := s.progressRepo.GetByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	updated := *stored
	switch params.Action {
	case program.RepairResetToStart:
		updated.CurrentMilestone = 0
		updated.CurrentDay = 0
	case program.RepairAdjustPosition:
		if params.Target == nil {
			return nil, errors.New("adjust_to_valid_position requires a target position")
		}
		updated.CurrentMilestone = params.Target.Milestone
		updated.CurrentDay = params.Target.Day
	case program.RepairAssignNewProgram:
		if params.NewProgramID == "" {
			return nil, errors.New("assign_new_program requires a program id")
		}
		if _, err := s.programs.Get(ctx, params.NewProgramID); err != nil {
			return nil, fmt.Errorf("get new program: %w", err)
		}
		updated.ProgramID = params.NewProgramID
		updated.CurrentMilestone = 0
		updated.CurrentDay = 0
	default:
		return nil, fmt.Errorf("unknown repair action %q", params.Action)
	}

	// the repaired position must be valid before it is written
	p, err := s.programs.Get(ctx, updated.ProgramID)
	if err != nil {
		return nil, fmt.Errorf("get program %s: %w", updated.ProgramID, err)
	}
	repaired := program.ValidatePosition(p, updated.Position())
	if !repaired.IsValid {
		return nil, fmt.Errorf("repair action %s produced an invalid position", params.Action)
	}

	tx := transaction.New(s.store, userID)
	tx.AddUpdate(store.CollectionUserProgress, stored.ID, &updated, nil)
	if txRes := tx.Commit(ctx); !txRes.Success {
		return nil, fmt.Errorf("%w: %s", ErrCommitFailed, txRes.Error)
	}

	s.auditEntry(ctx, audit.CreateEntryParams{
		Action:     audit.ActionProgressRepair,
		EntityType: "user_progress",
		EntityID:   stored.ID,
		ProgramID:  updated.ProgramID,
		Before:     progressFields(stored),
		After:      progressFields(&updated),
		Context:    fmt.Sprintf("repair action %s applied", params.Action),
		Metadata:   audit.Metadata{"source": "progress_service"},
	})
	return &updated, nil
}

func (s *Service) auditUpdate(
	ctx context.Context,
	before, after *UserProgress,
	proposed ProposedUpdate,
	validation ValidationResult,
	started time.Time,
	status audit.Status,
	errMsg string,
) {
	var warnings []string
	for _, w := range validation.Warnings {
		warnings = append(warnings, w.Message)
	}

	params := audit.CreateEntryParams{
		Action:     audit.ActionProgressUpdate,
		EntityType: "user_progress",
		ProgramID:  proposed.ProgramID,
		Before:     progressFields(before),
		Status:     status,
		Error:      errMsg,
		Warnings:   warnings,
		Metadata:   audit.Metadata{"source": "progress_service"},
		Performance: &audit.Performance{
			DurationMillis:  time.Since(started).Milliseconds(),
			ValidationScore: validation.ValidationScore,
		},
	}
	if before != nil {
		params.EntityID = before.ID
	}
	if after != nil {
		params.After = progressFields(after)
	}
	s.auditEntry(ctx, params)
}

func (s *Service) auditEntry(ctx context.Context, params audit.CreateEntryParams) {
	if _, err := s.auditor.CreateEntry(ctx, params); err != nil {
		log.Errorf("audit %s: %s", params.Action, err)
	}
}

// progressFields flattens a progress record for audit diffing.
func progressFields(up *UserProgress) map[string]any {
	if up == nil {
		return nil
	}
	fields := map[string]any{
		"programId":              up.ProgramID,
		"currentMilestone":       up.CurrentMilestone,
		"currentDay":             up.CurrentDay,
		"totalWorkoutsCompleted": up.TotalWorkoutsCompleted,
	}
	if up.LastWorkoutDate != nil {
		fields["lastWorkoutDate"] = up.LastWorkoutDate.Format(time.RFC3339)
	}
	return fields
}
