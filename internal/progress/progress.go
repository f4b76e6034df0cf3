package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/forgefit/forgefit/internal/program"
	"github.com/forgefit/forgefit/internal/store"
	"github.com/forgefit/forgefit/internal/telemetry/tracing"
)

var ErrProgressNotFound = errors.New("user progress not found")

// UserProgress is the durable position of one user within one program.
// Mutated only through validated transactions.
type UserProgress struct {
	ID                     string     `json:"id"`
	UserID                 string     `json:"userId"`
	ProgramID              string     `json:"programId"`
	CurrentMilestone       int        `json:"currentMilestone"`
	CurrentDay             int        `json:"currentDay"`
	TotalWorkoutsCompleted int        `json:"totalWorkoutsCompleted"`
	LastWorkoutDate        *time.Time `json:"lastWorkoutDate,omitempty"`
}

func (up *UserProgress) Position() program.Position {
	return program.Position{Milestone: up.CurrentMilestone, Day: up.CurrentDay}
}

// ExerciseCompletion is one persisted exercise completion event.
type ExerciseCompletion struct {
	ID             string    `json:"id"`
	UserID         string    `json:"userId"`
	ProgramID      string    `json:"programId"`
	ExerciseID     string    `json:"exerciseId"`
	MilestoneIndex int       `json:"milestoneIndex"`
	DayIndex       int       `json:"dayIndex"`
	Round          int       `json:"round,omitempty"`
	CompletedAt    time.Time `json:"completedAt"`
}

// Repo reads user progress records. Writes go through the transaction
// manager, not through here.
type Repo struct {
	store store.Store
}

func NewRepo(st store.Store) *Repo {
	return &Repo{store: st}
}

// GetByUser returns the user's progress record, or ErrProgressNotFound.
func (r *Repo) GetByUser(ctx context.Context, userID string) (up *UserProgress, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.progress.getByUser")
	defer tracing.EndSpanWithErrCheck(span, err)

	res, err := r.store.Find(ctx, store.CollectionUserProgress, store.Filter{"userId": userID}, store.FindOptions{Limit: 1})
	if err != nil {
		return nil, fmt.Errorf("find user progress: %w", err)
	}
	if len(res.Docs) == 0 {
		return nil, ErrProgressNotFound
	}

	up = &UserProgress{}
	if err := store.Decode(&res.Docs[0], up); err != nil {
		return nil, fmt.Errorf("decode user progress: %w", err)
	}
	up.ID = res.Docs[0].ID
	return up, nil
}

// CompletionsRepo reads and counts persisted exercise completions.
type CompletionsRepo struct {
	store store.Store
}

func NewCompletionsRepo(st store.Store) *CompletionsRepo {
	return &CompletionsRepo{store: st}
}

func (r *CompletionsRepo) ListByUserProgram(ctx context.Context, userID, programID string) (completions []ExerciseCompletion, err error) {
	ctx, span := tracing.GlobalTracer.Start(ctx, "repo.completions.listByUserProgram")
	defer tracing.EndSpanWithErrCheck(span, err)

	filter := store.Filter{"userId": userID, "programId": programID}
	res, err := r.store.Find(ctx, store.CollectionExerciseCompletions, filter, store.FindOptions{})
	if err != nil {
		return nil, fmt.Errorf("find exercise completions: %w", err)
	}

	completions = make([]ExerciseCompletion, 0, len(res.Docs))
	for i := range res.Docs {
		var c ExerciseCompletion
		if err := store.Decode(&res.Docs[i], &c); err != nil {
			return nil, fmt.Errorf("decode exercise completion %s: %w", res.Docs[i].ID, err)
		}
		c.ID = res.Docs[i].ID
		completions = append(completions, c)
	}
	return completions, nil
}

// DistinctCompletedDays counts the distinct (milestone, day) pairs with at
// least one completion for the given user and program.
func (r *CompletionsRepo) DistinctCompletedDays(ctx context.Context, userID, programID string) (int, error) {
	completions, err := r.ListByUserProgram(ctx, userID, programID)
	if err != nil {
		return 0, err
	}
	days := map[[2]int]struct{}{}
	for _, c := range completions {
		days[[2]int{c.MilestoneIndex, c.DayIndex}] = struct{}{}
	}
	return len(days), nil
}
