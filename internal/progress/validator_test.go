package progress_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/forgefit/forgefit/internal/program"
	"github.com/forgefit/forgefit/internal/progress"
	"github.com/forgefit/forgefit/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// tenWorkoutProgram has a single milestone of 10 workout days, giving easy
// control over the expected workout count in tolerance scenarios.
func tenWorkoutProgram() *program.Program {
	days := make([]program.Day, 10)
	for i := range days {
		days[i] = program.Day{
			Type:      program.DayTypeWorkout,
			Exercises: []program.DayExercise{{ID: "ex-1", Name: "Squat", Sets: 3, Reps: 5}},
		}
	}
	return &program.Program{
		ID:         "prog-1",
		Name:       "Ten Days",
		Published:  true,
		Milestones: []program.Milestone{{Name: "Only", Days: days}},
	}
}

type validatorSuite struct {
	store     *store.MemStore
	validator *progress.Validator
	stored    *progress.UserProgress
}

func newValidatorSuite(t *testing.T, stored progress.UserProgress) *validatorSuite {
	t.Helper()
	st := store.NewMemStore()
	_, err := st.Create(context.Background(), store.CollectionUserProgress, stored.ID, stored)
	require.NoError(t, err)
	return &validatorSuite{
		store:     st,
		validator: progress.NewValidator(progress.NewRepo(st), progress.NewCompletionsRepo(st)),
		stored:    &stored,
	}
}

func intPtr(v int) *int { return &v }

func TestValidator_AllRulesPass(t *testing.T) {
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
		CurrentMilestone: 0, CurrentDay: 2, TotalWorkoutsCompleted: 2,
	})

	// completion records for the days already behind the user
	for day := 0; day < 3; day++ {
		completion := progress.ExerciseCompletion{
			UserID: "user-1", ProgramID: "prog-1", ExerciseID: "ex-1",
			MilestoneIndex: 0, DayIndex: day, CompletedAt: time.Now(),
		}
		_, err := suite.store.Create(context.Background(), store.CollectionExerciseCompletions, "", completion)
		require.NoError(t, err)
	}

	res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{
			ProgramID:              "prog-1",
			CurrentDay:             intPtr(3),
			TotalWorkoutsCompleted: intPtr(3),
		},
	})

	assert.True(t, res.IsValid)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)
	assert.Equal(t, 100, res.ValidationScore)
	assert.Equal(t, res.RulesTotal, res.RulesPassed)
}

func TestValidator_EnrollmentMismatch(t *testing.T) {
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-other",
	})

	res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{ProgramID: "prog-1"},
	})

	require.False(t, res.IsValid)
	found := false
	for _, issue := range res.Errors {
		if issue.RuleID == "program_enrollment" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidator_Bounds(t *testing.T) {
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
	})

	res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{
			ProgramID:        "prog-1",
			CurrentMilestone: intPtr(5),
		},
	})
	require.False(t, res.IsValid)
	assert.Equal(t, "milestone_bounds", res.Errors[0].RuleID)

	res = suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{
			ProgramID:  "prog-1",
			CurrentDay: intPtr(10),
		},
	})
	require.False(t, res.IsValid)
	assert.Equal(t, "day_bounds", res.Errors[0].RuleID)

	// unchanged fields are not bounds-checked
	res = suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{ProgramID: "prog-1"},
	})
	assert.True(t, res.IsValid)
}

func TestValidator_DirectionWarnings(t *testing.T) {
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
		CurrentMilestone: 0, CurrentDay: 5, TotalWorkoutsCompleted: 5,
	})

	res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{
			ProgramID:              "prog-1",
			CurrentDay:             intPtr(2),
			TotalWorkoutsCompleted: intPtr(3),
		},
	})

	// warnings never block
	assert.True(t, res.IsValid)
	require.NotEmpty(t, res.Warnings)
	var direction *progress.Issue
	for i, issue := range res.Warnings {
		if issue.RuleID == "progress_direction" {
			direction = &res.Warnings[i]
		}
	}
	require.NotNil(t, direction)
	assert.Contains(t, direction.Message, "day regression")
	assert.Contains(t, direction.Message, "decreased")
	assert.Less(t, res.ValidationScore, 100)
}

func TestValidator_WorkoutCountTolerance(t *testing.T) {
	// expected workouts at day 9 inclusive = 10, tolerance = max(2, 1) = 2
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
		CurrentMilestone: 0, CurrentDay: 9, TotalWorkoutsCompleted: 10,
	})

	check := func(total int) []progress.Issue {
		res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
			UserID:   "user-1",
			Program:  tenWorkoutProgram(),
			Existing: suite.stored,
			Proposed: progress.ProposedUpdate{
				ProgramID:              "prog-1",
				TotalWorkoutsCompleted: intPtr(total),
			},
		})
		var issues []progress.Issue
		for _, issue := range res.Warnings {
			if issue.RuleID == "workout_count_consistency" {
				issues = append(issues, issue)
			}
		}
		return issues
	}

	assert.Empty(t, check(12), "12 within tolerance of expected 10")
	issues := check(13)
	require.Len(t, issues, 1, "13 outside tolerance of expected 10")
	assert.EqualValues(t, 10, issues[0].Details["expected"])
	assert.EqualValues(t, 2, issues[0].Details["tolerance"])
}

func TestValidator_TimeSequence(t *testing.T) {
	lastWeek := time.Now().AddDate(0, 0, -2)
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
		LastWorkoutDate: &lastWeek,
	})

	run := func(date time.Time) progress.ValidationResult {
		return suite.validator.Validate(context.Background(), &progress.ValidationContext{
			UserID:   "user-1",
			Program:  tenWorkoutProgram(),
			Existing: suite.stored,
			Proposed: progress.ProposedUpdate{
				ProgramID:       "prog-1",
				LastWorkoutDate: &date,
			},
		})
	}

	future := run(time.Now().Add(48 * time.Hour))
	require.NotEmpty(t, future.Warnings)
	assert.Contains(t, future.Warnings[0].Message, "future")

	tooOld := run(time.Now().AddDate(0, 0, -12))
	require.NotEmpty(t, tooOld.Warnings)
	assert.Contains(t, tooOld.Warnings[0].Message, "7 days")

	ok := run(time.Now().AddDate(0, 0, -1))
	assert.Empty(t, ok.Warnings)
}

func TestValidator_CompletionIntegrity(t *testing.T) {
	ctx := context.Background()
	// at day 6, expected completed days (exclusive) = 6, flat tolerance 2
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
		CurrentMilestone: 0, CurrentDay: 6, TotalWorkoutsCompleted: 6,
	})

	// 4 distinct completed days: |4-6| = 2, inside the tolerance
	for day := 0; day < 4; day++ {
		completion := progress.ExerciseCompletion{
			UserID: "user-1", ProgramID: "prog-1", ExerciseID: "ex-1",
			MilestoneIndex: 0, DayIndex: day, CompletedAt: time.Now(),
		}
		_, err := suite.store.Create(ctx, store.CollectionExerciseCompletions, "", completion)
		require.NoError(t, err)
	}

	vc := &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{ProgramID: "prog-1"},
	}
	res := suite.validator.Validate(ctx, vc)
	assert.True(t, res.IsValid)

	// 3 distinct completed days: |3-6| = 3, outside
	_, err := suite.store.Delete(ctx, store.CollectionExerciseCompletions, completionID(t, suite.store, 3))
	require.NoError(t, err)
	res = suite.validator.Validate(ctx, vc)
	require.False(t, res.IsValid)
	assert.Equal(t, "exercise_completion_integrity", res.Errors[0].RuleID)

	// a failing completion query is its own distinct error
	suite.store.FailNext["find:"+store.CollectionExerciseCompletions] = errors.New("store down")
	res = suite.validator.Validate(ctx, vc)
	require.False(t, res.IsValid)
	found := false
	for _, issue := range res.Errors {
		if issue.RuleID == "exercise_completion_integrity" {
			found = true
			assert.Contains(t, issue.Details, "queryError")
		}
	}
	assert.True(t, found)
}

func completionID(t *testing.T, st *store.MemStore, dayIndex int) string {
	t.Helper()
	res, err := st.Find(context.Background(), store.CollectionExerciseCompletions,
		store.Filter{"dayIndex": dayIndex}, store.FindOptions{})
	require.NoError(t, err)
	require.Len(t, res.Docs, 1)
	return res.Docs[0].ID
}

func TestValidator_DataTypes(t *testing.T) {
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
	})

	res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{
			ProgramID:              "prog-1",
			TotalWorkoutsCompleted: intPtr(20000),
		},
	})

	require.False(t, res.IsValid)
	found := false
	for _, issue := range res.Errors {
		if issue.RuleID == "data_types" {
			found = true
			assert.Contains(t, issue.Message, "10000")
		}
	}
	assert.True(t, found)
}

func TestValidator_ConcurrentUpdateConflict(t *testing.T) {
	ctx := context.Background()
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
		CurrentMilestone: 0, CurrentDay: 2, TotalWorkoutsCompleted: 2,
	})

	// another writer already moved the user to day 3
	moved := *suite.stored
	moved.CurrentDay = 3
	_, err := suite.store.Update(ctx, store.CollectionUserProgress, "up-1", moved)
	require.NoError(t, err)

	// two contexts built from the same stale snapshot: both must conflict
	for i := 0; i < 2; i++ {
		res := suite.validator.Validate(ctx, &progress.ValidationContext{
			UserID:   "user-1",
			Program:  tenWorkoutProgram(),
			Existing: suite.stored,
			Proposed: progress.ProposedUpdate{
				ProgramID:  "prog-1",
				CurrentDay: intPtr(3),
			},
		})

		require.False(t, res.IsValid, "attempt %d", i)
		var conflict *progress.Issue
		for j, issue := range res.Errors {
			if issue.RuleID == "concurrent_update_detection" {
				conflict = &res.Errors[j]
			}
		}
		require.NotNil(t, conflict, "attempt %d", i)
		conflicts, ok := conflict.Details["conflicts"].(map[string]bool)
		require.True(t, ok)
		assert.True(t, conflicts["day"])
		assert.False(t, conflicts["milestone"])
	}
}

func TestValidator_BusinessRules(t *testing.T) {
	yesterday := time.Now().AddDate(0, 0, -1)
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
		CurrentMilestone: 0, CurrentDay: 1, TotalWorkoutsCompleted: 1,
		LastWorkoutDate: &yesterday,
	})

	now := time.Now()
	res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{
			ProgramID:              "prog-1",
			CurrentDay:             intPtr(8),
			TotalWorkoutsCompleted: intPtr(8),
			LastWorkoutDate:        &now,
		},
	})

	var business *progress.Issue
	for i, issue := range res.Warnings {
		if issue.RuleID == "business_rules" {
			business = &res.Warnings[i]
		}
	}
	require.NotNil(t, business)
	assert.Contains(t, business.Message, "day jump")
	assert.Contains(t, business.Message, "frequency")
}

func TestValidator_AddRemoveRules(t *testing.T) {
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
	})

	suite.validator.AddRule(progress.Rule{
		ID:       "always_fails",
		Severity: progress.SeverityInfo,
		Check: func(context.Context, *progress.ValidationContext) progress.RuleResult {
			return progress.RuleResult{IsValid: false, Message: "informational"}
		},
	})

	vc := &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{ProgramID: "prog-1"},
	}
	res := suite.validator.Validate(context.Background(), vc)
	assert.True(t, res.IsValid)
	require.Len(t, res.Info, 1)
	// info failures still count as passed for scoring
	assert.Equal(t, 100, res.ValidationScore)

	assert.True(t, suite.validator.RemoveRule("always_fails"))
	assert.False(t, suite.validator.RemoveRule("always_fails"))

	res = suite.validator.Validate(context.Background(), vc)
	assert.Empty(t, res.Info)
}

func TestValidator_PanickingRuleBecomesError(t *testing.T) {
	suite := newValidatorSuite(t, progress.UserProgress{
		ID: "up-1", UserID: "user-1", ProgramID: "prog-1",
	})

	suite.validator.AddRule(progress.Rule{
		ID:       "panics",
		Severity: progress.SeverityWarning,
		Check: func(context.Context, *progress.ValidationContext) progress.RuleResult {
			panic("boom")
		},
	})

	res := suite.validator.Validate(context.Background(), &progress.ValidationContext{
		UserID:   "user-1",
		Program:  tenWorkoutProgram(),
		Existing: suite.stored,
		Proposed: progress.ProposedUpdate{ProgramID: "prog-1"},
	})

	// the panic is contained and escalated to an error-severity failure
	require.False(t, res.IsValid)
	var panicIssue *progress.Issue
	for i, issue := range res.Errors {
		if issue.RuleID == "panics" {
			panicIssue = &res.Errors[i]
		}
	}
	require.NotNil(t, panicIssue)
	assert.Equal(t, progress.SeverityError, panicIssue.Severity)
	assert.Contains(t, panicIssue.Message, "boom")
	assert.Empty(t, res.Warnings)
}
