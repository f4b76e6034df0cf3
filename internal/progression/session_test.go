package progression_test

import (
	"sync"
	"testing"

	"github.com/forgefit/forgefit/internal/program"
	"github.com/forgefit/forgefit/internal/progression"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func regularDay() *program.Day {
	return &program.Day{
		Type: program.DayTypeWorkout,
		Exercises: []program.DayExercise{
			{ID: "ex-1", Name: "Squat", Sets: 3, Reps: 5},
			{ID: "ex-2", Name: "Bench Press", Sets: 3, Reps: 5},
			{ID: "ex-3", Name: "Row", Sets: 3, Reps: 8},
		},
	}
}

func amrapDay() *program.Day {
	return &program.Day{
		Type:                 program.DayTypeWorkout,
		IsAmrap:              true,
		AmrapDurationMinutes: 12,
		Exercises: []program.DayExercise{
			{ID: "ex-1", Name: "Burpee", Reps: 10},
			{ID: "ex-2", Name: "Kettlebell Swing", Reps: 15},
		},
	}
}

func TestSession_StartResetsEverything(t *testing.T) {
	s := progression.NewSession()
	s.Start(regularDay())
	s.CompleteExercise("ex-1")
	require.Equal(t, 1, s.TotalExercisesCompleted())

	s.Start(amrapDay())
	assert.True(t, s.IsActive())
	assert.Equal(t, 0, s.CurrentExerciseIndex())
	assert.Equal(t, 1, s.CurrentRound())
	assert.Equal(t, 0, s.TotalExercisesCompleted())
	assert.False(t, s.IsExerciseCompleted("ex-1"))
}

func TestSession_RegularDayCompletion(t *testing.T) {
	s := progression.NewSession()
	s.Start(regularDay())

	s.CompleteExercise("ex-1")
	assert.False(t, s.IsCurrentDayComplete())
	s.CompleteExercise("ex-2")
	assert.False(t, s.IsCurrentDayComplete())

	// a duplicate completion must not tip the day over
	s.CompleteExercise("ex-2")
	assert.False(t, s.IsCurrentDayComplete())
	assert.Equal(t, 2, s.TotalExercisesCompleted())

	s.CompleteExercise("ex-3")
	assert.True(t, s.IsCurrentDayComplete())
	assert.Equal(t, 3, s.TotalExercisesCompleted())
	assert.True(t, s.ShouldTriggerDayCompletion(nil))
}

func TestSession_AdvanceRegularDay(t *testing.T) {
	s := progression.NewSession()
	s.Start(regularDay())

	assert.True(t, s.AdvanceToNextExercise())
	assert.Equal(t, 1, s.CurrentExerciseIndex())
	assert.True(t, s.AdvanceToNextExercise())
	assert.Equal(t, 2, s.CurrentExerciseIndex())

	// at the last exercise: no advance, index unchanged
	assert.False(t, s.AdvanceToNextExercise())
	assert.Equal(t, 2, s.CurrentExerciseIndex())
}

func TestSession_CompleteExerciseIdempotentAcrossRounds(t *testing.T) {
	s := progression.NewSession()
	s.Start(amrapDay())

	// round 1
	s.CompleteExercise("ex-1")
	s.CompleteExercise("ex-1")
	s.CompleteExercise("ex-1")
	assert.Equal(t, 1, s.TotalExercisesCompleted())
	assert.Equal(t, 1, s.ExerciseProgress("ex-1").AmrapRound)

	// rounds 2..5: the same exercise counts once per round
	for round := 2; round <= 5; round++ {
		require.True(t, s.CompleteRound())
		require.Equal(t, round, s.CurrentRound())
		s.CompleteExercise("ex-1")
		s.CompleteExercise("ex-1")
	}
	assert.Equal(t, 5, s.TotalExercisesCompleted())
	assert.Equal(t, 5, s.ExerciseProgress("ex-1").AmrapRound)
}

func TestSession_AdvanceAmrap(t *testing.T) {
	s := progression.NewSession()
	s.Start(amrapDay())

	// time left, not at the last exercise
	assert.Equal(t, progression.AdvanceNextExercise, s.AdvanceAmrap(300))
	assert.Equal(t, 1, s.CurrentExerciseIndex())

	// time left, at the last exercise: new round, back to the first exercise
	assert.Equal(t, progression.AdvanceRoundComplete, s.AdvanceAmrap(250))
	assert.Equal(t, 0, s.CurrentExerciseIndex())
	assert.Equal(t, 2, s.CurrentRound())

	// cycling through the exercises keeps rolling rounds with no index drift
	for round := 3; round <= 5; round++ {
		assert.Equal(t, progression.AdvanceNextExercise, s.AdvanceAmrap(200))
		assert.Equal(t, 1, s.CurrentExerciseIndex())
		assert.Equal(t, progression.AdvanceRoundComplete, s.AdvanceAmrap(200))
		assert.Equal(t, 0, s.CurrentExerciseIndex())
		assert.Equal(t, round, s.CurrentRound())
	}

	// out of time: day complete regardless of where we are
	assert.Equal(t, progression.AdvanceDayComplete, s.AdvanceAmrap(0))
	assert.Equal(t, progression.AdvanceDayComplete, s.AdvanceAmrap(-5))
}

func TestSession_CompleteRoundRegularDayRefused(t *testing.T) {
	s := progression.NewSession()
	s.Start(regularDay())

	s.CompleteExercise("ex-1")
	s.CompleteExercise("ex-2")
	s.CompleteExercise("ex-3")
	require.True(t, s.IsCurrentDayComplete())

	// a round rollover would wipe the completed set; refuse it
	assert.False(t, s.CompleteRound())
	assert.Equal(t, 1, s.CurrentRound())
	assert.True(t, s.IsCurrentDayComplete())

	idle := progression.NewSession()
	assert.False(t, idle.CompleteRound())
}

func TestSession_ConcurrentAccess(t *testing.T) {
	s := progression.NewSession()
	s.Start(amrapDay())
	s.StartAmrapTimer(12)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			s.RecordExerciseData("ex-1", float64(i%100))
			s.CompleteExercise("ex-1")
			s.UpdateAmrapTimer(700 - i)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = s.Snapshot()
			_ = s.IsCurrentDayComplete()
			_ = s.ShouldTriggerDayCompletion(s.AmrapSecondsRemaining())
		}
	}()
	wg.Wait()

	assert.Equal(t, 1, s.TotalExercisesCompleted())
	assert.True(t, s.IsCurrentDayComplete())
}

func TestSession_AmrapDayCompletion(t *testing.T) {
	s := progression.NewSession()
	s.Start(amrapDay())

	// an untouched amrap day never completes, even with the timer expired
	expired := 0
	assert.False(t, s.IsCurrentDayComplete())
	assert.False(t, s.ShouldTriggerDayCompletion(&expired))

	s.CompleteExercise("ex-1")
	assert.True(t, s.IsCurrentDayComplete())

	// time still running: no trigger yet
	running := 120
	assert.False(t, s.ShouldTriggerDayCompletion(&running))
	assert.False(t, s.ShouldTriggerDayCompletion(nil))

	// expired with progress: trigger
	assert.True(t, s.ShouldTriggerDayCompletion(&expired))
}

func TestSession_AmrapTimer(t *testing.T) {
	s := progression.NewSession()
	s.Start(amrapDay())

	assert.False(t, s.IsAmrapTimeExpired())

	s.StartAmrapTimer(12)
	require.NotNil(t, s.AmrapSecondsRemaining())
	assert.Equal(t, 720, *s.AmrapSecondsRemaining())
	assert.False(t, s.IsAmrapTimeExpired())

	s.UpdateAmrapTimer(1)
	assert.False(t, s.IsAmrapTimeExpired())
	s.UpdateAmrapTimer(0)
	assert.True(t, s.IsAmrapTimeExpired())

	s.StopAmrapTimer()
	assert.Nil(t, s.AmrapSecondsRemaining())
	assert.False(t, s.IsAmrapTimeExpired())
}

func TestSession_EndClearsState(t *testing.T) {
	s := progression.NewSession()
	s.Start(amrapDay())
	s.StartAmrapTimer(12)
	s.CompleteExercise("ex-1")

	s.End()
	assert.False(t, s.IsActive())
	assert.Equal(t, 0, s.TotalExercisesCompleted())
	assert.Nil(t, s.AmrapSecondsRemaining())
	assert.False(t, s.IsCurrentDayComplete())
	assert.Nil(t, s.Day())
}

func TestSession_InactiveIgnoresMutations(t *testing.T) {
	s := progression.NewSession()
	s.CompleteExercise("ex-1")
	assert.Equal(t, 0, s.TotalExercisesCompleted())
	assert.False(t, s.AdvanceToNextExercise())
}

func TestSession_Snapshot(t *testing.T) {
	s := progression.NewSession()
	s.Start(amrapDay())
	s.StartAmrapTimer(10)
	s.CompleteExercise("ex-1")
	s.RecordExerciseData("ex-2", 50)

	st := s.Snapshot()
	assert.True(t, st.IsSessionActive)
	require.NotNil(t, st.SessionStartTime)
	assert.Equal(t, 1, st.CurrentRound)
	assert.ElementsMatch(t, []string{"ex-1"}, st.CompletedExercises)
	assert.Equal(t, 1, st.TotalExercisesCompleted)
	require.NotNil(t, st.AmrapSecondsRemaining)
	assert.Equal(t, 600, *st.AmrapSecondsRemaining)
	assert.True(t, st.ExerciseProgress["ex-1"].Completed)
	assert.True(t, st.ExerciseProgress["ex-2"].HasData)
	assert.False(t, st.ExerciseProgress["ex-2"].Completed)
	assert.InDelta(t, 50, st.ExerciseProgress["ex-2"].CompletionPercent, 0.001)

	// the snapshot owns its memory
	st.ExerciseProgress["ex-3"] = progression.ExerciseProgress{Completed: true}
	assert.False(t, s.IsExerciseCompleted("ex-3"))
}
