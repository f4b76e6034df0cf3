package progression

import (
	"sync"
	"time"

	"github.com/forgefit/forgefit/internal/program"
)

// AdvanceResult is the outcome of advancing within an AMRAP day.
type AdvanceResult string

const (
	AdvanceNextExercise  AdvanceResult = "next_exercise"
	AdvanceRoundComplete AdvanceResult = "round_complete"
	AdvanceDayComplete   AdvanceResult = "day_complete"
)

// ExerciseProgress is the per-exercise completion snapshot within a session.
type ExerciseProgress struct {
	Completed         bool    `json:"completed"`
	HasData           bool    `json:"hasData"`
	CompletionPercent float64 `json:"completionPercent"`
	// AmrapRound is the round the exercise was last completed in (AMRAP days only).
	AmrapRound int `json:"amrapRound,omitempty"`
}

// Session tracks one live workout: the current exercise, completed set,
// AMRAP round and timer. A session is shared between concurrent requests
// for the same user, so every exported method takes the session mutex;
// persistence happens through a separate, explicit save.
type Session struct {
	mutex sync.Mutex

	day       *program.Day
	active    bool
	startedAt time.Time

	currentExerciseIndex int
	// completed holds the exercise ids done in the current round;
	// it is cleared on round rollover, the total counter is not.
	completed               map[string]struct{}
	currentRound            int
	totalExercisesCompleted int
	exerciseProgress        map[string]ExerciseProgress

	amrapSecondsRemaining *int
	amrapTimerActive      bool
	amrapTimerPaused      bool
}

func NewSession() *Session {
	return &Session{
		completed:        map[string]struct{}{},
		exerciseProgress: map[string]ExerciseProgress{},
	}
}

// Start begins a session for the given day, discarding any previous
// session state.
func (s *Session) Start(day *program.Day) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.reset()
	s.day = day
	s.active = true
	s.startedAt = time.Now()
	s.currentRound = 1
}

// End stops the session and clears all session-scoped state.
func (s *Session) End() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.reset()
}

// ResetForNewDay is End under a name that matches its use: the session
// must not leak state across day or program changes.
func (s *Session) ResetForNewDay() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.reset()
}

func (s *Session) reset() {
	s.day = nil
	s.active = false
	s.startedAt = time.Time{}
	s.currentExerciseIndex = 0
	s.completed = map[string]struct{}{}
	s.currentRound = 0
	s.totalExercisesCompleted = 0
	s.exerciseProgress = map[string]ExerciseProgress{}
	s.amrapSecondsRemaining = nil
	s.amrapTimerActive = false
	s.amrapTimerPaused = false
}

func (s *Session) IsActive() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.active
}

func (s *Session) Day() *program.Day {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.day
}

func (s *Session) CurrentExerciseIndex() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.currentExerciseIndex
}

func (s *Session) CurrentRound() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.currentRound
}

func (s *Session) TotalExercisesCompleted() int {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.totalExercisesCompleted
}

func (s *Session) totalExercises() int {
	if s.day == nil {
		return 0
	}
	return len(s.day.Exercises)
}

// AdvanceToNextExercise moves to the next exercise of a regular day.
// Returns false without changing state when already at the last exercise;
// the caller treats that as day completion.
func (s *Session) AdvanceToNextExercise() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.active {
		return false
	}
	if s.currentExerciseIndex+1 >= s.totalExercises() {
		return false
	}
	s.currentExerciseIndex++
	return true
}

// AdvanceAmrap moves to the next exercise of an AMRAP day. Only elapsed
// time ends an AMRAP day - running out of exercises just starts a new round.
func (s *Session) AdvanceAmrap(timeRemainingSeconds int) AdvanceResult {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if timeRemainingSeconds <= 0 {
		return AdvanceDayComplete
	}
	if s.currentExerciseIndex+1 >= s.totalExercises() {
		s.rolloverRound()
		return AdvanceRoundComplete
	}
	s.currentExerciseIndex++
	return AdvanceNextExercise
}

// CompleteRound is the manual round completion path, independent of the
// timer. Rounds only exist on AMRAP days; on a regular day the rollover
// would wipe the completed set and un-complete a finished day, so the call
// is refused there.
func (s *Session) CompleteRound() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.day == nil || !s.day.IsAmrap {
		return false
	}
	s.rolloverRound()
	return true
}

func (s *Session) rolloverRound() {
	s.currentExerciseIndex = 0
	s.currentRound++
	// a fresh round starts with a clean completed set; the total counter
	// keeps spanning rounds
	s.completed = map[string]struct{}{}
}

// CompleteExercise marks an exercise done. Idempotent within a round:
// duplicates do not bump the total counter.
func (s *Session) CompleteExercise(exerciseID string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.active {
		return
	}
	if _, done := s.completed[exerciseID]; done {
		return
	}
	s.completed[exerciseID] = struct{}{}
	s.totalExercisesCompleted++

	ep := s.exerciseProgress[exerciseID]
	ep.Completed = true
	ep.CompletionPercent = 100
	if s.day != nil && s.day.IsAmrap {
		ep.AmrapRound = s.currentRound
	}
	s.exerciseProgress[exerciseID] = ep
}

// RecordExerciseData notes partial per-exercise progress (e.g. sets logged)
// without marking the exercise complete.
func (s *Session) RecordExerciseData(exerciseID string, completionPercent float64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if !s.active {
		return
	}
	ep := s.exerciseProgress[exerciseID]
	ep.HasData = true
	if completionPercent > ep.CompletionPercent {
		ep.CompletionPercent = completionPercent
	}
	s.exerciseProgress[exerciseID] = ep
}

func (s *Session) IsExerciseCompleted(exerciseID string) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	_, done := s.completed[exerciseID]
	return done
}

func (s *Session) ExerciseProgress(exerciseID string) ExerciseProgress {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.exerciseProgress[exerciseID]
}

// IsCurrentDayComplete reports completion based on exercise counts.
// For AMRAP days any completed exercise counts - the timer, not the
// exercise list, decides when an AMRAP day truly ends.
func (s *Session) IsCurrentDayComplete() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.dayComplete()
}

func (s *Session) dayComplete() bool {
	if s.day == nil {
		return false
	}
	if s.day.IsAmrap {
		return s.totalExercisesCompleted > 0
	}
	return len(s.completed) >= s.totalExercises()
}

// ShouldTriggerDayCompletion decides whether the day-completion flow should
// fire. For AMRAP days the timer must have expired AND some progress must
// exist, so an untouched day never auto-completes. timeRemainingSeconds is
// ignored for regular days.
func (s *Session) ShouldTriggerDayCompletion(timeRemainingSeconds *int) bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.day == nil {
		return false
	}
	if s.day.IsAmrap {
		return timeRemainingSeconds != nil &&
			*timeRemainingSeconds <= 0 &&
			s.totalExercisesCompleted > 0
	}
	return s.dayComplete()
}

// State is a serializable snapshot of the session, so clients can persist
// it locally for resilience.
type State struct {
	IsSessionActive         bool                        `json:"isSessionActive"`
	SessionStartTime        *time.Time                  `json:"sessionStartTime,omitempty"`
	CurrentExerciseIndex    int                         `json:"currentExerciseIndex"`
	CompletedExercises      []string                    `json:"completedExercises"`
	CurrentRound            int                         `json:"currentRound"`
	TotalExercisesCompleted int                         `json:"totalExercisesCompleted"`
	ExerciseProgress        map[string]ExerciseProgress `json:"exerciseProgress"`
	AmrapSecondsRemaining   *int                        `json:"amrapSecondsRemaining,omitempty"`
	AmrapTimerActive        bool                        `json:"amrapTimerActive"`
	AmrapTimerPaused        bool                        `json:"amrapTimerPaused"`
}

func (s *Session) Snapshot() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	st := State{
		IsSessionActive:         s.active,
		CurrentExerciseIndex:    s.currentExerciseIndex,
		CompletedExercises:      make([]string, 0, len(s.completed)),
		CurrentRound:            s.currentRound,
		TotalExercisesCompleted: s.totalExercisesCompleted,
		ExerciseProgress:        map[string]ExerciseProgress{},
		AmrapTimerActive:        s.amrapTimerActive,
		AmrapTimerPaused:        s.amrapTimerPaused,
	}
	if !s.startedAt.IsZero() {
		start := s.startedAt
		st.SessionStartTime = &start
	}
	for id := range s.completed {
		st.CompletedExercises = append(st.CompletedExercises, id)
	}
	for id, ep := range s.exerciseProgress {
		st.ExerciseProgress[id] = ep
	}
	if s.amrapSecondsRemaining != nil {
		remaining := *s.amrapSecondsRemaining
		st.AmrapSecondsRemaining = &remaining
	}
	return st
}
