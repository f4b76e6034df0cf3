package program

import "time"

// DayType can be one of:
//   - workout
//   - rest
type DayType string

const (
	DayTypeWorkout DayType = "workout"
	DayTypeRest    DayType = "rest"
)

func (dt DayType) String() string {
	return string(dt)
}

func (dt DayType) IsValid() bool {
	switch dt {
	case DayTypeWorkout, DayTypeRest:
		return true
	default:
		return false
	}
}

// Program is a multi-week training plan: an ordered list of milestones,
// each with an ordered list of days. Immutable once published.
type Program struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Published   bool        `json:"published"`
	Milestones  []Milestone `json:"milestones"`
	CreatedAt   time.Time   `json:"createdAt"`
}

type Milestone struct {
	Name      string `json:"name"`
	Theme     string `json:"theme"`
	Objective string `json:"objective"`
	Days      []Day  `json:"days"`
}

type Day struct {
	Type DayType `json:"type"`
	// Notes is free text, used mostly for rest days.
	Notes                string        `json:"notes,omitempty"`
	IsAmrap              bool          `json:"isAmrap,omitempty"`
	AmrapDurationMinutes int           `json:"amrapDurationMinutes,omitempty"`
	Exercises            []DayExercise `json:"exercises,omitempty"`
}

// DayExercise is one scheduled exercise occurrence within a workout day.
// ID is stable within the day; ExerciseID references the exercise catalog.
type DayExercise struct {
	ID              string  `json:"id"`
	ExerciseID      string  `json:"exerciseId"`
	Name            string  `json:"name"`
	Sets            int     `json:"sets,omitempty"`
	Reps            int     `json:"reps,omitempty"`
	WeightKilos     float64 `json:"weightKilos,omitempty"`
	DurationSeconds int     `json:"durationSeconds,omitempty"`
	DistanceMeters  int     `json:"distanceMeters,omitempty"`
	RestSeconds     int     `json:"restSeconds,omitempty"`
	Notes           string  `json:"notes,omitempty"`
}

// Position is a user's place within a program. Milestone == len(Milestones)
// with Day == 0 is the terminal "program complete" sentinel.
type Position struct {
	Milestone int `json:"milestone"`
	Day       int `json:"day"`
}

// DayAt returns the day at the given position, or nil when out of bounds.
func (p *Program) DayAt(pos Position) *Day {
	if pos.Milestone < 0 || pos.Milestone >= len(p.Milestones) {
		return nil
	}
	days := p.Milestones[pos.Milestone].Days
	if pos.Day < 0 || pos.Day >= len(days) {
		return nil
	}
	return &days[pos.Day]
}

// IsCompletePosition reports whether pos is the terminal sentinel.
func (p *Program) IsCompletePosition(pos Position) bool {
	return pos.Milestone >= len(p.Milestones)
}
