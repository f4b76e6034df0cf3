package program

import (
	"math"
	"time"
)

// Pure progress math over a program and a position. All functions degrade to
// zero values for programs with no milestones instead of failing.

// TotalDays returns the number of days in the whole program.
func TotalDays(p *Program) int {
	total := 0
	for _, m := range p.Milestones {
		total += len(m.Days)
	}
	return total
}

// TotalDaysOfType returns the number of days of the given type.
func TotalDaysOfType(p *Program, dayType DayType) int {
	total := 0
	for _, m := range p.Milestones {
		for _, d := range m.Days {
			if d.Type == dayType {
				total++
			}
		}
	}
	return total
}

// AbsoluteDayPosition is the 1-based count of days reached at pos,
// inclusive of the current day.
func AbsoluteDayPosition(p *Program, pos Position) int {
	if len(p.Milestones) == 0 {
		return 0
	}
	abs := 0
	for i := 0; i < pos.Milestone && i < len(p.Milestones); i++ {
		abs += len(p.Milestones[i].Days)
	}
	return abs + pos.Day + 1
}

// CompletedDaysByType counts days of each type strictly before pos:
// all days of completed milestones plus days before pos.Day in the
// current milestone.
func CompletedDaysByType(p *Program, pos Position) (workout, rest int) {
	countDay := func(d Day) {
		if d.Type == DayTypeRest {
			rest++
		} else {
			workout++
		}
	}
	for i := 0; i < pos.Milestone && i < len(p.Milestones); i++ {
		for _, d := range p.Milestones[i].Days {
			countDay(d)
		}
	}
	if pos.Milestone >= 0 && pos.Milestone < len(p.Milestones) {
		days := p.Milestones[pos.Milestone].Days
		for i := 0; i < pos.Day && i < len(days); i++ {
			countDay(days[i])
		}
	}
	return workout, rest
}

type MilestoneProgress struct {
	MilestoneIndex    int     `json:"milestoneIndex"`
	Name              string  `json:"name"`
	TotalDays         int     `json:"totalDays"`
	CurrentDay        int     `json:"currentDay"`
	CompletionPercent float64 `json:"completionPercent"`
	IsComplete        bool    `json:"isComplete"`
}

// MilestoneProgressAt computes the completion of a single milestone. An index
// at or beyond the program length means the program is finished, so the last
// milestone is reported as 100% complete.
func MilestoneProgressAt(p *Program, pos Position) MilestoneProgress {
	if len(p.Milestones) == 0 {
		return MilestoneProgress{}
	}

	if pos.Milestone >= len(p.Milestones) {
		last := len(p.Milestones) - 1
		totalDays := len(p.Milestones[last].Days)
		return MilestoneProgress{
			MilestoneIndex:    last,
			Name:              p.Milestones[last].Name,
			TotalDays:         totalDays,
			CurrentDay:        totalDays - 1,
			CompletionPercent: 100,
			IsComplete:        true,
		}
	}

	milestone := p.Milestones[pos.Milestone]
	totalDays := len(milestone.Days)
	mp := MilestoneProgress{
		MilestoneIndex: pos.Milestone,
		Name:           milestone.Name,
		TotalDays:      totalDays,
		CurrentDay:     pos.Day,
	}
	if totalDays == 0 {
		return mp
	}
	mp.CompletionPercent = math.Round(float64(pos.Day+1) / float64(totalDays) * 100)
	mp.IsComplete = pos.Day >= totalDays-1
	return mp
}

type ProgramProgress struct {
	TotalDays           int               `json:"totalDays"`
	AbsoluteDay         int               `json:"absoluteDay"`
	CompletionPercent   float64           `json:"completionPercent"`
	IsComplete          bool              `json:"isComplete"`
	RemainingDays       int               `json:"remainingDays"`
	RemainingMilestones int               `json:"remainingMilestones"`
	Milestone           MilestoneProgress `json:"milestone"`
}

// ProgramProgressAt aggregates the overall completion state at pos.
func ProgramProgressAt(p *Program, pos Position) ProgramProgress {
	totalDays := TotalDays(p)
	if len(p.Milestones) == 0 || totalDays == 0 {
		return ProgramProgress{}
	}

	abs := AbsoluteDayPosition(p, pos)

	lastMilestone := len(p.Milestones) - 1
	lastDay := len(p.Milestones[lastMilestone].Days) - 1
	isComplete := pos.Milestone > lastMilestone ||
		(pos.Milestone == lastMilestone && pos.Day >= lastDay)

	remainingDays := totalDays - abs
	if remainingDays < 0 {
		remainingDays = 0
	}
	remainingMilestones := len(p.Milestones) - pos.Milestone - 1
	if remainingMilestones < 0 {
		remainingMilestones = 0
	}

	return ProgramProgress{
		TotalDays:           totalDays,
		AbsoluteDay:         abs,
		CompletionPercent:   math.Round(float64(abs) / float64(totalDays) * 100),
		IsComplete:          isComplete,
		RemainingDays:       remainingDays,
		RemainingMilestones: remainingMilestones,
		Milestone:           MilestoneProgressAt(p, pos),
	}
}

type Analytics struct {
	Progress                ProgramProgress `json:"progress"`
	CompletedWorkoutDays    int             `json:"completedWorkoutDays"`
	CompletedRestDays       int             `json:"completedRestDays"`
	RemainingWorkoutDays    int             `json:"remainingWorkoutDays"`
	RemainingRestDays       int             `json:"remainingRestDays"`
	EstimatedCompletionDate *time.Time      `json:"estimatedCompletionDate,omitempty"`
}

// AnalyticsAt splits completed and remaining days by type; when startDate is
// set, it projects an estimated completion date by adding the program length.
func AnalyticsAt(p *Program, pos Position, startDate *time.Time) Analytics {
	completedWorkout, completedRest := CompletedDaysByType(p, pos)
	a := Analytics{
		Progress:             ProgramProgressAt(p, pos),
		CompletedWorkoutDays: completedWorkout,
		CompletedRestDays:    completedRest,
	}

	a.RemainingWorkoutDays = TotalDaysOfType(p, DayTypeWorkout) - completedWorkout
	if a.RemainingWorkoutDays < 0 {
		a.RemainingWorkoutDays = 0
	}
	a.RemainingRestDays = TotalDaysOfType(p, DayTypeRest) - completedRest
	if a.RemainingRestDays < 0 {
		a.RemainingRestDays = 0
	}

	if startDate != nil {
		estimated := startDate.AddDate(0, 0, TotalDays(p))
		a.EstimatedCompletionDate = &estimated
	}
	return a
}
