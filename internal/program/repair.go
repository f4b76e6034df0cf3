package program

import (
	"fmt"
	"strings"
)

// ErrorCode identifies a class of progress corruption.
type ErrorCode string

const (
	ErrCodeProgramNotFound        ErrorCode = "program_not_found"
	ErrCodeProgramStructure       ErrorCode = "program_structure_changed"
	ErrCodeMilestoneIndexInvalid  ErrorCode = "milestone_index_invalid"
	ErrCodeDayIndexInvalid        ErrorCode = "day_index_invalid"
	ErrCodeMilestoneWithoutDays   ErrorCode = "milestone_without_days"
	ErrCodeWorkoutWithoutExercise ErrorCode = "workout_day_without_exercises"
)

// RepairActionType is a suggested corrective mutation. The advisor only
// suggests; callers apply.
type RepairActionType string

const (
	RepairAssignNewProgram RepairActionType = "assign_new_program"
	RepairResetToStart     RepairActionType = "reset_to_start"
	RepairAdjustPosition   RepairActionType = "adjust_to_valid_position"
)

type ValidationError struct {
	Code            ErrorCode `json:"code"`
	Message         string    `json:"message"`
	SuggestedAction string    `json:"suggestedAction"`
	AutoRepairable  bool      `json:"autoRepairable"`
}

type RepairAction struct {
	Type        RepairActionType `json:"type"`
	Description string           `json:"description"`
	// Target is the position to move the user to, when applicable.
	Target *Position `json:"target,omitempty"`
}

type EnhancedValidationResult struct {
	IsValid       bool              `json:"isValid"`
	Errors        []ValidationError `json:"errors"`
	Warnings      []string          `json:"warnings"`
	RepairActions []RepairAction    `json:"repairActions"`
	CanBeRepaired bool              `json:"canBeRepaired"`
}

// ValidatePosition checks a stored position against the (possibly changed)
// program and, when it finds errors, produces concrete repair actions.
// It never mutates anything.
func ValidatePosition(p *Program, pos Position) EnhancedValidationResult {
	res := EnhancedValidationResult{
		Errors:        []ValidationError{},
		Warnings:      []string{},
		RepairActions: []RepairAction{},
	}

	if p == nil {
		res.Errors = append(res.Errors, ValidationError{
			Code:            ErrCodeProgramNotFound,
			Message:         "assigned program no longer exists",
			SuggestedAction: "choose a new program",
			AutoRepairable:  false,
		})
		res.RepairActions = append(res.RepairActions, RepairAction{
			Type:        RepairAssignNewProgram,
			Description: "assign a new program to the user",
		})
		res.CanBeRepaired = true
		return res
	}

	if structureErr := validateStructure(p); structureErr != "" {
		res.Errors = append(res.Errors, ValidationError{
			Code:            ErrCodeProgramStructure,
			Message:         structureErr,
			SuggestedAction: "restart the program from the beginning",
			AutoRepairable:  true,
		})
		res.RepairActions = append(res.RepairActions, RepairAction{
			Type:        RepairResetToStart,
			Description: "reset progress to the first day of the first milestone",
			Target:      &Position{},
		})
	}

	consistency := ValidateConsistency(p, pos)
	res.Warnings = append(res.Warnings, consistency.Warnings...)

	hasPositionalError := false
	for _, msg := range consistency.Errors {
		code := ErrCodeDayIndexInvalid
		if strings.Contains(msg, "milestone index") || strings.Contains(msg, "no milestones") {
			code = ErrCodeMilestoneIndexInvalid
		}
		suggested := "move progress back within program bounds"
		if strings.Contains(msg, "negative") {
			suggested = "reset the invalid index to 0"
		} else if strings.Contains(msg, "exceeds") {
			suggested = "move progress to the nearest valid day"
		}
		res.Errors = append(res.Errors, ValidationError{
			Code:            code,
			Message:         msg,
			SuggestedAction: suggested,
			AutoRepairable:  true,
		})
		hasPositionalError = true
	}

	if hasPositionalError {
		if target, ok := nearestValidPosition(p, pos); ok {
			res.RepairActions = append(res.RepairActions, RepairAction{
				Type: RepairAdjustPosition,
				Description: fmt.Sprintf(
					"adjust progress to milestone %d, day %d", target.Milestone, target.Day),
				Target: &target,
			})
		} else {
			res.RepairActions = append(res.RepairActions, RepairAction{
				Type:        RepairResetToStart,
				Description: "reset progress to the first day of the first milestone",
				Target:      &Position{},
			})
		}
	}

	res.IsValid = len(res.Errors) == 0
	res.CanBeRepaired = len(res.RepairActions) > 0
	return res
}

// validateStructure checks the program itself: every milestone needs days,
// every non-AMRAP workout day needs exercises, day types must be known.
func validateStructure(p *Program) string {
	for mi, m := range p.Milestones {
		if len(m.Days) == 0 {
			return fmt.Sprintf("milestone %d has no days", mi)
		}
		for di, d := range m.Days {
			if !d.Type.IsValid() {
				return fmt.Sprintf("milestone %d day %d has unknown type %q", mi, di, d.Type)
			}
			if d.Type == DayTypeWorkout && !d.IsAmrap && len(d.Exercises) == 0 {
				return fmt.Sprintf("milestone %d day %d is a workout day without exercises", mi, di)
			}
		}
	}
	return ""
}

// nearestValidPosition clamps pos to the closest in-bounds position.
func nearestValidPosition(p *Program, pos Position) (Position, bool) {
	if len(p.Milestones) == 0 {
		return Position{}, false
	}

	if pos.Milestone >= 0 && pos.Milestone < len(p.Milestones) {
		maxDay := len(p.Milestones[pos.Milestone].Days) - 1
		if maxDay < 0 {
			return Position{}, false
		}
		day := pos.Day
		if day < 0 {
			day = 0
		}
		if day > maxDay {
			day = maxDay
		}
		return Position{Milestone: pos.Milestone, Day: day}, true
	}

	if pos.Milestone >= len(p.Milestones) {
		last := len(p.Milestones) - 1
		maxDay := len(p.Milestones[last].Days) - 1
		if maxDay < 0 {
			return Position{}, false
		}
		return Position{Milestone: last, Day: maxDay}, true
	}

	// negative milestone index
	return Position{}, true
}
