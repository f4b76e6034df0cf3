package progression

import "github.com/forgefit/forgefit/internal/program"

// NextDay returns the position following pos, rolling over milestone
// boundaries. When pos is the last day of the last milestone it returns
// the terminal position (milestone == len(milestones), day == 0) and true.
// Returns ok == false when pos is out of bounds or already terminal.
func NextDay(p *program.Program, pos program.Position) (program.Position, bool) {
	if p == nil || pos.Milestone < 0 || pos.Milestone >= len(p.Milestones) {
		return program.Position{}, false
	}
	days := p.Milestones[pos.Milestone].Days
	if pos.Day < 0 || pos.Day >= len(days) {
		return program.Position{}, false
	}

	if pos.Day+1 < len(days) {
		return program.Position{Milestone: pos.Milestone, Day: pos.Day + 1}, true
	}
	// last day of the milestone: roll over, possibly into the terminal state
	return program.Position{Milestone: pos.Milestone + 1, Day: 0}, true
}

// PreviousDay returns the position preceding pos, rolling back over
// milestone boundaries. Accepts the terminal position and steps back into
// the last day. Returns ok == false at the very first day or out of bounds.
func PreviousDay(p *program.Program, pos program.Position) (program.Position, bool) {
	if p == nil || pos.Milestone < 0 || pos.Milestone > len(p.Milestones) {
		return program.Position{}, false
	}

	if pos.Day > 0 {
		if pos.Milestone == len(p.Milestones) {
			return program.Position{}, false
		}
		if pos.Day > len(p.Milestones[pos.Milestone].Days) {
			return program.Position{}, false
		}
		return program.Position{Milestone: pos.Milestone, Day: pos.Day - 1}, true
	}

	if pos.Milestone == 0 {
		return program.Position{}, false
	}
	prevDays := p.Milestones[pos.Milestone-1].Days
	if len(prevDays) == 0 {
		return program.Position{}, false
	}
	return program.Position{Milestone: pos.Milestone - 1, Day: len(prevDays) - 1}, true
}

// NextWorkoutDay skips rest days, returning the next workout position
// after pos, or ok == false when none remain.
func NextWorkoutDay(p *program.Program, pos program.Position) (program.Position, bool) {
	for {
		next, ok := NextDay(p, pos)
		if !ok {
			return program.Position{}, false
		}
		if p.IsCompletePosition(next) {
			return program.Position{}, false
		}
		day := p.DayAt(next)
		if day != nil && day.Type == program.DayTypeWorkout {
			return next, true
		}
		pos = next
	}
}
