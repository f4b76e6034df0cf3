package program

import "fmt"

// ConsistencyResult is the outcome of a structural position check.
// Errors make the position unusable; warnings are informational only.
type ConsistencyResult struct {
	IsValid  bool     `json:"isValid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateConsistency checks a position against the program shape.
// A milestone index equal to the number of milestones is the "program
// complete" sentinel and is only accepted with day 0. All independent
// checks run in one call; only a program with no milestones short-circuits.
func ValidateConsistency(p *Program, pos Position) ConsistencyResult {
	res := ConsistencyResult{
		Errors:   []string{},
		Warnings: []string{},
	}

	if len(p.Milestones) == 0 {
		res.Errors = append(res.Errors, "program has no milestones")
		return res
	}

	if pos.Milestone < 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("milestone index is negative: %d", pos.Milestone))
	}

	if pos.Milestone > len(p.Milestones) {
		res.Errors = append(res.Errors, fmt.Sprintf(
			"milestone index %d exceeds program milestones count %d", pos.Milestone, len(p.Milestones)))
	} else if pos.Milestone == len(p.Milestones) && pos.Day != 0 {
		// terminal sentinel must have day 0
		res.Errors = append(res.Errors, fmt.Sprintf(
			"milestone index %d exceeds last milestone but day is %d", pos.Milestone, pos.Day))
	}

	if pos.Day < 0 {
		res.Errors = append(res.Errors, fmt.Sprintf("day index is negative: %d", pos.Day))
	}

	if pos.Milestone >= 0 && pos.Milestone < len(p.Milestones) {
		dayCount := len(p.Milestones[pos.Milestone].Days)
		if dayCount == 0 {
			res.Warnings = append(res.Warnings, fmt.Sprintf(
				"milestone %d has no days", pos.Milestone))
		} else if pos.Day >= dayCount {
			res.Errors = append(res.Errors, fmt.Sprintf(
				"day index %d exceeds milestone %d day count %d", pos.Day, pos.Milestone, dayCount))
		}
	}

	if !p.Published {
		res.Warnings = append(res.Warnings, "program is not published")
	}

	res.IsValid = len(res.Errors) == 0
	return res
}
