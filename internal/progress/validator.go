package progress

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/forgefit/forgefit/internal/program"
	"github.com/forgefit/forgefit/internal/telemetry/tracing"

	log "github.com/sirupsen/logrus"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

// ProposedUpdate carries the fields a caller wants to change. Nil pointer
// means "leave as is"; rules skip fields that are not being changed.
type ProposedUpdate struct {
	ProgramID              string     `json:"programId"`
	CurrentMilestone       *int       `json:"currentMilestone,omitempty"`
	CurrentDay             *int       `json:"currentDay,omitempty"`
	TotalWorkoutsCompleted *int       `json:"totalWorkoutsCompleted,omitempty"`
	LastWorkoutDate        *time.Time `json:"lastWorkoutDate,omitempty"`
}

// ValidationContext is everything one validation run looks at. Existing is
// the snapshot the caller believes is current; the concurrent-update rule
// compares it against a fresh read.
type ValidationContext struct {
	UserID   string
	Program  *program.Program
	Existing *UserProgress
	Proposed ProposedUpdate
}

// RuleResult is a single rule's verdict.
type RuleResult struct {
	IsValid bool
	Message string
	Details map[string]any
}

func rulePass() RuleResult {
	return RuleResult{IsValid: true}
}

func ruleFail(msg string) RuleResult {
	return RuleResult{IsValid: false, Message: msg}
}

// Rule is one independently pluggable validation check.
type Rule struct {
	ID       string
	Severity Severity
	Check    func(ctx context.Context, vc *ValidationContext) RuleResult
}

// Issue is a failed rule, bucketed by severity in the overall result.
type Issue struct {
	RuleID   string         `json:"ruleId"`
	Severity Severity       `json:"severity"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
}

// ValidationResult aggregates a full pipeline run. Warnings and info never
// block; IsValid is false only on error-severity failures.
type ValidationResult struct {
	IsValid         bool    `json:"isValid"`
	Errors          []Issue `json:"errors"`
	Warnings        []Issue `json:"warnings"`
	Info            []Issue `json:"info"`
	ValidationScore int     `json:"validationScore"`
	RulesTotal      int     `json:"rulesTotal"`
	RulesPassed     int     `json:"rulesPassed"`
}

// Validator runs an ordered pipeline of rules against a proposed progress
// update. Rules are addable and removable by id.
type Validator struct {
	progressRepo    *Repo
	completionsRepo *CompletionsRepo
	rules           []Rule
}

func NewValidator(progressRepo *Repo, completionsRepo *CompletionsRepo) *Validator {
	v := &Validator{
		progressRepo:    progressRepo,
		completionsRepo: completionsRepo,
	}
	v.rules = []Rule{
		{ID: "program_enrollment", Severity: SeverityError, Check: v.checkProgramEnrollment},
		{ID: "milestone_bounds", Severity: SeverityError, Check: v.checkMilestoneBounds},
		{ID: "day_bounds", Severity: SeverityError, Check: v.checkDayBounds},
		{ID: "progress_direction", Severity: SeverityWarning, Check: v.checkProgressDirection},
		{ID: "workout_count_consistency", Severity: SeverityWarning, Check: v.checkWorkoutCount},
		{ID: "time_sequence", Severity: SeverityWarning, Check: v.checkTimeSequence},
		{ID: "exercise_completion_integrity", Severity: SeverityError, Check: v.checkCompletionIntegrity},
		{ID: "data_types", Severity: SeverityError, Check: v.checkDataTypes},
		{ID: "concurrent_update_detection", Severity: SeverityError, Check: v.checkConcurrentUpdate},
		{ID: "business_rules", Severity: SeverityWarning, Check: v.checkBusinessRules},
	}
	return v
}

// AddRule appends a custom rule to the end of the pipeline.
func (v *Validator) AddRule(r Rule) {
	v.rules = append(v.rules, r)
}

// RemoveRule drops a rule by id, reporting whether it was present.
func (v *Validator) RemoveRule(id string) bool {
	for i, r := range v.rules {
		if r.ID == id {
			v.rules = append(v.rules[:i], v.rules[i+1:]...)
			return true
		}
	}
	return false
}

// Validate runs every rule in order. A panicking rule becomes an
// error-severity failure instead of taking the whole validation down.
// Score counts info-level failures as passed.
func (v *Validator) Validate(ctx context.Context, vc *ValidationContext) ValidationResult {
	ctx, span := tracing.GlobalTracer.Start(ctx, "progress.validate")
	defer span.End()

	res := ValidationResult{
		Errors:     []Issue{},
		Warnings:   []Issue{},
		Info:       []Issue{},
		RulesTotal: len(v.rules),
	}

	failed := 0
	for _, rule := range v.rules {
		ruleRes, panicked := v.runRule(ctx, rule, vc)
		if ruleRes.IsValid {
			continue
		}

		// a rule blowing up is always an error, whatever its declared severity
		severity := rule.Severity
		if panicked {
			severity = SeverityError
		}
		issue := Issue{
			RuleID:   rule.ID,
			Severity: severity,
			Message:  ruleRes.Message,
			Details:  ruleRes.Details,
		}
		switch severity {
		case SeverityError:
			res.Errors = append(res.Errors, issue)
			failed++
		case SeverityWarning:
			res.Warnings = append(res.Warnings, issue)
			failed++
		default:
			res.Info = append(res.Info, issue)
		}
	}

	res.IsValid = len(res.Errors) == 0
	res.RulesPassed = res.RulesTotal - failed
	if res.RulesTotal > 0 {
		res.ValidationScore = int(math.Round(float64(res.RulesPassed) / float64(res.RulesTotal) * 100))
	} else {
		res.ValidationScore = 100
	}
	return res
}

func (v *Validator) runRule(ctx context.Context, rule Rule, vc *ValidationContext) (res RuleResult, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("validation rule %s panicked: %v", rule.ID, r)
			res = ruleFail(fmt.Sprintf("rule %s failed internally: %v", rule.ID, r))
			panicked = true
		}
	}()
	return rule.Check(ctx, vc), false
}

func (v *Validator) checkProgramEnrollment(_ context.Context, vc *ValidationContext) RuleResult {
	if vc.Existing == nil {
		return ruleFail("user has no progress record for this program")
	}
	if vc.Existing.ProgramID != vc.Proposed.ProgramID {
		return RuleResult{
			IsValid: false,
			Message: fmt.Sprintf(
				"user is enrolled in program %s, not %s",
				vc.Existing.ProgramID, vc.Proposed.ProgramID,
			),
			Details: map[string]any{
				"enrolledProgramId": vc.Existing.ProgramID,
				"proposedProgramId": vc.Proposed.ProgramID,
			},
		}
	}
	return rulePass()
}

func (v *Validator) checkMilestoneBounds(_ context.Context, vc *ValidationContext) RuleResult {
	if vc.Proposed.CurrentMilestone == nil {
		return rulePass()
	}
	m := *vc.Proposed.CurrentMilestone
	if m < 0 || m > len(vc.Program.Milestones)-1 {
		return ruleFail(fmt.Sprintf(
			"milestone index %d outside [0, %d]", m, len(vc.Program.Milestones)-1))
	}
	return rulePass()
}

// effectiveMilestone is the milestone the update targets: proposed when
// given, the stored one otherwise.
func (vc *ValidationContext) effectiveMilestone() int {
	if vc.Proposed.CurrentMilestone != nil {
		return *vc.Proposed.CurrentMilestone
	}
	if vc.Existing != nil {
		return vc.Existing.CurrentMilestone
	}
	return 0
}

func (vc *ValidationContext) effectiveDay() int {
	if vc.Proposed.CurrentDay != nil {
		return *vc.Proposed.CurrentDay
	}
	if vc.Existing != nil {
		return vc.Existing.CurrentDay
	}
	return 0
}

func (v *Validator) checkDayBounds(_ context.Context, vc *ValidationContext) RuleResult {
	if vc.Proposed.CurrentDay == nil {
		return rulePass()
	}
	milestone := vc.effectiveMilestone()
	if milestone < 0 || milestone >= len(vc.Program.Milestones) {
		// milestone bounds rule reports that problem
		return rulePass()
	}
	d := *vc.Proposed.CurrentDay
	dayCount := len(vc.Program.Milestones[milestone].Days)
	if d < 0 || d > dayCount-1 {
		return ruleFail(fmt.Sprintf(
			"day index %d outside [0, %d] for milestone %d", d, dayCount-1, milestone))
	}
	return rulePass()
}

func (v *Validator) checkProgressDirection(_ context.Context, vc *ValidationContext) RuleResult {
	if vc.Existing == nil {
		return rulePass()
	}

	var flags []string
	if vc.Proposed.CurrentMilestone != nil && *vc.Proposed.CurrentMilestone < vc.Existing.CurrentMilestone {
		flags = append(flags, fmt.Sprintf(
			"milestone regression %d -> %d", vc.Existing.CurrentMilestone, *vc.Proposed.CurrentMilestone))
	}
	if vc.Proposed.CurrentDay != nil &&
		vc.effectiveMilestone() == vc.Existing.CurrentMilestone &&
		*vc.Proposed.CurrentDay < vc.Existing.CurrentDay {
		flags = append(flags, fmt.Sprintf(
			"day regression %d -> %d within milestone %d",
			vc.Existing.CurrentDay, *vc.Proposed.CurrentDay, vc.Existing.CurrentMilestone))
	}
	if vc.Proposed.TotalWorkoutsCompleted != nil &&
		*vc.Proposed.TotalWorkoutsCompleted < vc.Existing.TotalWorkoutsCompleted {
		flags = append(flags, fmt.Sprintf(
			"total workouts decreased %d -> %d",
			vc.Existing.TotalWorkoutsCompleted, *vc.Proposed.TotalWorkoutsCompleted))
	}

	if len(flags) > 0 {
		return ruleFail(strings.Join(flags, "; "))
	}
	return rulePass()
}

// expectedWorkoutDays counts workout days before the effective position.
// inclusiveDay controls whether the effective day itself is counted, the
// only difference between the count-consistency and completion-integrity
// expectations.
func expectedWorkoutDays(p *program.Program, milestone, day int, inclusiveDay bool) int {
	expected := 0
	for mi, m := range p.Milestones {
		if mi < milestone {
			for _, d := range m.Days {
				if d.Type == program.DayTypeWorkout {
					expected++
				}
			}
			continue
		}
		if mi == milestone {
			for di, d := range m.Days {
				if d.Type != program.DayTypeWorkout {
					continue
				}
				if di < day || (inclusiveDay && di == day) {
					expected++
				}
			}
		}
	}
	return expected
}

func (v *Validator) checkWorkoutCount(_ context.Context, vc *ValidationContext) RuleResult {
	if vc.Proposed.TotalWorkoutsCompleted == nil {
		return rulePass()
	}

	expected := expectedWorkoutDays(vc.Program, vc.effectiveMilestone(), vc.effectiveDay(), true)
	tolerance := int(math.Floor(float64(expected) * 0.10))
	if tolerance < 2 {
		tolerance = 2
	}

	proposed := *vc.Proposed.TotalWorkoutsCompleted
	diff := proposed - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return RuleResult{
			IsValid: false,
			Message: fmt.Sprintf(
				"total workouts %d deviates from expected %d by more than %d",
				proposed, expected, tolerance),
			Details: map[string]any{
				"expected":  expected,
				"proposed":  proposed,
				"tolerance": tolerance,
			},
		}
	}
	return rulePass()
}

func (v *Validator) checkTimeSequence(_ context.Context, vc *ValidationContext) RuleResult {
	if vc.Proposed.LastWorkoutDate == nil {
		return rulePass()
	}
	proposed := *vc.Proposed.LastWorkoutDate
	if proposed.After(time.Now()) {
		return ruleFail(fmt.Sprintf("last workout date %s is in the future", proposed.Format(time.RFC3339)))
	}
	if vc.Existing != nil && vc.Existing.LastWorkoutDate != nil {
		existing := *vc.Existing.LastWorkoutDate
		if existing.Sub(proposed) > 7*24*time.Hour {
			return ruleFail(fmt.Sprintf(
				"last workout date %s precedes the recorded %s by more than 7 days",
				proposed.Format(time.RFC3339), existing.Format(time.RFC3339)))
		}
	}
	return rulePass()
}

func (v *Validator) checkCompletionIntegrity(ctx context.Context, vc *ValidationContext) RuleResult {
	completedDays, err := v.completionsRepo.DistinctCompletedDays(ctx, vc.UserID, vc.Proposed.ProgramID)
	if err != nil {
		return RuleResult{
			IsValid: false,
			Message: fmt.Sprintf("exercise completion query failed: %s", err),
			Details: map[string]any{"queryError": err.Error()},
		}
	}

	// the effective day may still be in progress, so it is not expected
	// to carry completions yet
	expected := expectedWorkoutDays(vc.Program, vc.effectiveMilestone(), vc.effectiveDay(), false)

	const tolerance = 2
	diff := completedDays - expected
	if diff < 0 {
		diff = -diff
	}
	if diff > tolerance {
		return RuleResult{
			IsValid: false,
			Message: fmt.Sprintf(
				"%d days with recorded completions deviates from expected %d by more than %d",
				completedDays, expected, tolerance),
			Details: map[string]any{
				"completedDays": completedDays,
				"expected":      expected,
				"tolerance":     tolerance,
			},
		}
	}
	return rulePass()
}

func (v *Validator) checkDataTypes(_ context.Context, vc *ValidationContext) RuleResult {
	var flags []string
	if vc.Proposed.CurrentMilestone != nil && *vc.Proposed.CurrentMilestone < 0 {
		flags = append(flags, fmt.Sprintf("currentMilestone is negative: %d", *vc.Proposed.CurrentMilestone))
	}
	if vc.Proposed.CurrentDay != nil && *vc.Proposed.CurrentDay < 0 {
		flags = append(flags, fmt.Sprintf("currentDay is negative: %d", *vc.Proposed.CurrentDay))
	}
	if vc.Proposed.TotalWorkoutsCompleted != nil {
		total := *vc.Proposed.TotalWorkoutsCompleted
		if total < 0 {
			flags = append(flags, fmt.Sprintf("totalWorkoutsCompleted is negative: %d", total))
		}
		if total > 10000 {
			flags = append(flags, fmt.Sprintf("totalWorkoutsCompleted exceeds the 10000 cap: %d", total))
		}
	}
	if vc.Proposed.LastWorkoutDate != nil && vc.Proposed.LastWorkoutDate.IsZero() {
		flags = append(flags, "lastWorkoutDate is not a valid date")
	}

	if len(flags) > 0 {
		return ruleFail(strings.Join(flags, "; "))
	}
	return rulePass()
}

// checkConcurrentUpdate is the optimistic concurrency check: the stored
// record is re-read and compared field by field against the snapshot the
// caller based its update on.
func (v *Validator) checkConcurrentUpdate(ctx context.Context, vc *ValidationContext) RuleResult {
	if vc.Existing == nil {
		return rulePass()
	}

	current, err := v.progressRepo.GetByUser(ctx, vc.UserID)
	if err != nil {
		return ruleFail(fmt.Sprintf("re-reading current progress failed: %s", err))
	}

	conflicts := map[string]bool{
		"program":         current.ProgramID != vc.Existing.ProgramID,
		"milestone":       current.CurrentMilestone != vc.Existing.CurrentMilestone,
		"day":             current.CurrentDay != vc.Existing.CurrentDay,
		"totalWorkouts":   current.TotalWorkoutsCompleted != vc.Existing.TotalWorkoutsCompleted,
		"lastWorkoutDate": !equalTimePtr(current.LastWorkoutDate, vc.Existing.LastWorkoutDate),
	}

	conflicted := false
	for _, c := range conflicts {
		if c {
			conflicted = true
			break
		}
	}
	if conflicted {
		return RuleResult{
			IsValid: false,
			Message: "progress was modified concurrently, reload and retry",
			Details: map[string]any{
				"conflicts": conflicts,
				"current": map[string]any{
					"programId":              current.ProgramID,
					"currentMilestone":       current.CurrentMilestone,
					"currentDay":             current.CurrentDay,
					"totalWorkoutsCompleted": current.TotalWorkoutsCompleted,
				},
			},
		}
	}
	return rulePass()
}

func equalTimePtr(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

func (v *Validator) checkBusinessRules(_ context.Context, vc *ValidationContext) RuleResult {
	if vc.Existing == nil {
		return rulePass()
	}

	var flags []string
	if vc.Proposed.CurrentMilestone != nil &&
		*vc.Proposed.CurrentMilestone-vc.Existing.CurrentMilestone > 1 {
		flags = append(flags, fmt.Sprintf(
			"milestone jump %d -> %d skips more than one milestone",
			vc.Existing.CurrentMilestone, *vc.Proposed.CurrentMilestone))
	}
	if vc.Proposed.CurrentDay != nil &&
		vc.effectiveMilestone() == vc.Existing.CurrentMilestone &&
		*vc.Proposed.CurrentDay-vc.Existing.CurrentDay > 3 {
		flags = append(flags, fmt.Sprintf(
			"day jump %d -> %d skips more than 3 days",
			vc.Existing.CurrentDay, *vc.Proposed.CurrentDay))
	}
	if frequency, flagged := impliedWorkoutFrequency(vc); flagged {
		flags = append(flags, fmt.Sprintf(
			"implied workout frequency %.1f/day exceeds 3/day", frequency))
	}

	if len(flags) > 0 {
		return ruleFail(strings.Join(flags, "; "))
	}
	return rulePass()
}

// impliedWorkoutFrequency derives workouts-per-day from the workout count
// delta and the elapsed time between the old and new last-workout dates.
func impliedWorkoutFrequency(vc *ValidationContext) (float64, bool) {
	if vc.Proposed.TotalWorkoutsCompleted == nil ||
		vc.Proposed.LastWorkoutDate == nil ||
		vc.Existing.LastWorkoutDate == nil {
		return 0, false
	}
	added := *vc.Proposed.TotalWorkoutsCompleted - vc.Existing.TotalWorkoutsCompleted
	if added <= 0 {
		return 0, false
	}

	elapsed := vc.Proposed.LastWorkoutDate.Sub(*vc.Existing.LastWorkoutDate)
	if elapsed <= 0 {
		// everything added in no elapsed time: more than 3 is suspect
		return float64(added), added > 3
	}
	elapsedDays := elapsed.Hours() / 24
	if elapsedDays < 1 {
		elapsedDays = 1
	}
	frequency := float64(added) / elapsedDays
	return frequency, frequency > 3
}
