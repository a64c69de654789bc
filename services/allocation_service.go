package services

import (
	"fmt"
	"math"
)

// MinAssessmentsForFullBudget is the minimum number of graded events a course
// must spread its marks over once the full budget is consumed. Prevents a
// single giant assessment from making CLO attainment statistically fragile.
const MinAssessmentsForFullBudget = 3

// AssessmentWeight is the slice of an existing assessment the distribution
// rules care about.
type AssessmentWeight struct {
	AssessmentID uint
	MaxMarks     float64
}

// ConcentrationCap returns the largest max-marks value a single assessment may
// carry while the course still has fewer than MinAssessmentsForFullBudget
// graded events.
func ConcentrationCap(totalBudget float64) float64 {
	return math.Ceil(totalBudget * 0.5)
}

// ValidateDistribution decides whether a proposed assessment (new or edited)
// with candidateMaxMarks is admissible under the course's marks budget and
// minimum-distribution policy. existing holds the course's other assessments;
// excludeID removes the assessment being edited from consideration (0 for a
// new assessment). Pure function, no I/O.
func ValidateDistribution(totalBudget float64, existing []AssessmentWeight, candidateMaxMarks float64, excludeID uint) error {
	if candidateMaxMarks < 0 {
		return NewValidationError("max_marks", "max marks cannot be negative")
	}

	var otherTotal float64
	otherCount := 0
	for _, a := range existing {
		if excludeID != 0 && a.AssessmentID == excludeID {
			continue
		}
		otherTotal += a.MaxMarks
		if a.MaxMarks > 0 {
			otherCount++
		}
	}

	projectedTotal := otherTotal + candidateMaxMarks
	countAfter := otherCount
	if candidateMaxMarks > 0 {
		countAfter++
	}

	if projectedTotal > totalBudget {
		return NewValidationError("max_marks", fmt.Sprintf(
			"total assessment marks %.0f would exceed the course budget of %.0f (%.0f already allocated)",
			projectedTotal, totalBudget, otherTotal))
	}

	// Completion-requires-spread: exhausting the full budget demands at least
	// MinAssessmentsForFullBudget graded events.
	if projectedTotal == totalBudget && countAfter < MinAssessmentsForFullBudget {
		return NewValidationError("max_marks", fmt.Sprintf(
			"completing the full marks budget of %.0f requires at least %d assessments, only %d would exist",
			totalBudget, MinAssessmentsForFullBudget, countAfter))
	}

	// Anti-concentration: while fewer than 3 assessments exist, no single one
	// may carry more than half the budget.
	cap := ConcentrationCap(totalBudget)
	if candidateMaxMarks > cap && countAfter <= 2 {
		return NewValidationError("max_marks", fmt.Sprintf(
			"a single assessment cannot carry more than %.0f marks (half the course budget) while fewer than %d assessments exist",
			cap, MinAssessmentsForFullBudget))
	}

	return nil
}

// CloAllocationInput is one CLO's share of an assessment, as proposed by the
// caller. A nil Threshold inherits the CLO's default attainment threshold; an
// explicit value, including 0, overrides it for this assessment.
type CloAllocationInput struct {
	CloID          uint     `json:"clo_id"`
	MarksAllocated float64  `json:"marks_allocated"`
	Threshold      *float64 `json:"threshold"`
}

// ValidateCloAllocations checks the distribution of one assessment's max marks
// across its mapped CLOs. Failures are reported as field-level errors so the
// caller can surface them against individual form fields.
func ValidateCloAllocations(assessmentMaxMarks float64, allocs []CloAllocationInput) error {
	ve := &ValidationError{}

	if len(allocs) == 0 {
		return ve.Add("allocations", "an assessment must test at least one CLO")
	}

	seen := make(map[uint]bool, len(allocs))
	var sum float64
	anyPositive := false
	for i, a := range allocs {
		field := fmt.Sprintf("allocations[%d]", i)
		if a.CloID == 0 {
			ve.Add(field+".clo_id", "clo_id is required")
		}
		if seen[a.CloID] {
			ve.Add(field+".clo_id", fmt.Sprintf("CLO %d is allocated more than once", a.CloID))
		}
		seen[a.CloID] = true
		if a.MarksAllocated < 0 {
			ve.Add(field+".marks_allocated", "allocated marks cannot be negative")
		}
		if a.Threshold != nil && (*a.Threshold < 0 || *a.Threshold > 100) {
			ve.Add(field+".threshold", "threshold must be between 0 and 100")
		}
		sum += a.MarksAllocated
		if a.MarksAllocated > 0 {
			anyPositive = true
		}
	}

	if sum > assessmentMaxMarks {
		ve.Add("allocations", fmt.Sprintf(
			"allocated CLO marks total %.1f exceeds the assessment max of %.1f", sum, assessmentMaxMarks))
	}
	if !anyPositive {
		ve.Add("allocations", "at least one CLO must have marks allocated")
	}

	if ve.HasErrors() {
		return ve
	}
	return nil
}

// ComputeWeightage returns the informational percentage marks represent of
// assessmentMaxMarks, rounded to the nearest whole percent. Display only.
func ComputeWeightage(marks, assessmentMaxMarks float64) float64 {
	if assessmentMaxMarks <= 0 {
		return 0
	}
	return math.Round(marks / assessmentMaxMarks * 100)
}
