package services

import (
	"errors"
	"testing"

	"github.com/outcome-edu/obe-backend/model"
)

func finalizedAssessment(id, courseID uint, maxMarks float64) model.Assessment {
	return model.Assessment{
		ID:               id,
		CourseID:         courseID,
		Title:            "Test Assessment",
		MaxMarks:         maxMarks,
		IsMarksFinalized: true,
	}
}

func allocation(cloID uint, code string, marks, threshold float64) model.AssessmentCloAllocation {
	return model.AssessmentCloAllocation{
		CloID:          cloID,
		MarksAllocated: marks,
		Threshold:      threshold,
		Clo:            model.CourseOutcome{ID: cloID, Code: code},
	}
}

func TestAnalyzePerformanceRejectsDraft(t *testing.T) {
	assessment := finalizedAssessment(1, 1, 30)
	assessment.IsMarksFinalized = false

	_, err := AnalyzePerformance(assessment, nil, nil, nil)
	if !errors.Is(err, ErrAssessmentNotFinalized) {
		t.Errorf("expected ErrAssessmentNotFinalized, got %v", err)
	}
}

func TestAnalyzePerformanceAttainment(t *testing.T) {
	assessment := finalizedAssessment(1, 1, 30)
	allocations := []model.AssessmentCloAllocation{
		allocation(10, "CLO1", 20, 50),
		allocation(11, "CLO2", 10, 60),
	}
	students := []model.Student{
		{ID: 100, RollNumber: "R001", Name: "Asha"},
		{ID: 101, RollNumber: "R002", Name: "Bala"},
		{ID: 102, RollNumber: "R003", Name: "Chitra"},
	}
	entries := []model.MarkEntry{
		// Asha: CLO1 15/20 = 75% >= 50, CLO2 6/10 = 60% >= 60 -> overall attained
		{AssessmentID: 1, StudentID: 100, CloID: 10, MarksObtained: 15},
		{AssessmentID: 1, StudentID: 100, CloID: 11, MarksObtained: 6},
		// Bala: CLO1 8/20 = 40% < 50 -> overall not attained, CLO2 9/10 = 90%
		{AssessmentID: 1, StudentID: 101, CloID: 10, MarksObtained: 8},
		{AssessmentID: 1, StudentID: 101, CloID: 11, MarksObtained: 9},
		// Chitra: no entries at all -> counts as zero everywhere
	}

	report, err := AnalyzePerformance(assessment, allocations, students, entries)
	if err != nil {
		t.Fatalf("AnalyzePerformance() error = %v", err)
	}

	if report.TotalStudents != 3 {
		t.Errorf("TotalStudents = %d, want 3", report.TotalStudents)
	}
	if len(report.Students) != 3 {
		t.Fatalf("len(Students) = %d, want 3", len(report.Students))
	}

	asha := report.Students[0]
	if !asha.OverallAttained {
		t.Error("Asha attained every CLO and should be overall attained")
	}
	if asha.TotalPercentage != 70.0 {
		t.Errorf("Asha TotalPercentage = %.1f, want 70.0", asha.TotalPercentage)
	}

	bala := report.Students[1]
	if bala.OverallAttained {
		t.Error("Bala missed CLO1 and must not be overall attained")
	}
	// One failed CLO must not hide the attained one
	if !bala.CloResults[1].Attained {
		t.Error("Bala attained CLO2")
	}

	chitra := report.Students[2]
	if chitra.TotalObtained != 0 || chitra.OverallAttained {
		t.Errorf("missing entries must count as zero: obtained=%.1f attained=%v",
			chitra.TotalObtained, chitra.OverallAttained)
	}

	// CLO1 class average excludes Chitra's zero: (75 + 40) / 2 = 57.5
	clo1 := report.CloStats[0]
	if clo1.AveragePercentage != 57.5 {
		t.Errorf("CLO1 AveragePercentage = %.1f, want 57.5 (zero scores excluded)", clo1.AveragePercentage)
	}
	if clo1.StudentsAttained != 1 {
		t.Errorf("CLO1 StudentsAttained = %d, want 1", clo1.StudentsAttained)
	}
	// Attained percentage is over ALL students: 1/3
	if clo1.AttainedPercentage != 33.3 {
		t.Errorf("CLO1 AttainedPercentage = %.1f, want 33.3", clo1.AttainedPercentage)
	}

	// Class average is over all students including zeros: (70 + 56.67 + 0) / 3
	if report.ClassAverage != 42.2 {
		t.Errorf("ClassAverage = %.1f, want 42.2", report.ClassAverage)
	}
	if report.MaxScore != 70.0 {
		t.Errorf("MaxScore = %.1f, want 70.0", report.MaxScore)
	}
	if report.MinScore != 0.0 {
		t.Errorf("MinScore = %.1f, want 0.0", report.MinScore)
	}
}

func TestAnalyzePerformanceThresholdUsesUnroundedPercentage(t *testing.T) {
	assessment := finalizedAssessment(1, 1, 30)
	// 3 marks allocated, threshold 55: 1.66/3 = 55.33...% attains even though
	// the displayed percentage rounds to 55.3
	allocations := []model.AssessmentCloAllocation{allocation(10, "CLO1", 3, 55)}
	students := []model.Student{{ID: 100, RollNumber: "R001", Name: "Asha"}}
	entries := []model.MarkEntry{{AssessmentID: 1, StudentID: 100, CloID: 10, MarksObtained: 1.66}}

	report, err := AnalyzePerformance(assessment, allocations, students, entries)
	if err != nil {
		t.Fatalf("AnalyzePerformance() error = %v", err)
	}

	result := report.Students[0].CloResults[0]
	if !result.Attained {
		t.Error("threshold comparison must use the unrounded percentage")
	}
	if result.Percentage != 55.3 {
		t.Errorf("displayed percentage = %.1f, want 55.3", result.Percentage)
	}
}

func TestAnalyzePerformanceExactThresholdAttains(t *testing.T) {
	assessment := finalizedAssessment(1, 1, 20)
	allocations := []model.AssessmentCloAllocation{allocation(10, "CLO1", 20, 50)}
	students := []model.Student{{ID: 100, RollNumber: "R001", Name: "Asha"}}
	entries := []model.MarkEntry{{AssessmentID: 1, StudentID: 100, CloID: 10, MarksObtained: 10}}

	report, err := AnalyzePerformance(assessment, allocations, students, entries)
	if err != nil {
		t.Fatalf("AnalyzePerformance() error = %v", err)
	}
	if !report.Students[0].CloResults[0].Attained {
		t.Error("a percentage exactly at the threshold attains")
	}
}

func TestCombineReportsRejectsEmptyAndMixedCourses(t *testing.T) {
	if _, err := CombineReports(nil); err == nil {
		t.Error("expected error for no reports")
	}

	a := &PerformanceReport{CourseID: 1, AssessmentID: 1}
	b := &PerformanceReport{CourseID: 2, AssessmentID: 2}
	if _, err := CombineReports([]*PerformanceReport{a, b}); err == nil {
		t.Error("expected error for reports from different courses")
	}
}

// buildReport constructs a single-CLO report where the student either attained
// or missed the CLO, for exercising the majority rule.
func buildReport(assessmentID uint, attained bool, obtained, max float64) *PerformanceReport {
	return &PerformanceReport{
		CourseID:     1,
		AssessmentID: assessmentID,
		Students: []StudentPerformance{
			{
				StudentID:  100,
				RollNumber: "R001",
				Name:       "Asha",
				CloResults: []CloResult{
					{CloID: 10, CloCode: "CLO1", MarksObtained: obtained, MaxMarks: max, Attained: attained},
				},
				OverallAttained: attained,
			},
		},
	}
}

func TestCombineReportsMajorityRule(t *testing.T) {
	tests := []struct {
		name         string
		attainments  []bool
		wantAttained bool
		wantRate     float64
	}{
		{"three of four is 75 percent", []bool{true, true, true, false}, true, 75.0},
		{"two of three is below 70", []bool{true, true, false}, false, 66.7},
		{"seven of ten exactly 70", []bool{true, true, true, true, true, true, true, false, false, false}, true, 70.0},
		{"all attained", []bool{true, true}, true, 100.0},
		{"none attained", []bool{false, false}, false, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reports := make([]*PerformanceReport, 0, len(tt.attainments))
			for i, attained := range tt.attainments {
				obtained := 2.0
				if attained {
					obtained = 8.0
				}
				reports = append(reports, buildReport(uint(i+1), attained, obtained, 10))
			}

			combined, err := CombineReports(reports)
			if err != nil {
				t.Fatalf("CombineReports() error = %v", err)
			}

			student := combined.Students[0]
			clo := student.CloResults[0]
			if clo.Attained != tt.wantAttained {
				t.Errorf("CLO attained = %v, want %v", clo.Attained, tt.wantAttained)
			}
			if clo.AttainmentRate != tt.wantRate {
				t.Errorf("AttainmentRate = %.1f, want %.1f", clo.AttainmentRate, tt.wantRate)
			}
			if student.OverallAttained != tt.wantAttained {
				t.Errorf("OverallAttained = %v, want %v", student.OverallAttained, tt.wantAttained)
			}
		})
	}
}

func TestCombineReportsCumulativePercentage(t *testing.T) {
	reports := []*PerformanceReport{
		buildReport(1, true, 8, 10),
		buildReport(2, false, 3, 20),
	}

	combined, err := CombineReports(reports)
	if err != nil {
		t.Fatalf("CombineReports() error = %v", err)
	}

	clo := combined.Students[0].CloResults[0]
	if clo.TotalObtained != 11 || clo.TotalMax != 30 {
		t.Errorf("cumulative totals = %.1f/%.1f, want 11/30", clo.TotalObtained, clo.TotalMax)
	}
	// 11/30 = 36.666... -> 36.7
	if clo.Percentage != 36.7 {
		t.Errorf("cumulative percentage = %.1f, want 36.7", clo.Percentage)
	}
	if combined.TotalStudents != 1 {
		t.Errorf("TotalStudents = %d, want 1", combined.TotalStudents)
	}
	if len(combined.AssessmentIDs) != 2 {
		t.Errorf("AssessmentIDs = %v, want two entries", combined.AssessmentIDs)
	}
}

func TestCombineReportsClassStatsZeroRateFilter(t *testing.T) {
	// Two students: one attains everywhere, one has a zero rate. The average
	// attainment rate must only cover the student with a nonzero rate.
	r := &PerformanceReport{
		CourseID:     1,
		AssessmentID: 1,
		Students: []StudentPerformance{
			{
				StudentID: 100, RollNumber: "R001", Name: "Asha",
				CloResults:      []CloResult{{CloID: 10, CloCode: "CLO1", MarksObtained: 8, MaxMarks: 10, Attained: true}},
				OverallAttained: true,
			},
			{
				StudentID: 101, RollNumber: "R002", Name: "Bala",
				CloResults:      []CloResult{{CloID: 10, CloCode: "CLO1", MarksObtained: 0, MaxMarks: 10, Attained: false}},
				OverallAttained: false,
			},
		},
	}

	combined, err := CombineReports([]*PerformanceReport{r})
	if err != nil {
		t.Fatalf("CombineReports() error = %v", err)
	}

	stat := combined.CloStats[0]
	if stat.StudentsAttained != 1 {
		t.Errorf("StudentsAttained = %d, want 1", stat.StudentsAttained)
	}
	if stat.AverageAttainmentRate != 100.0 {
		t.Errorf("AverageAttainmentRate = %.1f, want 100.0 (zero rates excluded)", stat.AverageAttainmentRate)
	}
}

func TestRound1(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{66.666, 66.7},
		{66.64, 66.6},
		{0, 0},
		{99.95, 100},
	}
	for _, tt := range tests {
		if got := Round1(tt.in); got != tt.want {
			t.Errorf("Round1(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
