package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/utils/cache"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// CombinedAttainmentRate is the cross-assessment majority rule: a student
// attains a CLO (or a course overall) in combined mode when they attained it
// in at least this percentage of the finalized assessments. Deliberately
// coarser than the per-assessment CLO thresholds.
const CombinedAttainmentRate = 70.0

// reportCacheTTL bounds how stale a cached report may get
const reportCacheTTL = 10 * time.Minute

// CloResult is one student's outcome on one CLO within one assessment
type CloResult struct {
	CloID         uint    `json:"clo_id"`
	CloCode       string  `json:"clo_code"`
	MarksObtained float64 `json:"marks_obtained"`
	MaxMarks      float64 `json:"max_marks"`
	Percentage    float64 `json:"percentage"` // rounded to 1 decimal place
	Threshold     float64 `json:"threshold"`
	Attained      bool    `json:"attained"`
}

// StudentPerformance is one student's outcome on one assessment
type StudentPerformance struct {
	StudentID       uint        `json:"student_id"`
	RollNumber      string      `json:"roll_number"`
	Name            string      `json:"name"`
	CloResults      []CloResult `json:"clo_results"`
	TotalObtained   float64     `json:"total_obtained"`
	TotalMax        float64     `json:"total_max"`
	TotalPercentage float64     `json:"total_percentage"` // rounded to 1 decimal place
	OverallAttained bool        `json:"overall_attained"` // AND across every mapped CLO
}

// CloStatistics is the class-level view of one CLO on one assessment
type CloStatistics struct {
	CloID              uint    `json:"clo_id"`
	CloCode            string  `json:"clo_code"`
	AveragePercentage  float64 `json:"average_percentage"` // over students with marks > 0
	StudentsAttained   int     `json:"students_attained"`
	AttainedPercentage float64 `json:"attained_percentage"` // over all students
}

// PerformanceReport is the single-assessment attainment analysis
type PerformanceReport struct {
	AssessmentID    uint                 `json:"assessment_id"`
	CourseID        uint                 `json:"course_id"`
	AssessmentTitle string               `json:"assessment_title"`
	MaxMarks        float64              `json:"max_marks"`
	TotalStudents   int                  `json:"total_students"`
	Students        []StudentPerformance `json:"students"`
	CloStats        []CloStatistics      `json:"clo_stats"`
	ClassAverage    float64              `json:"class_average"` // mean total percentage over ALL students
	MaxScore        float64              `json:"max_score"`
	MinScore        float64              `json:"min_score"`
}

// AnalyzePerformance computes the attainment report for one finalized
// assessment from an in-memory ledger snapshot. Pure function: no I/O.
// Draft assessments are rejected so the finalized-only invariant is held
// here rather than trusted to every caller.
func AnalyzePerformance(assessment model.Assessment, allocations []model.AssessmentCloAllocation, students []model.Student, entries []model.MarkEntry) (*PerformanceReport, error) {
	if !assessment.IsMarksFinalized {
		return nil, ErrAssessmentNotFinalized
	}

	marks := make(map[uint]map[uint]float64, len(students)) // studentID -> cloID -> obtained
	for _, e := range entries {
		if marks[e.StudentID] == nil {
			marks[e.StudentID] = make(map[uint]float64)
		}
		marks[e.StudentID][e.CloID] = e.MarksObtained
	}

	report := &PerformanceReport{
		AssessmentID:    assessment.ID,
		CourseID:        assessment.CourseID,
		AssessmentTitle: assessment.Title,
		MaxMarks:        assessment.MaxMarks,
		TotalStudents:   len(students),
	}

	type cloAccumulator struct {
		sumPercentage float64 // over students with marks > 0
		scored        int
		attained      int
	}
	acc := make(map[uint]*cloAccumulator, len(allocations))
	for _, a := range allocations {
		acc[a.CloID] = &cloAccumulator{}
	}

	var classSum, maxScore, minScore float64
	for i, st := range students {
		sp := StudentPerformance{
			StudentID:       st.ID,
			RollNumber:      st.RollNumber,
			Name:            st.Name,
			OverallAttained: len(allocations) > 0,
		}

		for _, a := range allocations {
			obtained := marks[st.ID][a.CloID] // missing entry counts as 0
			var pct float64
			if a.MarksAllocated > 0 {
				pct = obtained / a.MarksAllocated * 100
			}
			attained := pct >= a.Threshold

			sp.CloResults = append(sp.CloResults, CloResult{
				CloID:         a.CloID,
				CloCode:       a.Clo.Code,
				MarksObtained: obtained,
				MaxMarks:      a.MarksAllocated,
				Percentage:    Round1(pct),
				Threshold:     a.Threshold,
				Attained:      attained,
			})

			sp.TotalObtained += obtained
			sp.TotalMax += a.MarksAllocated
			if !attained {
				sp.OverallAttained = false
			}

			ca := acc[a.CloID]
			if obtained > 0 {
				// Students with an exact zero are excluded from the class
				// average. Preserved from the original attainment tooling.
				ca.sumPercentage += pct
				ca.scored++
			}
			if attained {
				ca.attained++
			}
		}

		var totalPct float64
		if sp.TotalMax > 0 {
			totalPct = sp.TotalObtained / sp.TotalMax * 100
		}
		sp.TotalPercentage = Round1(totalPct)

		classSum += totalPct
		if i == 0 || totalPct > maxScore {
			maxScore = totalPct
		}
		if i == 0 || totalPct < minScore {
			minScore = totalPct
		}

		report.Students = append(report.Students, sp)
	}

	for _, a := range allocations {
		ca := acc[a.CloID]
		stat := CloStatistics{
			CloID:            a.CloID,
			CloCode:          a.Clo.Code,
			StudentsAttained: ca.attained,
		}
		if ca.scored > 0 {
			stat.AveragePercentage = Round1(ca.sumPercentage / float64(ca.scored))
		}
		if len(students) > 0 {
			stat.AttainedPercentage = Round1(float64(ca.attained) / float64(len(students)) * 100)
		}
		report.CloStats = append(report.CloStats, stat)
	}

	if len(students) > 0 {
		report.ClassAverage = Round1(classSum / float64(len(students)))
		report.MaxScore = Round1(maxScore)
		report.MinScore = Round1(minScore)
	}

	return report, nil
}

// CombinedCloResult is one student's cumulative outcome on one CLO across assessments
type CombinedCloResult struct {
	CloID           uint    `json:"clo_id"`
	CloCode         string  `json:"clo_code"`
	TotalObtained   float64 `json:"total_obtained"`
	TotalMax        float64 `json:"total_max"`
	Percentage      float64 `json:"percentage"` // cumulative, rounded to 1 decimal place
	AttainedCount   int     `json:"attained_count"`
	AssessmentCount int     `json:"assessment_count"`
	AttainmentRate  float64 `json:"attainment_rate"` // attained/assessments * 100, 1 decimal place
	Attained        bool    `json:"attained"`        // attainment rate >= 70%
}

// CombinedStudentPerformance is one student's outcome across all finalized assessments
type CombinedStudentPerformance struct {
	StudentID            uint                `json:"student_id"`
	RollNumber           string              `json:"roll_number"`
	Name                 string              `json:"name"`
	CloResults           []CombinedCloResult `json:"clo_results"`
	AssessmentsAttained  int                 `json:"assessments_attained"`
	AssessmentsAttempted int                 `json:"assessments_attempted"`
	OverallAttained      bool                `json:"overall_attained"` // attained/attempted >= 70%
}

// CombinedCloStatistics is the class-level combined view of one CLO
type CombinedCloStatistics struct {
	CloID                 uint    `json:"clo_id"`
	CloCode               string  `json:"clo_code"`
	StudentsAttained      int     `json:"students_attained"`       // attainment rate >= 70%
	AverageAttainmentRate float64 `json:"average_attainment_rate"` // over students with a nonzero rate
}

// CombinedReport is the cross-assessment attainment analysis for a course
type CombinedReport struct {
	CourseID      uint                         `json:"course_id"`
	AssessmentIDs []uint                       `json:"assessment_ids"`
	TotalStudents int                          `json:"total_students"`
	Students      []CombinedStudentPerformance `json:"students"`
	CloStats      []CombinedCloStatistics      `json:"clo_stats"`
}

// CombineReports folds per-assessment reports into the cross-assessment view.
// Per CLO a student's cumulative percentage sums obtained/max across
// assessments, while attainment uses the majority rule: attained in at least
// 70% of the assessments the CLO appeared in. Pure function.
func CombineReports(reports []*PerformanceReport) (*CombinedReport, error) {
	if len(reports) == 0 {
		return nil, NewValidationError("assessments", "no finalized assessments to combine")
	}
	courseID := reports[0].CourseID
	for _, r := range reports {
		if r.CourseID != courseID {
			return nil, NewValidationError("assessments", "reports belong to different courses")
		}
	}

	type cloAgg struct {
		code            string
		obtained, max   float64
		attained, count int
	}
	type studentAgg struct {
		roll, name          string
		clos                map[uint]*cloAgg
		cloOrder            []uint
		attained, attempted int
	}

	studentOrder := []uint{}
	students := make(map[uint]*studentAgg)

	cloOrder := []uint{}
	cloCodes := make(map[uint]string)

	for _, r := range reports {
		for _, sp := range r.Students {
			sa, ok := students[sp.StudentID]
			if !ok {
				sa = &studentAgg{roll: sp.RollNumber, name: sp.Name, clos: make(map[uint]*cloAgg)}
				students[sp.StudentID] = sa
				studentOrder = append(studentOrder, sp.StudentID)
			}
			sa.attempted++
			if sp.OverallAttained {
				sa.attained++
			}
			for _, cr := range sp.CloResults {
				ca, ok := sa.clos[cr.CloID]
				if !ok {
					ca = &cloAgg{code: cr.CloCode}
					sa.clos[cr.CloID] = ca
					sa.cloOrder = append(sa.cloOrder, cr.CloID)
				}
				ca.obtained += cr.MarksObtained
				ca.max += cr.MaxMarks
				ca.count++
				if cr.Attained {
					ca.attained++
				}
				if _, ok := cloCodes[cr.CloID]; !ok {
					cloCodes[cr.CloID] = cr.CloCode
					cloOrder = append(cloOrder, cr.CloID)
				}
			}
		}
	}

	combined := &CombinedReport{
		CourseID:      courseID,
		TotalStudents: len(studentOrder),
	}
	for _, r := range reports {
		combined.AssessmentIDs = append(combined.AssessmentIDs, r.AssessmentID)
	}

	type classCloAgg struct {
		attained int
		rateSum  float64
		rated    int
	}
	classStats := make(map[uint]*classCloAgg, len(cloOrder))
	for _, id := range cloOrder {
		classStats[id] = &classCloAgg{}
	}

	for _, sid := range studentOrder {
		sa := students[sid]
		csp := CombinedStudentPerformance{
			StudentID:            sid,
			RollNumber:           sa.roll,
			Name:                 sa.name,
			AssessmentsAttained:  sa.attained,
			AssessmentsAttempted: sa.attempted,
		}
		if sa.attempted > 0 {
			csp.OverallAttained = float64(sa.attained)/float64(sa.attempted)*100 >= CombinedAttainmentRate
		}

		for _, cloID := range sa.cloOrder {
			ca := sa.clos[cloID]
			var pct, rate float64
			if ca.max > 0 {
				pct = ca.obtained / ca.max * 100
			}
			if ca.count > 0 {
				rate = float64(ca.attained) / float64(ca.count) * 100
			}
			attained := rate >= CombinedAttainmentRate

			csp.CloResults = append(csp.CloResults, CombinedCloResult{
				CloID:           cloID,
				CloCode:         ca.code,
				TotalObtained:   ca.obtained,
				TotalMax:        ca.max,
				Percentage:      Round1(pct),
				AttainedCount:   ca.attained,
				AssessmentCount: ca.count,
				AttainmentRate:  Round1(rate),
				Attained:        attained,
			})

			cs := classStats[cloID]
			if attained {
				cs.attained++
			}
			if rate > 0 {
				// Same zero filter as the per-assessment class averages.
				cs.rateSum += rate
				cs.rated++
			}
		}

		combined.Students = append(combined.Students, csp)
	}

	for _, cloID := range cloOrder {
		cs := classStats[cloID]
		stat := CombinedCloStatistics{
			CloID:            cloID,
			CloCode:          cloCodes[cloID],
			StudentsAttained: cs.attained,
		}
		if cs.rated > 0 {
			stat.AverageAttainmentRate = Round1(cs.rateSum / float64(cs.rated))
		}
		combined.CloStats = append(combined.CloStats, stat)
	}

	return combined, nil
}

// PerformanceService runs the attainment analyzer over the persisted ledger,
// caches reports in redis and persists snapshots for dashboards.
type PerformanceService struct {
	db    *gorm.DB
	cache *cache.RedisCache // optional, nil disables caching
}

// NewPerformanceService creates a new performance service. cache may be nil.
func NewPerformanceService(db *gorm.DB, redisCache *cache.RedisCache) *PerformanceService {
	return &PerformanceService{db: db, cache: redisCache}
}

func assessmentReportKey(assessmentID uint) string {
	return fmt.Sprintf("performance:assessment:%d", assessmentID)
}

func combinedReportKey(courseID uint) string {
	return fmt.Sprintf("performance:course:%d:combined", courseID)
}

// AnalyzeByAssessment loads the ledger snapshot for one finalized assessment
// and computes its attainment report.
func (s *PerformanceService) AnalyzeByAssessment(ctx context.Context, assessmentID uint) (*PerformanceReport, error) {
	if s.cache != nil {
		var cached PerformanceReport
		if err := s.cache.GetJSON(ctx, assessmentReportKey(assessmentID), &cached); err == nil {
			return &cached, nil
		}
	}

	assessment, allocations, students, entries, err := s.loadLedger(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	report, err := AnalyzePerformance(*assessment, allocations, students, entries)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, assessmentReportKey(assessmentID), report, reportCacheTTL); err != nil {
			log.Printf("Failed to cache performance report for assessment %d: %v", assessmentID, err)
		}
	}
	if err := s.storeSnapshot(ctx, assessment.CourseID, assessment.ID, model.SnapshotScopeAssessment, report); err != nil {
		log.Printf("Failed to store attainment snapshot for assessment %d: %v", assessmentID, err)
	}

	return report, nil
}

// AnalyzeCourse computes the combined report over every finalized assessment
// of the course. Draft assessments never reach the analyzer.
func (s *PerformanceService) AnalyzeCourse(ctx context.Context, courseID uint) (*CombinedReport, error) {
	if s.cache != nil {
		var cached CombinedReport
		if err := s.cache.GetJSON(ctx, combinedReportKey(courseID), &cached); err == nil {
			return &cached, nil
		}
	}

	var course model.Course
	if err := s.db.WithContext(ctx).First(&course, courseID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to fetch course: %w", err)
	}

	var finalized []model.Assessment
	if err := s.db.WithContext(ctx).
		Where("course_id = ? AND is_marks_finalized = ?", courseID, true).
		Order("created_at ASC").
		Find(&finalized).Error; err != nil {
		return nil, fmt.Errorf("failed to list finalized assessments: %w", err)
	}

	reports := make([]*PerformanceReport, 0, len(finalized))
	for _, a := range finalized {
		assessment, allocations, students, entries, err := s.loadLedger(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		report, err := AnalyzePerformance(*assessment, allocations, students, entries)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}

	combined, err := CombineReports(reports)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.SetJSON(ctx, combinedReportKey(courseID), combined, reportCacheTTL); err != nil {
			log.Printf("Failed to cache combined report for course %d: %v", courseID, err)
		}
	}
	if err := s.storeSnapshot(ctx, courseID, 0, model.SnapshotScopeCombined, combined); err != nil {
		log.Printf("Failed to store combined attainment snapshot for course %d: %v", courseID, err)
	}

	return combined, nil
}

// InvalidateCourse drops cached reports after a finalization changes what is
// analyzable for the course.
func (s *PerformanceService) InvalidateCourse(ctx context.Context, courseID uint, assessmentID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, combinedReportKey(courseID), assessmentReportKey(assessmentID)); err != nil {
		log.Printf("Failed to invalidate performance cache for course %d: %v", courseID, err)
	}
}

func (s *PerformanceService) loadLedger(ctx context.Context, assessmentID uint) (*model.Assessment, []model.AssessmentCloAllocation, []model.Student, []model.MarkEntry, error) {
	db := s.db.WithContext(ctx)

	var assessment model.Assessment
	if err := db.First(&assessment, assessmentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil, nil, nil, ErrNotFound
		}
		return nil, nil, nil, nil, fmt.Errorf("failed to fetch assessment: %w", err)
	}

	var allocations []model.AssessmentCloAllocation
	if err := db.Preload("Clo").Where("assessment_id = ?", assessmentID).Order("clo_id ASC").Find(&allocations).Error; err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to fetch CLO allocations: %w", err)
	}

	var students []model.Student
	if err := db.Where("course_id = ?", assessment.CourseID).Order("roll_number ASC").Find(&students).Error; err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to fetch course roster: %w", err)
	}

	var entries []model.MarkEntry
	if err := db.Where("assessment_id = ?", assessmentID).Find(&entries).Error; err != nil {
		return nil, nil, nil, nil, fmt.Errorf("failed to fetch mark entries: %w", err)
	}

	return &assessment, allocations, students, entries, nil
}

func (s *PerformanceService) storeSnapshot(ctx context.Context, courseID uint, assessmentID uint, scope string, report interface{}) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	snapshot := model.AttainmentSnapshot{
		CourseID:     courseID,
		AssessmentID: assessmentID,
		Scope:        scope,
		Report:       datatypes.JSON(payload),
		GeneratedAt:  time.Now(),
	}

	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "course_id"}, {Name: "assessment_id"}, {Name: "scope"}},
		DoUpdates: clause.AssignmentColumns([]string{"report", "generated_at", "updated_at"}),
	}).Create(&snapshot).Error
}
