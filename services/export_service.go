package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/outcome-edu/obe-backend/services/spaces"
)

// ExportService renders attainment reports as CSV and stores them in Spaces
type ExportService struct {
	performance *PerformanceService
	storage     *spaces.SpacesClient
}

// ExportResult describes a stored report export
type ExportResult struct {
	Key         string `json:"key"`
	DownloadURL string `json:"download_url"`
	ExpiresIn   int    `json:"expires_in"` // seconds
}

const exportURLExpiry = 1 * time.Hour

// NewExportService creates a new export service. storage may be nil when no
// object store is configured; exports are then unavailable.
func NewExportService(performance *PerformanceService, storage *spaces.SpacesClient) *ExportService {
	return &ExportService{performance: performance, storage: storage}
}

// ErrExportUnavailable is returned when no object store is configured
var ErrExportUnavailable = fmt.Errorf("report export storage is not configured")

// ExportAssessmentReport renders one assessment's attainment report as CSV,
// uploads it and returns a presigned download link.
func (s *ExportService) ExportAssessmentReport(ctx context.Context, assessmentID uint) (*ExportResult, error) {
	if s.storage == nil {
		return nil, ErrExportUnavailable
	}

	report, err := s.performance.AnalyzeByAssessment(ctx, assessmentID)
	if err != nil {
		return nil, err
	}

	data, err := renderAssessmentCSV(report)
	if err != nil {
		return nil, fmt.Errorf("render report CSV: %w", err)
	}

	key := fmt.Sprintf("exports/courses/%d/assessments/%d/attainment-%d.csv",
		report.CourseID, report.AssessmentID, time.Now().Unix())

	if _, err := s.storage.UploadBytes(ctx, key, data, "text/csv"); err != nil {
		return nil, fmt.Errorf("upload report export: %w", err)
	}

	url, err := s.storage.PresignedURL(key, exportURLExpiry)
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		Key:         key,
		DownloadURL: url,
		ExpiresIn:   int(exportURLExpiry.Seconds()),
	}, nil
}

// ExportCourseReport renders the combined course attainment report as CSV,
// uploads it and returns a presigned download link.
func (s *ExportService) ExportCourseReport(ctx context.Context, courseID uint) (*ExportResult, error) {
	if s.storage == nil {
		return nil, ErrExportUnavailable
	}

	report, err := s.performance.AnalyzeCourse(ctx, courseID)
	if err != nil {
		return nil, err
	}

	data, err := renderCombinedCSV(report)
	if err != nil {
		return nil, fmt.Errorf("render report CSV: %w", err)
	}

	key := fmt.Sprintf("exports/courses/%d/combined-attainment-%d.csv",
		report.CourseID, time.Now().Unix())

	if _, err := s.storage.UploadBytes(ctx, key, data, "text/csv"); err != nil {
		return nil, fmt.Errorf("upload report export: %w", err)
	}

	url, err := s.storage.PresignedURL(key, exportURLExpiry)
	if err != nil {
		return nil, err
	}

	return &ExportResult{
		Key:         key,
		DownloadURL: url,
		ExpiresIn:   int(exportURLExpiry.Seconds()),
	}, nil
}

// renderAssessmentCSV writes one row per student with a column pair per CLO.
// CLO column order follows the report's class statistics.
func renderAssessmentCSV(report *PerformanceReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"roll_number", "name"}
	for _, stat := range report.CloStats {
		header = append(header, stat.CloCode+"_marks", stat.CloCode+"_attained")
	}
	header = append(header, "total_obtained", "total_percentage", "overall_attained")
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, student := range report.Students {
		row := []string{student.RollNumber, student.Name}

		byClo := make(map[uint]CloResult, len(student.CloResults))
		for _, r := range student.CloResults {
			byClo[r.CloID] = r
		}
		for _, stat := range report.CloStats {
			r, ok := byClo[stat.CloID]
			if !ok {
				row = append(row, "", "")
				continue
			}
			row = append(row,
				strconv.FormatFloat(r.MarksObtained, 'f', -1, 64),
				strconv.FormatBool(r.Attained))
		}

		row = append(row,
			strconv.FormatFloat(student.TotalObtained, 'f', -1, 64),
			strconv.FormatFloat(student.TotalPercentage, 'f', 1, 64),
			strconv.FormatBool(student.OverallAttained))
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderCombinedCSV writes one row per student with per-CLO attainment rates.
func renderCombinedCSV(report *CombinedReport) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"roll_number", "name"}
	for _, stat := range report.CloStats {
		header = append(header, stat.CloCode+"_rate", stat.CloCode+"_attained")
	}
	header = append(header, "assessments_attained", "assessments_attempted", "overall_attained")
	if err := w.Write(header); err != nil {
		return nil, err
	}

	for _, student := range report.Students {
		row := []string{student.RollNumber, student.Name}

		byClo := make(map[uint]CombinedCloResult, len(student.CloResults))
		for _, r := range student.CloResults {
			byClo[r.CloID] = r
		}
		for _, stat := range report.CloStats {
			r, ok := byClo[stat.CloID]
			if !ok {
				row = append(row, "", "")
				continue
			}
			row = append(row,
				strconv.FormatFloat(r.AttainmentRate, 'f', 1, 64),
				strconv.FormatBool(r.Attained))
		}

		row = append(row,
			strconv.Itoa(student.AssessmentsAttained),
			strconv.Itoa(student.AssessmentsAttempted),
			strconv.FormatBool(student.OverallAttained))
		if err := w.Write(row); err != nil {
			return nil, err
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
