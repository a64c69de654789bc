package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/outcome-edu/obe-backend/model"
	"github.com/outcome-edu/obe-backend/utils/auth"
)

// RefreshAttainmentSnapshots recomputes and stores attainment reports for
// every course that has at least one finalized assessment, so dashboards can
// read snapshots without recomputing on every request.
func (m *CronManager) RefreshAttainmentSnapshots() {
	jobName := "refresh_attainment_snapshots"
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var courseIDs []uint
	if err := m.db.Model(&model.Assessment{}).
		Where("is_marks_finalized = ?", true).
		Distinct("course_id").
		Pluck("course_id", &courseIDs).Error; err != nil {
		m.logJobError(jobName, err)
		return
	}

	refreshed := 0
	for _, courseID := range courseIDs {
		if _, err := m.performance.AnalyzeCourse(ctx, courseID); err != nil {
			m.logJobError(jobName, fmt.Errorf("course %d: %w", courseID, err))
			return
		}
		refreshed++
	}

	m.logJobComplete(jobName, fmt.Sprintf("refreshed snapshots for %d courses", refreshed))
}

// CleanupExpiredTokens removes blacklist entries whose tokens have expired
// anyway and no longer need to be checked.
func (m *CronManager) CleanupExpiredTokens() {
	jobName := "cleanup_expired_tokens"
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	blacklist := auth.NewBlacklistService(m.db)
	if err := blacklist.CleanupExpiredTokens(ctx); err != nil {
		m.logJobError(jobName, err)
		return
	}

	m.logJobComplete(jobName, "expired blacklist tokens purged")
}

// CleanupCronLogs trims job logs older than 30 days
func (m *CronManager) CleanupCronLogs() {
	jobName := "cleanup_cron_logs"
	cutoff := time.Now().AddDate(0, 0, -30)

	result := m.db.Unscoped().
		Where("started_at < ?", cutoff).
		Delete(&model.CronJobLog{})
	if result.Error != nil {
		m.logJobError(jobName, result.Error)
		return
	}

	m.logJobComplete(jobName, fmt.Sprintf("removed %d old log rows", result.RowsAffected))
}
