// Package progress recomputes the derived state of an enrollment from its lesson records.
//
// Recompute is a pure function of the enrollment tree and the supplied time. It rebuilds
// every aggregate from scratch on each call, so derived fields can never drift from the
// lesson-level source of truth.
package progress

import (
	"time"

	"github.com/ArchismanDutta/OmazingPWA-sub001/internal/model"
)

// Percentage returns round-half-up(100 * done / total), or 0 when total is 0.
func Percentage(done, total int) int {
	if total <= 0 || done <= 0 {
		return 0
	}
	return (200*done + total) / (2 * total)
}

// ModuleTotals is the per-module result of a recomputation pass.
type ModuleTotals struct {
	Completed int
	Total     int
	WatchTime int64
}

// RecomputeModule refreshes the derived fields of one module.
// Completion is monotonic: a completed module is never reopened here.
func RecomputeModule(m *model.ModuleProgress, now time.Time) ModuleTotals {
	totals := ModuleTotals{Total: len(m.LessonsProgress)}
	for i := range m.LessonsProgress {
		l := &m.LessonsProgress[i]
		if l.Completed {
			totals.Completed++
		}
		totals.WatchTime += l.WatchTime
	}

	m.ProgressPercentage = Percentage(totals.Completed, totals.Total)
	if m.ProgressPercentage == 100 && !m.Completed {
		m.Completed = true
		if m.CompletedAt == nil {
			t := now
			m.CompletedAt = &t
		}
	}
	return totals
}

// Recompute rebuilds module and course aggregates bottom-up, then derives the status.
func Recompute(e *model.Enrollment, now time.Time) {
	var snapshot model.ProgressSnapshot
	for i := range e.ModulesProgress {
		m := &e.ModulesProgress[i]
		totals := RecomputeModule(m, now)

		snapshot.CompletedLessons += totals.Completed
		snapshot.TotalLessons += totals.Total
		snapshot.TotalWatchTime += totals.WatchTime
		if m.Completed {
			snapshot.CompletedModules++
		}
	}
	snapshot.TotalModules = len(e.ModulesProgress)
	snapshot.Percentage = Percentage(snapshot.CompletedLessons, snapshot.TotalLessons)

	e.Progress = snapshot
	deriveStatus(e, now)
}

func deriveStatus(e *model.Enrollment, now time.Time) {
	if e.Status == model.EnrollmentDropped {
		return
	}

	pct := e.Progress.Percentage
	if pct > 0 && e.StartedAt == nil {
		t := now
		e.StartedAt = &t
	}

	switch {
	case pct == 100 && e.Status != model.EnrollmentCompleted:
		e.Status = model.EnrollmentCompleted
		if e.CompletedAt == nil {
			t := now
			e.CompletedAt = &t
		}
	case pct > 0 && e.Status == model.EnrollmentEnrolled:
		e.Status = model.EnrollmentInProgress
	}
}
