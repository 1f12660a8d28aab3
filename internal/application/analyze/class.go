package analyze

import (
	"context"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
)

// ClassRoster resolves the students of a class.
type ClassRoster interface {
	Students(ctx context.Context, classID string) ([]string, error)
}

// ClassReport aggregates per-student outcomes of a class-wide analysis.
type ClassReport struct {
	ClassID      string
	Analyzed     int
	Failed       int
	AverageScore float64
	Distribution map[risk.Level]int
	AlertsRaised int
}

// Class fans out a per-student analysis over the class and aggregates the
// risk distribution. One student failing never aborts the class run.
func (s *Service) Class(ctx context.Context, roster ClassRoster, classID string, year shared.AcademicYear) (*ClassReport, error) {
	students, err := roster.Students(ctx, classID)
	if err != nil {
		return nil, shared.WrapError("risk", "AnalyzeClass", shared.ErrTransient, "resolving class roster", err)
	}

	report := &ClassReport{
		ClassID:      classID,
		Distribution: make(map[risk.Level]int),
	}
	total := 0.0
	for _, studentID := range students {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := s.Student(ctx, studentID, year)
		if err != nil {
			report.Failed++
			s.log.Error("student analysis failed during class run",
				logger.String("class_id", classID),
				logger.StudentID(studentID),
				logger.Err(err))
			continue
		}
		report.Analyzed++
		report.AlertsRaised += r.AlertsRaised
		report.Distribution[r.Profile.RiskLevel]++
		total += r.Profile.RiskScore
	}
	if report.Analyzed > 0 {
		report.AverageScore = total / float64(report.Analyzed)
	}

	s.log.Info("class analysis complete",
		logger.String("class_id", classID),
		logger.Int("analyzed", report.Analyzed),
		logger.Int("failed", report.Failed),
		logger.Float64("average_score", report.AverageScore))
	return report, nil
}
