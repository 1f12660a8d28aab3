package feature

import (
	"context"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/retry"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// Source names used in degradation metadata.
const (
	SourceGrades      = "grades"
	SourceAttendance  = "attendance"
	SourceHomework    = "homework"
	SourceBehavior    = "behavior"
	SourceInteraction = "interaction"
	SourceRecord      = "record"
)

// DefaultWindowDays is the standard extraction window.
const DefaultWindowDays = 90

// Extractor builds a FeatureVector for one student over a window.
// Extraction is deterministic for fixed sources and inputs: no randomness,
// no reads outside the requested window.
type Extractor struct {
	sources Sources
	retrier *retry.Retrier
	log     *logger.Logger
}

// NewExtractor creates an extractor over the given source adapters.
func NewExtractor(sources Sources, log *logger.Logger) *Extractor {
	return &Extractor{sources: sources, retrier: retry.SourceRetrier(), log: log}
}

// fetch runs one source read through the source retrier, so a transient
// hiccup gets a few fast retries before the source is declared degraded.
// A missing row is final and not worth retrying.
func fetch[T any](ctx context.Context, e *Extractor, read func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.retrier.Do(ctx, func(ctx context.Context) error {
		var readErr error
		out, readErr = read(ctx)
		if readErr != nil && errors.Is(readErr, shared.ErrNotFound) {
			return retry.Permanent(readErr)
		}
		return readErr
	})
	return out, err
}

// Extract returns the feature vector for (student, year) over
// [windowEnd - windowDays, windowEnd]. A failing adapter never fails the
// extraction: its features keep their schema defaults and the source is
// marked degraded in the vector metadata.
func (e *Extractor) Extract(ctx context.Context, studentID string, year shared.AcademicYear, windowEnd time.Time, windowDays int) (*Vector, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	window := timeutil.NewWindow(windowEnd, windowDays)
	v := NewVector(studentID, year, window)

	e.extractGrades(ctx, v)
	e.extractAttendance(ctx, v)
	e.extractHomework(ctx, v)
	e.extractBehavior(ctx, v)
	e.extractInteraction(ctx, v)
	e.extractRecord(ctx, v)

	if v.IsDegraded() {
		e.log.Warn("feature extraction degraded",
			logger.StudentID(studentID),
			logger.Any("degraded_sources", v.Degraded))
	}
	return v, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Academic features
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) extractGrades(ctx context.Context, v *Vector) {
	grades, err := fetch(ctx, e, func(ctx context.Context) ([]GradeRecord, error) {
		return e.sources.Grades.Window(ctx, v.StudentID, v.Window.Start, v.Window.End)
	})
	if err != nil {
		e.degrade(v, SourceGrades, err)
		return
	}
	if len(grades) == 0 {
		return
	}

	sort.Slice(grades, func(i, j int) bool { return grades[i].Date.Before(grades[j].Date) })

	scores := make([]float64, len(grades))
	for i, g := range grades {
		scores[i] = g.NormalizedScore
	}
	avg := mean(scores)
	v.Set(KeyAverageGrade, avg)
	v.Set(KeyCurrentAverage, avg)
	v.Set(KeyGradeVariance, populationVariance(scores))
	v.Set(KeyGradeTrend, gradeTrend(grades, v.Window))
	v.Set(KeyFailedSubjects, failedSubjects(grades))
}

// gradeTrend is mean(second half) - mean(first half), 0 if either half empty.
func gradeTrend(grades []GradeRecord, w timeutil.Window) float64 {
	first, second := w.Halves()
	var a, b []float64
	for _, g := range grades {
		if first.Contains(g.Date) {
			a = append(a, g.NormalizedScore)
		} else if second.Contains(g.Date) {
			b = append(b, g.NormalizedScore)
		}
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	return mean(b) - mean(a)
}

// failedSubjects counts subjects whose mean normalized score is below 10/20.
func failedSubjects(grades []GradeRecord) float64 {
	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, g := range grades {
		sums[g.SubjectID] += g.NormalizedScore
		counts[g.SubjectID]++
	}
	failed := 0
	for subject, sum := range sums {
		if sum/float64(counts[subject]) < 10 {
			failed++
		}
	}
	return float64(failed)
}

// ─────────────────────────────────────────────────────────────────────────────
// Attendance features
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) extractAttendance(ctx context.Context, v *Vector) {
	records, err := fetch(ctx, e, func(ctx context.Context) ([]AttendanceRecord, error) {
		return e.sources.Attendance.Window(ctx, v.StudentID, v.Window.Start, v.Window.End)
	})
	if err != nil {
		e.degrade(v, SourceAttendance, err)
		return
	}
	if len(records) == 0 {
		return
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Date.Before(records[j].Date) })

	total := float64(len(records))
	var absent, unjustified, late float64
	for _, r := range records {
		switch r.Status {
		case StatusAbsent:
			absent++
			if !r.IsJustified {
				unjustified++
			}
		case StatusLate:
			late++
		}
	}
	v.Set(KeyAbsenceRate, 100*absent/total)
	v.Set(KeyUnjustifiedAbsence, 100*unjustified/total)
	v.Set(KeyTardinessRate, 100*late/total)
	v.Set(KeyConsecutiveAbsences, float64(longestAbsentRun(records)))
}

// longestAbsentRun finds the longest run of absent statuses in date order.
func longestAbsentRun(records []AttendanceRecord) int {
	longest, run := 0, 0
	for _, r := range records {
		if r.Status == StatusAbsent {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	return longest
}

// ─────────────────────────────────────────────────────────────────────────────
// Engagement features
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) extractHomework(ctx context.Context, v *Vector) {
	assigned, err := fetch(ctx, e, func(ctx context.Context) ([]Assignment, error) {
		return e.sources.Homework.Assigned(ctx, v.StudentID, v.Window.Start, v.Window.End)
	})
	if err != nil {
		e.degrade(v, SourceHomework, err)
		return
	}
	if len(assigned) == 0 {
		// No homework assigned reads as 100% completion. The flag lets
		// downstream consumers tell "did everything" from "had nothing".
		v.SetFlag(FlagHomeworkNoData)
		return
	}

	ids := make([]string, len(assigned))
	for i, a := range assigned {
		ids[i] = a.ID
	}
	submissions, err := fetch(ctx, e, func(ctx context.Context) ([]Submission, error) {
		return e.sources.Homework.Submitted(ctx, v.StudentID, ids)
	})
	if err != nil {
		e.degrade(v, SourceHomework, err)
		return
	}

	var done, lateCount float64
	var studyMinutes float64
	var studySamples int
	for _, s := range submissions {
		switch s.Status {
		case HomeworkSubmitted, HomeworkLate, HomeworkReturned:
			done++
		}
		if s.Status == HomeworkLate {
			lateCount++
		}
		if s.TimeSpentMinutes != nil {
			studyMinutes += float64(*s.TimeSpentMinutes)
			studySamples++
		}
	}
	total := float64(len(assigned))
	v.Set(KeyHomeworkCompletion, 100*done/total)
	v.Set(KeyLateHomeworkRate, 100*lateCount/total)
	if studySamples > 0 {
		v.Set(KeyAverageStudyTime, studyMinutes/float64(studySamples))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Behavioral features
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) extractBehavior(ctx context.Context, v *Vector) {
	records, err := fetch(ctx, e, func(ctx context.Context) ([]BehaviorRecord, error) {
		return e.sources.Behavior.Window(ctx, v.StudentID, v.Window.Start, v.Window.End)
	})
	if err != nil {
		e.degrade(v, SourceBehavior, err)
		return
	}

	var positives, negatives float64
	for _, r := range records {
		switch r.Type {
		case BehaviorPositive:
			positives++
		case BehaviorNegative:
			negatives++
		}
	}
	v.Set(KeyBehaviorIncidents, negatives)
	v.Set(KeyPositiveBehaviors, positives)
	if positives+negatives > 0 {
		v.Set(KeyParticipationScore, 10*positives/(positives+negatives))
	}

	sanctions, err := fetch(ctx, e, func(ctx context.Context) ([]SanctionRecord, error) {
		return e.sources.Behavior.Sanctions(ctx, v.StudentID, v.Window.Start, v.Window.End)
	})
	if err != nil {
		e.degrade(v, SourceBehavior, err)
		return
	}
	v.Set(KeySanctionsCount, float64(len(sanctions)))
}

// ─────────────────────────────────────────────────────────────────────────────
// Social features
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) extractInteraction(ctx context.Context, v *Vector) {
	sent, err := fetch(ctx, e, func(ctx context.Context) (int, error) {
		return e.sources.Interaction.Sent(ctx, v.StudentID, v.Window.Start, v.Window.End)
	})
	if err != nil {
		e.degrade(v, SourceInteraction, err)
		return
	}
	received, err := fetch(ctx, e, func(ctx context.Context) (int, error) {
		return e.sources.Interaction.Received(ctx, v.StudentID, v.Window.Start, v.Window.End)
	})
	if err != nil {
		e.degrade(v, SourceInteraction, err)
		return
	}
	v.Set(KeySocialIntegration, math.Min(10, float64(sent+received)/5))
}

// ─────────────────────────────────────────────────────────────────────────────
// Demographic features
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) extractRecord(ctx context.Context, v *Vector) {
	record, err := fetch(ctx, e, func(ctx context.Context) (*StudentRecord, error) {
		return e.sources.Record.Get(ctx, v.StudentID)
	})
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			// family_situation_risk stays 0, which here means "no record",
			// not "no risk". The flag keeps the two distinguishable.
			v.SetFlag(FlagRecordMissing)
			return
		}
		e.degrade(v, SourceRecord, err)
		return
	}

	v.Set(KeyFamilySituationRisk, record.FamilySituation.RiskWeight())
	if record.GuardiansWithCustodyCount > 0 {
		v.Set(KeyHasSupportAtHome, 1)
	} else {
		v.Set(KeyHasSupportAtHome, 0)
	}
	v.Set(KeyExtracurricular, float64(record.ExtracurricularCount))
	if record.DateOfBirth != nil {
		v.Set(KeyAge, yearsBetween(*record.DateOfBirth, v.Window.End))
	}
	if !record.EntryDate.IsZero() {
		v.Set(KeyMonthsInSchool, monthsBetween(record.EntryDate, v.Window.End))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func (e *Extractor) degrade(v *Vector, source string, err error) {
	v.MarkDegraded(source)
	e.log.Warn("source adapter failed, using defaults",
		logger.StudentID(v.StudentID),
		logger.String("source", source),
		logger.Err(err))
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// populationVariance returns 0 for fewer than two samples.
func populationVariance(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	m := mean(values)
	sum := 0.0
	for _, v := range values {
		d := v - m
		sum += d * d
	}
	return sum / float64(len(values))
}

func yearsBetween(from, to time.Time) float64 {
	years := to.Year() - from.Year()
	if to.Month() < from.Month() || (to.Month() == from.Month() && to.Day() < from.Day()) {
		years--
	}
	if years < 0 {
		years = 0
	}
	return float64(years)
}

func monthsBetween(from, to time.Time) float64 {
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		months = 0
	}
	return float64(months)
}
