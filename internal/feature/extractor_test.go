package feature

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// ─────────────────────────────────────────────────────────────────────────────
// Fake sources
// ─────────────────────────────────────────────────────────────────────────────

type fakeGrades struct {
	records []GradeRecord
	err     error
}

func (f *fakeGrades) Window(ctx context.Context, studentID string, start, end time.Time) ([]GradeRecord, error) {
	return f.records, f.err
}

type fakeAttendance struct {
	records []AttendanceRecord
	err     error
}

func (f *fakeAttendance) Window(ctx context.Context, studentID string, start, end time.Time) ([]AttendanceRecord, error) {
	return f.records, f.err
}

type fakeHomework struct {
	assigned    []Assignment
	submissions []Submission
	err         error
}

func (f *fakeHomework) Assigned(ctx context.Context, studentID string, start, end time.Time) ([]Assignment, error) {
	return f.assigned, f.err
}

func (f *fakeHomework) Submitted(ctx context.Context, studentID string, assignmentIDs []string) ([]Submission, error) {
	return f.submissions, f.err
}

type fakeBehavior struct {
	records   []BehaviorRecord
	sanctions []SanctionRecord
	err       error
}

func (f *fakeBehavior) Window(ctx context.Context, studentID string, start, end time.Time) ([]BehaviorRecord, error) {
	return f.records, f.err
}

func (f *fakeBehavior) Sanctions(ctx context.Context, studentID string, start, end time.Time) ([]SanctionRecord, error) {
	return f.sanctions, f.err
}

type fakeInteraction struct {
	sent, received int
	err            error
}

func (f *fakeInteraction) Sent(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	return f.sent, f.err
}

func (f *fakeInteraction) Received(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	return f.received, f.err
}

type fakeRecord struct {
	record *StudentRecord
	err    error
	calls  int
}

func (f *fakeRecord) Get(ctx context.Context, studentID string) (*StudentRecord, error) {
	f.calls++
	return f.record, f.err
}

// flakyGrades fails the first failures calls, then serves records.
type flakyGrades struct {
	records  []GradeRecord
	failures int
	calls    int
}

func (f *flakyGrades) Window(ctx context.Context, studentID string, start, end time.Time) ([]GradeRecord, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("connection reset")
	}
	return f.records, nil
}

func quietSources() Sources {
	return Sources{
		Grades:      &fakeGrades{},
		Attendance:  &fakeAttendance{},
		Homework:    &fakeHomework{},
		Behavior:    &fakeBehavior{},
		Interaction: &fakeInteraction{},
		Record:      &fakeRecord{err: shared.ErrNotFound},
	}
}

func testLogger() *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = io.Discard
	return logger.New(opts)
}

var windowEnd = timeutil.Date(2026, 3, 1)

// ─────────────────────────────────────────────────────────────────────────────
// Tests
// ─────────────────────────────────────────────────────────────────────────────

func TestExtract_GradeFeatures(t *testing.T) {
	sources := quietSources()
	sources.Grades = &fakeGrades{records: []GradeRecord{
		{Date: timeutil.Date(2025, 12, 10), NormalizedScore: 8, SubjectID: "math"},
		{Date: timeutil.Date(2026, 2, 10), NormalizedScore: 6, SubjectID: "math"},
		{Date: timeutil.Date(2025, 12, 12), NormalizedScore: 12, SubjectID: "fr"},
		{Date: timeutil.Date(2026, 2, 12), NormalizedScore: 14, SubjectID: "fr"},
	}}

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, v.Get(KeyAverageGrade), 0.001)
	assert.InDelta(t, 10.0, v.Get(KeyCurrentAverage), 0.001)
	assert.InDelta(t, 10.0, v.Get(KeyGradeVariance), 0.001)
	// first half mean (8+12)/2 = 10, second half mean (6+14)/2 = 10
	assert.InDelta(t, 0.0, v.Get(KeyGradeTrend), 0.001)
	// only math averages below 10
	assert.InDelta(t, 1.0, v.Get(KeyFailedSubjects), 0.001)
}

func TestExtract_AttendanceFeatures(t *testing.T) {
	day := func(offset int) time.Time { return windowEnd.AddDate(0, 0, -30+offset) }
	records := []AttendanceRecord{
		{Date: day(0), Status: StatusAbsent, IsJustified: true},
		{Date: day(1), Status: StatusAbsent},
		{Date: day(2), Status: StatusAbsent},
		{Date: day(3), Status: StatusPresent},
		{Date: day(4), Status: StatusLate},
		{Date: day(5), Status: StatusPresent},
		{Date: day(6), Status: StatusAbsent, IsJustified: true},
		{Date: day(7), Status: StatusPresent},
		{Date: day(8), Status: StatusPresent},
		{Date: day(9), Status: StatusPresent},
	}
	sources := quietSources()
	sources.Attendance = &fakeAttendance{records: records}

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	assert.InDelta(t, 40.0, v.Get(KeyAbsenceRate), 0.001)
	assert.InDelta(t, 20.0, v.Get(KeyUnjustifiedAbsence), 0.001)
	assert.InDelta(t, 10.0, v.Get(KeyTardinessRate), 0.001)
	assert.InDelta(t, 3.0, v.Get(KeyConsecutiveAbsences), 0.001)
}

func TestExtract_HomeworkNoDataFlag(t *testing.T) {
	sources := quietSources()

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	// No assignments: 100% completion by default, flagged as no-data.
	assert.InDelta(t, 100.0, v.Get(KeyHomeworkCompletion), 0.001)
	assert.True(t, v.Flags[FlagHomeworkNoData])
}

func TestExtract_HomeworkRates(t *testing.T) {
	spent := 45
	sources := quietSources()
	sources.Homework = &fakeHomework{
		assigned: []Assignment{{ID: "h1"}, {ID: "h2"}, {ID: "h3"}, {ID: "h4"}},
		submissions: []Submission{
			{AssignmentID: "h1", Status: HomeworkSubmitted, TimeSpentMinutes: &spent},
			{AssignmentID: "h2", Status: HomeworkLate},
			{AssignmentID: "h3", Status: HomeworkDraft},
		},
	}

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	// h1 and h2 count as done out of 4 assigned; h3 is a draft, h4 untouched.
	assert.InDelta(t, 50.0, v.Get(KeyHomeworkCompletion), 0.001)
	assert.InDelta(t, 25.0, v.Get(KeyLateHomeworkRate), 0.001)
	assert.InDelta(t, 45.0, v.Get(KeyAverageStudyTime), 0.001)
	assert.False(t, v.Flags[FlagHomeworkNoData])
}

func TestExtract_DegradedSourceKeepsDefaults(t *testing.T) {
	sources := quietSources()
	sources.Grades = &fakeGrades{err: errors.New("connection refused")}

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	assert.True(t, v.IsDegraded())
	assert.True(t, v.Degraded[SourceGrades])
	// Schema defaults: the neutral student.
	assert.InDelta(t, 10.0, v.Get(KeyCurrentAverage), 0.001)
	assert.InDelta(t, 0.0, v.Get(KeyFailedSubjects), 0.001)
}

func TestExtract_TransientSourceFailureRetried(t *testing.T) {
	grades := &flakyGrades{
		failures: 1,
		records: []GradeRecord{
			{Date: timeutil.Date(2026, 1, 10), NormalizedScore: 9, SubjectID: "math"},
		},
	}
	sources := quietSources()
	sources.Grades = grades

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	// One hiccup is absorbed by the retrier instead of degrading the source.
	assert.Equal(t, 2, grades.calls)
	assert.False(t, v.Degraded[SourceGrades])
	assert.InDelta(t, 9.0, v.Get(KeyCurrentAverage), 0.001)
}

func TestExtract_MissingRecordNotRetried(t *testing.T) {
	record := &fakeRecord{err: shared.ErrNotFound}
	sources := quietSources()
	sources.Record = record

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	assert.Equal(t, 1, record.calls)
	assert.True(t, v.Flags[FlagRecordMissing])
}

func TestExtract_MissingRecordIsFlaggedNotDegraded(t *testing.T) {
	sources := quietSources()

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	assert.True(t, v.Flags[FlagRecordMissing])
	assert.False(t, v.Degraded[SourceRecord])
	// family_situation_risk stays 0 and support keeps its default.
	assert.InDelta(t, 0.0, v.Get(KeyFamilySituationRisk), 0.001)
	assert.InDelta(t, 1.0, v.Get(KeyHasSupportAtHome), 0.001)
}

func TestExtract_RecordFeatures(t *testing.T) {
	dob := timeutil.Date(2010, 9, 15)
	sources := quietSources()
	sources.Record = &fakeRecord{record: &StudentRecord{
		FamilySituation:           FamilySingleParent,
		GuardiansWithCustodyCount: 1,
		EntryDate:                 timeutil.Date(2024, 9, 1),
		DateOfBirth:               &dob,
		ExtracurricularCount:      2,
	}}

	v, err := NewExtractor(sources, testLogger()).Extract(
		context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	assert.InDelta(t, 2.0, v.Get(KeyFamilySituationRisk), 0.001)
	assert.InDelta(t, 1.0, v.Get(KeyHasSupportAtHome), 0.001)
	assert.InDelta(t, 2.0, v.Get(KeyExtracurricular), 0.001)
	assert.InDelta(t, 15.0, v.Get(KeyAge), 0.001)
	assert.InDelta(t, 18.0, v.Get(KeyMonthsInSchool), 0.001)
}

func TestExtract_Deterministic(t *testing.T) {
	sources := quietSources()
	sources.Grades = &fakeGrades{records: []GradeRecord{
		{Date: timeutil.Date(2026, 1, 10), NormalizedScore: 11, SubjectID: "math"},
		{Date: timeutil.Date(2026, 2, 10), NormalizedScore: 9, SubjectID: "math"},
	}}
	sources.Interaction = &fakeInteraction{sent: 12, received: 18}

	e := NewExtractor(sources, testLogger())
	first, err := e.Extract(context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)
	second, err := e.Extract(context.Background(), "student-1", "2025-2026", windowEnd, 90)
	require.NoError(t, err)

	assert.Equal(t, first.Values, second.Values)
	assert.Equal(t, first.Ordered(), second.Ordered())
	// 30 messages over the window caps the integration score at 6.
	assert.InDelta(t, 6.0, first.Get(KeySocialIntegration), 0.001)
}

func TestVector_OrderedMatchesSchema(t *testing.T) {
	v := NewVector("student-1", "2025-2026", timeutil.NewWindow(windowEnd, 90))
	ordered := v.Ordered()
	keys := Keys()
	require.Len(t, ordered, len(keys))
	for i, key := range keys {
		def, ok := DefaultOf(key)
		require.True(t, ok)
		assert.Equal(t, def, ordered[i], "key %s", key)
	}
}
