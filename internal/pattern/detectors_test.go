package pattern

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// Window [2025-12-01 .. 2026-03-01]; 2025-12-01 is a Monday.
var testWindow = timeutil.NewWindow(timeutil.Date(2026, 3, 1), 90)

func testLogger() *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Output = io.Discard
	return logger.New(opts)
}

type stubAttendance struct {
	records []feature.AttendanceRecord
	err     error
}

func (s *stubAttendance) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.AttendanceRecord, error) {
	return s.records, s.err
}

type stubGrades struct {
	records []feature.GradeRecord
}

func (s *stubGrades) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.GradeRecord, error) {
	return s.records, nil
}

type stubBehavior struct {
	sanctions []feature.SanctionRecord
}

func (s *stubBehavior) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.BehaviorRecord, error) {
	return nil, nil
}

func (s *stubBehavior) Sanctions(ctx context.Context, studentID string, start, end time.Time) ([]feature.SanctionRecord, error) {
	return s.sanctions, nil
}

// stubInteraction returns one Sent count per successive monthly call.
type stubInteraction struct {
	perMonth []int
	calls    int
}

func (s *stubInteraction) Sent(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	if s.calls >= len(s.perMonth) {
		return 0, nil
	}
	n := s.perMonth[s.calls]
	s.calls++
	return n, nil
}

func (s *stubInteraction) Received(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	return 0, nil
}

// mondays returns the first n Mondays of the test window.
func mondays(n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := timeutil.Date(2025, 12, 1); len(out) < n; d = d.AddDate(0, 0, 7) {
		out = append(out, d)
	}
	return out
}

func TestMondayAbsenteeism_Fires(t *testing.T) {
	var records []feature.AttendanceRecord
	for i, day := range mondays(12) {
		status := feature.StatusPresent
		if i < 6 {
			status = feature.StatusAbsent
		}
		records = append(records, feature.AttendanceRecord{Date: day, Status: status})
	}

	d := &mondayAbsenteeism{attendance: &stubAttendance{records: records}}
	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	require.NotNil(t, marker)

	assert.Equal(t, "monday_absenteeism", marker.Name)
	assert.Len(t, marker.Evidence, 6)
}

func TestMondayAbsenteeism_TooFewMondays(t *testing.T) {
	var records []feature.AttendanceRecord
	for _, day := range mondays(4) {
		records = append(records, feature.AttendanceRecord{Date: day, Status: feature.StatusAbsent})
	}

	d := &mondayAbsenteeism{attendance: &stubAttendance{records: records}}
	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestMondayAbsenteeism_RatioBelowThreshold(t *testing.T) {
	var records []feature.AttendanceRecord
	for i, day := range mondays(10) {
		status := feature.StatusPresent
		if i < 4 {
			status = feature.StatusAbsent
		}
		records = append(records, feature.AttendanceRecord{Date: day, Status: status})
	}

	d := &mondayAbsenteeism{attendance: &stubAttendance{records: records}}
	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	// 4/10 does not exceed the 0.4 ratio.
	assert.Nil(t, marker)
}

func TestGradeDrop_Fires(t *testing.T) {
	d := &gradeDrop{grades: &stubGrades{records: []feature.GradeRecord{
		{Date: timeutil.Date(2025, 12, 10), NormalizedScore: 14},
		{Date: timeutil.Date(2025, 12, 20), NormalizedScore: 14},
		{Date: timeutil.Date(2026, 2, 10), NormalizedScore: 10},
		{Date: timeutil.Date(2026, 2, 20), NormalizedScore: 10},
	}}}

	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, "grade_drop", marker.Name)
}

func TestGradeDrop_SmallDropDoesNotFire(t *testing.T) {
	d := &gradeDrop{grades: &stubGrades{records: []feature.GradeRecord{
		{Date: timeutil.Date(2025, 12, 10), NormalizedScore: 13},
		{Date: timeutil.Date(2026, 2, 10), NormalizedScore: 11},
	}}}

	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestEscalatingBehavior_Fires(t *testing.T) {
	d := &escalatingBehavior{behavior: &stubBehavior{sanctions: []feature.SanctionRecord{
		{Date: timeutil.Date(2026, 2, 10)},
		{Date: timeutil.Date(2026, 2, 15)},
		{Date: timeutil.Date(2026, 2, 20)},
	}}}

	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, "escalating_behavior", marker.Name)
}

func TestEscalatingBehavior_StableDoesNotFire(t *testing.T) {
	d := &escalatingBehavior{behavior: &stubBehavior{sanctions: []feature.SanctionRecord{
		{Date: timeutil.Date(2025, 12, 10)},
		{Date: timeutil.Date(2025, 12, 15)},
		{Date: timeutil.Date(2025, 12, 20)},
		{Date: timeutil.Date(2026, 2, 10)},
		{Date: timeutil.Date(2026, 2, 15)},
		{Date: timeutil.Date(2026, 2, 20)},
	}}}

	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

func TestSocialWithdrawal_Fires(t *testing.T) {
	d := &socialWithdrawal{interaction: &stubInteraction{perMonth: []int{20, 10, 3}}}

	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	require.NotNil(t, marker)
	assert.Equal(t, "social_withdrawal", marker.Name)
}

func TestSocialWithdrawal_QuietBaselineDoesNotFire(t *testing.T) {
	d := &socialWithdrawal{interaction: &stubInteraction{perMonth: []int{3, 1, 0}}}

	marker, err := d.Detect(context.Background(), "student-1", testWindow)
	require.NoError(t, err)
	assert.Nil(t, marker)
}

// failingDetector always errors, to prove detector isolation.
type failingDetector struct{}

func (failingDetector) Name() string { return "failing" }

func (failingDetector) Detect(ctx context.Context, studentID string, window timeutil.Window) (*risk.PatternMarker, error) {
	return nil, errors.New("boom")
}

func TestDetectAll_DisabledDetectorSkipped(t *testing.T) {
	var records []feature.AttendanceRecord
	for _, day := range mondays(12) {
		records = append(records, feature.AttendanceRecord{Date: day, Status: feature.StatusAbsent})
	}

	r := &Registry{log: testLogger()}
	r.Register(&mondayAbsenteeism{attendance: &stubAttendance{records: records}})
	r.Disable("monday_absenteeism", "no_such_detector")

	markers := r.DetectAll(context.Background(), "student-1", testWindow)
	assert.Empty(t, markers)
	// Disabled detectors never run, so no stats accumulate.
	assert.Empty(t, r.Stats())
}

func TestDetectAll_RecordsStats(t *testing.T) {
	var records []feature.AttendanceRecord
	for _, day := range mondays(12) {
		records = append(records, feature.AttendanceRecord{Date: day, Status: feature.StatusAbsent})
	}

	r := &Registry{log: testLogger()}
	r.Register(failingDetector{})
	r.Register(&mondayAbsenteeism{attendance: &stubAttendance{records: records}})

	r.DetectAll(context.Background(), "student-1", testWindow)
	r.DetectAll(context.Background(), "student-2", testWindow)

	stats := r.Stats()
	assert.Equal(t, int64(2), stats["failing"].Runs)
	assert.Equal(t, int64(2), stats["failing"].Failures)
	assert.Equal(t, int64(2), stats["monday_absenteeism"].Fired)
}

func TestDetectAll_IsolatesFailures(t *testing.T) {
	var records []feature.AttendanceRecord
	for _, day := range mondays(12) {
		records = append(records, feature.AttendanceRecord{Date: day, Status: feature.StatusAbsent})
	}

	r := &Registry{log: testLogger()}
	r.Register(failingDetector{})
	r.Register(&mondayAbsenteeism{attendance: &stubAttendance{records: records}})

	markers := r.DetectAll(context.Background(), "student-1", testWindow)
	require.Len(t, markers, 1)
	assert.Equal(t, "monday_absenteeism", markers[0].Name)
}
