package feature

import (
	"context"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// SOURCE ADAPTER PORTS
// ══════════════════════════════════════════════════════════════════════════════
// The extractor consumes only these typed window queries and never issues
// bespoke queries of its own. Adapters are implemented against the platform's
// relational schema under internal/infrastructure/persistence/postgres.

// GradeRecord is one normalized evaluation result. Scores are on /20.
type GradeRecord struct {
	Date            time.Time
	NormalizedScore float64
	SubjectID       string
}

// GradeSource serves evaluation results.
type GradeSource interface {
	Window(ctx context.Context, studentID string, start, end time.Time) ([]GradeRecord, error)
}

// AttendanceStatus is the per-slot attendance outcome.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
)

// AttendanceRecord is one attendance slot.
type AttendanceRecord struct {
	Date        time.Time
	Status      AttendanceStatus
	IsJustified bool
}

// AttendanceSource serves attendance slots ordered by date ascending.
type AttendanceSource interface {
	Window(ctx context.Context, studentID string, start, end time.Time) ([]AttendanceRecord, error)
}

// HomeworkStatus is the submission state of one assignment for one student.
type HomeworkStatus string

const (
	HomeworkSubmitted HomeworkStatus = "submitted"
	HomeworkLate      HomeworkStatus = "late"
	HomeworkReturned  HomeworkStatus = "returned"
	HomeworkDraft     HomeworkStatus = "draft"
)

// Assignment is one homework given to the student's class.
type Assignment struct {
	ID      string
	DueDate time.Time
}

// Submission is the student's state on one assignment.
type Submission struct {
	AssignmentID     string
	Status           HomeworkStatus
	TimeSpentMinutes *int
}

// HomeworkSource serves assigned homework and per-student submissions.
type HomeworkSource interface {
	Assigned(ctx context.Context, studentID string, start, end time.Time) ([]Assignment, error)
	Submitted(ctx context.Context, studentID string, assignmentIDs []string) ([]Submission, error)
}

// BehaviorType distinguishes positive remarks from incidents.
type BehaviorType string

const (
	BehaviorPositive BehaviorType = "positive"
	BehaviorNegative BehaviorType = "negative"
)

// BehaviorRecord is one behavior remark.
type BehaviorRecord struct {
	Date time.Time
	Type BehaviorType
}

// SanctionRecord is one disciplinary sanction.
type SanctionRecord struct {
	Date   time.Time
	Reason string
}

// BehaviorSource serves behavior remarks and sanctions.
type BehaviorSource interface {
	Window(ctx context.Context, studentID string, start, end time.Time) ([]BehaviorRecord, error)
	Sanctions(ctx context.Context, studentID string, start, end time.Time) ([]SanctionRecord, error)
}

// InteractionSource serves messaging activity counts.
type InteractionSource interface {
	Sent(ctx context.Context, studentID string, start, end time.Time) (int, error)
	Received(ctx context.Context, studentID string, start, end time.Time) (int, error)
}

// FamilySituation is the declared family situation on the student record.
type FamilySituation string

const (
	FamilyParentsTogether FamilySituation = "parents_together"
	FamilySeparated       FamilySituation = "separated"
	FamilyDivorced        FamilySituation = "divorced"
	FamilySingleParent    FamilySituation = "single_parent"
	FamilyGuardian        FamilySituation = "guardian"
	FamilyFoster          FamilySituation = "foster"
	FamilyOther           FamilySituation = "other"
)

// RiskWeight maps the situation to its demographic risk contribution.
// An unknown situation maps like FamilyOther.
func (s FamilySituation) RiskWeight() float64 {
	switch s {
	case FamilyParentsTogether:
		return 0
	case FamilySeparated, FamilyDivorced:
		return 1
	case FamilySingleParent, FamilyGuardian:
		return 2
	case FamilyFoster:
		return 3
	default:
		return 1
	}
}

// StudentRecord is the administrative record backing demographic features.
type StudentRecord struct {
	FamilySituation           FamilySituation
	GuardiansWithCustodyCount int
	EntryDate                 time.Time
	DateOfBirth               *time.Time
	ExtracurricularCount      int
}

// RecordSource serves the administrative student record.
// A missing record returns shared.ErrNotFound.
type RecordSource interface {
	Get(ctx context.Context, studentID string) (*StudentRecord, error)
}

// EnrollmentSource serves enrollment state, used by backfill and training.
type EnrollmentSource interface {
	Active(ctx context.Context, studentID string, year shared.AcademicYear) (bool, error)
	WithoutProfile(ctx context.Context, year shared.AcademicYear) ([]string, error)
	Enrolled(ctx context.Context, year shared.AcademicYear) ([]string, error)
}

// Sources bundles every adapter the extractor consumes.
type Sources struct {
	Grades      GradeSource
	Attendance  AttendanceSource
	Homework    HomeworkSource
	Behavior    BehaviorSource
	Interaction InteractionSource
	Record      RecordSource
}
