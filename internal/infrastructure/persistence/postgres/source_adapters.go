package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/alert"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
)

// ══════════════════════════════════════════════════════════════════════════════
// PLATFORM SOURCE ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════
// Read-only adapters over the school platform's own tables (grades,
// attendances, homework, behavior, messaging, student records, enrollments).
// The analytics core never writes to these tables; its own tables are in
// migrations.go.

// PlatformSources builds the full adapter bundle over one connection.
func PlatformSources(conn *Connection) feature.Sources {
	return feature.Sources{
		Grades:      &GradeAdapter{conn: conn},
		Attendance:  &AttendanceAdapter{conn: conn},
		Homework:    &HomeworkAdapter{conn: conn},
		Behavior:    &BehaviorAdapter{conn: conn},
		Interaction: &InteractionAdapter{conn: conn},
		Record:      &RecordAdapter{conn: conn},
	}
}

// GradeAdapter serves normalized evaluation results from the grades table.
type GradeAdapter struct {
	conn *Connection
}

func (a *GradeAdapter) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.GradeRecord, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT graded_at, score / NULLIF(max_score, 0) * 20, subject_id
		FROM grades
		WHERE tenant_id = $1 AND student_id = $2
		  AND graded_at >= $3 AND graded_at <= $4
		  AND max_score > 0
		ORDER BY graded_at`, tenant.String(), studentID, start, end)
	if err != nil {
		return nil, wrapSource("grades", err)
	}
	defer rows.Close()

	var out []feature.GradeRecord
	for rows.Next() {
		var rec feature.GradeRecord
		if err := rows.Scan(&rec.Date, &rec.NormalizedScore, &rec.SubjectID); err != nil {
			return nil, wrapSource("grades", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AttendanceAdapter serves attendance slots from the attendances table.
type AttendanceAdapter struct {
	conn *Connection
}

func (a *AttendanceAdapter) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.AttendanceRecord, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT slot_date, status, justified
		FROM attendances
		WHERE tenant_id = $1 AND student_id = $2
		  AND slot_date >= $3 AND slot_date <= $4
		ORDER BY slot_date`, tenant.String(), studentID, start, end)
	if err != nil {
		return nil, wrapSource("attendances", err)
	}
	defer rows.Close()

	var out []feature.AttendanceRecord
	for rows.Next() {
		var (
			rec    feature.AttendanceRecord
			status string
		)
		if err := rows.Scan(&rec.Date, &status, &rec.IsJustified); err != nil {
			return nil, wrapSource("attendances", err)
		}
		rec.Status = feature.AttendanceStatus(status)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// HomeworkAdapter serves assigned homework and submissions.
type HomeworkAdapter struct {
	conn *Connection
}

func (a *HomeworkAdapter) Assigned(ctx context.Context, studentID string, start, end time.Time) ([]feature.Assignment, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	// Homework is assigned per class group; resolve through the student's
	// group memberships.
	rows, err := a.conn.Query(ctx, `
		SELECT h.id, h.due_date
		FROM homework h
		JOIN class_memberships m ON m.class_group_id = h.class_group_id
		WHERE h.tenant_id = $1 AND m.student_id = $2
		  AND h.due_date >= $3 AND h.due_date <= $4
		ORDER BY h.due_date`, tenant.String(), studentID, start, end)
	if err != nil {
		return nil, wrapSource("homework", err)
	}
	defer rows.Close()

	var out []feature.Assignment
	for rows.Next() {
		var hw feature.Assignment
		if err := rows.Scan(&hw.ID, &hw.DueDate); err != nil {
			return nil, wrapSource("homework", err)
		}
		out = append(out, hw)
	}
	return out, rows.Err()
}

func (a *HomeworkAdapter) Submitted(ctx context.Context, studentID string, assignmentIDs []string) ([]feature.Submission, error) {
	if len(assignmentIDs) == 0 {
		return nil, nil
	}
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT homework_id, status, time_spent_minutes
		FROM homework_submissions
		WHERE tenant_id = $1 AND student_id = $2 AND homework_id = ANY($3)`,
		tenant.String(), studentID, assignmentIDs)
	if err != nil {
		return nil, wrapSource("homework_submissions", err)
	}
	defer rows.Close()

	var out []feature.Submission
	for rows.Next() {
		var (
			sub    feature.Submission
			status string
		)
		if err := rows.Scan(&sub.AssignmentID, &status, &sub.TimeSpentMinutes); err != nil {
			return nil, wrapSource("homework_submissions", err)
		}
		sub.Status = feature.HomeworkStatus(status)
		out = append(out, sub)
	}
	return out, rows.Err()
}

// BehaviorAdapter serves behavior remarks and sanctions.
type BehaviorAdapter struct {
	conn *Connection
}

func (a *BehaviorAdapter) Window(ctx context.Context, studentID string, start, end time.Time) ([]feature.BehaviorRecord, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT recorded_at, remark_type
		FROM behavior_remarks
		WHERE tenant_id = $1 AND student_id = $2
		  AND recorded_at >= $3 AND recorded_at <= $4
		ORDER BY recorded_at`, tenant.String(), studentID, start, end)
	if err != nil {
		return nil, wrapSource("behavior_remarks", err)
	}
	defer rows.Close()

	var out []feature.BehaviorRecord
	for rows.Next() {
		var (
			rec  feature.BehaviorRecord
			kind string
		)
		if err := rows.Scan(&rec.Date, &kind); err != nil {
			return nil, wrapSource("behavior_remarks", err)
		}
		rec.Type = feature.BehaviorType(kind)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (a *BehaviorAdapter) Sanctions(ctx context.Context, studentID string, start, end time.Time) ([]feature.SanctionRecord, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT issued_at, reason
		FROM sanctions
		WHERE tenant_id = $1 AND student_id = $2
		  AND issued_at >= $3 AND issued_at <= $4
		ORDER BY issued_at`, tenant.String(), studentID, start, end)
	if err != nil {
		return nil, wrapSource("sanctions", err)
	}
	defer rows.Close()

	var out []feature.SanctionRecord
	for rows.Next() {
		var rec feature.SanctionRecord
		if err := rows.Scan(&rec.Date, &rec.Reason); err != nil {
			return nil, wrapSource("sanctions", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InteractionAdapter serves messaging activity counts.
type InteractionAdapter struct {
	conn *Connection
}

func (a *InteractionAdapter) Sent(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	return a.count(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE tenant_id = $1 AND sender_id = $2
		  AND sent_at >= $3 AND sent_at <= $4`, studentID, start, end)
}

func (a *InteractionAdapter) Received(ctx context.Context, studentID string, start, end time.Time) (int, error) {
	return a.count(ctx, `
		SELECT COUNT(*) FROM message_recipients r
		JOIN messages m ON m.id = r.message_id
		WHERE m.tenant_id = $1 AND r.recipient_id = $2
		  AND m.sent_at >= $3 AND m.sent_at <= $4`, studentID, start, end)
}

func (a *InteractionAdapter) count(ctx context.Context, query, studentID string, start, end time.Time) (int, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return 0, err
	}
	var n int
	err = a.conn.QueryRow(ctx, query, tenant.String(), studentID, start, end).Scan(&n)
	if err != nil {
		return 0, wrapSource("messages", err)
	}
	return n, nil
}

// RecordAdapter serves the administrative student record.
type RecordAdapter struct {
	conn *Connection
}

func (a *RecordAdapter) Get(ctx context.Context, studentID string) (*feature.StudentRecord, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	var (
		rec       feature.StudentRecord
		situation string
	)
	err = a.conn.QueryRow(ctx, `
		SELECT family_situation, guardians_with_custody, entry_date, date_of_birth,
			(SELECT COUNT(*) FROM extracurricular_enrollments e
			 WHERE e.tenant_id = r.tenant_id AND e.student_id = r.student_id)
		FROM student_records r
		WHERE tenant_id = $1 AND student_id = $2`,
		tenant.String(), studentID).Scan(
		&situation, &rec.GuardiansWithCustodyCount, &rec.EntryDate,
		&rec.DateOfBirth, &rec.ExtracurricularCount)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.WrapError("feature", "Record", shared.ErrNotFound,
				fmt.Sprintf("no administrative record for student %s", studentID), nil)
		}
		return nil, wrapSource("student_records", err)
	}
	rec.FamilySituation = feature.FamilySituation(situation)
	return &rec, nil
}

// EnrollmentAdapter implements feature.EnrollmentSource over the platform's
// enrollment table.
type EnrollmentAdapter struct {
	conn *Connection
}

// NewEnrollmentAdapter creates a new enrollment adapter.
func NewEnrollmentAdapter(conn *Connection) *EnrollmentAdapter {
	return &EnrollmentAdapter{conn: conn}
}

func (a *EnrollmentAdapter) Active(ctx context.Context, studentID string, year shared.AcademicYear) (bool, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return false, err
	}
	var exists bool
	err = a.conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM enrollments
			WHERE tenant_id = $1 AND student_id = $2 AND academic_year = $3
			  AND status = 'active'
		)`, tenant.String(), studentID, year.String()).Scan(&exists)
	if err != nil {
		return false, wrapSource("enrollments", err)
	}
	return exists, nil
}

// WithoutProfile returns enrolled students with no risk profile yet, for the
// backfill job.
func (a *EnrollmentAdapter) WithoutProfile(ctx context.Context, year shared.AcademicYear) ([]string, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT e.student_id
		FROM enrollments e
		LEFT JOIN risk_profiles p
		  ON p.tenant_id = e.tenant_id
		 AND p.student_id = e.student_id
		 AND p.academic_year = e.academic_year
		WHERE e.tenant_id = $1 AND e.academic_year = $2
		  AND e.status = 'active'
		  AND p.id IS NULL
		ORDER BY e.student_id`, tenant.String(), year.String())
	if err != nil {
		return nil, wrapSource("enrollments", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func (a *EnrollmentAdapter) Enrolled(ctx context.Context, year shared.AcademicYear) ([]string, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT student_id FROM enrollments
		WHERE tenant_id = $1 AND academic_year = $2 AND status = 'active'
		ORDER BY student_id`, tenant.String(), year.String())
	if err != nil {
		return nil, wrapSource("enrollments", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

// DirectoryAdapter resolves student display names for alert messages and
// implements the class roster lookup for class-wide analyses.
type DirectoryAdapter struct {
	conn *Connection
}

// NewDirectoryAdapter creates a new directory adapter.
func NewDirectoryAdapter(conn *Connection) *DirectoryAdapter {
	return &DirectoryAdapter{conn: conn}
}

func (a *DirectoryAdapter) DisplayName(ctx context.Context, studentID string) (string, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return "", err
	}
	var first, last string
	err = a.conn.QueryRow(ctx, `
		SELECT first_name, last_name FROM students
		WHERE tenant_id = $1 AND id = $2`, tenant.String(), studentID).Scan(&first, &last)
	if err != nil {
		if IsNoRows(err) {
			return "", shared.WrapError("alert", "DisplayName", shared.ErrNotFound,
				fmt.Sprintf("student %s not found", studentID), nil)
		}
		return "", wrapSource("students", err)
	}
	return first + " " + last, nil
}

// Contacts resolves the recipient flags of an alert configuration into
// concrete contacts with their reachable addresses.
func (a *DirectoryAdapter) Contacts(ctx context.Context, studentID string, recipients alert.Recipients) ([]alert.Contact, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}

	var out []alert.Contact

	appendUsers := func(query string, role alert.ContactRole, args ...interface{}) error {
		rows, err := a.conn.Query(ctx, query, args...)
		if err != nil {
			return wrapSource("users", err)
		}
		defer rows.Close()
		for rows.Next() {
			c := alert.Contact{Role: role}
			if err := rows.Scan(&c.UserID, &c.Name, &c.Email, &c.Phone); err != nil {
				return wrapSource("users", err)
			}
			out = append(out, c)
		}
		return rows.Err()
	}

	if recipients.NotifyStudent {
		err = appendUsers(`
			SELECT u.id, u.first_name || ' ' || u.last_name, COALESCE(u.email, ''), COALESCE(u.phone, '')
			FROM users u
			JOIN students s ON s.user_id = u.id
			WHERE u.tenant_id = $1 AND s.id = $2`, alert.RoleStudent, tenant.String(), studentID)
		if err != nil {
			return nil, err
		}
	}
	if recipients.NotifyParents {
		err = appendUsers(`
			SELECT u.id, u.first_name || ' ' || u.last_name, COALESCE(u.email, ''), COALESCE(u.phone, '')
			FROM users u
			JOIN guardianships g ON g.guardian_user_id = u.id
			WHERE u.tenant_id = $1 AND g.student_id = $2`, alert.RoleParent, tenant.String(), studentID)
		if err != nil {
			return nil, err
		}
	}
	if recipients.NotifyMainTeacher {
		err = appendUsers(`
			SELECT u.id, u.first_name || ' ' || u.last_name, COALESCE(u.email, ''), COALESCE(u.phone, '')
			FROM users u
			JOIN class_groups cg ON cg.main_teacher_user_id = u.id
			JOIN class_memberships m ON m.class_group_id = cg.id
			WHERE u.tenant_id = $1 AND m.student_id = $2`, alert.RoleMainTeacher, tenant.String(), studentID)
		if err != nil {
			return nil, err
		}
	}
	if recipients.NotifyAdministration {
		err = appendUsers(`
			SELECT u.id, u.first_name || ' ' || u.last_name, COALESCE(u.email, ''), COALESCE(u.phone, '')
			FROM users u
			WHERE u.tenant_id = $1 AND u.role = 'administration' AND u.active`,
			alert.RoleAdministration, tenant.String())
		if err != nil {
			return nil, err
		}
	}
	if len(recipients.Additional) > 0 {
		err = appendUsers(`
			SELECT u.id, u.first_name || ' ' || u.last_name, COALESCE(u.email, ''), COALESCE(u.phone, '')
			FROM users u
			WHERE u.tenant_id = $1 AND u.id = ANY($2)`,
			alert.RoleAdditional, tenant.String(), recipients.Additional)
		if err != nil {
			return nil, err
		}
	}

	// One user may match several roles; keep the first occurrence.
	seen := make(map[string]bool, len(out))
	deduped := out[:0]
	for _, c := range out {
		if seen[c.UserID] {
			continue
		}
		seen[c.UserID] = true
		deduped = append(deduped, c)
	}
	return deduped, nil
}

// Students returns the student IDs of one class group.
func (a *DirectoryAdapter) Students(ctx context.Context, classID string) ([]string, error) {
	tenant, err := tenantOf(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := a.conn.Query(ctx, `
		SELECT student_id FROM class_memberships
		WHERE tenant_id = $1 AND class_group_id = $2
		ORDER BY student_id`, tenant.String(), classID)
	if err != nil {
		return nil, wrapSource("class_memberships", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, wrapSource("scan", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func wrapSource(table string, err error) error {
	return shared.WrapError("feature", "Source", shared.ErrSourceUnavailable,
		fmt.Sprintf("querying %s", table), err)
}
