// Package pattern runs a registry of named temporal-pattern heuristics over
// a student's history. A detector either returns a marker with evidence or
// nothing; one detector failing never aborts the others.
package pattern

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Idriss091/peproscolaire-sub000/internal/domain/risk"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// Detector is one named temporal-pattern heuristic.
type Detector interface {
	// Name is the stable marker name, e.g. "monday_absenteeism".
	Name() string

	// Detect inspects the window and returns a marker when the pattern
	// fires, or nil when it does not.
	Detect(ctx context.Context, studentID string, window timeutil.Window) (*risk.PatternMarker, error)
}

// Registry runs all registered detectors with per-detector isolation.
type Registry struct {
	detectors []Detector
	disabled  map[string]bool
	log       *logger.Logger

	mu    sync.Mutex
	stats map[string]*DetectorStats
}

// DetectorStats counts the runs of one detector across sweeps.
type DetectorStats struct {
	Runs     int64
	Failures int64
	Fired    int64
}

// NewRegistry creates a registry with the standard detector suite.
func NewRegistry(sources feature.Sources, log *logger.Logger) *Registry {
	r := &Registry{log: log}
	r.Register(&mondayAbsenteeism{attendance: sources.Attendance})
	r.Register(&gradeDrop{grades: sources.Grades})
	r.Register(&escalatingBehavior{behavior: sources.Behavior})
	r.Register(&socialWithdrawal{interaction: sources.Interaction})
	return r
}

// Register adds a detector to the registry.
func (r *Registry) Register(d Detector) {
	r.detectors = append(r.detectors, d)
}

// Disable turns off detectors by marker name. Unknown names are ignored so a
// stale config entry never breaks the sweep.
func (r *Registry) Disable(names ...string) {
	if r.disabled == nil {
		r.disabled = make(map[string]bool)
	}
	for _, name := range names {
		if name == "" {
			continue
		}
		r.disabled[name] = true
		r.log.Info("pattern detector disabled", logger.String("detector", name))
	}
}

// DetectAll runs every enabled detector and collects the markers that fired.
// A failing detector is logged and skipped.
func (r *Registry) DetectAll(ctx context.Context, studentID string, window timeutil.Window) []risk.PatternMarker {
	var markers []risk.PatternMarker
	for _, d := range r.detectors {
		if r.disabled[d.Name()] {
			continue
		}
		marker, err := d.Detect(ctx, studentID, window)
		r.record(d.Name(), err, marker != nil)
		if err != nil {
			r.log.Warn("pattern detector failed",
				logger.StudentID(studentID),
				logger.String("detector", d.Name()),
				logger.Err(err))
			continue
		}
		if marker != nil {
			markers = append(markers, *marker)
		}
	}
	return markers
}

func (r *Registry) record(name string, err error, fired bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stats == nil {
		r.stats = make(map[string]*DetectorStats)
	}
	s := r.stats[name]
	if s == nil {
		s = &DetectorStats{}
		r.stats[name] = s
	}
	s.Runs++
	if err != nil {
		s.Failures++
	}
	if fired {
		s.Fired++
	}
}

// Stats returns a copy of the per-detector counters.
func (r *Registry) Stats() map[string]DetectorStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]DetectorStats, len(r.stats))
	for name, s := range r.stats {
		out[name] = *s
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// monday_absenteeism: fires when Mondays are frequently missed.
// Requires more than 4 Mondays in the window and an absence ratio above 0.4.
// ─────────────────────────────────────────────────────────────────────────────

type mondayAbsenteeism struct {
	attendance feature.AttendanceSource
}

func (d *mondayAbsenteeism) Name() string { return "monday_absenteeism" }

func (d *mondayAbsenteeism) Detect(ctx context.Context, studentID string, window timeutil.Window) (*risk.PatternMarker, error) {
	records, err := d.attendance.Window(ctx, studentID, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	mondays := make(map[string]bool) // date -> absent
	for _, rec := range records {
		if rec.Date.Weekday() != time.Monday {
			continue
		}
		day := timeutil.FormatDateStr(rec.Date)
		if rec.Status == feature.StatusAbsent {
			mondays[day] = true
		} else if _, seen := mondays[day]; !seen {
			mondays[day] = false
		}
	}

	total := len(mondays)
	absent := 0
	var evidence []string
	for day, wasAbsent := range mondays {
		if wasAbsent {
			absent++
			evidence = append(evidence, fmt.Sprintf("absent le lundi %s", day))
		}
	}
	sort.Strings(evidence)
	if total <= 4 || float64(absent)/float64(total) <= 0.4 {
		return nil, nil
	}

	return &risk.PatternMarker{
		Name:     d.Name(),
		Severity: risk.SeverityHigh,
		Description: fmt.Sprintf("Absentéisme chronique du lundi: %d lundis manqués sur %d",
			absent, total),
		Evidence:   evidence,
		DetectedAt: time.Now().UTC(),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// grade_drop: fires when the mean normalized score falls by more than
// 3 points between the two halves of the window.
// ─────────────────────────────────────────────────────────────────────────────

type gradeDrop struct {
	grades feature.GradeSource
}

func (d *gradeDrop) Name() string { return "grade_drop" }

func (d *gradeDrop) Detect(ctx context.Context, studentID string, window timeutil.Window) (*risk.PatternMarker, error) {
	grades, err := d.grades.Window(ctx, studentID, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	first, second := window.Halves()
	var a, b []float64
	for _, g := range grades {
		if first.Contains(g.Date) {
			a = append(a, g.NormalizedScore)
		} else if second.Contains(g.Date) {
			b = append(b, g.NormalizedScore)
		}
	}
	// Both halves must yield a mean.
	if len(a) == 0 || len(b) == 0 {
		return nil, nil
	}

	firstMean := mean(a)
	secondMean := mean(b)
	drop := firstMean - secondMean
	if drop <= 3 {
		return nil, nil
	}

	return &risk.PatternMarker{
		Name:     d.Name(),
		Severity: risk.SeverityHigh,
		Description: fmt.Sprintf("Chute des notes: moyenne passée de %.1f à %.1f",
			firstMean, secondMean),
		Evidence: []string{
			fmt.Sprintf("première moitié %s: %.1f/20 (%d notes)", first, firstMean, len(a)),
			fmt.Sprintf("seconde moitié %s: %.1f/20 (%d notes)", second, secondMean, len(b)),
		},
		DetectedAt: time.Now().UTC(),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// escalating_behavior: fires when sanctions increase across the window,
// comparing the first and last thirds.
// ─────────────────────────────────────────────────────────────────────────────

type escalatingBehavior struct {
	behavior feature.BehaviorSource
}

func (d *escalatingBehavior) Name() string { return "escalating_behavior" }

func (d *escalatingBehavior) Detect(ctx context.Context, studentID string, window timeutil.Window) (*risk.PatternMarker, error) {
	sanctions, err := d.behavior.Sanctions(ctx, studentID, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	thirds := window.Thirds()
	counts := [3]int{}
	for _, s := range sanctions {
		for i, t := range thirds {
			if t.Contains(s.Date) {
				counts[i]++
				break
			}
		}
	}
	if counts[2] <= counts[0] || counts[2] <= 2 {
		return nil, nil
	}

	return &risk.PatternMarker{
		Name:     d.Name(),
		Severity: risk.SeverityHigh,
		Description: fmt.Sprintf("Escalade des sanctions: %d en début de période, %d en fin",
			counts[0], counts[2]),
		Evidence: []string{
			fmt.Sprintf("période 1: %d sanctions", counts[0]),
			fmt.Sprintf("période 2: %d sanctions", counts[1]),
			fmt.Sprintf("période 3: %d sanctions", counts[2]),
		},
		DetectedAt: time.Now().UTC(),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// social_withdrawal: fires when monthly message volume collapses from a
// previously active baseline.
// ─────────────────────────────────────────────────────────────────────────────

type socialWithdrawal struct {
	interaction feature.InteractionSource
}

func (d *socialWithdrawal) Name() string { return "social_withdrawal" }

func (d *socialWithdrawal) Detect(ctx context.Context, studentID string, window timeutil.Window) (*risk.PatternMarker, error) {
	var monthly []int
	for start := window.Start; start.Before(window.End); start = start.AddDate(0, 1, 0) {
		end := start.AddDate(0, 1, 0)
		if end.After(window.End) {
			end = window.End
		}
		sent, err := d.interaction.Sent(ctx, studentID, start, end)
		if err != nil {
			return nil, err
		}
		monthly = append(monthly, sent)
	}
	if len(monthly) < 2 {
		return nil, nil
	}

	first := monthly[0]
	last := monthly[len(monthly)-1]
	if first <= 5 || float64(last) >= float64(first)/2 {
		return nil, nil
	}

	return &risk.PatternMarker{
		Name:     d.Name(),
		Severity: risk.SeverityMedium,
		Description: fmt.Sprintf("Repli social: messages envoyés passés de %d à %d par mois",
			first, last),
		Evidence: []string{
			fmt.Sprintf("premier mois: %d messages", first),
			fmt.Sprintf("dernier mois: %d messages", last),
		},
		DetectedAt: time.Now().UTC(),
	}, nil
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
