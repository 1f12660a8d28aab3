// Package main implements riskctl, the operator CLI of the risk analytics
// core. It runs the same pipeline as the worker but synchronously, for
// one-off operations and incident handling:
//
//	riskctl analyze --student <id> [--year 2025-2026]
//	riskctl analyze-class --class <id> [--year 2025-2026]
//	riskctl train [--force]
//	riskctl evaluate-plan --plan <id>
//	riskctl backfill-profiles
//	riskctl jobs
//	riskctl health
//
// Exit codes: 0 success, 1 configuration error, 2 runtime error, 3 nothing
// to do (e.g. a plan whose evaluation window is still too short).
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Idriss091/peproscolaire-sub000/config"
	"github.com/Idriss091/peproscolaire-sub000/internal/alerting"
	"github.com/Idriss091/peproscolaire-sub000/internal/application/analyze"
	"github.com/Idriss091/peproscolaire-sub000/internal/application/effectiveness"
	"github.com/Idriss091/peproscolaire-sub000/internal/domain/shared"
	"github.com/Idriss091/peproscolaire-sub000/internal/feature"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/messaging"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/persistence/postgres"
	redisc "github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/persistence/redis"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/queue"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/scheduler"
	"github.com/Idriss091/peproscolaire-sub000/internal/infrastructure/scheduler/jobs"
	"github.com/Idriss091/peproscolaire-sub000/internal/ml"
	"github.com/Idriss091/peproscolaire-sub000/pkg/logger"
	"github.com/Idriss091/peproscolaire-sub000/pkg/timeutil"
)

// Exit codes.
const (
	exitOK      = 0
	exitConfig  = 1
	exitRuntime = 2
	exitNoWork  = 3
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		usage()
		return exitConfig
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return exitConfig
	}

	ctx := shared.WithTenant(context.Background(), shared.TenantID(cfg.App.TenantID))

	// The jobs catalog is static; no store connections needed.
	if args[0] == "jobs" {
		return listJobs(cfg)
	}

	app, err := newApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "startup error: %v\n", err)
		return exitRuntime
	}
	defer app.close()

	switch args[0] {
	case "analyze":
		return app.analyzeStudent(ctx, args[1:])
	case "analyze-class":
		return app.analyzeClass(ctx, args[1:])
	case "train":
		return app.train(ctx, args[1:])
	case "evaluate-plan":
		return app.evaluatePlan(ctx, args[1:])
	case "backfill-profiles":
		return app.backfillProfiles(ctx)
	case "health":
		return app.health(ctx)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
		usage()
		return exitConfig
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: riskctl <command> [flags]

commands:
  analyze            --student <id> [--year YYYY-YYYY]
  analyze-class      --class <id> [--year YYYY-YYYY]
  train              [--force]
  evaluate-plan      --plan <id>
  backfill-profiles
  jobs
  health`)
}

// ══════════════════════════════════════════════════════════════════════════════
// APPLICATION WIRING
// ══════════════════════════════════════════════════════════════════════════════

// app carries the synchronously wired pipeline.
type app struct {
	cfg *config.Config
	log *logger.Logger

	db    *postgres.Connection
	cache *redisc.Cache
	bus   *messaging.InMemoryEventBus

	analyzer  *analyze.Service
	evaluator *effectiveness.Evaluator
	directory *postgres.DirectoryAdapter
	trainJob  *jobs.TrainModelJob
	backfill  *jobs.BackfillProfilesJob
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	opts := logger.DefaultOptions()
	opts.Output = os.Stderr
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	log := logger.New(opts)

	db, err := postgres.NewConnectionFromURL(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}

	redisCfg := redisc.DefaultConfig()
	redisCfg.Host = cfg.Redis.Host
	redisCfg.Port = cfg.Redis.Port
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	cache, err := redisc.NewCache(redisCfg)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}

	// Synchronous bus: command output must reflect all side effects.
	busCfg := messaging.DefaultEventBusConfig()
	busCfg.AsyncMode = false
	bus := messaging.NewInMemoryEventBus(busCfg, log)

	profiles := redisc.NewProfileCache(postgres.NewProfileRepo(db), cache, log)
	indicators := postgres.NewIndicatorRepo(db)
	alerts := postgres.NewAlertRepo(db)
	alertConfigs := postgres.NewConfigRepo(db)
	plans := postgres.NewInterventionRepo(db)
	directory := postgres.NewDirectoryAdapter(db)
	enrollment := postgres.NewEnrollmentAdapter(db)
	sources := postgres.PlatformSources(db)

	extractor := feature.NewExtractor(sources, log)
	predictor := ml.NewPredictor(cfg.Model.Dir, log)
	engine := alerting.NewEngine(alertConfigs, alerts, directory, bus, log)
	analyzer := analyze.NewService(profiles, indicators, extractor, predictor, engine, bus, log).
		WithWindow(cfg.Analysis.WindowDays).
		WithAutoMonitoring(cfg.Analysis.AutoMonitoring)
	evaluator := effectiveness.NewEvaluator(plans, profiles, extractor, bus, log)
	collector := ml.NewCollector(extractor, enrollment, log)
	modelSignal := redisc.NewModelSignal(cache, cfg.App.TenantID, log)

	trainJob := jobs.NewTrainModelJob(collector, predictor, modelSignal, bus, jobs.TrainModelConfig{
		ModelDir:   cfg.Model.Dir,
		MinSamples: cfg.Model.MinSamples,
		Seed:       cfg.Model.Seed,
	}, log)

	// Backfill enqueues follow-up analyses; the in-memory queue runs them
	// inline so the command returns only when every profile is scored.
	memq := queue.NewMemoryQueue()
	backfill := jobs.NewBackfillProfilesJob(enrollment, profiles, memq, log)
	evaluateJob := jobs.NewEvaluatePlansJob(plans, evaluator, log)
	jobs.NewHandlers(analyzer, directory, evaluateJob, trainJob, backfill).Register(memq)

	return &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		cache:     cache,
		bus:       bus,
		analyzer:  analyzer,
		evaluator: evaluator,
		directory: directory,
		trainJob:  trainJob,
		backfill:  backfill,
	}, nil
}

func (a *app) close() {
	_ = a.bus.Close()
	a.cache.Close()
	a.db.Close()
}

// ══════════════════════════════════════════════════════════════════════════════
// COMMANDS
// ══════════════════════════════════════════════════════════════════════════════

func (a *app) analyzeStudent(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("analyze", flag.ContinueOnError)
	studentID := fs.String("student", "", "student identifier")
	year := fs.String("year", timeutil.AcademicYearOf(timeutil.Now()), "academic year (YYYY-YYYY)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *studentID == "" {
		fmt.Fprintln(os.Stderr, "analyze: --student is required")
		return exitConfig
	}

	report, err := a.analyzer.Student(ctx, *studentID, shared.AcademicYear(*year))
	if err != nil {
		fmt.Fprintf(os.Stderr, "analysis failed: %v\n", err)
		return exitRuntime
	}
	return printJSON(report)
}

func (a *app) analyzeClass(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("analyze-class", flag.ContinueOnError)
	classID := fs.String("class", "", "class group identifier")
	year := fs.String("year", timeutil.AcademicYearOf(timeutil.Now()), "academic year (YYYY-YYYY)")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *classID == "" {
		fmt.Fprintln(os.Stderr, "analyze-class: --class is required")
		return exitConfig
	}

	report, err := a.analyzer.Class(ctx, a.directory, *classID, shared.AcademicYear(*year))
	if err != nil {
		fmt.Fprintf(os.Stderr, "class analysis failed: %v\n", err)
		return exitRuntime
	}
	return printJSON(report)
}

func (a *app) train(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("train", flag.ContinueOnError)
	force := fs.Bool("force", false, "retrain even when the current model is healthy")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if err := a.trainJob.Train(ctx, *force); err != nil {
		fmt.Fprintf(os.Stderr, "training failed: %v\n", err)
		return exitRuntime
	}
	return exitOK
}

func (a *app) evaluatePlan(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("evaluate-plan", flag.ContinueOnError)
	planID := fs.String("plan", "", "intervention plan identifier")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}
	if *planID == "" {
		fmt.Fprintln(os.Stderr, "evaluate-plan: --plan is required")
		return exitConfig
	}

	evaluation, err := a.evaluator.Evaluate(ctx, *planID)
	switch {
	case err == nil:
		return printJSON(evaluation)
	case errors.Is(err, shared.ErrInsufficientData):
		fmt.Fprintln(os.Stderr, "evaluation window too short, try again later")
		return exitNoWork
	default:
		fmt.Fprintf(os.Stderr, "evaluation failed: %v\n", err)
		return exitRuntime
	}
}

func (a *app) backfillProfiles(ctx context.Context) int {
	if err := a.backfill.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "backfill failed: %v\n", err)
		return exitRuntime
	}
	return exitOK
}

// health reports the state of both stores. Exit code 2 when either is down.
func (a *app) health(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	status, err := a.db.Health(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "database health check failed: %v\n", err)
		return exitRuntime
	}

	redisErr := ""
	if err := a.cache.Ping(ctx); err != nil {
		redisErr = err.Error()
	}

	type redisStatus struct {
		Healthy bool   `json:"healthy"`
		Error   string `json:"error,omitempty"`
	}
	report := struct {
		Database *postgres.HealthStatus `json:"database"`
		Redis    redisStatus            `json:"redis"`
	}{
		Database: status,
		Redis:    redisStatus{Healthy: redisErr == "", Error: redisErr},
	}

	if rc := printJSON(report); rc != exitOK {
		return rc
	}
	if !status.Healthy || redisErr != "" {
		return exitRuntime
	}
	return exitOK
}

// listJobs prints the scheduled-job catalog with the schedules the current
// configuration gives the worker. Zero-value jobs suffice: names and
// descriptions are constants.
func listJobs(cfg *config.Config) int {
	type entry struct {
		Name        string `json:"name"`
		Schedule    string `json:"schedule"`
		Description string `json:"description"`
	}

	catalog := []struct {
		job      scheduler.Job
		schedule scheduler.Schedule
	}{
		{&jobs.DailyScanJob{}, scheduler.DailyAt(cfg.Scheduler.DailyScanHour, cfg.Scheduler.DailyScanMinute)},
		{&jobs.WeeklyPatternsJob{}, scheduler.WeeklyAt(weekday(cfg.Scheduler.PatternsWeekday), cfg.Scheduler.PatternsHour, 0)},
		{&jobs.EvaluatePlansJob{}, scheduler.DailyAt(cfg.Scheduler.EvaluatePlansHour, 0)},
		{&jobs.TrainModelJob{}, scheduler.MonthlyAt(cfg.Scheduler.TrainDay, cfg.Scheduler.TrainHour, 0)},
		{&jobs.BackfillProfilesJob{}, scheduler.NewIntervalSchedule(cfg.Scheduler.BackfillInterval)},
		{&jobs.CleanupAlertsJob{}, scheduler.MonthlyAt(cfg.Scheduler.CleanupDay, 4, 0)},
	}

	entries := make([]entry, 0, len(catalog))
	for _, c := range catalog {
		entries = append(entries, entry{
			Name:        c.job.Name(),
			Schedule:    c.schedule.String(),
			Description: c.job.Description(),
		})
	}
	return printJSON(entries)
}

// weekday clamps a 0-6 config value onto time.Weekday (0=Sunday).
func weekday(d int) time.Weekday {
	if d < 0 || d > 6 {
		return time.Sunday
	}
	return time.Weekday(d)
}

func printJSON(v interface{}) int {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoding output: %v\n", err)
		return exitRuntime
	}
	fmt.Println(string(data))
	return exitOK
}
