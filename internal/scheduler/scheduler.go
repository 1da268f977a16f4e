// Package scheduler decides which users are due a reengagement notification
// and hands them to the dispatcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/engagepush/backend/internal/dispatch"
	"github.com/engagepush/backend/internal/domain"
	"github.com/engagepush/backend/internal/kv"
	"github.com/engagepush/backend/internal/metrics"
)

// Task is a reengagement job.
type Task string

const (
	StreakReminders   Task = "streak_reminders"
	WeeklyChallenges  Task = "weekly_challenges"
	PracticeReminders Task = "practice_reminders"
	GoalReminders     Task = "goal_reminders"
)

// Tasks lists every task in run order.
var Tasks = []Task{StreakReminders, WeeklyChallenges, PracticeReminders, GoalReminders}

const (
	weeklyChallengeHour = 9
	goalReminderHour    = 19
	streakReminderHour  = 21

	DefaultConcurrency = 16
	// runGuardTTL keeps a due task from firing twice in the same hour.
	runGuardTTL = 2 * time.Hour
)

var ErrUnknownTask = errors.New("unknown task type")

// ParseTask validates a task name.
func ParseTask(s string) (Task, error) {
	for _, t := range Tasks {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTask, s)
}

// Dispatcher is the subset of the dispatcher the scheduler drives.
type Dispatcher interface {
	CheckConfig() error
	SendToUsers(ctx context.Context, userIDs []string, n domain.Notification) (dispatch.Result, error)
}

// TaskResult counts users processed by one task run.
type TaskResult struct {
	Task       Task `json:"task"`
	Eligible   int  `json:"eligible"`
	Successful int  `json:"successful"`
	Failed     int  `json:"failed"`
	Skipped    bool `json:"skipped,omitempty"`
}

// NextRun describes when a task fires next.
type NextRun struct {
	Task        Task      `json:"task"`
	At          time.Time `json:"at"`
	Description string    `json:"description"`
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	prefs       domain.PreferencesProvider
	dispatcher  Dispatcher
	guard       kv.SeenSet
	loc         *time.Location
	concurrency int
	logger      *zap.Logger
	tracer      trace.Tracer
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithRunGuard makes RunDue skip a task already run for the same hour.
func WithRunGuard(seen kv.SeenSet) Option {
	return func(s *Scheduler) { s.guard = seen }
}

// WithLocation sets the time zone hours are evaluated in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithConcurrency bounds the number of users processed at once.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func New(prefs domain.PreferencesProvider, dispatcher Dispatcher, logger *zap.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		prefs:       prefs,
		dispatcher:  dispatcher,
		loc:         time.UTC,
		concurrency: DefaultConcurrency,
		logger:      logger,
		tracer:      otel.Tracer("github.com/engagepush/backend/internal/scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes one task for every eligible user. Per-user failures are counted,
// never returned; an error means the task could not run at all.
func (s *Scheduler) Run(ctx context.Context, task Task, now time.Time) (TaskResult, error) {
	res := TaskResult{Task: task}
	build, err := s.builder(task, now.In(s.loc))
	if err != nil {
		return res, err
	}
	if err := s.dispatcher.CheckConfig(); err != nil {
		return res, err
	}

	ctx, span := s.tracer.Start(ctx, "scheduler.Run", trace.WithAttributes(attribute.String("task", string(task))))
	defer span.End()
	start := time.Now()
	defer func() {
		metrics.SchedulerRunDuration.WithLabelValues(string(task)).Observe(time.Since(start).Seconds())
	}()

	users, err := s.prefs.ListPreferences(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "list preferences")
		return res, fmt.Errorf("list preferences: %w", err)
	}

	var eligible []domain.UserPreferences
	notes := make(map[string]domain.Notification)
	for _, u := range users {
		if n, ok := build(u); ok {
			eligible = append(eligible, u)
			notes[u.UserID] = n
		}
	}
	res.Eligible = len(eligible)

	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, u := range eligible {
		g.Go(func() error {
			if s.notifyUser(gctx, task, u.UserID, notes[u.UserID]) {
				ok.Add(1)
			} else {
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	res.Successful = int(ok.Load())
	res.Failed = int(failed.Load())
	metrics.SchedulerUsersTotal.WithLabelValues(string(task), "success").Add(float64(res.Successful))
	metrics.SchedulerUsersTotal.WithLabelValues(string(task), "failed").Add(float64(res.Failed))
	span.SetAttributes(
		attribute.Int("eligible", res.Eligible),
		attribute.Int("successful", res.Successful),
		attribute.Int("failed", res.Failed),
	)

	s.logger.Info("reengagement task completed",
		zap.String("task", string(task)),
		zap.Int("eligible", res.Eligible),
		zap.Int("successful", res.Successful),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (s *Scheduler) notifyUser(ctx context.Context, task Task, userID string, n domain.Notification) (delivered bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic notifying user",
				zap.String("task", string(task)),
				zap.String("user_id", userID),
				zap.Any("panic", r),
			)
			delivered = false
		}
	}()

	result, err := s.dispatcher.SendToUsers(ctx, []string{userID}, n)
	if err != nil {
		s.logger.Warn("failed to notify user",
			zap.String("task", string(task)),
			zap.String("user_id", userID),
			zap.Error(err),
		)
		return false
	}
	return result.Successful > 0
}

// RunAll runs every task regardless of the hour.
func (s *Scheduler) RunAll(ctx context.Context, now time.Time) ([]TaskResult, error) {
	return s.runTasks(ctx, Tasks, now, false)
}

// RunDue runs the tasks due at now's hour.
func (s *Scheduler) RunDue(ctx context.Context, now time.Time) ([]TaskResult, error) {
	return s.runTasks(ctx, s.DueTasks(now), now, true)
}

func (s *Scheduler) runTasks(ctx context.Context, tasks []Task, now time.Time, guarded bool) ([]TaskResult, error) {
	results := make([]TaskResult, 0, len(tasks))
	var errs []error
	for _, t := range tasks {
		if guarded && !s.claim(ctx, t, now) {
			results = append(results, TaskResult{Task: t, Skipped: true})
			continue
		}
		res, err := s.Run(ctx, t, now)
		if err != nil {
			if guarded {
				s.release(ctx, t, now)
			}
			errs = append(errs, fmt.Errorf("%s: %w", t, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

func (s *Scheduler) guardKey(t Task, now time.Time) string {
	return fmt.Sprintf("scheduler:%s:%s", t, now.In(s.loc).Format("2006010215"))
}

// claim reports whether this caller owns the task for the hour. A guard error
// lets the task run.
func (s *Scheduler) claim(ctx context.Context, t Task, now time.Time) bool {
	if s.guard == nil {
		return true
	}
	first, err := s.guard.MarkSeen(ctx, s.guardKey(t, now), runGuardTTL)
	if err != nil {
		s.logger.Warn("scheduler run guard unavailable", zap.String("task", string(t)), zap.Error(err))
		return true
	}
	if !first {
		s.logger.Info("task already ran this hour", zap.String("task", string(t)))
	}
	return first
}

// release gives up the hour's claim after a failed run so a retry can run it.
func (s *Scheduler) release(ctx context.Context, t Task, now time.Time) {
	if s.guard == nil {
		return
	}
	if err := s.guard.Forget(context.WithoutCancel(ctx), s.guardKey(t, now)); err != nil {
		s.logger.Warn("failed to release scheduler run guard", zap.String("task", string(t)), zap.Error(err))
	}
}

// DueTasks returns the tasks scheduled for now's hour.
func (s *Scheduler) DueTasks(now time.Time) []Task {
	now = now.In(s.loc)
	var due []Task
	if now.Hour() == streakReminderHour {
		due = append(due, StreakReminders)
	}
	if now.Weekday() == time.Monday && now.Hour() == weeklyChallengeHour {
		due = append(due, WeeklyChallenges)
	}
	due = append(due, PracticeReminders)
	if now.Hour() == goalReminderHour {
		due = append(due, GoalReminders)
	}
	return due
}

// Status describes the next run of every task.
func (s *Scheduler) Status(now time.Time) []NextRun {
	now = now.In(s.loc)
	today := func(h int) time.Time {
		return time.Date(now.Year(), now.Month(), now.Day(), h, 0, 0, 0, s.loc)
	}

	daysUntilMonday := (8 - int(now.Weekday())) % 7
	weekly := today(weeklyChallengeHour).AddDate(0, 0, daysUntilMonday)
	if !weekly.After(now) {
		weekly = weekly.AddDate(0, 0, 7)
	}
	goal := nextDaily(now, today(goalReminderHour))
	streak := nextDaily(now, today(streakReminderHour))
	hourly := now.Truncate(time.Hour).Add(time.Hour)

	return []NextRun{
		{Task: WeeklyChallenges, At: weekly, Description: "Weekly challenges " + describeDay(now, weekly) + " at 09:00"},
		{Task: GoalReminders, At: goal, Description: "Goal reminders " + describeDay(now, goal) + " at 19:00"},
		{Task: StreakReminders, At: streak, Description: "Streak reminders " + describeDay(now, streak) + " at 21:00"},
		{Task: PracticeReminders, At: hourly, Description: "Practice reminders every hour"},
	}
}

func nextDaily(now, at time.Time) time.Time {
	if at.After(now) {
		return at
	}
	return at.AddDate(0, 0, 1)
}

func describeDay(now, at time.Time) string {
	y1, m1, d1 := now.Date()
	y2, m2, d2 := at.Date()
	days := int(time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC).Sub(time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)).Hours() / 24)
	switch days {
	case 0:
		return "today"
	case 1:
		return "tomorrow"
	}
	return fmt.Sprintf("in %d days", days)
}

type buildFunc func(domain.UserPreferences) (domain.Notification, bool)

func (s *Scheduler) builder(task Task, now time.Time) (buildFunc, error) {
	switch task {
	case StreakReminders:
		midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
		return func(p domain.UserPreferences) (domain.Notification, bool) {
			if !p.OptedIn(domain.TypeStreakReminder) || p.StreakDays <= 0 || p.PracticedSince(midnight) {
				return domain.Notification{}, false
			}
			return streakReminder(p), true
		}, nil

	case WeeklyChallenges:
		challenge := WeeklyChallenge(now)
		weekAgo := now.AddDate(0, 0, -7)
		return func(p domain.UserPreferences) (domain.Notification, bool) {
			if !p.OptedIn(domain.TypeWeeklyChallenge) || !p.PracticedSince(weekAgo) {
				return domain.Notification{}, false
			}
			return weeklyChallenge(p, challenge), true
		}, nil

	case PracticeReminders:
		dayAgo := now.Add(-24 * time.Hour)
		return func(p domain.UserPreferences) (domain.Notification, bool) {
			if !p.OptedIn(domain.TypePracticeReminder) ||
				p.PreferredHour != now.Hour() ||
				!frequencyAllows(p.Frequency, now.Weekday()) ||
				p.PracticedSince(dayAgo) {
				return domain.Notification{}, false
			}
			return practiceReminder(p), true
		}, nil

	case GoalReminders:
		return func(p domain.UserPreferences) (domain.Notification, bool) {
			if !p.OptedIn(domain.TypeGoalReminder) || p.WeeklyXP < GoalReminderFloorXP || p.WeeklyXP >= WeeklyXPGoal {
				return domain.Notification{}, false
			}
			return goalReminder(p), true
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownTask, task)
}

func frequencyAllows(f domain.Frequency, day time.Weekday) bool {
	switch f {
	case domain.FrequencyNever:
		return false
	case domain.FrequencyWeekdays:
		return day != time.Saturday && day != time.Sunday
	case domain.FrequencyWeekly:
		return day == time.Monday
	}
	return true
}
