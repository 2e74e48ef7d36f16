package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/example/daily-engagement/internal/application"
	"github.com/example/daily-engagement/internal/lifecycle"
	"github.com/example/daily-engagement/internal/testfixtures"
)

func setLocal(t *testing.T, svc *testfixtures.Services, day, hour, minute int) {
	t.Helper()
	if _, err := svc.Clock.SetLocal("Asia/Kolkata", 2024, time.March, day, hour, minute); err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
}

func TestIntegration_ConcurrentMaterializationCreatesOneSession(t *testing.T) {
	svc := testfixtures.NewServices(t)
	setLocal(t, svc, 4, 18, 0)
	schedule := svc.ConfigureSchedule(t, "org-1")

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		ids     = make(map[string]struct{})
		created int
		errs    []error
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := svc.Schedules.EnsureTodaySession(context.Background(), schedule.ID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ids[result.Session.ID] = struct{}{}
			if result.Created {
				created++
			}
		}()
	}
	wg.Wait()

	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if len(ids) != 1 || created != 1 {
		t.Fatalf("expected one stored session created once, got ids=%v created=%d", ids, created)
	}
}

func TestIntegration_KolkataWeekdaySchedule(t *testing.T) {
	svc := testfixtures.NewServices(t)
	ctx := context.Background()
	schedule := svc.ConfigureSchedule(t, "org-1")

	setLocal(t, svc, 9, 10, 0) // Saturday
	saturday, err := svc.Schedules.EnsureTodaySession(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureTodaySession: %v", err)
	}
	if !saturday.OffDay || saturday.Session != nil {
		t.Fatalf("expected no session on Saturday, got %+v", saturday)
	}

	setLocal(t, svc, 11, 10, 0) // Monday
	monday, err := svc.Schedules.EnsureTodaySession(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureTodaySession: %v", err)
	}
	if monday.Session == nil || monday.Session.Date != "2024-03-11" || monday.Session.Status != lifecycle.StatusScheduled {
		t.Fatalf("unexpected Monday session: %+v", monday.Session)
	}
	if want := time.Date(2024, 3, 11, 13, 30, 0, 0, time.UTC); !monday.Session.StartsAt.Equal(want) {
		t.Fatalf("expected start %v, got %v", want, monday.Session.StartsAt)
	}

	byDate, err := svc.Schedules.GetSession(ctx, schedule.ID, "2024-03-11")
	if err != nil || byDate.ID != monday.Session.ID {
		t.Fatalf("expected lookup by date to return the session, got %+v err=%v", byDate, err)
	}
}

func TestIntegration_AttendanceLifecycleAndQualification(t *testing.T) {
	svc := testfixtures.NewServices(t)
	ctx := context.Background()
	setLocal(t, svc, 4, 19, 0)
	schedule := svc.ConfigureSchedule(t, "org-1")

	today, err := svc.Schedules.EnsureTodaySession(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureTodaySession: %v", err)
	}
	sessionID := today.Session.ID

	first := svc.Attend(t, sessionID, "user-1", 12*time.Minute)
	if first.Qualified || first.Session.Status != lifecycle.StatusLive {
		t.Fatalf("expected implicit start without qualification, got %+v", first)
	}

	second := svc.Attend(t, sessionID, "user-1", 5*time.Minute)
	if !second.Qualified || second.Record.DurationSeconds != 17*60 {
		t.Fatalf("expected qualification at 17 minutes, got %+v", second.Record)
	}
	if second.Engagement == nil || second.Engagement.CurrentStreak != 1 {
		t.Fatalf("expected streak 1, got %+v", second.Engagement)
	}

	third := svc.Attend(t, sessionID, "user-1", 5*time.Minute)
	if third.Qualified || third.Engagement != nil {
		t.Fatalf("expected no double count, got %+v", third)
	}
	state, err := svc.Engagement.GetEngagementState(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetEngagementState: %v", err)
	}
	if state.CurrentStreak != 1 || state.Tree.GrowthDays != 1 {
		t.Fatalf("unexpected engagement: %+v", state)
	}

	completed, err := svc.Sessions.Transition(ctx, testfixtures.AdminPrincipal, sessionID, "complete")
	if err != nil || completed.Status != lifecycle.StatusCompleted || completed.EndsAt == nil {
		t.Fatalf("expected completed session, got %+v err=%v", completed, err)
	}
	if _, err := svc.Sessions.Transition(ctx, testfixtures.AdminPrincipal, sessionID, "complete"); !errors.Is(err, application.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	if got := len(svc.Notifier.OfType(application.EventSessionLive)); got != 1 {
		t.Fatalf("expected one live notification, got %d", got)
	}
}

func TestIntegration_TenMinuteMinimumQualifiesOnFirstLeave(t *testing.T) {
	svc := testfixtures.NewServices(t)
	ctx := context.Background()
	setLocal(t, svc, 4, 19, 0)
	schedule := svc.ConfigureSchedule(t, "org-1", testfixtures.WithMinimumMinutes(10))
	today, err := svc.Schedules.EnsureTodaySession(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureTodaySession: %v", err)
	}

	first := svc.Attend(t, today.Session.ID, "user-1", 12*time.Minute)
	if !first.Qualified || first.Engagement == nil {
		t.Fatalf("expected 12 minutes to qualify, got %+v", first)
	}
	if first.Engagement.CurrentStreak != 1 || first.Engagement.Tree.GrowthDays != 1 {
		t.Fatalf("expected streak 1 and one growth day, got %+v", first.Engagement)
	}

	second := svc.Attend(t, today.Session.ID, "user-1", 5*time.Minute)
	if second.Qualified || second.Engagement != nil || second.Record.DurationSeconds != 17*60 {
		t.Fatalf("expected 17 minutes without a second count, got %+v", second)
	}
	state, err := svc.Engagement.GetEngagementState(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetEngagementState: %v", err)
	}
	if state.CurrentStreak != 1 || state.Tree.GrowthDays != 1 {
		t.Fatalf("expected streak to stay at 1, got %+v", state)
	}
}

func TestIntegration_QualificationBoundary(t *testing.T) {
	cases := []struct {
		name     string
		attended time.Duration
		want     bool
	}{
		{name: "exactly the minimum", attended: 10 * time.Minute, want: true},
		{name: "just below the minimum", attended: 10*time.Minute - time.Millisecond, want: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			svc := testfixtures.NewServices(t)
			setLocal(t, svc, 4, 19, 0)
			schedule := svc.ConfigureSchedule(t, "org-1", testfixtures.WithMinimumMinutes(10))
			today, err := svc.Schedules.EnsureTodaySession(context.Background(), schedule.ID)
			if err != nil {
				t.Fatalf("EnsureTodaySession: %v", err)
			}

			result := svc.Attend(t, today.Session.ID, "user-1", tc.attended)
			if result.Qualified != tc.want {
				t.Fatalf("expected qualified=%v after %v, got %+v", tc.want, tc.attended, result)
			}
			if result.Record.Duration != tc.attended {
				t.Fatalf("expected duration %v, got %v", tc.attended, result.Record.Duration)
			}
		})
	}
}

func TestIntegration_SubSecondCyclesAccumulate(t *testing.T) {
	svc := testfixtures.NewServices(t)
	setLocal(t, svc, 4, 19, 0)
	schedule := svc.ConfigureSchedule(t, "org-1")
	today, err := svc.Schedules.EnsureTodaySession(context.Background(), schedule.ID)
	if err != nil {
		t.Fatalf("EnsureTodaySession: %v", err)
	}

	var last application.LeaveResult
	for i := 0; i < 10; i++ {
		last = svc.Attend(t, today.Session.ID, "user-1", 1500*time.Millisecond)
	}
	if last.Record.Duration != 15*time.Second || last.Record.DurationSeconds != 15 {
		t.Fatalf("expected ten 1.5s cycles to total 15s, got %v", last.Record.Duration)
	}
}

func TestIntegration_CancelledSessionRejectsAttendance(t *testing.T) {
	svc := testfixtures.NewServices(t)
	ctx := context.Background()
	setLocal(t, svc, 4, 19, 0)
	schedule := svc.ConfigureSchedule(t, "org-1")
	today, err := svc.Schedules.EnsureTodaySession(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureTodaySession: %v", err)
	}

	if _, err := svc.Sessions.Transition(ctx, testfixtures.AdminPrincipal, today.Session.ID, "cancel"); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := svc.Attendance.RecordJoin(ctx, today.Session.ID, "user-1"); !errors.Is(err, application.ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}
}

func TestIntegration_FiveDayMaturationAndRebuild(t *testing.T) {
	svc := testfixtures.NewServices(t)
	ctx := context.Background()
	schedule := svc.ConfigureSchedule(t, "org-1", testfixtures.WithRecurringDays(0, 1, 2, 3, 4, 5, 6))

	var last application.LeaveResult
	for day := 4; day <= 9; day++ {
		setLocal(t, svc, day, 19, 0)
		today, err := svc.Schedules.EnsureTodaySession(ctx, schedule.ID)
		if err != nil {
			t.Fatalf("EnsureTodaySession day %d: %v", day, err)
		}
		last = svc.Attend(t, today.Session.ID, "user-1", 20*time.Minute)
		if day == 8 {
			if last.Matured == nil || last.Engagement.TotalTreesGrown != 1 || last.Engagement.Tree.GrowthDays != 0 {
				t.Fatalf("expected maturation on the fifth day, got %+v", last)
			}
		}
	}
	if last.Engagement.CurrentStreak != 6 || last.Engagement.Tree.GrowthDays != 1 || last.Engagement.Tree.StartedOn != "2024-03-09" {
		t.Fatalf("expected a fresh tree after maturation, got %+v", last.Engagement)
	}
	if got := len(svc.Notifier.OfType(application.EventTreeMatured)); got != 1 {
		t.Fatalf("expected one tree.matured notification, got %d", got)
	}

	rebuilt, err := svc.Engagement.RebuildEngagement(ctx, testfixtures.AdminPrincipal, "user-1")
	if err != nil {
		t.Fatalf("RebuildEngagement: %v", err)
	}
	if rebuilt.CurrentStreak != 6 || rebuilt.TotalTreesGrown != 1 || len(rebuilt.Forest) != 1 {
		t.Fatalf("expected rebuild to reproduce the incremental state, got %+v", rebuilt)
	}
	if rebuilt.Forest[0].StartedOn != "2024-03-04" || rebuilt.Forest[0].MaturedOn != "2024-03-08" {
		t.Fatalf("unexpected rebuilt forest: %+v", rebuilt.Forest)
	}
}

func TestIntegration_ReminderClaimedOnce(t *testing.T) {
	svc := testfixtures.NewServices(t)
	ctx := context.Background()
	setLocal(t, svc, 4, 18, 40)
	schedule := svc.ConfigureSchedule(t, "org-1")
	today, err := svc.Schedules.EnsureTodaySession(ctx, schedule.ID)
	if err != nil {
		t.Fatalf("EnsureTodaySession: %v", err)
	}

	claimed, err := svc.Schedules.ClaimReminder(ctx, today.Session.ID)
	if err != nil || !claimed {
		t.Fatalf("expected first claim, got %v err=%v", claimed, err)
	}
	claimed, err = svc.Schedules.ClaimReminder(ctx, today.Session.ID)
	if err != nil || claimed {
		t.Fatalf("expected second claim to be refused, got %v err=%v", claimed, err)
	}
}
