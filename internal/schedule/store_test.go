package schedule

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(":memory:")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	s := testStore(t)
	sched := &Schedule{
		Name:     "nightly review",
		CronExpr: "0 3 * * *",
		Prompt:   "review open PRs",
		ChatID:   "chat-1",
		Enabled:  true,
	}
	if err := s.Create(sched); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sched.ID == "" {
		t.Error("id not assigned")
	}
	if sched.NextRunAt == nil {
		t.Error("next run not computed")
	}

	got, err := s.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "nightly review" || got.ChatID != "chat-1" {
		t.Errorf("got %+v", got)
	}
	// Defaults applied
	if got.OverlapBehavior != OverlapSkip || got.SessionBehavior != SessionResume {
		t.Errorf("defaults = %v %v", got.OverlapBehavior, got.SessionBehavior)
	}
}

func TestCreateRejectsInvalidCron(t *testing.T) {
	s := testStore(t)
	err := s.Create(&Schedule{Name: "bad", CronExpr: "not cron", Prompt: "x", ChatID: "c"})
	if !errors.Is(err, ErrInvalidCron) {
		t.Errorf("err = %v, want ErrInvalidCron", err)
	}
}

func TestCreateRequiresChat(t *testing.T) {
	s := testStore(t)
	err := s.Create(&Schedule{Name: "x", CronExpr: "* * * * *", Prompt: "x"})
	if err == nil {
		t.Error("missing chat_id should fail")
	}
}

func TestGetNotFound(t *testing.T) {
	s := testStore(t)
	if _, err := s.Get("nope"); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("err = %v, want ErrScheduleNotFound", err)
	}
}

func TestListDue(t *testing.T) {
	s := testStore(t)
	due := &Schedule{Name: "due", CronExpr: "* * * * *", Prompt: "x", ChatID: "c", Enabled: true}
	s.Create(due)
	disabled := &Schedule{Name: "off", CronExpr: "* * * * *", Prompt: "x", ChatID: "c", Enabled: false}
	s.Create(disabled)

	// Nothing is due before the computed next run
	got, err := s.ListDue(time.Now())
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("due now = %d, want 0", len(got))
	}

	// Two minutes later the enabled one fires; the disabled one never does
	got, _ = s.ListDue(time.Now().Add(2 * time.Minute))
	if len(got) != 1 || got[0].ID != due.ID {
		t.Errorf("due later = %v", got)
	}
}

func TestSetEnabledAndDelete(t *testing.T) {
	s := testStore(t)
	sched := &Schedule{Name: "x", CronExpr: "* * * * *", Prompt: "x", ChatID: "c", Enabled: true}
	s.Create(sched)

	if err := s.SetEnabled(sched.ID, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	got, _ := s.Get(sched.ID)
	if got.Enabled {
		t.Error("still enabled")
	}

	if err := s.Delete(sched.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("err = %v after delete", err)
	}
	if err := s.Delete(sched.ID); !errors.Is(err, ErrScheduleNotFound) {
		t.Errorf("second delete err = %v", err)
	}
}

func TestUpdateRunTimes(t *testing.T) {
	s := testStore(t)
	sched := &Schedule{Name: "x", CronExpr: "0 * * * *", Prompt: "x", ChatID: "c", Enabled: true}
	s.Create(sched)

	last := time.Now().UTC().Truncate(time.Second)
	next := last.Add(time.Hour)
	if err := s.UpdateRunTimes(sched.ID, last, next); err != nil {
		t.Fatalf("UpdateRunTimes: %v", err)
	}

	got, _ := s.Get(sched.ID)
	if got.LastRunAt == nil || !got.LastRunAt.Equal(last) {
		t.Errorf("last run = %v, want %v", got.LastRunAt, last)
	}
	if got.NextRunAt == nil || !got.NextRunAt.Equal(next) {
		t.Errorf("next run = %v, want %v", got.NextRunAt, next)
	}
}

func TestExecutionsHistory(t *testing.T) {
	s := testStore(t)
	sched := &Schedule{Name: "x", CronExpr: "* * * * *", Prompt: "x", ChatID: "c", Enabled: true}
	s.Create(sched)

	s.RecordExecution(&Execution{ScheduleID: sched.ID, Status: ExecutionSuccess, SessionID: "s1"})
	s.RecordExecution(&Execution{ScheduleID: sched.ID, Status: ExecutionFailed, Error: "boom"})

	execs, err := s.Executions(sched.ID, 10)
	if err != nil {
		t.Fatalf("Executions: %v", err)
	}
	if len(execs) != 2 {
		t.Fatalf("got %d executions", len(execs))
	}
}

func TestRunnerOverlapSkip(t *testing.T) {
	s := testStore(t)
	sched := &Schedule{Name: "x", CronExpr: "* * * * *", Prompt: "x", ChatID: "c", Enabled: true}
	s.Create(sched)

	block := make(chan struct{})
	started := make(chan struct{})
	r := NewRunner(s, func(ctx context.Context, sc *Schedule) (string, error) {
		close(started)
		<-block
		return "sess", nil
	})

	r.executeSchedule(sched)
	<-started
	if r.IsRunning(sched.ID) != 1 {
		t.Errorf("running = %d", r.IsRunning(sched.ID))
	}

	// Second fire while the first is in flight is skipped
	r.executeSchedule(sched)
	if r.IsRunning(sched.ID) != 1 {
		t.Errorf("overlap not skipped, running = %d", r.IsRunning(sched.ID))
	}

	close(block)
	r.Stop()

	execs, _ := s.Executions(sched.ID, 10)
	var skipped bool
	for _, e := range execs {
		if e.Status == ExecutionSkipped {
			skipped = true
		}
	}
	if !skipped {
		t.Error("skipped execution not recorded")
	}
}
