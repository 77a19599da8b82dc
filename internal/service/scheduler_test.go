package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-planner/internal/exceptions"
	"task-planner/internal/logger"
	"task-planner/internal/model"
)

func TestPlanHonoursGracePeriod(t *testing.T) {
	env := newTestEnv(t)
	now := env.clock.Now()

	atEdge := &model.Task{ID: "edge", CreatedAt: now, Deadline: ptrTime(now.Add(16 * time.Minute))}
	plan := env.scheduler.Plan(atEdge, now)
	if len(plan) != 1 || !plan[0].ScheduledFor.Equal(now.Add(time.Minute)) {
		t.Errorf("plan at grace edge = %+v", plan)
	}

	inside := &model.Task{ID: "inside", CreatedAt: now, Deadline: ptrTime(now.Add(15*time.Minute + 30*time.Second))}
	if plan := env.scheduler.Plan(inside, now); len(plan) != 0 {
		t.Errorf("plan inside grace = %+v, want none", plan)
	}

	completed := &model.Task{ID: "done", CreatedAt: now, Completed: true, Deadline: ptrTime(now.Add(48 * time.Hour))}
	if plan := env.scheduler.Plan(completed, now); len(plan) != 0 {
		t.Errorf("completed task plan = %+v", plan)
	}
}

func TestPurgeIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Piano", 1, "17:00", "18:00"))

	n, err := env.scheduler.Purge(ctx, task.ID)
	if err != nil || n != 3 {
		t.Fatalf("first purge = %d, %v", n, err)
	}
	n, err = env.scheduler.Purge(ctx, task.ID)
	if err != nil || n != 0 {
		t.Fatalf("second purge = %d, %v", n, err)
	}
}

func TestContentionRetriesThenGivesUp(t *testing.T) {
	calls := 0
	err := Contention{Attempts: 3, Backoff: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return errors.New("database is locked")
	})
	if !errors.Is(err, exceptions.ErrStorageUnavailable) || !exceptions.Retryable(err) {
		t.Fatalf("err = %v, want storage unavailable", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestContentionDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	err := Contention{Attempts: 3, Backoff: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		return exceptions.ErrOptimisticLock
	})
	if !errors.Is(err, exceptions.ErrOptimisticLock) || calls != 1 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}
}

func TestContentionRecovers(t *testing.T) {
	calls := 0
	err := Contention{Attempts: 3, Backoff: time.Millisecond}.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err = %v after %d calls", err, calls)
	}
}

func TestRunEveryRunsFirstCycleImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := NewSchedulerService(time.UTC, logger.NewNop())
	cycles := 0
	err := scheduler.RunEvery(ctx, "test", time.Hour, time.Second, func(context.Context) error {
		cycles++
		cancel()
		return errors.New("cycle errors are logged, not returned")
	})
	if err != nil {
		t.Fatalf("RunEvery: %v", err)
	}
	if cycles != 1 {
		t.Errorf("cycles = %d, want 1", cycles)
	}
}

func TestBuildDailySpec(t *testing.T) {
	spec, err := buildDailySpec("08:30")
	if err != nil || spec != "0 30 8 * * *" {
		t.Fatalf("spec = %q, %v", spec, err)
	}
	if _, err := buildDailySpec("25:00"); err == nil {
		t.Error("expected error for hour 25")
	}
}

func ptrTime(t time.Time) *time.Time {
	return &t
}
