package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"task-planner/internal/exceptions"
	"task-planner/internal/model"
	"task-planner/internal/notify"
	"task-planner/internal/repository"
)

func TestCreatePlansRemindersBeforeStart(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.service.Create(context.Background(), env.user.ID, slotInput(t, "Study", 0, "12:00", "13:00"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	task := res.Task

	if task.Duration == nil || *task.Duration != 60 {
		t.Errorf("duration = %v, want 60", task.Duration)
	}
	if task.Deadline == nil || !task.Deadline.Equal(baseTime.Add(3*time.Hour)) {
		t.Errorf("deadline = %v, want %v", task.Deadline, baseTime.Add(3*time.Hour))
	}
	if task.Priority != model.PriorityMedium || task.Category != model.CategoryOther {
		t.Errorf("defaults = %s/%s", task.Priority, task.Category)
	}

	got := env.unsent(t, task.ID)
	if len(got) != 2 {
		t.Fatalf("reminders = %v, want hour_before and minutes_15", got)
	}
	if !got[model.ReminderHourBefore].Equal(baseTime.Add(time.Hour)) {
		t.Errorf("hour_before = %v", got[model.ReminderHourBefore])
	}
	if !got[model.ReminderMinutes15].Equal(baseTime.Add(105 * time.Minute)) {
		t.Errorf("minutes_15 = %v", got[model.ReminderMinutes15])
	}

	if !res.CreationNotified || env.notifier.count(notify.KindCreated) != 1 {
		t.Errorf("creation notice: flag=%v sent=%d", res.CreationNotified, env.notifier.count(notify.KindCreated))
	}
	stored, _ := env.tasks.FindByID(context.Background(), task.ID)
	if !stored.CreationNotified {
		t.Error("creation_notified should be persisted")
	}
}

func TestCreateStartingSoonHasNoReminders(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, slotInput(t, "Call", 0, "10:02", "10:30"))

	if got := env.unsent(t, task.ID); len(got) != 0 {
		t.Errorf("reminders = %v, want none", got)
	}
}

func TestCreateSlotRules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		in      CreateTaskInput
		wantErr error
	}{
		{"yesterday", slotInput(t, "Old", -1, "12:00", "13:00"), exceptions.ErrInvalidSlot},
		{"already started", slotInput(t, "Now", 0, "10:00", "11:00"), exceptions.ErrInvalidSlot},
		{"ten minutes", slotInput(t, "Short", 1, "10:00", "10:10"), exceptions.ErrInvalidSlot},
		{"one minute ahead", slotInput(t, "Soon", 0, "10:01", "10:30"), nil},
		{"fifteen minutes", slotInput(t, "Min", 1, "10:00", "10:15"), nil},
		{"overnight", slotInput(t, "Night", 0, "23:00", "00:30"), nil},
		{"missing title", slotInput(t, "", 1, "10:00", "11:00"), exceptions.ErrValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := env.service.Create(ctx, env.user.ID, tc.in)
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestCreateOvernightDeadlineRollsOver(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, slotInput(t, "Night shift", 0, "23:00", "00:30"))

	if task.Duration == nil || *task.Duration != 90 {
		t.Errorf("duration = %v, want 90", task.Duration)
	}
	// 00:30 PKT on the next day.
	want := time.Date(2026, 10, 20, 19, 30, 0, 0, time.UTC)
	if task.Deadline == nil || !task.Deadline.Equal(want) {
		t.Errorf("deadline = %v, want %v", task.Deadline, want)
	}
}

func TestCreateRejectsLegacyDeadlineWithSlot(t *testing.T) {
	env := newTestEnv(t)
	in := slotInput(t, "Both", 1, "10:00", "11:00")
	deadline := baseTime.Add(48 * time.Hour)
	in.Deadline = &deadline

	if _, err := env.service.Create(context.Background(), env.user.ID, in); !errors.Is(err, exceptions.ErrValidation) {
		t.Fatalf("err = %v, want validation error", err)
	}
}

func TestCreateLegacyDeadlineTask(t *testing.T) {
	env := newTestEnv(t)
	deadline := baseTime.Add(3 * time.Hour)
	task := env.create(t, CreateTaskInput{Title: "Pay bills", Deadline: &deadline, Category: model.CategoryPersonal})

	got := env.unsent(t, task.ID)
	if len(got) != 2 || !got[model.ReminderHourBefore].Equal(baseTime.Add(2*time.Hour)) {
		t.Errorf("reminders = %v", got)
	}
}

func TestCreationNotificationFailureIsAdvisory(t *testing.T) {
	env := newTestEnv(t)
	env.notifier.failNext(notify.KindCreated, 1)

	res, err := env.service.Create(context.Background(), env.user.ID, slotInput(t, "Gym", 1, "07:00", "08:00"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.CreationNotified {
		t.Error("creation should be reported as not notified")
	}
	if env.notifier.attempts[notify.KindCreated] != 1 {
		t.Errorf("creation attempts = %d, want exactly 1", env.notifier.attempts[notify.KindCreated])
	}
	stored, err := env.tasks.FindByID(context.Background(), res.Task.ID)
	if err != nil || stored.CreationNotified {
		t.Errorf("stored task = %+v, %v", stored, err)
	}
}

func TestUpdateReplacesUnsentAndKeepsSent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Exam", 1, "12:00", "13:00"))

	before := env.unsent(t, task.ID)
	if len(before) != 3 {
		t.Fatalf("initial reminders = %v, want all three", before)
	}
	rows, _ := env.reminders.ListForTask(ctx, task.ID)
	var dayBefore model.TaskReminder
	for _, r := range rows {
		if r.ReminderType == model.ReminderDayBefore {
			dayBefore = r
		}
	}
	if ok, err := env.reminders.MarkSent(ctx, dayBefore.ID, env.clock.Now()); err != nil || !ok {
		t.Fatalf("MarkSent = %v, %v", ok, err)
	}

	start, _ := model.ParseTimeOfDay("14:00")
	end, _ := model.ParseTimeOfDay("15:00")
	updated, err := env.service.Update(ctx, env.user.ID, task.ID, UpdateTaskInput{StartTime: &start, EndTime: &end})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version = %d, want 2", updated.Version)
	}

	rows, _ = env.reminders.ListForTask(ctx, task.ID)
	if len(rows) != 4 {
		t.Fatalf("rows = %d, want 1 sent + 3 unsent", len(rows))
	}
	var sent int
	for _, r := range rows {
		if r.SentAt != nil {
			sent++
			if r.ID != dayBefore.ID || !r.ScheduledFor.Equal(dayBefore.ScheduledFor) {
				t.Errorf("sent row changed: %+v", r)
			}
		}
	}
	if sent != 1 {
		t.Errorf("sent rows = %d, want 1", sent)
	}
	after := env.unsent(t, task.ID)
	// 14:00 PKT tomorrow minus one hour.
	if !after[model.ReminderHourBefore].Equal(time.Date(2026, 10, 21, 8, 0, 0, 0, time.UTC)) {
		t.Errorf("hour_before = %v", after[model.ReminderHourBefore])
	}
	if updated.ReminderNotified || updated.ReminderNotifiedAt != nil {
		t.Error("moving the slot should clear the reminder flag")
	}
}

func TestUpdateMayMoveSlotIntoPast(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, slotInput(t, "Retro", 1, "10:00", "11:00"))

	yesterday := model.DateOf(baseTime.In(pkt)).AddDays(-1)
	updated, err := env.service.Update(context.Background(), env.user.ID, task.ID, UpdateTaskInput{TaskDate: &yesterday})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !updated.IsOverdue(env.clock.Now()) {
		t.Error("task moved into the past should be overdue")
	}
	if got := env.unsent(t, task.ID); len(got) != 0 {
		t.Errorf("reminders = %v, want none for a past slot", got)
	}
}

func TestUpdateRejectsInvalidSlot(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, slotInput(t, "Read", 1, "10:00", "11:00"))

	end, _ := model.ParseTimeOfDay("10:05")
	_, err := env.service.Update(context.Background(), env.user.ID, task.ID, UpdateTaskInput{EndTime: &end})
	if !errors.Is(err, exceptions.ErrInvalidSlot) {
		t.Fatalf("err = %v, want InvalidSlot", err)
	}
	stored, _ := env.tasks.FindByID(context.Background(), task.ID)
	if stored.Version != 1 || *stored.Duration != 60 {
		t.Errorf("task changed after rejected update: %+v", stored)
	}
}

func TestUpdateUnknownTask(t *testing.T) {
	env := newTestEnv(t)
	title := "x"
	_, err := env.service.Update(context.Background(), env.user.ID, "missing", UpdateTaskInput{Title: &title})
	if !errors.Is(err, exceptions.ErrTaskNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}

func TestToggleCompletesOnceAndReopens(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Groceries", 1, "18:00", "19:00"))

	done, err := env.service.Toggle(ctx, env.user.ID, task.ID)
	if err != nil || !done.Completed {
		t.Fatalf("Toggle = %+v, %v", done, err)
	}
	if got := env.unsent(t, task.ID); len(got) != 0 {
		t.Errorf("unsent after completion = %v", got)
	}
	if env.notifier.count(notify.KindCompleted) != 1 {
		t.Errorf("completion notices = %d, want 1", env.notifier.count(notify.KindCompleted))
	}

	reopened, err := env.service.Toggle(ctx, env.user.ID, task.ID)
	if err != nil || reopened.Completed {
		t.Fatalf("reopen = %+v, %v", reopened, err)
	}
	if got := env.unsent(t, task.ID); len(got) != 3 {
		t.Errorf("unsent after reopen = %v, want 3", got)
	}

	if _, err := env.service.Toggle(ctx, env.user.ID, task.ID); err != nil {
		t.Fatalf("complete again: %v", err)
	}
	if env.notifier.count(notify.KindCompleted) != 1 {
		t.Errorf("completion notices = %d, want still 1", env.notifier.count(notify.KindCompleted))
	}
}

func TestCompletionNotificationRetries(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Laundry", 1, "09:00", "10:00"))
	env.notifier.failNext(notify.KindCompleted, 2)

	done := true
	if _, err := env.service.Update(ctx, env.user.ID, task.ID, UpdateTaskInput{Completed: &done}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if env.notifier.attempts[notify.KindCompleted] != 3 {
		t.Errorf("attempts = %d, want 3", env.notifier.attempts[notify.KindCompleted])
	}
	stored, _ := env.tasks.FindByID(ctx, task.ID)
	if !stored.CompletionNotified {
		t.Error("completion_notified should be set after the third attempt")
	}
}

func TestCompleteDueIsTerminalAndSingle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Standup", 0, "10:30", "11:00"))

	first, err := env.service.CompleteDue(ctx, task)
	if err != nil || !first {
		t.Fatalf("first CompleteDue = %v, %v", first, err)
	}
	stale := *task
	stale.Completed = false
	second, err := env.service.CompleteDue(ctx, &stale)
	if err != nil || second {
		t.Fatalf("second CompleteDue = %v, %v", second, err)
	}
	if env.notifier.count(notify.KindCompleted) != 1 {
		t.Errorf("completion notices = %d, want 1", env.notifier.count(notify.KindCompleted))
	}
}

func TestDeleteRemovesReminders(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Dentist", 1, "15:00", "16:00"))

	if err := env.service.Delete(ctx, env.user.ID, task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got := env.unsent(t, task.ID); len(got) != 0 {
		t.Errorf("reminders left = %v", got)
	}
	if _, err := env.service.Get(ctx, env.user.ID, task.ID); !errors.Is(err, exceptions.ErrTaskNotFound) {
		t.Errorf("Get after delete = %v", err)
	}
}

func TestOtherUsersCannotSeeTask(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, slotInput(t, "Private", 1, "15:00", "16:00"))

	if _, err := env.service.Get(context.Background(), env.user.ID+1, task.ID); !errors.Is(err, exceptions.ErrTaskNotFound) {
		t.Errorf("Get by stranger = %v, want not found", err)
	}
}

func TestCompleteDueSkipsTaskEditedAfterSelection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Standup", 0, "10:30", "11:00"))
	env.clock.Advance(61 * time.Minute)

	local := env.clock.Now().In(pkt)
	due, err := env.tasks.ListDue(ctx, env.clock.Now(), model.DateOf(local), model.TimeOfDayOf(local))
	if err != nil || len(due) != 1 {
		t.Fatalf("ListDue = %d tasks, %v", len(due), err)
	}

	tomorrow := model.DateOf(baseTime.In(pkt)).AddDays(1)
	if _, err := env.service.Update(ctx, env.user.ID, task.ID, UpdateTaskInput{TaskDate: &tomorrow}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	completed, err := env.service.CompleteDue(ctx, &due[0])
	if err != nil || completed {
		t.Fatalf("CompleteDue = %v, %v; want false for a moved task", completed, err)
	}
	stored, _ := env.tasks.FindByID(ctx, task.ID)
	if stored.Completed {
		t.Error("task moved to tomorrow must stay open")
	}
	if env.notifier.count(notify.KindCompleted) != 0 {
		t.Errorf("completion notices = %d, want 0", env.notifier.count(notify.KindCompleted))
	}
	// Tomorrow 10:30 PKT: the day-before offset already passed.
	if got := env.unsent(t, task.ID); len(got) != 2 {
		t.Errorf("unsent = %v, want hour_before and minutes_15", got)
	}
}

func TestRescheduleFromStaleCopyAfterCompletion(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Review", 1, "12:00", "13:00"))
	stale := *task

	if completed, err := env.service.CompleteDue(ctx, task); err != nil || !completed {
		t.Fatalf("CompleteDue = %v, %v", completed, err)
	}
	if err := env.scheduler.Reschedule(ctx, &stale); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}
	if got := env.unsent(t, task.ID); len(got) != 0 {
		t.Errorf("completed task got reminders back: %v", got)
	}
}

func TestRescheduleFromStaleCopyKeepsNewerPlan(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Review", 1, "12:00", "13:00"))
	stale := *task

	start, _ := model.ParseTimeOfDay("16:00")
	end, _ := model.ParseTimeOfDay("17:00")
	if _, err := env.service.Update(ctx, env.user.ID, task.ID, UpdateTaskInput{StartTime: &start, EndTime: &end}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := env.scheduler.Reschedule(ctx, &stale); err != nil {
		t.Fatalf("Reschedule: %v", err)
	}

	got := env.unsent(t, task.ID)
	// 16:00 PKT tomorrow minus one hour.
	if want := time.Date(2026, 10, 21, 10, 0, 0, 0, time.UTC); !got[model.ReminderHourBefore].Equal(want) {
		t.Errorf("hour_before = %v, want %v", got[model.ReminderHourBefore], want)
	}
}

func TestReadsStampOverdue(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	task := env.create(t, slotInput(t, "Call bank", 0, "10:30", "11:00"))
	if task.Overdue {
		t.Error("fresh task should not be overdue")
	}

	env.clock.Advance(3 * time.Hour)
	got, err := env.service.Get(ctx, env.user.ID, task.ID)
	if err != nil || !got.Overdue {
		t.Fatalf("Get = %+v, %v; want overdue", got, err)
	}
	list, err := env.service.List(ctx, env.user.ID, repository.TaskFilter{})
	if err != nil || len(list) != 1 || !list[0].Overdue {
		t.Fatalf("List = %+v, %v", list, err)
	}

	done, err := env.service.Toggle(ctx, env.user.ID, task.ID)
	if err != nil || done.Overdue {
		t.Fatalf("completed task = %+v, %v; want not overdue", done, err)
	}
}
