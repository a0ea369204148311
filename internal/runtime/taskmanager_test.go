package runtime

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTaskManager_Start(t *testing.T) {
	tm := NewTaskManager(context.Background())

	var called atomic.Bool
	if err := tm.Start("resync", "quota resync", func(ctx context.Context) error {
		called.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}
	tm.Wait()

	if !called.Load() {
		t.Error("Task function was not called")
	}
	task, err := tm.GetTask("resync")
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if task.Status != TaskStatusStopped {
		t.Errorf("Expected status 'stopped', got '%s'", task.Status)
	}
}

func TestTaskManager_StartDuplicateAndRestart(t *testing.T) {
	tm := NewTaskManager(context.Background())
	defer func() { tm.StopAll(); tm.Wait() }()

	block := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := tm.Start("watcher", "token watcher", block); err != nil {
		t.Fatalf("Failed to start first task: %v", err)
	}
	if err := tm.Start("watcher", "token watcher", block); err == nil {
		t.Error("Expected error when starting a running duplicate")
	}

	if err := tm.Stop("watcher"); err != nil {
		t.Fatalf("Failed to stop task: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for {
		task, _ := tm.GetTask("watcher")
		if task.Status == TaskStatusCanceled {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task did not stop, status %s", task.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err := tm.Start("watcher", "token watcher", block); err != nil {
		t.Errorf("Expected restart after stop to succeed: %v", err)
	}
}

func TestTaskManager_StopUnknown(t *testing.T) {
	tm := NewTaskManager(context.Background())
	if err := tm.Stop("nope"); err == nil {
		t.Error("Expected error for unknown task")
	}
	if _, err := tm.GetTask("nope"); err == nil {
		t.Error("Expected error for unknown task")
	}
}

func TestTaskManager_StopAllAndStats(t *testing.T) {
	tm := NewTaskManager(context.Background())

	for _, name := range []string{"a", "b", "c"} {
		if err := tm.Start(name, "blocking", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		}); err != nil {
			t.Fatalf("Failed to start task %s: %v", name, err)
		}
	}
	if err := tm.Start("broken", "fails", func(ctx context.Context) error {
		return errors.New("task error")
	}); err != nil {
		t.Fatalf("Failed to start failing task: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	stats := tm.GetStats()
	if stats.Running != 3 || stats.Failed != 1 {
		t.Errorf("unexpected stats before stop: %+v", stats)
	}

	tm.StopAll()
	tm.Wait()

	stats = tm.GetStats()
	if stats.Total != 4 || stats.Canceled != 3 || stats.Failed != 1 {
		t.Errorf("unexpected stats after stop: %+v", stats)
	}
	tasks := tm.ListTasks()
	if len(tasks) != 4 || tasks[0].Name != "a" || tasks[3].Name != "c" {
		t.Errorf("ListTasks should be sorted by name, got %v", tasks)
	}
	broken, _ := tm.GetTask("broken")
	if broken.Error == nil || broken.ErrorText != "task error" {
		t.Errorf("Expected task error to be recorded, got %+v", broken)
	}

	if err := tm.Start("late", "after stop", func(ctx context.Context) error { return nil }); err == nil {
		t.Error("Expected Start to fail after StopAll")
	}
}

func TestTaskManager_PanicIsRecovered(t *testing.T) {
	tm := NewTaskManager(context.Background())
	if err := tm.Start("boom", "panics", func(ctx context.Context) error {
		panic("kaboom")
	}); err != nil {
		t.Fatalf("Failed to start task: %v", err)
	}
	tm.Wait()

	task, _ := tm.GetTask("boom")
	if task.Status != TaskStatusFailed {
		t.Errorf("Expected status 'failed', got '%s'", task.Status)
	}
}

func TestTaskManager_StartPeriodic(t *testing.T) {
	tm := NewTaskManager(context.Background())

	var count atomic.Int32
	if err := tm.StartPeriodic("refresh", "cooling refresh", 20*time.Millisecond, func(ctx context.Context) error {
		count.Add(1)
		return errors.New("errors do not stop the loop")
	}); err != nil {
		t.Fatalf("Failed to start periodic task: %v", err)
	}

	time.Sleep(110 * time.Millisecond)
	tm.StopAll()
	tm.Wait()

	if count.Load() < 3 {
		t.Errorf("Expected at least 3 executions, got %d", count.Load())
	}
	task, _ := tm.GetTask("refresh")
	if task.Runs != int64(count.Load()) || task.LastRun == nil {
		t.Errorf("run bookkeeping mismatch: runs=%d count=%d", task.Runs, count.Load())
	}
}

func TestTaskManager_StartPeriodicWithoutImmediateRun(t *testing.T) {
	tm := NewTaskManager(context.Background())
	var count atomic.Int32
	var interval atomic.Int64
	interval.Store(int64(time.Hour))

	if err := tm.StartPeriodic("refresh", "cooling refresh", time.Hour, func(ctx context.Context) error {
		count.Add(1)
		return nil
	}, WithoutImmediateRun(), WithIntervalFunc(func() time.Duration {
		return time.Duration(interval.Load())
	})); err != nil {
		t.Fatalf("Failed to start periodic task: %v", err)
	}

	time.Sleep(30 * time.Millisecond)
	if count.Load() != 0 {
		t.Errorf("Expected no immediate run, got %d", count.Load())
	}
	tm.StopAll()
	tm.Wait()
}

func TestTaskManager_StartDelayed(t *testing.T) {
	tm := NewTaskManager(context.Background())

	var executed atomic.Bool
	startTime := time.Now()
	if err := tm.StartDelayed("delayed", "delayed task", 50*time.Millisecond, func(ctx context.Context) error {
		executed.Store(true)
		return nil
	}); err != nil {
		t.Fatalf("Failed to start delayed task: %v", err)
	}
	tm.Wait()

	if !executed.Load() {
		t.Error("Delayed task was not executed")
	}
	if elapsed := time.Since(startTime); elapsed < 50*time.Millisecond {
		t.Errorf("Task executed too early: %v", elapsed)
	}
}

func TestTaskManager_Shutdown(t *testing.T) {
	tm := NewTaskManager(context.Background())
	_ = tm.Start("blocking", "", func(ctx context.Context) error {
		<-ctx.Done()
		return nil
	})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := tm.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
}
