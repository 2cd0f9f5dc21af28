package concurrency

import (
	"testing"
	"time"

	"quill/internal/object"
)

func TestBlockCompletionPercentage(t *testing.T) {
	b := NewBlockState(BlockParallel)
	if got := b.CompletionPercentage(); got != 1.0 {
		t.Errorf("empty block CompletionPercentage() = %v, want 1.0", got)
	}

	b.SpawnTasks("i", []object.Object{num(1), num(2), num(3), num(4)}, nil, nil)
	if got := b.CompletionPercentage(); got != 0 {
		t.Errorf("CompletionPercentage() = %v before any completion, want 0", got)
	}

	b.IncrementCompleted()
	if got := b.CompletionPercentage(); got != 0.25 {
		t.Errorf("CompletionPercentage() = %v, want 0.25", got)
	}
	if b.AllTasksCompleted() {
		t.Error("AllTasksCompleted() true at 1/4")
	}

	for i := 0; i < 3; i++ {
		b.IncrementCompleted()
	}
	if !b.AllTasksCompleted() {
		t.Error("AllTasksCompleted() false at 4/4")
	}
}

func TestBlockTimeout(t *testing.T) {
	b := NewBlockState(BlockConcurrent)
	if b.IsTimedOut() {
		t.Error("IsTimedOut() true with no timeout set")
	}

	b.SetTimeout(50 * time.Millisecond)
	if b.IsTimedOut() {
		t.Error("IsTimedOut() true immediately after SetTimeout")
	}
	time.Sleep(60 * time.Millisecond)
	if !b.IsTimedOut() {
		t.Error("IsTimedOut() false after the deadline passed")
	}
}

func TestBlockSpawnTasks(t *testing.T) {
	parent := object.NewEnvironment()
	b := NewBlockState(BlockParallel)
	b.Strategy = StrategyAuto
	values := []object.Object{num(10), num(20)}
	b.SpawnTasks("v", values, parent, nil)

	tasks := b.Tasks()
	if len(tasks) != 2 || b.TotalTasks() != 2 {
		t.Fatalf("got %d tasks (total %d), want 2", len(tasks), b.TotalTasks())
	}
	for i, ctx := range tasks {
		if ctx.TaskID != i {
			t.Errorf("task %d has id %d", i, ctx.TaskID)
		}
		if ctx.LoopVar != "v" || ctx.Env != parent {
			t.Errorf("task %d not wired to the loop variable and parent scope", i)
		}
		if ctx.Strategy != StrategyAuto {
			t.Errorf("task %d strategy = %v, want the block's strategy", i, ctx.Strategy)
		}
	}
}

func TestBlockResultsAreCopied(t *testing.T) {
	b := NewBlockState(BlockParallel)
	b.AddResult(num(1))
	got := b.Results()
	got[0] = num(99)
	if b.Results()[0].(*object.Number).Value != 1 {
		t.Error("Results() exposed the internal slice")
	}
}

func TestBlockTypeStrings(t *testing.T) {
	tests := []struct {
		got  string
		want string
	}{
		{BlockParallel.String(), "parallel"},
		{BlockConcurrent.String(), "concurrent"},
		{ModeBatch.String(), "batch"},
		{ModeStream.String(), "stream"},
		{ModeAsync.String(), "async"},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("String() = %q, want %q", tt.got, tt.want)
		}
	}
}
