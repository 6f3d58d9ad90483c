package background

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExecutorRunsTasks(t *testing.T) {
	e := NewExecutor(8, 2, time.Second)

	var ran int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		ok := e.Submit(Task{
			Name: "count",
			Run: func(ctx context.Context) error {
				defer wg.Done()
				atomic.AddInt32(&ran, 1)
				return nil
			},
		})
		assert.True(t, ok)
	}

	wg.Wait()
	e.Shutdown()
	assert.Equal(t, int32(5), atomic.LoadInt32(&ran))
}

func TestExecutorShutdownDrains(t *testing.T) {
	e := NewExecutor(16, 1, time.Second)

	var ran int32
	for i := 0; i < 10; i++ {
		e.Submit(Task{
			Name: "drain",
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&ran, 1)
				return nil
			},
		})
	}

	e.Shutdown()
	assert.Equal(t, int32(10), atomic.LoadInt32(&ran), "shutdown waits for queued tasks")
}

func TestExecutorRejectsAfterShutdown(t *testing.T) {
	e := NewExecutor(4, 1, time.Second)
	e.Shutdown()

	ok := e.Submit(Task{Name: "late", Run: func(ctx context.Context) error { return nil }})
	assert.False(t, ok)
}

func TestExecutorDropsWhenQueueFull(t *testing.T) {
	e := NewExecutor(1, 1, time.Second)
	defer e.Shutdown()

	block := make(chan struct{})
	// Occupy the single worker, then fill the single queue slot.
	e.Submit(Task{Name: "block", Run: func(ctx context.Context) error {
		<-block
		return nil
	}})

	// Give the worker a moment to pick up the blocking task.
	time.Sleep(50 * time.Millisecond)

	first := e.Submit(Task{Name: "queued", Run: func(ctx context.Context) error { return nil }})
	second := e.Submit(Task{Name: "overflow", Run: func(ctx context.Context) error { return nil }})

	assert.True(t, first)
	assert.False(t, second, "a full queue drops instead of blocking")

	close(block)
}

func TestExecutorSurvivesFailuresAndPanics(t *testing.T) {
	e := NewExecutor(8, 1, time.Second)

	var wg sync.WaitGroup
	wg.Add(1)

	e.Submit(Task{Name: "fail", Run: func(ctx context.Context) error { return errors.New("boom") }})
	e.Submit(Task{Name: "panic", Run: func(ctx context.Context) error { panic("boom") }})
	e.Submit(Task{Name: "after", Run: func(ctx context.Context) error {
		wg.Done()
		return nil
	}})

	wg.Wait()
	e.Shutdown()
}
