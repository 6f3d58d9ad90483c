package background

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/thetombrider/chatbotcollectibus-sub002/pkg/logger"
)

// Task is a unit of deferred work, typically conversation persistence.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Executor runs fire-and-forget tasks off the request path. Failures are
// logged and never surfaced to the caller; a full queue drops the task
// rather than blocking a response.
type Executor struct {
	queue   chan Task
	timeout time.Duration
	wg      sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

func NewExecutor(queueSize, workers int, taskTimeout time.Duration) *Executor {
	if queueSize <= 0 {
		queueSize = 64
	}
	if workers <= 0 {
		workers = 2
	}
	if taskTimeout <= 0 {
		taskTimeout = 10 * time.Second
	}

	e := &Executor{
		queue:   make(chan Task, queueSize),
		timeout: taskTimeout,
	}
	for i := 0; i < workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	return e
}

// Submit enqueues a task. Returns false when the executor is shut down or
// the queue is full.
func (e *Executor) Submit(task Task) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return false
	}

	select {
	case e.queue <- task:
		return true
	default:
		logger.Warn("Background queue full, dropping task", zap.String("task", task.Name))
		return false
	}
}

// Shutdown stops accepting tasks and drains the queue.
func (e *Executor) Shutdown() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.queue)
	e.wg.Wait()
}

func (e *Executor) worker() {
	defer e.wg.Done()
	for task := range e.queue {
		e.run(task)
	}
}

func (e *Executor) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("Background task panicked",
				zap.String("task", task.Name),
				zap.Any("panic", r),
			)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := task.Run(ctx); err != nil {
		logger.Error("Background task failed",
			zap.String("task", task.Name),
			zap.Error(err),
		)
	}
}
