package assembly

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"paperplane/internal/metrics"

	"golang.org/x/sync/errgroup"
)

// Runner 执行单个任务，*Assembler 为默认实现。
type Runner interface {
	Run(ctx context.Context, job Job) Result
}

type task struct {
	job    Job
	result chan Result
}

// Pool 是固定大小的组装工作池。提交即返回，结果通过一次性通道异步送达。
type Pool struct {
	runner Runner
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	tasks  chan task

	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool 启动 workers 个工作协程，queue 为等待队列容量。
func NewPool(runner Runner, workers, queue int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queue < 0 {
		queue = 0
	}

	// 任务在组的 context 下运行，Shutdown 超时取消时正在执行的任务随之中止
	ctx, cancel := context.WithCancel(context.Background())
	group, groupCtx := errgroup.WithContext(ctx)
	p := &Pool{
		runner: runner,
		logger: logger,
		tasks:  make(chan task, queue),
		group:  group,
		ctx:    groupCtx,
		cancel: cancel,
	}

	for i := 0; i < workers; i++ {
		p.group.Go(func() error {
			p.work()
			return nil
		})
	}
	return p
}

// Submit 将任务放入队列，队列已满时立即返回 ErrQueueFull。
// 返回的通道恰好收到一个 Result。
func (p *Pool) Submit(job Job) (<-chan Result, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	t := task{job: job, result: make(chan Result, 1)}
	select {
	case p.tasks <- t:
		metrics.QueueDepth.Inc()
		return t.result, nil
	default:
		return nil, ErrQueueFull
	}
}

func (p *Pool) work() {
	for t := range p.tasks {
		metrics.QueueDepth.Dec()
		t.result <- p.runSafely(t.job)
	}
}

func (p *Pool) runSafely(job Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("assembly worker panic", "upload_id", job.UploadID, "panic", r)
			res = Result{UploadID: job.UploadID, Err: fmt.Errorf("assembly panic: %v", r)}
		}
	}()
	return p.runner.Run(p.ctx, job)
}

// Shutdown 停止接收任务并等待队列清空；ctx 到期后取消仍在运行的任务。
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.tasks)
	}
	p.mu.Unlock()

	done := make(chan error, 1)
	go func() { done <- p.group.Wait() }()

	select {
	case err := <-done:
		p.cancel()
		return err
	case <-ctx.Done():
		p.cancel()
		<-done
		return ctx.Err()
	}
}
