// Package worker 提供固定大小、带有界队列的任务池。
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/wyfcoding/mcvol/async"
	"github.com/wyfcoding/mcvol/metrics"
)

// ErrPoolClosed 池已停止.
var ErrPoolClosed = errors.New("worker pool is closed")

// Task 是 worker 执行的任务函数。
type Task func(ctx context.Context)

// Pool 是一个通用的 worker 池。Stop 之前已入队的任务会被执行完。
type Pool struct {
	tasks   chan Task
	options *poolOptions
	metrics *workerMetrics
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex // 保护 closed 与 tasks 的关闭
	closed  bool
	active  atomic.Int32 // 正在执行任务的 worker 数
}

type workerMetrics struct {
	busyWorkers prometheus.Gauge
	queueLength prometheus.Gauge
	panics      prometheus.Counter
}

type poolOptions struct {
	Logger       *slog.Logger
	PanicHandler func(any)
	Metrics      *metrics.Metrics
	Name         string
	Size         int
	QueueSize    int
}

// Option 定义配置选项。
type Option func(*poolOptions)

// WithName 设置池名称。
func WithName(name string) Option {
	return func(o *poolOptions) {
		o.Name = name
	}
}

// WithSize 设置 worker 数量。
func WithSize(size int) Option {
	return func(o *poolOptions) {
		if size > 0 {
			o.Size = size
		}
	}
}

// WithQueueSize 设置任务队列大小。
func WithQueueSize(size int) Option {
	return func(o *poolOptions) {
		if size >= 0 {
			o.QueueSize = size
		}
	}
}

// WithPanicHandler 设置 Panic 处理回调。
func WithPanicHandler(handler func(any)) Option {
	return func(o *poolOptions) {
		o.PanicHandler = handler
	}
}

// WithMetrics 注入指标采集器.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *poolOptions) {
		o.Metrics = m
	}
}

// WithLogger 设置日志记录器.
func WithLogger(l *slog.Logger) Option {
	return func(o *poolOptions) {
		if l != nil {
			o.Logger = l
		}
	}
}

// NewPool 创建并启动一个 worker 池。
func NewPool(opts ...Option) *Pool {
	options := &poolOptions{
		Name:      "default-pool",
		Size:      10,
		QueueSize: 100,
		Logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		tasks:   make(chan Task, options.QueueSize),
		options: options,
		ctx:     ctx,
		cancel:  cancel,
	}

	if options.Metrics != nil {
		labels := prometheus.Labels{"pool": options.Name}
		p.metrics = &workerMetrics{
			busyWorkers: options.Metrics.NewGaugeVec(prometheus.GaugeOpts{
				Name: "worker_pool_busy_workers",
				Help: "Number of workers currently executing a task",
			}, []string{"pool"}).With(labels),
			queueLength: options.Metrics.NewGaugeVec(prometheus.GaugeOpts{
				Name: "worker_pool_queue_length",
				Help: "Current length of the task queue",
			}, []string{"pool"}).With(labels),
			panics: options.Metrics.NewCounterVec(prometheus.CounterOpts{
				Name: "worker_pool_task_panics_total",
				Help: "Number of tasks that panicked",
			}, []string{"pool"}).With(labels),
		}
	}

	p.start()
	return p
}

func (p *Pool) start() {
	p.options.Logger.Info("Worker pool starting", "name", p.options.Name, "size", p.options.Size)
	for range p.options.Size {
		p.wg.Add(1)
		async.SafeGo(func() {
			defer p.wg.Done()
			for task := range p.tasks {
				p.observeQueue()
				p.executeTask(task)
			}
		})
	}
}

func (p *Pool) executeTask(task Task) {
	p.active.Add(1)
	if p.metrics != nil {
		p.metrics.busyWorkers.Inc()
	}
	defer func() {
		p.active.Add(-1)
		if p.metrics != nil {
			p.metrics.busyWorkers.Dec()
		}
		if r := recover(); r != nil {
			if p.metrics != nil {
				p.metrics.panics.Inc()
			}
			if p.options.PanicHandler != nil {
				p.options.PanicHandler(r)
			} else {
				p.options.Logger.Error("Worker task panic recovered", "pool", p.options.Name, "panic", r)
			}
		}
	}()
	task(p.ctx)
}

func (p *Pool) observeQueue() {
	if p.metrics != nil {
		p.metrics.queueLength.Set(float64(len(p.tasks)))
	}
}

// Submit 提交一个任务。队列已满时阻塞，直到有空位、ctx 结束或池被关闭。
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}

	select {
	case p.tasks <- task:
		p.observeQueue()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Busy 返回正在执行任务的 worker 数。
func (p *Pool) Busy() int {
	return int(p.active.Load())
}

// Stop 停止接收任务，等待队列中的任务执行完毕后返回。
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	p.wg.Wait()
	p.cancel()
	p.options.Logger.Info("Worker pool stopped", "name", p.options.Name)
}
