package upload

import (
	"sync"
	"time"
)

// Timer 是可停止的定时器，*time.Timer 满足该接口。
type Timer interface {
	Stop() bool
}

// Clock 抽象时间源与延时回调，便于测试中手动推进。
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock 返回基于 time 包的 Clock。
func SystemClock() Clock { return systemClock{} }

type scheduled struct {
	timer Timer
}

// Scheduler 管理按 key 索引、可取消的延时任务。
// 同一 key 重新调度会取消旧任务；任务触发后自动移除。
type Scheduler struct {
	clock Clock

	mu      sync.Mutex
	tasks   map[string]*scheduled
	stopped bool
}

func NewScheduler(clock Clock) *Scheduler {
	if clock == nil {
		clock = SystemClock()
	}
	return &Scheduler{clock: clock, tasks: make(map[string]*scheduled)}
}

// Now 返回调度器使用的当前时间。
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Schedule 在 at 时刻执行 fn；at 已过去时尽快执行。
func (s *Scheduler) Schedule(key string, at time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.timer.Stop()
	}

	delay := at.Sub(s.clock.Now())
	if delay < 0 {
		delay = 0
	}

	entry := &scheduled{}
	s.tasks[key] = entry
	entry.timer = s.clock.AfterFunc(delay, func() {
		s.mu.Lock()
		current, ok := s.tasks[key]
		if !ok || current != entry {
			s.mu.Unlock()
			return
		}
		delete(s.tasks, key)
		s.mu.Unlock()
		fn()
	})
}

// Cancel 取消 key 对应的任务，返回是否存在待执行任务。
func (s *Scheduler) Cancel(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tasks[key]
	if !ok {
		return false
	}
	entry.timer.Stop()
	delete(s.tasks, key)
	return true
}

// Pending 报告 key 是否有待执行任务。
func (s *Scheduler) Pending(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Stop 取消全部任务并拒绝后续调度。
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopped = true
	for key, entry := range s.tasks {
		entry.timer.Stop()
		delete(s.tasks, key)
	}
}
