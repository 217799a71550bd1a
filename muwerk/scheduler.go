package muwerk

import (
	"log"
	"sync"
	"time"
)

// Task is one cooperatively scheduled callback with runtime accounting.
type Task struct {
	Name     string
	Interval time.Duration
	fn       func()

	nextRun time.Time

	Calls        uint64
	MaxRuntime   time.Duration
	TotalRuntime time.Duration
}

// TaskStats is a copyable snapshot of one task's accounting, for the
// management interface.
type TaskStats struct {
	Name         string
	Interval     time.Duration
	Calls        uint64
	MaxRuntime   time.Duration
	TotalRuntime time.Duration
}

// Scheduler runs all registered tasks round-robin on a single goroutine and
// drains the bus queue between passes. Tasks must never block; waiting is
// done by returning early and re-checking on the next call.
type Scheduler struct {
	bus  *Bus
	tick time.Duration

	mu    sync.Mutex
	tasks []*Task

	quit chan struct{}
	done chan struct{}
}

// NewScheduler returns a scheduler driving bus. tick is the resolution of
// the task loop; 10ms works well for sensor polling on SBC-class hardware.
func NewScheduler(bus *Bus, tick time.Duration) *Scheduler {
	if tick <= 0 {
		tick = 10 * time.Millisecond
	}
	return &Scheduler{
		bus:  bus,
		tick: tick,
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
}

func (s *Scheduler) Bus() *Bus {
	return s.bus
}

// Add registers a task to be called every interval. The first call happens
// on the next scheduler pass.
func (s *Scheduler) Add(name string, interval time.Duration, fn func()) *Task {
	t := &Task{Name: name, Interval: interval, fn: fn}
	s.mu.Lock()
	s.tasks = append(s.tasks, t)
	s.mu.Unlock()
	return t
}

func (s *Scheduler) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, t := range s.tasks {
		if t.Name == name {
			s.tasks = append(s.tasks[:i], s.tasks[i+1:]...)
			return
		}
	}
}

// RunPass executes one scheduler pass: due tasks, then queued bus messages.
// Tests drive the scheduler by calling this directly.
func (s *Scheduler) RunPass(now time.Time) {
	s.mu.Lock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	s.mu.Unlock()

	for _, t := range tasks {
		if now.Before(t.nextRun) {
			continue
		}
		t0 := time.Now()
		t.fn()
		d := time.Since(t0)
		t.Calls++
		t.TotalRuntime += d
		if d > t.MaxRuntime {
			t.MaxRuntime = d
		}
		if d > 250*time.Millisecond {
			log.Printf("Scheduler Warning: task %s ran %v, starving the loop", t.Name, d)
		}
		t.nextRun = now.Add(t.Interval)
	}
	s.bus.Process()
}

// Run blocks until Stop is called.
func (s *Scheduler) Run() {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case now := <-ticker.C:
			s.RunPass(now)
		case <-s.quit:
			close(s.done)
			return
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.quit)
	<-s.done
}

func (s *Scheduler) Stats() []TaskStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskStats{
			Name:         t.Name,
			Interval:     t.Interval,
			Calls:        t.Calls,
			MaxRuntime:   t.MaxRuntime,
			TotalRuntime: t.TotalRuntime,
		})
	}
	return out
}
