package server

import (
	"container/heap"
	"sync"
	"time"
)

// task объект с обработкой по времени: ReportControl или ControlObject.
// tick выполняет обработку и возвращает следующий срок или нулевое время.
type task interface {
	tick(now time.Time) time.Time
}

type deadline struct {
	task  task
	at    time.Time
	index int
}

type deadlineHeap []*deadline

func (h deadlineHeap) Len() int           { return len(h) }
func (h deadlineHeap) Less(i, j int) bool { return h[i].at.Before(h[j].at) }
func (h deadlineHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *deadlineHeap) Push(x any) {
	d := x.(*deadline)
	d.index = len(*h)
	*h = append(*h, d)
}

func (h *deadlineHeap) Pop() any {
	old := *h
	n := len(old)
	d := old[n-1]
	old[n-1] = nil
	d.index = -1
	*h = old[:n-1]
	return d
}

// scheduler очередь сроков с минимальной кучей. У задачи не больше
// одного срока: повторный Schedule переносит срок на более ранний.
type scheduler struct {
	mu     sync.Mutex
	queue  deadlineHeap
	byTask map[task]*deadline
	wake   chan struct{}
}

func newScheduler() *scheduler {
	return &scheduler{
		byTask: make(map[task]*deadline),
		wake:   make(chan struct{}, 1),
	}
}

// Schedule назначает обработку t не позже at
func (s *scheduler) Schedule(t task, at time.Time) {
	s.mu.Lock()
	d, ok := s.byTask[t]
	switch {
	case !ok:
		d = &deadline{task: t, at: at}
		heap.Push(&s.queue, d)
		s.byTask[t] = d
	case at.Before(d.at):
		d.at = at
		heap.Fix(&s.queue, d.index)
	default:
		s.mu.Unlock()
		return
	}
	first := s.queue[0] == d
	s.mu.Unlock()

	if first {
		select {
		case s.wake <- struct{}{}:
		default:
		}
	}
}

// Cancel снимает срок задачи
func (s *scheduler) Cancel(t task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if d, ok := s.byTask[t]; ok {
		heap.Remove(&s.queue, d.index)
		delete(s.byTask, t)
	}
}

// Due извлекает задачи со сроком не позже now
func (s *scheduler) Due(now time.Time) []task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []task
	for len(s.queue) > 0 && !s.queue[0].at.After(now) {
		d := heap.Pop(&s.queue).(*deadline)
		delete(s.byTask, d.task)
		due = append(due, d.task)
	}
	return due
}

// Next возвращает ближайший срок
func (s *scheduler) Next() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

// Len возвращает количество назначенных сроков
func (s *scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.queue)
}

// run обрабатывает сроки до закрытия done
func (s *scheduler) run(done <-chan struct{}) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		for _, t := range s.Due(time.Now()) {
			if next := t.tick(time.Now()); !next.IsZero() {
				s.Schedule(t, next)
			}
		}

		wait := time.Hour
		if next, ok := s.Next(); ok {
			wait = time.Until(next)
		}
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-done:
				return
			case <-s.wake:
			case <-timer.C:
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		} else {
			select {
			case <-done:
				return
			default:
			}
		}
	}
}
