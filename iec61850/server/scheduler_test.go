package server

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testTask struct {
	name   string
	ticks  atomic.Int32
	period time.Duration
	limit  int32
}

func (t *testTask) tick(now time.Time) time.Time {
	n := t.ticks.Add(1)
	if t.period == 0 || n >= t.limit {
		return time.Time{}
	}
	return now.Add(t.period)
}

func TestSchedulerDue(t *testing.T) {
	s := newScheduler()
	base := time.Unix(1700000000, 0)

	a := &testTask{name: "a"}
	b := &testTask{name: "b"}
	c := &testTask{name: "c"}

	s.Schedule(a, base.Add(30*time.Millisecond))
	s.Schedule(b, base.Add(10*time.Millisecond))
	s.Schedule(c, base.Add(20*time.Millisecond))
	assert.Equal(t, 3, s.Len())

	next, ok := s.Next()
	require.True(t, ok)
	assert.Equal(t, base.Add(10*time.Millisecond), next)

	// более поздний срок не переносит уже назначенный
	s.Schedule(b, base.Add(time.Second))
	// более ранний переносит
	s.Schedule(a, base.Add(5*time.Millisecond))
	assert.Equal(t, 3, s.Len())

	due := s.Due(base.Add(15 * time.Millisecond))
	assert.Equal(t, []task{a, b}, due)

	s.Cancel(c)
	s.Cancel(c)
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Due(base.Add(time.Hour)))

	_, ok = s.Next()
	assert.False(t, ok)
}

func TestSchedulerRun(t *testing.T) {
	s := newScheduler()
	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		s.run(done)
		close(stopped)
	}()

	periodic := &testTask{period: 5 * time.Millisecond, limit: 3}
	once := &testTask{}
	s.Schedule(periodic, time.Now())
	s.Schedule(once, time.Now().Add(10*time.Millisecond))

	assert.Eventually(t, func() bool {
		return periodic.ticks.Load() == 3 && once.ticks.Load() == 1
	}, time.Second, time.Millisecond)
	assert.Zero(t, s.Len())

	close(done)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop")
	}
}
