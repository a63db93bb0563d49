package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJobsRunUntilCancelled(t *testing.T) {
	var fast, failing, atStart atomic.Int32

	s := NewScheduler()
	s.Add(Job{Name: "fast", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		fast.Add(1)
		return nil
	}})
	s.Add(Job{Name: "failing", Interval: 5 * time.Millisecond, Run: func(context.Context) error {
		failing.Add(1)
		return errors.New("boom")
	}})
	s.Add(Job{Name: "daily", Interval: 24 * time.Hour, RunAtStart: true, Run: func(context.Context) error {
		atStart.Add(1)
		return nil
	}})
	s.Add(Job{Name: "broken"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return fast.Load() >= 3 && failing.Load() >= 3 },
		2*time.Second, time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, int32(1), atStart.Load())
}
