package pipeline_test

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/aurora-ai/amica/pkg/pipeline"
)

func TestQueue_RunsSubmittedTasks(t *testing.T) {
	q := pipeline.NewQueue(2, 10, zap.NewNop())
	defer q.Close()

	var done int32
	for i := 0; i < 5; i++ {
		ok := q.Submit(pipeline.Task{
			Name: "count",
			Run: func(ctx context.Context) error {
				atomic.AddInt32(&done, 1)
				return nil
			},
		})
		assert.True(t, ok)
	}

	q.Wait()
	assert.Equal(t, int32(5), atomic.LoadInt32(&done))
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := pipeline.NewQueue(1, 1, zap.NewNop())
	defer q.Close()

	started := make(chan struct{})
	block := make(chan struct{})
	release := func(ctx context.Context) error {
		<-block
		return nil
	}

	// First task occupies the worker, second fills the buffer.
	assert.True(t, q.Submit(pipeline.Task{Name: "working", Run: func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}}))
	<-started
	assert.True(t, q.Submit(pipeline.Task{Name: "buffered", Run: release}))

	// The third has nowhere to go.
	dropped := q.Submit(pipeline.Task{Name: "dropped", Run: release})
	assert.False(t, dropped)

	close(block)
	q.Wait()
}

func TestQueue_SubmitAfterClose(t *testing.T) {
	q := pipeline.NewQueue(1, 1, zap.NewNop())
	q.Close()

	ok := q.Submit(pipeline.Task{
		Name: "late",
		Run:  func(ctx context.Context) error { return nil },
	})
	assert.False(t, ok)
}

func TestQueue_RecoversFromPanic(t *testing.T) {
	q := pipeline.NewQueue(1, 2, zap.NewNop())
	defer q.Close()

	assert.True(t, q.Submit(pipeline.Task{
		Name: "panics",
		Run:  func(ctx context.Context) error { panic("boom") },
	}))

	var ran int32
	assert.True(t, q.Submit(pipeline.Task{
		Name: "after",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	}))

	q.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}

func TestQueue_TaskErrorDoesNotStopWorker(t *testing.T) {
	q := pipeline.NewQueue(1, 2, zap.NewNop())
	defer q.Close()

	assert.True(t, q.Submit(pipeline.Task{
		Name: "fails",
		Run:  func(ctx context.Context) error { return assert.AnError },
	}))

	var ran int32
	assert.True(t, q.Submit(pipeline.Task{
		Name: "after",
		Run: func(ctx context.Context) error {
			atomic.AddInt32(&ran, 1)
			return nil
		},
	}))

	q.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&ran))
}
