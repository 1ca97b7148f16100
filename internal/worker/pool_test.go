package worker

import (
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool_RunsSubmittedJobs(t *testing.T) {
	p := NewPool(3, 16)
	var n atomic.Int32
	for i := 0; i < 10; i++ {
		assert.True(t, p.TrySubmit(func() { n.Add(1) }))
	}
	p.Stop()
	assert.Equal(t, int32(10), n.Load())
}

func TestPool_DropsWhenQueueFull(t *testing.T) {
	p := NewPool(1, 2)
	block := make(chan struct{})
	started := make(chan struct{})

	assert.True(t, p.TrySubmit(func() { close(started); <-block }))
	<-started
	// the single worker is busy; fill the queue, then overflow it
	assert.True(t, p.TrySubmit(func() {}))
	assert.True(t, p.TrySubmit(func() {}))
	assert.False(t, p.TrySubmit(func() {}))

	close(block)
	p.Stop()
}

func TestPool_RejectsAfterStopAndSurvivesPanics(t *testing.T) {
	p := NewPool(1, 2)
	var ran atomic.Bool
	assert.True(t, p.TrySubmit(func() { panic("boom") }))
	assert.True(t, p.TrySubmit(func() { ran.Store(true) }))
	p.Stop()

	assert.True(t, ran.Load())
	assert.False(t, p.TrySubmit(func() {}))
	p.Stop()
}
