package concurrency

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubmitRunsTasks(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "test", MaxWorkers: 4, MaxCapacity: 16}, nil)
	defer wp.Stop()

	var ran atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		require.NoError(t, wp.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		}))
	}
	wg.Wait()
	assert.Equal(t, int64(20), ran.Load())
}

func TestSubmitAndWait(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "test"}, nil)
	defer wp.Stop()

	done := false
	wp.SubmitAndWait(func() { done = true })
	assert.True(t, done)
}

func TestNonBlockingSubmitRejectsWhenFull(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{
		Name:        "tiny",
		MaxWorkers:  1,
		MaxCapacity: 1,
		NonBlocking: true,
	}, nil)
	defer wp.Stop()

	block := make(chan struct{})
	require.NoError(t, wp.Submit(func() { <-block }))

	// Fill the queue, then expect rejection.
	var rejected bool
	for i := 0; i < 8; i++ {
		if err := wp.Submit(func() {}); err != nil {
			rejected = true
			break
		}
	}
	close(block)
	assert.True(t, rejected)
}

type captureLogger struct {
	mu     sync.Mutex
	errors int
}

func (l *captureLogger) Error(string, ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors++
}

func TestPanicIsRecoveredAndLogged(t *testing.T) {
	logger := &captureLogger{}
	wp := NewWorkerPool(PoolConfig{Name: "panicky", MaxWorkers: 1}, logger)

	require.NoError(t, wp.Submit(func() { panic("boom") }))
	wp.Stop()

	assert.Eventually(t, func() bool {
		logger.mu.Lock()
		defer logger.mu.Unlock()
		return logger.errors == 1
	}, time.Second, time.Millisecond)
}

func TestStopDrainsInFlight(t *testing.T) {
	wp := NewWorkerPool(PoolConfig{Name: "drain", MaxWorkers: 2}, nil)

	var ran atomic.Int64
	for i := 0; i < 4; i++ {
		require.NoError(t, wp.Submit(func() {
			time.Sleep(10 * time.Millisecond)
			ran.Add(1)
		}))
	}
	wp.Stop()
	assert.Equal(t, int64(4), ran.Load())
}
