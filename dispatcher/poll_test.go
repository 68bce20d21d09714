package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPollDistributorWaitsApproximatelyTheInterval(t *testing.T) {
	d := NewPollDistributor(50 * time.Millisecond)

	start := time.Now()
	d.WaitForWork(context.Background())
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Less(t, elapsed, 200*time.Millisecond)
}

func TestPollDistributorShutdownWakesImmediately(t *testing.T) {
	d := NewPollDistributor(60 * time.Second)

	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		d.Shutdown()
	}()

	d.WaitForWork(context.Background())
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
}

func TestPollDistributorContextCancelWakesImmediately(t *testing.T) {
	d := NewPollDistributor(60 * time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	d.WaitForWork(ctx)
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
}
