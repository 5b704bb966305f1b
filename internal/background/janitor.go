// Package background holds the tasks that run outside request handling:
// the periodic janitor, push notifications and background sync.
package background

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Janitor runs a cleanup function every interval, counted from Start
type Janitor struct {
	interval time.Duration
	run      func(ctx context.Context) error

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewJanitor(interval time.Duration, run func(ctx context.Context) error) *Janitor {
	return &Janitor{
		interval: interval,
		run:      run,
	}
}

// Start launches the loop. Calling Start on a running janitor does nothing.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	j.cancel = cancel

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		j.loop(ctx)
	}()
	logrus.Debugf("Janitor started, interval %s", j.interval)
}

// Stop ends the loop and waits for a running pass to finish
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel := j.cancel
	j.cancel = nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	j.wg.Wait()
	logrus.Debugf("Janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.run(ctx); err != nil {
				logrus.Errorf("Janitor pass failed: %v", err)
			}
		}
	}
}
