package server

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// jobRunner owns the hub's background loops: the heartbeat sweep, the
// broadcast reconcile pass, and the retention prunes.
type jobRunner struct {
	cron   *cron.Cron
	logger *log.Logger

	mu      sync.Mutex
	running bool
}

func newJobRunner(logger *log.Logger) *jobRunner {
	if logger == nil {
		logger = log.Default()
	}
	return &jobRunner{
		cron:   cron.New(),
		logger: logger,
	}
}

// addEvery schedules fn at a fixed interval.
func (j *jobRunner) addEvery(name string, interval time.Duration, fn func()) {
	spec := "@every " + interval.String()
	if _, err := j.cron.AddFunc(spec, fn); err != nil {
		j.logger.Printf("failed to schedule %s job: %v", name, err)
	}
}

func (j *jobRunner) Start() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.running {
		return
	}
	j.cron.Start()
	j.running = true
}

func (j *jobRunner) Stop() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return
	}
	ctx := j.cron.Stop()
	<-ctx.Done()
	j.running = false
}

// IsRunning implements system.JobStatusProvider.
func (j *jobRunner) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}
