package jobclient

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
)

const DefaultPollInterval = 4 * time.Second

// ActiveLister fetches the server's active jobs, and single jobs that left
// the active list since the previous poll
type ActiveLister interface {
	ActiveJobs(ctx context.Context) ([]*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
}

// Poller fetches the active jobs on a fixed interval, stores them in the
// JobState and hands each successful result to onResult.
type Poller struct {
	api      ActiveLister
	state    *JobState
	interval time.Duration
	onResult func([]*model.Job)

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewPoller(api ActiveLister, state *JobState, interval time.Duration, onResult func([]*model.Job)) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{api: api, state: state, interval: interval, onResult: onResult}
}

// Start polls immediately and then every interval; a running poller is left alone
func (p *Poller) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.loop(ctx)
	}()
}

// Stop ends polling. It does not wait, so it may be called from onResult.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// Running reports whether the poller has been started and not stopped
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

// Wait blocks until a stopped poller's goroutine has exited
func (p *Poller) Wait() {
	p.wg.Wait()
}

func (p *Poller) loop(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.poll(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, p.interval)
	defer cancel()

	jobs, err := p.api.ActiveJobs(reqCtx)
	if err != nil {
		if ctx.Err() == nil {
			log.Debug().Err(err).Msg("active job poll failed")
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		seen[j.ID] = true
		p.state.Put(j)
	}
	for _, known := range p.state.Active() {
		if seen[known.ID] {
			continue
		}
		job, err := p.api.GetJob(reqCtx, known.ID)
		if err != nil {
			log.Debug().Err(err).Str("job_id", known.ID).Msg("failed to refresh job")
			continue
		}
		p.state.Put(job)
	}
	if p.onResult != nil {
		p.onResult(jobs)
	}
}
