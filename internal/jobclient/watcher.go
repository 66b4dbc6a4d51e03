package jobclient

import (
	"sync"
	"time"

	"github.com/concretepros/directory-api/internal/model"
)

// Mode is the watcher's current way of following jobs
type Mode int

const (
	ModeIdle Mode = iota
	ModePolling
	ModeSubscribed
)

func (m Mode) String() string {
	switch m {
	case ModePolling:
		return "polling"
	case ModeSubscribed:
		return "subscribed"
	default:
		return "idle"
	}
}

const DefaultSettleDelay = time.Second

// WatcherOptions tunes a Watcher; zero values take the defaults
type WatcherOptions struct {
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	// SettleDelay keeps the channel open briefly after the watched job
	// finishes, so a follow-up job can reuse the connection slot.
	SettleDelay time.Duration
	// OnModeChange is called after every transition, outside the watcher lock
	OnModeChange func(mode Mode, jobID string)
}

// Watcher switches between polling the active jobs and a push subscription
// to one of them. While polling, the first active job found is subscribed
// to and polling stops. When that job leaves the active statuses the channel
// is closed after the settle delay and polling resumes.
type Watcher struct {
	state    *JobState
	poller   *Poller
	channel  *StatusChannel
	settle   time.Duration
	onChange func(Mode, string)

	mu          sync.Mutex
	mode        Mode
	jobID       string
	unsubscribe func()
}

func NewWatcher(api API, state *JobState, opts WatcherOptions) *Watcher {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}

	w := &Watcher{
		state:    state,
		channel:  NewStatusChannel(api, state, WithReconnectDelay(opts.ReconnectDelay)),
		settle:   opts.SettleDelay,
		onChange: opts.OnModeChange,
	}
	w.poller = NewPoller(api, state, opts.PollInterval, w.handleActive)
	return w
}

// Start begins in polling mode; starting a running watcher does nothing
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.mode != ModeIdle {
		w.mu.Unlock()
		return
	}
	w.unsubscribe = w.state.OnChange(w.handleChange)
	w.mode = ModePolling
	w.poller.Start()
	w.mu.Unlock()

	w.changed(ModePolling, "")
}

// Watch subscribes to a job the caller knows is active, such as one it just
// created or retried.
func (w *Watcher) Watch(jobID string) {
	w.subscribe(jobID)
}

// Stop closes the channel and stops polling
func (w *Watcher) Stop() {
	w.mu.Lock()
	if w.mode == ModeIdle {
		w.mu.Unlock()
		return
	}
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
	w.poller.Stop()
	w.channel.Disconnect()
	w.mode = ModeIdle
	w.jobID = ""
	w.mu.Unlock()

	w.changed(ModeIdle, "")
}

// Dispose stops the watcher and waits for its goroutines. It must not be
// called from an OnModeChange or JobState listener.
func (w *Watcher) Dispose() {
	w.Stop()
	w.channel.Close()
	w.poller.Wait()
}

// Mode returns the current mode and the subscribed job, if any
func (w *Watcher) Mode() (Mode, string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mode, w.jobID
}

func (w *Watcher) handleActive(active []*model.Job) {
	// prefer a job that is already running, then the newest pending one
	candidates := make([]*model.Job, 0, len(active))
	for _, j := range active {
		if j.Status == model.JobStatusProcessing {
			candidates = append(candidates, j)
		}
	}
	for _, j := range active {
		if j.Status != model.JobStatusProcessing {
			candidates = append(candidates, j)
		}
	}
	for _, j := range candidates {
		if w.subscribe(j.ID) {
			return
		}
	}
}

// subscribe follows jobID and reports whether the watcher is now subscribed to it
func (w *Watcher) subscribe(jobID string) bool {
	if jobID == "" || !w.state.IsActive(jobID) {
		return false
	}

	w.mu.Lock()
	if w.mode == ModeIdle {
		w.mu.Unlock()
		return false
	}
	if w.mode == ModeSubscribed && w.jobID == jobID {
		w.mu.Unlock()
		return true
	}
	w.poller.Stop()
	w.channel.Connect(jobID)
	w.mode = ModeSubscribed
	w.jobID = jobID
	w.mu.Unlock()

	w.changed(ModeSubscribed, jobID)
	return true
}

func (w *Watcher) handleChange(job *model.Job) {
	if job.Status.IsActive() {
		return
	}

	w.mu.Lock()
	if w.mode != ModeSubscribed || w.jobID != job.ID {
		w.mu.Unlock()
		return
	}
	w.channel.DisconnectAfter(w.settle)
	w.mode = ModePolling
	w.jobID = ""
	w.poller.Start()
	w.mu.Unlock()

	w.changed(ModePolling, "")
}

func (w *Watcher) changed(mode Mode, jobID string) {
	if w.onChange != nil {
		w.onChange(mode, jobID)
	}
}
