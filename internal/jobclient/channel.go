package jobclient

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/concretepros/directory-api/internal/model"
)

const DefaultReconnectDelay = 3 * time.Second

var errStreamEnded = errors.New("stream ended before a terminal event")

// StatusChannel keeps one push connection open to the job being watched and
// folds its events into a JobState. Connection errors never reach the
// caller: the channel reconnects after a fixed delay while the job is active.
type StatusChannel struct {
	api            API
	state          *JobState
	reconnectDelay time.Duration

	mu     sync.Mutex
	jobID  string
	gen    uint64
	cancel context.CancelFunc
	timer  *time.Timer
	wg     sync.WaitGroup
}

type ChannelOption func(*StatusChannel)

func WithReconnectDelay(d time.Duration) ChannelOption {
	return func(ch *StatusChannel) { ch.reconnectDelay = d }
}

func NewStatusChannel(api API, state *JobState, opts ...ChannelOption) *StatusChannel {
	ch := &StatusChannel{
		api:            api,
		state:          state,
		reconnectDelay: DefaultReconnectDelay,
	}
	for _, opt := range opts {
		opt(ch)
	}
	return ch
}

// Connect opens the channel for jobID, closing any connection to another
// job. It does nothing for an empty id, for the job already connected, or
// when the job is not known to be active.
func (ch *StatusChannel) Connect(jobID string) {
	if jobID == "" {
		return
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.jobID == jobID {
		ch.stopTimerLocked()
		return
	}
	if !ch.state.IsActive(jobID) {
		return
	}

	ch.closeLocked()
	ctx, cancel := context.WithCancel(context.Background())
	ch.jobID = jobID
	ch.gen++
	ch.cancel = cancel

	gen := ch.gen
	ch.wg.Add(1)
	go func() {
		defer ch.wg.Done()
		ch.run(ctx, jobID, gen)
	}()
}

// Disconnect closes the channel; it is safe to call when not connected
func (ch *StatusChannel) Disconnect() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.closeLocked()
}

// DisconnectAfter closes the channel once d has passed, unless Connect is
// called for a job in the meantime.
func (ch *StatusChannel) DisconnectAfter(d time.Duration) {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.jobID == "" {
		return
	}
	ch.stopTimerLocked()
	gen := ch.gen
	ch.timer = time.AfterFunc(d, func() {
		ch.mu.Lock()
		defer ch.mu.Unlock()
		if ch.gen == gen {
			ch.closeLocked()
		}
	})
}

// Connected returns the job the channel is open for
func (ch *StatusChannel) Connected() (string, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.jobID, ch.jobID != ""
}

// Close disconnects and waits for the connection goroutine to exit
func (ch *StatusChannel) Close() {
	ch.Disconnect()
	ch.wg.Wait()
}

func (ch *StatusChannel) closeLocked() {
	ch.stopTimerLocked()
	if ch.cancel != nil {
		ch.cancel()
		ch.cancel = nil
	}
	ch.jobID = ""
	ch.gen++
}

func (ch *StatusChannel) stopTimerLocked() {
	if ch.timer != nil {
		ch.timer.Stop()
		ch.timer = nil
	}
}

// release forgets the connection if it is still the one identified by gen
func (ch *StatusChannel) release(gen uint64) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.gen == gen {
		ch.closeLocked()
	}
}

func (ch *StatusChannel) run(ctx context.Context, jobID string, gen uint64) {
	for {
		err := ch.consume(ctx, jobID)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			ch.refresh(ctx, jobID)
			ch.release(gen)
			return
		}

		log.Debug().Err(err).Str("job_id", jobID).Msg("job channel dropped")
		if !ch.state.IsActive(jobID) {
			ch.release(gen)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(ch.reconnectDelay):
		}
	}
}

// consume reads one connection until a terminal event (nil) or an error
func (ch *StatusChannel) consume(ctx context.Context, jobID string) error {
	stream, err := ch.api.StreamJob(ctx, jobID)
	if err != nil {
		return err
	}
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer func() {
		stop()
		stream.Close()
	}()

	for {
		msg, err := stream.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			return err
		}

		ev, err := msg.JobEvent()
		if err != nil {
			log.Debug().Err(err).Str("event", msg.Name).Msg("undecodable job event")
			continue
		}
		if ev.JobID != jobID {
			continue
		}

		ch.state.ApplyEvent(ev)
		if model.IsTerminalEvent(ev.Type) {
			return nil
		}
	}
}

// refresh replaces the terminal snapshot with the full job, result included
func (ch *StatusChannel) refresh(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	job, err := ch.api.GetJob(ctx, jobID)
	if err != nil {
		log.Debug().Err(err).Str("job_id", jobID).Msg("failed to refresh finished job")
		return
	}
	ch.state.Put(job)
}
