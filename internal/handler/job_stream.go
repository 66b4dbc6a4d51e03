package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/valyala/fasthttp"

	"github.com/concretepros/directory-api/internal/events"
	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/service"
	"github.com/concretepros/directory-api/pkg/response"
)

const snapshotTimeout = 5 * time.Second

// StreamHandler serves job events as server-sent events
type StreamHandler struct {
	jobs      *service.JobService
	hub       *events.Hub
	heartbeat time.Duration
}

func NewStreamHandler(jobs *service.JobService, hub *events.Hub, heartbeat time.Duration) *StreamHandler {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &StreamHandler{jobs: jobs, hub: hub, heartbeat: heartbeat}
}

// Job handles GET /api/jobs/:id/stream.
// It opens with a snapshot of the job and closes after the first terminal event.
func (h *StreamHandler) Job(c *fiber.Ctx) error {
	jobID := c.Params("id")
	sub, snapshot, err := h.openFeed(c.UserContext(), jobID)
	if err != nil {
		return jobError(c, err)
	}
	setStreamHeaders(c)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)

		if err := writeEvent(w, snapshot.Type, snapshot); err != nil {
			return
		}
		if model.IsTerminalEvent(snapshot.Type) {
			return
		}

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case ev, ok := <-sub.C:
				if !ok {
					return
				}
				if err := writeEvent(w, ev.Type, ev); err != nil {
					return
				}
				if model.IsTerminalEvent(ev.Type) {
					return
				}
			case <-ticker.C:
				if err := writeComment(w, "ping"); err != nil {
					log.Debug().Str("job_id", jobID).Msg("stream client went away")
					return
				}
			}
		}
	}))
	return nil
}

// All handles GET /api/jobs/stream: a "jobs" event with the active jobs on
// connect and after every job change.
func (h *StreamHandler) All(c *fiber.Ctx) error {
	active, err := h.jobs.Active(c.UserContext())
	if err != nil {
		return response.ServiceError(c, "Job service unavailable")
	}

	sub := h.hub.Subscribe("")
	setStreamHeaders(c)

	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer h.hub.Unsubscribe(sub)

		if err := writeEvent(w, model.EventJobs, model.JobsSnapshot{Type: model.EventJobs, Jobs: active}); err != nil {
			return
		}

		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()

		for {
			select {
			case _, ok := <-sub.C:
				if !ok {
					return
				}
				jobs, err := h.activeSnapshot()
				if err != nil {
					log.Warn().Err(err).Msg("failed to load active jobs for stream")
					continue
				}
				if err := writeEvent(w, model.EventJobs, model.JobsSnapshot{Type: model.EventJobs, Jobs: jobs}); err != nil {
					return
				}
			case <-ticker.C:
				if err := writeComment(w, "ping"); err != nil {
					return
				}
			}
		}
	}))
	return nil
}

// openFeed subscribes to a job and only then reads it, so a transition that
// lands while the snapshot is read is still queued on the subscription.
// Queued events older than the snapshot are replayed as is; the last one wins.
func (h *StreamHandler) openFeed(ctx context.Context, jobID string) (*events.Subscription, model.JobEvent, error) {
	sub := h.hub.Subscribe(jobID)
	job, err := h.jobs.Get(ctx, jobID)
	if err != nil {
		h.hub.Unsubscribe(sub)
		return nil, model.JobEvent{}, err
	}
	return sub, model.EventForJob(job), nil
}

func (h *StreamHandler) activeSnapshot() ([]*model.Job, error) {
	ctx, cancel := context.WithTimeout(context.Background(), snapshotTimeout)
	defer cancel()
	return h.jobs.Active(ctx)
}

func setStreamHeaders(c *fiber.Ctx) {
	c.Set(fiber.HeaderContentType, "text/event-stream")
	c.Set(fiber.HeaderCacheControl, "no-cache")
	c.Set(fiber.HeaderConnection, "keep-alive")
	c.Set("X-Accel-Buffering", "no")
}

func writeEvent(w *bufio.Writer, name string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", name, payload); err != nil {
		return err
	}
	return w.Flush()
}

func writeComment(w *bufio.Writer, text string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", text); err != nil {
		return err
	}
	return w.Flush()
}
