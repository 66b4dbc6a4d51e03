package model

// Push event names, shared by the SSE streams and the WebSocket endpoint
const (
	EventProgress  = "progress"
	EventComplete  = "complete"
	EventFailed    = "failed"
	EventCancelled = "cancelled"
	EventJobs      = "jobs"
	EventPing      = "ping"
	EventPong      = "pong"
)

// JobEvent is one message on a job's push channel
type JobEvent struct {
	Type           string    `json:"type"`
	JobID          string    `json:"jobId"`
	JobType        JobType   `json:"jobType,omitempty"`
	Status         JobStatus `json:"status"`
	TotalItems     int       `json:"totalItems"`
	ProcessedItems int       `json:"processedItems"`
	FailedItems    int       `json:"failedItems"`
	Attempts       int       `json:"attempts"`
	Error          string    `json:"error,omitempty"`
}

// EventForJob builds the event describing a job's current state
func EventForJob(j *Job) JobEvent {
	ev := JobEvent{
		Type:           EventTypeForStatus(j.Status),
		JobID:          j.ID,
		JobType:        j.JobType,
		Status:         j.Status,
		TotalItems:     j.TotalItems,
		ProcessedItems: j.ProcessedItems,
		FailedItems:    j.FailedItems,
		Attempts:       j.Attempts,
	}
	if j.LastError != nil {
		ev.Error = *j.LastError
	}
	return ev
}

// EventTypeForStatus maps a status to the event name announcing it
func EventTypeForStatus(s JobStatus) string {
	switch s {
	case JobStatusCompleted:
		return EventComplete
	case JobStatusFailed:
		return EventFailed
	case JobStatusCancelled:
		return EventCancelled
	default:
		return EventProgress
	}
}

// IsTerminalEvent reports whether an event closes a job's stream
func IsTerminalEvent(eventType string) bool {
	return eventType == EventComplete || eventType == EventFailed || eventType == EventCancelled
}

// WSMessage represents a generic WebSocket message
type WSMessage struct {
	Type string `json:"type"`
}

// JobsSnapshot is the data of a "jobs" event
type JobsSnapshot struct {
	Type string `json:"type"`
	Jobs []*Job `json:"jobs"`
}
