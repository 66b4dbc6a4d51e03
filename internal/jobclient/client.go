// Package jobclient is the admin-side job status library: an HTTP client for
// the jobs API, a push channel over its event streams, an active-job poller,
// and the watcher and controls that tie them together.
package jobclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/concretepros/directory-api/internal/model"
)

// APIError is an error envelope returned by the server
type APIError struct {
	Status  int
	Code    string
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d): %s", e.Code, e.Status, e.Message)
}

// API is what the channel, poller and controls need from the server
type API interface {
	ActiveJobs(ctx context.Context) ([]*model.Job, error)
	GetJob(ctx context.Context, id string) (*model.Job, error)
	CreateJob(ctx context.Context, jobType model.JobType, payload json.RawMessage) (*model.Job, error)
	CancelJob(ctx context.Context, id string) (*model.Job, error)
	RetryJob(ctx context.Context, id string) (*model.Job, error)
	StreamJob(ctx context.Context, id string) (EventReader, error)
}

// Client talks to the jobs API over HTTP
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

type Option func(*Client)

// WithToken sets the bearer token sent on every request
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithHTTPClient replaces the default client. It must not set a timeout
// shorter than the expected lifetime of an event stream.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListOptions are the filters of ListJobs; zero values are omitted
type ListOptions struct {
	JobType model.JobType
	Status  model.JobStatus
	Limit   int
	Offset  int
}

func (c *Client) ListJobs(ctx context.Context, opts ListOptions) (*model.JobListResponse, error) {
	q := url.Values{}
	if opts.JobType != "" {
		q.Set("jobType", string(opts.JobType))
	}
	if opts.Status != "" {
		q.Set("status", string(opts.Status))
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		q.Set("offset", strconv.Itoa(opts.Offset))
	}
	path := "/api/jobs"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var out model.JobListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ActiveJobs(ctx context.Context) ([]*model.Job, error) {
	var out model.ActiveJobsResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs/active", nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

func (c *Client) GetJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) CreateJob(ctx context.Context, jobType model.JobType, payload json.RawMessage) (*model.Job, error) {
	req := model.CreateJobRequest{JobType: jobType, Payload: payload}
	var job model.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs", req, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) CancelJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

func (c *Client) RetryJob(ctx context.Context, id string) (*model.Job, error) {
	var job model.Job
	if err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/retry", nil, &job); err != nil {
		return nil, err
	}
	return &job, nil
}

// StreamJob opens the event stream of one job. The stream ends when ctx is
// done, the reader is closed, or the server closes it after a terminal event.
func (c *Client) StreamJob(ctx context.Context, id string) (EventReader, error) {
	return c.stream(ctx, "/api/jobs/"+url.PathEscape(id)+"/stream")
}

// StreamJobs opens the all-jobs stream of "jobs" snapshots
func (c *Client) StreamJobs(ctx context.Context) (EventReader, error) {
	return c.stream(ctx, "/api/jobs/stream")
}

func (c *Client) stream(ctx context.Context, path string) (EventReader, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	return newEventReader(resp.Body), nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.authorize(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error.Code != "" {
		apiErr.Code = envelope.Error.Code
		apiErr.Message = envelope.Error.Message
	} else {
		apiErr.Code = http.StatusText(resp.StatusCode)
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
