package jobclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/concretepros/directory-api/internal/model"
)

func TestClient_GetJobSendsToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Path != "/api/jobs/j1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"j1","jobType":"image_enrichment","status":"processing","totalItems":4,"processedItems":1}`)
	}))
	defer srv.Close()

	c := New(srv.URL+"/", WithToken("secret"))
	j, err := c.GetJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if j.Status != model.JobStatusProcessing || j.TotalItems != 4 {
		t.Errorf("unexpected job %+v", j)
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusConflict)
		fmt.Fprint(w, `{"error":{"code":"CONFLICT","message":"an image_enrichment job is already active"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).CreateJob(context.Background(), model.JobTypeImageEnrichment, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Status != http.StatusConflict || apiErr.Code != "CONFLICT" {
		t.Errorf("unexpected error %+v", apiErr)
	}
}

func TestClient_CreateAndList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/jobs":
			var req model.CreateJobRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("bad body: %v", err)
			}
			if req.JobType != model.JobTypeReviewEnrichment || string(req.Payload) != `{"limit":5}` {
				t.Errorf("unexpected request %+v", req)
			}
			w.WriteHeader(http.StatusCreated)
			fmt.Fprint(w, `{"id":"j9","jobType":"review_enrichment","status":"pending"}`)
		case r.Method == http.MethodGet && r.URL.Path == "/api/jobs":
			if got := r.URL.Query().Get("status"); got != "failed" {
				t.Errorf("expected status filter, got %q", got)
			}
			fmt.Fprint(w, `{"jobs":[{"id":"j1","status":"failed"}],"total":1,"limit":20,"offset":0}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := New(srv.URL)
	created, err := c.CreateJob(context.Background(), model.JobTypeReviewEnrichment, json.RawMessage(`{"limit":5}`))
	if err != nil || created.ID != "j9" {
		t.Fatalf("create: %v %+v", err, created)
	}

	list, err := c.ListJobs(context.Background(), ListOptions{Status: model.JobStatusFailed})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if list.Total != 1 || len(list.Jobs) != 1 {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestClient_StreamJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("missing event-stream accept header")
		}
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "event: progress\ndata: {\"type\":\"progress\",\"jobId\":\"j1\",\"status\":\"processing\",\"totalItems\":2,\"processedItems\":1}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: complete\ndata: {\"type\":\"complete\",\"jobId\":\"j1\",\"status\":\"completed\",\"totalItems\":2,\"processedItems\":2}\n\n")
	}))
	defer srv.Close()

	stream, err := New(srv.URL).StreamJob(context.Background(), "j1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	var names []string
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		names = append(names, ev.Name)
		if _, err := ev.JobEvent(); err != nil {
			t.Errorf("undecodable event %q: %v", ev.Data, err)
		}
	}
	if strings.Join(names, ",") != "progress,complete" {
		t.Errorf("unexpected events %v", names)
	}
}

func TestClient_StreamJobNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		fmt.Fprint(w, `{"error":{"code":"NOT_FOUND","message":"job not found"}}`)
	}))
	defer srv.Close()

	_, err := New(srv.URL).StreamJob(context.Background(), "missing")
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Status != http.StatusNotFound {
		t.Errorf("expected 404 APIError, got %v", err)
	}
}

func TestEventReader(t *testing.T) {
	raw := ": hello\n\n" +
		"data: first\ndata: second\n\n" +
		"event: jobs\ndata:{\"type\":\"jobs\"}\n\n" +
		"event: orphan\n\n" +
		"data: trailing without blank line"

	r := newEventReader(io.NopCloser(strings.NewReader(raw)))

	ev, err := r.Next()
	if err != nil || ev.Name != "message" || string(ev.Data) != "first\nsecond" {
		t.Errorf("unexpected first event %q %q %v", ev.Name, ev.Data, err)
	}
	ev, err = r.Next()
	if err != nil || ev.Name != "jobs" || string(ev.Data) != `{"type":"jobs"}` {
		t.Errorf("unexpected second event %q %q %v", ev.Name, ev.Data, err)
	}
	if _, err = r.Next(); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF for incomplete events, got %v", err)
	}
}
