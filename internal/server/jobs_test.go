package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/store"
)

func TestHealth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/health", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["status"] != "ok" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestJobs_RequireAuth(t *testing.T) {
	ta := setupApp(t)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/jobs", "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusUnauthorized)
	if code := errorCode(parseJSON(t, resp)); code != "UNAUTHORIZED" {
		t.Errorf("expected UNAUTHORIZED, got %s", code)
	}
}

func TestCreateJob(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs", `{"jobType":"image_enrichment","payload":{"citySlug":"austin","limit":50}}`)
	assertStatus(t, resp, http.StatusCreated)
	body := parseJSON(t, resp)
	if body["status"] != "pending" || body["jobType"] != "image_enrichment" {
		t.Errorf("unexpected job %v", body)
	}
	if body["createdBy"] != "test-admin" {
		t.Errorf("expected createdBy from token, got %v", body["createdBy"])
	}

	t.Run("same type while active is a conflict", func(t *testing.T) {
		resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs", `{"jobType":"image_enrichment"}`)
		assertStatus(t, resp, http.StatusConflict)
		if code := errorCode(parseJSON(t, resp)); code != "CONFLICT" {
			t.Errorf("expected CONFLICT, got %s", code)
		}
	})

	t.Run("other type is accepted", func(t *testing.T) {
		resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs", `{"jobType":"review_enrichment"}`)
		assertStatus(t, resp, http.StatusCreated)
	})
}

func TestCreateJob_Validation(t *testing.T) {
	ta := setupApp(t)

	cases := map[string]string{
		"unknown type":      `{"jobType":"geocoding"}`,
		"missing type":      `{"payload":{}}`,
		"unknown field":     `{"jobType":"image_enrichment","payload":{"everything":true}}`,
		"bad limit":         `{"jobType":"review_enrichment","payload":{"limit":0}}`,
		"malformed body":    `{"jobType":`,
		"bad city slug":     `{"jobType":"image_enrichment","payload":{"citySlug":"Austin TX"}}`,
		"too many attempts": `{"jobType":"image_enrichment","maxAttempts":50}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs", body)
			assertStatus(t, resp, http.StatusBadRequest)
			if code := errorCode(parseJSON(t, resp)); code != "VALIDATION_ERROR" {
				t.Errorf("expected VALIDATION_ERROR, got %s", code)
			}
		})
	}
}

func TestListJobs_SecondPage(t *testing.T) {
	ta := setupApp(t)
	seedJobs(t, ta, 45)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs?limit=20&offset=20", "")
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)

	if body["total"].(float64) != 45 || body["limit"].(float64) != 20 || body["offset"].(float64) != 20 {
		t.Errorf("unexpected page meta %v", body)
	}
	jobs := body["jobs"].([]interface{})
	if len(jobs) != 20 {
		t.Fatalf("expected 20 jobs, got %d", len(jobs))
	}
	// newest first: items 21-40 are job-25 down to job-06
	first := jobs[0].(map[string]interface{})["id"]
	last := jobs[19].(map[string]interface{})["id"]
	if first != "job-25" || last != "job-06" {
		t.Errorf("expected job-25..job-06, got %v..%v", first, last)
	}
}

func TestListJobs_Filters(t *testing.T) {
	ta := setupApp(t)
	seedJobs(t, ta, 3)
	doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs", `{"jobType":"review_enrichment"}`)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs?status=pending", "")
	assertStatus(t, resp, http.StatusOK)
	if total := parseJSON(t, resp)["total"].(float64); total != 1 {
		t.Errorf("expected 1 pending job, got %v", total)
	}

	resp = doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs?status=exploded", "")
	assertStatus(t, resp, http.StatusBadRequest)

	resp = doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs?limit=500", "")
	assertStatus(t, resp, http.StatusBadRequest)
}

func TestActiveJobs(t *testing.T) {
	ta := setupApp(t)
	seedJobs(t, ta, 2)
	doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs", `{"jobType":"review_enrichment"}`)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/active", "")
	assertStatus(t, resp, http.StatusOK)
	jobs := parseJSON(t, resp)["jobs"].([]interface{})
	if len(jobs) != 1 {
		t.Errorf("expected 1 active job, got %d", len(jobs))
	}
}

func TestGetJob_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/does-not-exist", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestCancelJob(t *testing.T) {
	ta := setupApp(t)
	job, err := ta.jobs.Create(context.Background(), &model.CreateJobRequest{JobType: model.JobTypeImageEnrichment}, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "")
	assertStatus(t, resp, http.StatusOK)
	if body := parseJSON(t, resp); body["status"] != "cancelled" {
		t.Errorf("expected cancelled, got %v", body["status"])
	}

	// once the job left pending, cancel is rejected
	resp = doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs/"+job.ID+"/cancel", "")
	assertStatus(t, resp, http.StatusConflict)
}

func TestRetryJob(t *testing.T) {
	ta := setupApp(t)
	ctx := context.Background()
	job, _ := ta.jobs.Create(ctx, &model.CreateJobRequest{JobType: model.JobTypeReviewEnrichment}, "")
	if _, err := ta.jobs.Start(ctx, job.ID, 10); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := ta.jobs.Fail(ctx, job.ID, "provider down", true); err != nil {
		t.Fatalf("fail failed: %v", err)
	}

	resp := doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs/"+job.ID+"/retry", "")
	assertStatus(t, resp, http.StatusOK)
	body := parseJSON(t, resp)
	if body["status"] != "pending" || body["attempts"].(float64) != 0 || body["lastError"] != nil {
		t.Errorf("unexpected retried job %v", body)
	}

	// pending jobs cannot be retried
	resp = doAuthRequest(t, ta.app, http.MethodPost, "/api/jobs/"+job.ID+"/retry", "")
	assertStatus(t, resp, http.StatusConflict)
}

func TestJobStream_TerminalJobSendsOneEvent(t *testing.T) {
	ta := setupApp(t)
	seedJobs(t, ta, 1)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/job-01/stream", "")
	assertStatus(t, resp, http.StatusOK)
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/event-stream") {
		t.Errorf("unexpected content type %s", ct)
	}
	body := readBody(t, resp)
	if strings.Count(body, "event: ") != 1 || !strings.Contains(body, "event: complete\n") {
		t.Errorf("expected a single complete event, got %q", body)
	}
}

func TestJobStream_ProgressUntilComplete(t *testing.T) {
	ta := setupApp(t)
	ctx := context.Background()
	job, _ := ta.jobs.Create(ctx, &model.CreateJobRequest{JobType: model.JobTypeImageEnrichment}, "")

	go func() {
		deadline := time.Now().Add(2 * time.Second)
		for ta.hub.SubscriberCount(job.ID) == 0 && time.Now().Before(deadline) {
			time.Sleep(5 * time.Millisecond)
		}
		ta.jobs.Start(ctx, job.ID, 2)
		ta.jobs.ReportProgress(ctx, job.ID, 1, 0)
		ta.jobs.ReportProgress(ctx, job.ID, 1, 1)
		ta.jobs.Complete(ctx, job.ID, map[string]int{"updated": 1})
	}()

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/"+job.ID+"/stream?access_token=ignored", "")
	assertStatus(t, resp, http.StatusOK)
	body := readBody(t, resp)

	if !strings.HasPrefix(body, "event: progress\n") {
		t.Errorf("expected snapshot first, got %q", body)
	}
	if !strings.HasSuffix(strings.TrimSpace(body), "}") || !strings.Contains(body, "event: complete\n") {
		t.Errorf("expected stream to end with complete, got %q", body)
	}
	if !strings.Contains(body, `"processedItems":1,"failedItems":1`) {
		t.Errorf("expected final counters in stream, got %q", body)
	}
}

// finishOnGet completes an active job right after it has been read, the way a
// worker can finish between the stream reading its snapshot and sending it
type finishOnGet struct {
	store.JobStore
	once   sync.Once
	finish func(id string)
}

func (s *finishOnGet) Get(ctx context.Context, id string) (*model.Job, error) {
	job, err := s.JobStore.Get(ctx, id)
	if err == nil && job.Status.IsActive() && s.finish != nil {
		s.once.Do(func() { s.finish(id) })
	}
	return job, err
}

func TestJobStream_CompletionDuringSnapshotEndsStream(t *testing.T) {
	wrapped := &finishOnGet{}
	ta := setupAppWithStore(t, func(s store.JobStore) store.JobStore {
		wrapped.JobStore = s
		return wrapped
	})
	ctx := context.Background()
	job, err := ta.jobs.Create(ctx, &model.CreateJobRequest{JobType: model.JobTypeImageEnrichment}, "")
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := ta.jobs.Start(ctx, job.ID, 1); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	wrapped.finish = func(id string) {
		if _, err := ta.jobs.Complete(ctx, id, map[string]int{"updated": 1}); err != nil {
			t.Errorf("complete failed: %v", err)
		}
	}

	req, _ := http.NewRequest(http.MethodGet, "/api/jobs/"+job.ID+"/stream", nil)
	req.Header.Set("Authorization", "Bearer "+generateToken(t))
	resp, err := ta.app.Test(req, 2000)
	if err != nil {
		t.Fatalf("stream did not end after the job completed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
	body := readBody(t, resp)

	if !strings.HasPrefix(body, "event: progress\n") {
		t.Errorf("expected processing snapshot first, got %q", body)
	}
	if !strings.Contains(body, "event: complete\n") {
		t.Errorf("expected complete event after the snapshot, got %q", body)
	}
}

func TestJobStream_NotFound(t *testing.T) {
	ta := setupApp(t)

	resp := doAuthRequest(t, ta.app, http.MethodGet, "/api/jobs/missing/stream", "")
	assertStatus(t, resp, http.StatusNotFound)
}

func TestJobStream_QueryToken(t *testing.T) {
	ta := setupApp(t)
	seedJobs(t, ta, 1)

	resp, err := doRequest(ta.app, http.MethodGet, "/api/jobs/job-01/stream?access_token="+generateToken(t), "", nil)
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	assertStatus(t, resp, http.StatusOK)
}
