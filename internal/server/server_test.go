package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/hibiken/asynq"

	"github.com/concretepros/directory-api/internal/auth"
	"github.com/concretepros/directory-api/internal/events"
	"github.com/concretepros/directory-api/internal/handler"
	"github.com/concretepros/directory-api/internal/middleware"
	"github.com/concretepros/directory-api/internal/model"
	"github.com/concretepros/directory-api/internal/repository"
	"github.com/concretepros/directory-api/internal/service"
	"github.com/concretepros/directory-api/internal/store"
)

const testJWTSecret = "test-secret-for-e2e"

type nopEnqueuer struct{}

func (nopEnqueuer) Enqueue(task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return &asynq.TaskInfo{ID: "task"}, nil
}

type testApp struct {
	app   *fiber.App
	jobs  *service.JobService
	store *store.MemoryJobStore
	hub   *events.Hub
}

// setupApp builds the app the way main does, with in-memory storage and no queue
func setupApp(t *testing.T) *testApp {
	t.Helper()
	return setupAppWithStore(t, func(s store.JobStore) store.JobStore { return s })
}

// setupAppWithStore lets a test wrap the job store behind the service
func setupAppWithStore(t *testing.T, wrap func(store.JobStore) store.JobStore) *testApp {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	hub := events.NewHub()
	go hub.Run(ctx)

	payloads, err := service.NewPayloadValidator()
	if err != nil {
		t.Fatalf("failed to compile payload schemas: %v", err)
	}
	jobStore := store.NewMemoryJobStore()
	jobService := service.NewJobService(wrap(jobStore), nopEnqueuer{}, hub, payloads, service.JobServiceConfig{MaxAttempts: 3})

	validate := validator.New()
	contractors := &stubContractors{}
	h := Handlers{
		Jobs:    handler.NewJobHandler(jobService, validate),
		Streams: handler.NewStreamHandler(jobService, hub, time.Second),
		Public:  handler.NewPublicHandler(service.NewDirectoryService(contractors, stubLocations{}), validate),
		Claims:  handler.NewClaimHandler(service.NewClaimService(stubClaims{}, contractors), validate),
		Pages:   handler.NewPageHandler(service.NewPageService(newStubPages()), validate),
	}

	app := NewApp(Options{}, h, middleware.NewLegacyAuthMiddleware(testJWTSecret), nil)
	return &testApp{app: app, jobs: jobService, store: jobStore, hub: hub}
}

func generateToken(t *testing.T) string {
	t.Helper()
	token, err := auth.IssueLegacyToken(testJWTSecret, "test-admin", "admin@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return token
}

func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return app.Test(req, -1)
}

func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) *http.Response {
	t.Helper()
	resp, err := doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + generateToken(t),
	})
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func errorCode(body map[string]interface{}) string {
	e, _ := body["error"].(map[string]interface{})
	code, _ := e["code"].(string)
	return code
}

// seedJobs stores n completed jobs, job-01 oldest
func seedJobs(t *testing.T, ta *testApp, n int) {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		err := ta.store.Create(context.Background(), &model.Job{
			ID:          fmt.Sprintf("job-%02d", i),
			JobType:     model.JobTypeImageEnrichment,
			Status:      model.JobStatusCompleted,
			MaxAttempts: 3,
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("seed failed: %v", err)
		}
	}
}

// ---- stubs ----

type stubContractors struct{}

func (stubContractors) List(_ context.Context, q model.ContractorQuery) ([]*model.Contractor, int, error) {
	return []*model.Contractor{{ID: "c-1", Name: "Lone Star Concrete", Slug: "lone-star-concrete"}}, 1, nil
}

func (stubContractors) ByCity(context.Context, int64) ([]*model.Contractor, error) {
	return []*model.Contractor{}, nil
}

func (stubContractors) Exists(_ context.Context, id string) (bool, error) {
	return id == "6f1c1f8e-3a53-4b8f-9d57-1f0f6c2b7a10", nil
}

type stubLocations struct{}

func (stubLocations) CityBySlug(_ context.Context, slug string) (*model.City, *model.State, error) {
	if slug != "austin" {
		return nil, nil, repository.ErrNotFound
	}
	return &model.City{ID: 1, Name: "Austin", Slug: "austin", StateCode: "TX"}, &model.State{ID: 1, Code: "TX", Name: "Texas", Slug: "texas"}, nil
}

func (stubLocations) Categories(context.Context) ([]*model.Category, error) {
	return []*model.Category{{ID: 1, Name: "Driveways", Slug: "driveways"}}, nil
}

func (stubLocations) Locations(context.Context) ([]*model.Location, error) {
	return []*model.Location{}, nil
}

type stubClaims struct{}

func (stubClaims) Create(_ context.Context, c *model.Claim) (*model.Claim, error) {
	cp := *c
	cp.ID = "claim-1"
	return &cp, nil
}

func (stubClaims) LatestByEmail(context.Context, string) (*model.Claim, error) {
	return nil, repository.ErrNotFound
}

func (stubClaims) ByActivationToken(context.Context, string) (*model.Claim, error) {
	return nil, repository.ErrNotFound
}

func (stubClaims) Activate(context.Context, string) (*model.Claim, error) {
	return nil, repository.ErrNotFound
}

type stubPages struct {
	pages map[string]*model.Page
}

func newStubPages() *stubPages {
	tx := "tx"
	return &stubPages{pages: map[string]*model.Page{
		"tx":     {ID: "tx", Title: "Texas", Slug: "texas", Template: "hub", Status: model.PageStatusPublished},
		"austin": {ID: "austin", ParentID: &tx, Title: "Austin", Slug: "austin", Template: "spoke", Status: model.PageStatusDraft},
		"dallas": {ID: "dallas", ParentID: &tx, Title: "Dallas", Slug: "dallas", Template: "spoke", Status: model.PageStatusDraft},
	}}
}

func (s *stubPages) Get(_ context.Context, id string) (*model.Page, error) {
	p, ok := s.pages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *stubPages) Children(_ context.Context, id string) ([]*model.Page, error) {
	out := []*model.Page{}
	for _, p := range s.pages {
		if p.ParentID != nil && *p.ParentID == id {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubPages) Save(_ context.Context, p *model.Page) (*model.Page, error) {
	for _, other := range s.pages {
		if other.ID != p.ID && other.Slug == p.Slug {
			return nil, repository.ErrSlugTaken
		}
	}
	s.pages[p.ID] = p
	return p, nil
}

func (s *stubPages) IsDescendant(context.Context, string, string) (bool, error) {
	return false, nil
}

func (s *stubPages) Delete(ctx context.Context, id string) error {
	if _, ok := s.pages[id]; !ok {
		return repository.ErrNotFound
	}
	if children, _ := s.Children(ctx, id); len(children) > 0 {
		return repository.ErrHasChildren
	}
	delete(s.pages, id)
	return nil
}
