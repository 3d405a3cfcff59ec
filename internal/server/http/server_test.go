package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/TangoRomeo80/chatty/internal/config"
	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/internal/runtime"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

func testServer(t *testing.T) (*Server, *runtime.Runtime) {
	t.Helper()
	mr := miniredis.RunT(t)
	cfg := config.Default()
	cfg.RedisAddr = mr.Addr()

	rt, err := runtime.Open(context.Background(), runtime.Options{Config: cfg, Logger: log.Nop(), Durable: durable.NewMemory()})
	if err != nil {
		t.Fatalf("rt open: %v", err)
	}
	t.Cleanup(func() { _ = rt.Close() })
	return New(rt), rt
}

func TestHealthHandler(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/healthz", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestQueuesHandler(t *testing.T) {
	s, rt := testServer(t)
	ctx := context.Background()

	// One enqueued job shows up in the stats view.
	q, ok := rt.Registry().Get("posts")
	if !ok {
		t.Fatalf("posts queue missing")
	}
	if _, err := q.Enqueue(ctx, "addPostToDB", map[string]string{"postId": "p1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/queues", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var body struct {
		Queues []queue.Stats `json:"queues"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Queues) != 8 {
		t.Fatalf("queues = %d, want 8", len(body.Queues))
	}
	var posts *queue.Stats
	for i := range body.Queues {
		if body.Queues[i].Queue == "posts" {
			posts = &body.Queues[i]
		}
	}
	if posts == nil || posts.Pending != 1 {
		t.Fatalf("posts stats = %+v", posts)
	}
}

func TestFailedJobsHandler(t *testing.T) {
	s, rt := testServer(t)
	ctx := context.Background()

	q, _ := rt.Registry().Get("posts")
	if _, err := q.Enqueue(ctx, "addPostToDB", map[string]string{"postId": "p1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// Exhaust the job's budget by hand so it parks.
	now := time.Now().UnixMilli()
	for i := 0; i < 3; i++ {
		env, err := q.Dequeue(ctx, now)
		if err != nil || env == nil {
			t.Fatalf("dequeue %d: %v %v", i, env, err)
		}
		if _, err := q.Fail(ctx, env, errors.New("durable store down"), now); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
		if _, err := q.PromoteRetries(ctx, now+10_000); err != nil {
			t.Fatalf("promote %d: %v", i, err)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/queues/posts/failed", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status: %d", w.Code)
	}
	var body struct {
		Queue  string            `json:"queue"`
		Failed []*queue.Envelope `json:"failed"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Failed) != 1 || body.Failed[0].Name != "addPostToDB" {
		t.Fatalf("failed = %+v", body.Failed)
	}
}

func TestRequeueFailedHandler(t *testing.T) {
	s, rt := testServer(t)
	ctx := context.Background()

	q, _ := rt.Registry().Get("posts")
	if _, err := q.Enqueue(ctx, "addPostToDB", map[string]string{"postId": "p1"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	now := time.Now().UnixMilli()
	var jobID string
	for i := 0; i < 3; i++ {
		env, err := q.Dequeue(ctx, now)
		if err != nil || env == nil {
			t.Fatalf("dequeue %d: %v %v", i, env, err)
		}
		jobID = env.ID
		if _, err := q.Fail(ctx, env, errors.New("durable store down"), now); err != nil {
			t.Fatalf("fail %d: %v", i, err)
		}
		if _, err := q.PromoteRetries(ctx, now+10_000); err != nil {
			t.Fatalf("promote %d: %v", i, err)
		}
	}

	body := strings.NewReader(`{"id":"` + jobID + `"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/queues/posts/requeue", body)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusAccepted {
		t.Fatalf("status: %d", w.Code)
	}

	st, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Failed != 0 || st.Pending != 1 {
		t.Fatalf("stats after requeue = %+v", st)
	}
}

func TestRequeueUnknownJob(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodPost, "/v1/queues/posts/requeue", strings.NewReader(`{"id":"missing"}`))
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestFailedJobsUnknownQueue(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/v1/queues/nope/failed", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status: %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := testServer(t)
	req := httptest.NewRequest(http.MethodOptions, "/v1/queues", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status: %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header")
	}
}
