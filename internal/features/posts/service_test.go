package posts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/TangoRomeo80/chatty/internal/apperr"
	"github.com/TangoRomeo80/chatty/internal/cache"
	"github.com/TangoRomeo80/chatty/internal/durable"
	"github.com/TangoRomeo80/chatty/internal/events"
	"github.com/TangoRomeo80/chatty/internal/queue"
	"github.com/TangoRomeo80/chatty/pkg/log"
)

type pipeline struct {
	mr    *miniredis.Miniredis
	cache *cache.Store
	queue *queue.Queue
	store *durable.MemoryStore
	svc   *Service
}

// newPipeline wires a full write-behind pipeline on miniredis with an
// in-memory durable store and a running consumer.
func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	c := cache.New(rdb, log.Nop())
	bus := events.NewBus(rdb, "test", log.Nop())
	q := queue.Open(rdb, QueueName, queue.Options{MaxAttempts: 3, Backoff: 50 * time.Millisecond, Lease: time.Second}, log.Nop())
	store := durable.NewMemory()

	cons := queue.NewConsumer(q, queue.ConsumerOptions{Concurrency: 2, PollInterval: 5 * time.Millisecond, SweepInterval: 10 * time.Millisecond}, log.Nop())
	if err := NewWorker(store, log.Nop()).Register(cons); err != nil {
		t.Fatalf("register worker: %v", err)
	}
	cons.Start(context.Background())
	t.Cleanup(cons.Close)

	return &pipeline{
		mr:    mr,
		cache: c,
		queue: q,
		store: store,
		svc:   NewService(c, bus, q, log.Nop()),
	}
}

func (p *pipeline) waitDrained(t *testing.T, completed int64) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		st, err := p.queue.Stats(context.Background())
		if err == nil && st.Completed >= completed && st.Pending == 0 && st.Active == 0 && st.Retry == 0 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	st, _ := p.queue.Stats(context.Background())
	t.Fatalf("queue did not drain to %d completions: %+v", completed, st)
}

func samplePost(postID, userID string) *Post {
	return &Post{
		ID:          postID,
		UserID:      userID,
		Username:    "danny",
		Email:       "danny@example.com",
		AvatarColor: "#9c27b0",
		Post:        "how are you?",
		BgColor:     "#f44336",
		Feelings:    "happy",
		Privacy:     "Public",
		CreatedAtMs: 1700000000000,
	}
}

func TestCreatePostCachesFullRecord(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	if err := p.svc.Create(ctx, samplePost("p1", "u1"), 7); err != nil {
		t.Fatalf("create: %v", err)
	}

	fields, err := p.cache.ReadAll(ctx, cache.PostKey("p1"))
	if err != nil {
		t.Fatalf("readAll: %v", err)
	}
	if len(fields) != 15 {
		t.Fatalf("post record has %d fields, want 15: %v", len(fields), fields)
	}
	wantReactions := `{"like":0,"love":0,"happy":0,"wow":0,"sad":0,"angry":0}`
	if fields["reactions"] != wantReactions {
		t.Fatalf("reactions = %s, want %s", fields["reactions"], wantReactions)
	}

	members, err := p.cache.IndexScoreRange(ctx, cache.PostIndex, 7, 7)
	if err != nil {
		t.Fatalf("indexScoreRange: %v", err)
	}
	if len(members) != 1 || members[0] != "p1" {
		t.Fatalf("index members at score 7 = %v, want [p1]", members)
	}

	n, err := p.cache.ReadInt(ctx, cache.UserKey("u1"), "postsCount")
	if err != nil || n != 1 {
		t.Fatalf("cached postsCount = %d (%v), want 1", n, err)
	}

	p.waitDrained(t, 1)
	doc, err := p.store.Read(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("durable read: %v", err)
	}
	if doc["post"] != "how are you?" {
		t.Fatalf("durable post = %v", doc["post"])
	}
}

func TestDeletePostCascade(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Durable user exists so both counter replicas can be compared.
	if err := p.store.Create(ctx, "users", "u1", map[string]interface{}{"postsCount": int64(0)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := p.svc.Create(ctx, samplePost("p1", "u1"), 7); err != nil {
		t.Fatalf("create: %v", err)
	}
	// Dependent keys a live post accumulates.
	if err := p.cache.ListAppend(ctx, cache.CommentsKey("p1"), `{"comment":"nice"}`); err != nil {
		t.Fatalf("seed comments: %v", err)
	}
	if err := p.cache.ListAppend(ctx, cache.ReactionsKey("p1"), `{"type":"like"}`); err != nil {
		t.Fatalf("seed reactions: %v", err)
	}
	p.waitDrained(t, 1)

	if err := p.svc.Delete(ctx, "p1", "u1"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	members, err := p.cache.IndexRange(ctx, cache.PostIndex, 0, -1, false)
	if err != nil {
		t.Fatalf("indexRange: %v", err)
	}
	if len(members) != 0 {
		t.Fatalf("post index still has %v", members)
	}
	for _, key := range []string{cache.PostKey("p1"), cache.CommentsKey("p1"), cache.ReactionsKey("p1")} {
		if p.mr.Exists(key) {
			t.Fatalf("key %s survived delete", key)
		}
	}
	if n, _ := p.cache.ReadInt(ctx, cache.UserKey("u1"), "postsCount"); n != 0 {
		t.Fatalf("cached postsCount = %d, want 0", n)
	}

	p.waitDrained(t, 2)
	if _, err := p.store.Read(ctx, "posts", "p1"); !errors.Is(err, durable.ErrNotFound) {
		t.Fatalf("durable post after delete: %v, want ErrNotFound", err)
	}
	doc, err := p.store.Read(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("durable user: %v", err)
	}
	if doc["postsCount"] != int64(0) {
		t.Fatalf("durable postsCount = %v, want 0", doc["postsCount"])
	}
}

func TestUpdatePostConverges(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	post := samplePost("p1", "u1")
	if err := p.svc.Create(ctx, post, 7); err != nil {
		t.Fatalf("create: %v", err)
	}
	p.waitDrained(t, 1)

	post.Post = "edited"
	post.Feelings = "blessed"
	if err := p.svc.Update(ctx, post); err != nil {
		t.Fatalf("update: %v", err)
	}

	got, err := p.svc.Get(ctx, "p1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Post != "edited" || got.Feelings != "blessed" {
		t.Fatalf("cached post after update: %+v", got)
	}
	if got.CommentsCount != 0 || got.CreatedAtMs != 1700000000000 {
		t.Fatalf("update clobbered immutable fields: %+v", got)
	}

	p.waitDrained(t, 2)
	doc, err := p.store.Read(ctx, "posts", "p1")
	if err != nil {
		t.Fatalf("durable read: %v", err)
	}
	if doc["post"] != "edited" {
		t.Fatalf("durable post = %v, want edited", doc["post"])
	}
}

func TestCreateSurvivesDurableOutage(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	// Two full retry cycles of outage; attempt 3 lands.
	p.store.FailNext(2, errors.New("durable store down"))
	if err := p.svc.Create(ctx, samplePost("p1", "u1"), 7); err != nil {
		t.Fatalf("create: %v", err)
	}

	// Cache is correct while the job retries.
	if _, err := p.svc.Get(ctx, "p1"); err != nil {
		t.Fatalf("get during outage: %v", err)
	}

	p.waitDrained(t, 1)
	st, _ := p.queue.Stats(ctx)
	if st.Retried != 2 || st.Failed != 0 {
		t.Fatalf("stats after recovery: %+v", st)
	}
	if _, err := p.store.Read(ctx, "posts", "p1"); err != nil {
		t.Fatalf("durable read after recovery: %v", err)
	}
}

func TestRedeliveredCreateBumpsCountOnce(t *testing.T) {
	ctx := context.Background()
	store := durable.NewMemory()
	w := NewWorker(store, log.Nop())

	if err := store.Create(ctx, "users", "u1", map[string]interface{}{"postsCount": int64(0)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	raw, err := json.Marshal(createJob{Post: samplePost("p1", "u1")})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env := &queue.Envelope{ID: "job-1", Name: JobAddPost, Payload: raw}

	// A lease reclaim after a crash delivers the same envelope again.
	for i := 0; i < 2; i++ {
		if err := w.addPost(ctx, env); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	doc, err := store.Read(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("read user: %v", err)
	}
	if doc["postsCount"] != int64(1) {
		t.Fatalf("postsCount after redelivery = %v, want 1", doc["postsCount"])
	}
}

func TestRedeliveredDeleteDropsCountOnce(t *testing.T) {
	ctx := context.Background()
	store := durable.NewMemory()
	w := NewWorker(store, log.Nop())

	if err := store.Create(ctx, "users", "u1", map[string]interface{}{"postsCount": int64(1)}); err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := store.Create(ctx, "posts", "p1", map[string]interface{}{"post": "bye"}); err != nil {
		t.Fatalf("seed post: %v", err)
	}
	raw, err := json.Marshal(deleteJob{PostID: "p1", UserID: "u1"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	env := &queue.Envelope{ID: "job-2", Name: JobDeletePost, Payload: raw}

	for i := 0; i < 2; i++ {
		if err := w.deletePost(ctx, env); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	doc, err := store.Read(ctx, "users", "u1")
	if err != nil {
		t.Fatalf("read user: %v", err)
	}
	if doc["postsCount"] != int64(0) {
		t.Fatalf("postsCount after redelivery = %v, want 0", doc["postsCount"])
	}
}

func TestRangeNewestFirst(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()

	for i, postID := range []string{"p1", "p2", "p3"} {
		post := samplePost(postID, "u1")
		if err := p.svc.Create(ctx, post, int64(i+1)); err != nil {
			t.Fatalf("create %s: %v", postID, err)
		}
	}

	got, err := p.svc.Range(ctx, 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 3 || got[0].ID != "p3" || got[2].ID != "p1" {
		ids := make([]string, len(got))
		for i, p := range got {
			ids[i] = p.ID
		}
		t.Fatalf("range order = %v, want [p3 p2 p1]", ids)
	}

	mine, err := p.svc.ByUser(ctx, 2)
	if err != nil {
		t.Fatalf("byUser: %v", err)
	}
	if len(mine) != 1 || mine[0].ID != "p2" {
		t.Fatalf("byUser(2) = %+v, want just p2", mine)
	}
}

func TestCreateFailsClosedWhenCacheDown(t *testing.T) {
	p := newPipeline(t)
	p.mr.Close()

	err := p.svc.Create(context.Background(), samplePost("p1", "u1"), 7)
	if err == nil {
		t.Fatalf("create succeeded with cache down")
	}
	if apperr.KindOf(err) != apperr.KindCacheUnavailable {
		t.Fatalf("error kind = %v, want KindCacheUnavailable", apperr.KindOf(err))
	}
	if !errors.Is(err, cache.ErrUnavailable) {
		t.Fatalf("cause not ErrUnavailable: %v", err)
	}
}

func TestGetMissingPost(t *testing.T) {
	p := newPipeline(t)
	_, err := p.svc.Get(context.Background(), "nope")
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("error kind = %v, want KindNotFound", apperr.KindOf(err))
	}
}
