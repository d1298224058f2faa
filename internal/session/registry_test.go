package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aura-vibe/queue-sync/pkg/apperr"
	"github.com/aura-vibe/queue-sync/pkg/database"
	"github.com/aura-vibe/queue-sync/pkg/locker"
	"github.com/aura-vibe/queue-sync/pkg/models"
)

type mapCache struct {
	mu sync.Mutex
	m  map[string]models.Session
}

func newMapCache() *mapCache {
	return &mapCache{m: make(map[string]models.Session)}
}

func (c *mapCache) Get(_ context.Context, code string) (*models.Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.m[code]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (c *mapCache) Set(_ context.Context, s *models.Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	cp := *s
	cp.ID = 0
	c.m[s.Code] = cp
	return nil
}

func (c *mapCache) Delete(_ context.Context, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, code)
	return nil
}

func TestCreateAndResolve(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	ctx := context.Background()

	s, err := r.Create(ctx, "H1", "friday")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(s.Code) != codeLength {
		t.Fatalf("code %q has length %d", s.Code, len(s.Code))
	}
	for _, ch := range s.Code {
		if !(ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9') {
			t.Fatalf("code %q has char %q", s.Code, ch)
		}
	}

	got, err := r.Resolve(ctx, " "+strings.ToLower(s.Code)+" ")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.HostID != "H1" || got.Name != "friday" || !got.Active {
		t.Fatalf("Resolve: got %+v", got)
	}

	if _, err := r.Resolve(ctx, "NOPE00"); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("Resolve unknown: got %v want ErrSessionNotFound", err)
	}
	if _, err := r.Resolve(ctx, ""); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("Resolve empty: got %v want ErrSessionNotFound", err)
	}
}

func TestCreateGeneratesHostID(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	s, err := r.Create(context.Background(), "", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if s.HostID == "" {
		t.Fatalf("no host id generated")
	}
}

func TestCreateRetriesOnCollision(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	codes := []string{"AAAAAA", "AAAAAA", "AAAAAA", "BBBBBB"}
	r.generate = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	ctx := context.Background()

	first, err := r.Create(ctx, "H1", "")
	if err != nil || first.Code != "AAAAAA" {
		t.Fatalf("first: code=%v err=%v", first, err)
	}
	second, err := r.Create(ctx, "H2", "")
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.Code != "BBBBBB" {
		t.Fatalf("second code: got=%s want=BBBBBB", second.Code)
	}
}

func TestCreateGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	r.generate = func() string { return "AAAAAA" }
	ctx := context.Background()

	if _, err := r.Create(ctx, "H1", ""); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := r.Create(ctx, "H2", ""); err == nil {
		t.Fatalf("expected an error once every code is taken")
	}
}

func TestConcurrentCreateUniqueCodes(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	var mu sync.Mutex
	i := 0
	// yields A, B, B, C, C, A, ... so later creates hit taken codes
	r.generate = func() string {
		mu.Lock()
		defer mu.Unlock()
		i++
		return string(rune('A'+(i/2)%3)) + "00000"
	}

	seen := make(map[string]bool)
	var wg sync.WaitGroup
	var smu sync.Mutex
	for n := 0; n < 3; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s, err := r.Create(context.Background(), "H", "")
			if err != nil {
				t.Errorf("Create: %v", err)
				return
			}
			smu.Lock()
			defer smu.Unlock()
			if seen[s.Code] {
				t.Errorf("duplicate active code %s", s.Code)
			}
			seen[s.Code] = true
		}()
	}
	wg.Wait()
}

func TestAssertHost(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	ctx := context.Background()
	s, _ := r.Create(ctx, "H1", "")

	if _, err := r.AssertHost(ctx, s.Code, "H1"); err != nil {
		t.Fatalf("host: %v", err)
	}
	if _, err := r.AssertHost(ctx, s.Code, "U1"); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("non-host: got %v want ErrForbidden", err)
	}
	if _, err := r.AssertHost(ctx, s.Code, ""); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("anonymous: got %v want ErrForbidden", err)
	}
	if _, err := r.AssertHost(ctx, "NOPE00", "H1"); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("unknown: got %v want ErrSessionNotFound", err)
	}
}

func TestEndEvictsCache(t *testing.T) {
	t.Parallel()

	cache := newMapCache()
	r := NewRegistry(database.NewMemoryStore(), cache, locker.New(), nil)
	ctx := context.Background()

	s, err := r.Create(ctx, "H1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if c, _ := cache.Get(ctx, s.Code); c == nil {
		t.Fatalf("session not cached")
	}

	if err := r.End(ctx, s.Code, "U1", nil); !errors.Is(err, apperr.ErrForbidden) {
		t.Fatalf("End by non-host: got %v want ErrForbidden", err)
	}
	if err := r.End(ctx, s.Code, "H1", nil); err != nil {
		t.Fatalf("End: %v", err)
	}
	if c, _ := cache.Get(ctx, s.Code); c != nil {
		t.Fatalf("ended session still cached")
	}
	if _, err := r.Resolve(ctx, s.Code); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("Resolve ended: got %v want ErrSessionNotFound", err)
	}
	if err := r.End(ctx, s.Code, "H1", nil); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("End twice: got %v want ErrSessionNotFound", err)
	}
}

func TestEndedCodeIsNotReissued(t *testing.T) {
	t.Parallel()

	store := database.NewMemoryStore()
	r := NewRegistry(store, nil, locker.New(), nil)
	codes := []string{"AB12CD", "AB12CD", "EF34GH"}
	r.generate = func() string {
		c := codes[0]
		codes = codes[1:]
		return c
	}
	ctx := context.Background()

	old, err := r.Create(ctx, "H1", "")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	stale := &models.QueueItem{SessionCode: old.Code, SongID: "stale", Title: "stale"}
	if err := store.AddQueueItem(ctx, stale); err != nil {
		t.Fatalf("AddQueueItem: %v", err)
	}
	if _, err := store.ApplyVote(ctx, database.VoteChange{
		Op:    database.VoteInsert,
		Vote:  models.Vote{UserID: "U1", QueueItemID: stale.ID, VoteType: models.VoteUp},
		Delta: 1,
	}); err != nil {
		t.Fatalf("ApplyVote: %v", err)
	}
	if err := r.End(ctx, old.Code, "H1", nil); err != nil {
		t.Fatalf("End: %v", err)
	}

	fresh, err := r.Create(ctx, "H2", "")
	if err != nil {
		t.Fatalf("Create after End: %v", err)
	}
	if fresh.Code == old.Code {
		t.Fatalf("ended code %s handed out again", old.Code)
	}

	items, err := store.ListUnplayed(ctx, fresh.Code)
	if err != nil {
		t.Fatalf("ListUnplayed: %v", err)
	}
	if len(items) != 0 {
		t.Fatalf("new session starts with %d queued songs", len(items))
	}
	votes, err := store.ListUserVotes(ctx, fresh.Code, "U1")
	if err != nil {
		t.Fatalf("ListUserVotes: %v", err)
	}
	if len(votes) != 0 {
		t.Fatalf("new session starts with votes: %v", votes)
	}
	if n, _ := store.CountQueueItems(ctx, fresh.Code); n != 0 {
		t.Fatalf("new session position numbering starts at %d", n+1)
	}
}

func TestEndRunsTeardownUnderSessionLock(t *testing.T) {
	t.Parallel()

	locks := locker.New()
	r := NewRegistry(database.NewMemoryStore(), nil, locks, nil)
	ctx := context.Background()
	s, _ := r.Create(ctx, "H1", "")

	// hold the session lock as an in-flight mutation would
	unlock := locks.Lock(s.Code)
	var order []string
	var mu sync.Mutex
	record := func(step string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, step)
	}

	done := make(chan error, 1)
	go func() {
		done <- r.End(ctx, s.Code, "H1", func(code string) {
			if code != s.Code {
				t.Errorf("teardown code: got=%s want=%s", code, s.Code)
			}
			record("teardown")
		})
	}()

	select {
	case err := <-done:
		t.Fatalf("End returned while the session lock was held: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	record("mutation broadcast")
	unlock()

	if err := <-done; err != nil {
		t.Fatalf("End: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != "mutation broadcast" || order[1] != "teardown" {
		t.Fatalf("order: %v", order)
	}
}

func TestCreateRecordsHost(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	ctx := context.Background()
	s, _ := r.Create(ctx, "H1", "")

	roster, err := r.Participants(ctx, s.Code)
	if err != nil {
		t.Fatalf("Participants: %v", err)
	}
	if len(roster) != 1 || roster[0].UserID != "H1" || !roster[0].IsHost {
		t.Fatalf("roster: %+v", roster)
	}
}

func TestJoin(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	ctx := context.Background()
	s, _ := r.Create(ctx, "H1", "")

	_, p, err := r.Join(ctx, strings.ToLower(s.Code), "U1", "alice")
	if err != nil {
		t.Fatalf("Join: %v", err)
	}
	if p.UserID != "U1" || p.Username != "alice" || p.IsHost {
		t.Fatalf("participant: %+v", p)
	}

	// a second join keeps the first entry
	_, again, err := r.Join(ctx, s.Code, "U1", "renamed")
	if err != nil {
		t.Fatalf("Join again: %v", err)
	}
	if again.Username != "alice" {
		t.Fatalf("rejoin changed username to %q", again.Username)
	}

	_, host, err := r.Join(ctx, s.Code, "H1", "")
	if err != nil || !host.IsHost {
		t.Fatalf("host join: p=%+v err=%v", host, err)
	}

	roster, _ := r.Participants(ctx, s.Code)
	if len(roster) != 2 || roster[0].UserID != "H1" || roster[1].UserID != "U1" {
		t.Fatalf("roster: %+v", roster)
	}

	if _, _, err := r.Join(ctx, s.Code, "", "anon"); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Fatalf("anonymous join: got %v want ErrInvalidInput", err)
	}
	if _, _, err := r.Join(ctx, "NOPE00", "U2", ""); !errors.Is(err, apperr.ErrSessionNotFound) {
		t.Fatalf("unknown session: got %v want ErrSessionNotFound", err)
	}
}

func TestJoinCap(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	r.SetMaxParticipants(3)
	ctx := context.Background()
	s, _ := r.Create(ctx, "H1", "")

	for _, u := range []string{"U1", "U2"} {
		if _, _, err := r.Join(ctx, s.Code, u, ""); err != nil {
			t.Fatalf("Join(%s): %v", u, err)
		}
	}
	if _, _, err := r.Join(ctx, s.Code, "U3", ""); !errors.Is(err, apperr.ErrSessionFull) {
		t.Fatalf("Join past cap: got %v want ErrSessionFull", err)
	}
	if _, _, err := r.Join(ctx, s.Code, "U1", ""); err != nil {
		t.Fatalf("rejoin at cap: %v", err)
	}
}

func TestConcurrentJoinRespectsCap(t *testing.T) {
	t.Parallel()

	r := NewRegistry(database.NewMemoryStore(), nil, locker.New(), nil)
	r.SetMaxParticipants(5)
	ctx := context.Background()
	s, _ := r.Create(ctx, "H1", "")

	var wg sync.WaitGroup
	for n := 0; n < 20; n++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _, err := r.Join(ctx, s.Code, fmt.Sprintf("U%d", n), "")
			if err != nil && !errors.Is(err, apperr.ErrSessionFull) {
				t.Errorf("Join: %v", err)
			}
		}(n)
	}
	wg.Wait()

	roster, _ := r.Participants(ctx, s.Code)
	if len(roster) != 5 {
		t.Fatalf("roster size: got=%d want=5", len(roster))
	}
}
