package store

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindcache/mindcache/internal/config"
	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/index"
	"github.com/mindcache/mindcache/internal/model"
	"github.com/mindcache/mindcache/internal/segment"
	"github.com/mindcache/mindcache/internal/sessionmeta"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	seg, err := segment.Open(dir+"/segments", 1<<20, 0.5, 1000, zerolog.Nop())
	if err != nil {
		t.Fatalf("segment.Open: %v", err)
	}
	sm, err := sessionmeta.Open(dir + "/sessions.db")
	if err != nil {
		t.Fatalf("sessionmeta.Open: %v", err)
	}
	t.Cleanup(func() { seg.Close(); sm.Close() })

	cfg := config.Default()
	cfg.MaxMemoriesPerUser = 1000
	return New(cfg, seg, index.New(), sm, zerolog.Nop())
}

func TestPutThenGetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	mem, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: "hello world"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(mem.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Content != "hello world" {
		t.Fatalf("content = %q, want %q", got.Content, "hello world")
	}
	if got.Importance != 0.5 {
		t.Fatalf("default importance = %v, want 0.5", got.Importance)
	}
}

func TestPutRejectsEmptyContent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: ""})
	if errs.KindOf(err) != errs.TooLarge {
		t.Fatalf("expected TooLarge for empty content, got %v", err)
	}
}

func TestPutRejectsMissingUser(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Put(model.Input{UserID: "", SessionID: "s1", Content: "x"})
	if errs.KindOf(err) != errs.InvalidArgument {
		t.Fatalf("expected InvalidArgument for missing user_id, got %v", err)
	}
}

func TestPutRejectsCrossUserSession(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: "x"}); err != nil {
		t.Fatalf("first Put: %v", err)
	}
	_, err := s.Put(model.Input{UserID: "u2", SessionID: "s1", Content: "y"})
	if errs.KindOf(err) != errs.Forbidden {
		t.Fatalf("expected Forbidden for cross-user session reuse, got %v", err)
	}
}

func TestDeleteTombstonesRecord(t *testing.T) {
	s := newTestStore(t)
	mem, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: "x"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Delete("u1", mem.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(mem.ID); errs.KindOf(err) != errs.NotFound {
		t.Fatalf("expected NotFound after delete, got %v", err)
	}
}

func TestDeleteSessionRemovesAllMembers(t *testing.T) {
	s := newTestStore(t)
	var ids []string
	for i := 0; i < 3; i++ {
		mem, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: "x"})
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		ids = append(ids, mem.ID)
	}
	count, err := s.DeleteSession("u1", "s1")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if count != 3 {
		t.Fatalf("deleted count = %d, want 3", count)
	}
	for _, id := range ids {
		if _, err := s.Get(id); errs.KindOf(err) != errs.NotFound {
			t.Fatalf("expected %q to be gone, got %v", id, err)
		}
	}
}

func TestTouchFlushAdvancesAccessCount(t *testing.T) {
	s := newTestStore(t)
	mem, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: "x"})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	s.Touch(mem.ID)
	s.Touch(mem.ID)
	s.FlushTouches()

	got, err := s.Get(mem.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.AccessCount != 2 {
		t.Fatalf("access_count = %d, want 2", got.AccessCount)
	}
}

func TestExplicitImportanceOverridesDefault(t *testing.T) {
	s := newTestStore(t)
	imp := 0.9
	mem, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: "x", Importance: &imp})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if mem.Importance != 0.9 {
		t.Fatalf("importance = %v, want 0.9", mem.Importance)
	}
}

func TestExplicitTTLSetsExpiresAt(t *testing.T) {
	s := newTestStore(t)
	ttl := 1.0
	mem, err := s.Put(model.Input{UserID: "u1", SessionID: "s1", Content: "x", TTLHours: &ttl})
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if mem.ExpiresAt == nil {
		t.Fatalf("expected ExpiresAt to be set")
	}
	if mem.ExpiresAt.Sub(mem.CreatedAt) != time.Hour {
		t.Fatalf("ExpiresAt - CreatedAt = %v, want 1h", mem.ExpiresAt.Sub(mem.CreatedAt))
	}
}
