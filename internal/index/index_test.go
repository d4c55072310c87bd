package index

import (
	"testing"
	"time"

	"github.com/mindcache/mindcache/internal/model"
)

func mkMemory(id, user, session, content string, importance float64, createdAt time.Time) model.Memory {
	return model.Memory{
		ID: id, UserID: user, SessionID: session, Content: content,
		Importance: importance, CreatedAt: createdAt, LastAccessedAt: createdAt,
	}
}

func TestAddAndUserIDsOrdering(t *testing.T) {
	ix := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ix.Add(mkMemory("a", "u1", "s1", "first", 0.5, base))
	ix.Add(mkMemory("b", "u1", "s1", "second", 0.5, base.Add(time.Hour)))

	ids := ix.UserIDs("u1")
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "a" {
		t.Fatalf("UserIDs = %v, want [b a] (newest first)", ids)
	}
}

func TestRemoveIsIdempotentAndClearsEverything(t *testing.T) {
	ix := New()
	now := time.Now().UTC()
	ix.Add(mkMemory("a", "u1", "s1", "rust programming", 0.9, now))

	ix.Remove("a")
	ix.Remove("a") // idempotent

	if ids := ix.UserIDs("u1"); len(ids) != 0 {
		t.Fatalf("expected no ids after Remove, got %v", ids)
	}
	if postings, df := ix.PostingList("rust"); len(postings) != 0 || df != 0 {
		t.Fatalf("expected empty posting list after Remove, got %v df=%d", postings, df)
	}
}

func TestReAddReindexesIdempotently(t *testing.T) {
	ix := New()
	now := time.Now().UTC()
	ix.Add(mkMemory("a", "u1", "s1", "rust", 0.2, now))
	ix.Add(mkMemory("a", "u1", "s1", "rust", 0.9, now)) // reindex with new importance

	ids := ix.ImportanceAtLeast("u1", 0.8)
	if !ids["a"] {
		t.Fatalf("expected id 'a' in importance>=0.8 set after reindex, got %v", ids)
	}
	lowIDs := ix.ImportanceAtLeast("u1", 0.1)
	if len(lowIDs) != 1 {
		t.Fatalf("expected record to be indexed exactly once, got %v", lowIDs)
	}
}

func TestMatchAllIntersectsTerms(t *testing.T) {
	ix := New()
	now := time.Now().UTC()
	ix.Add(mkMemory("a", "u1", "s1", "rust and pizza", 0.5, now))
	ix.Add(mkMemory("b", "u1", "s1", "rust only", 0.5, now))

	got := ix.MatchAll([]string{"rust", "pizza"})
	if _, ok := got["a"]; !ok || len(got) != 1 {
		t.Fatalf("MatchAll([rust pizza]) = %v, want just 'a'", got)
	}
}

func TestSessionOwnerTracksFirstWriter(t *testing.T) {
	ix := New()
	now := time.Now().UTC()
	ix.Add(mkMemory("a", "u1", "s1", "x", 0.5, now))

	owner, ok := ix.SessionOwner("s1")
	if !ok || owner != "u1" {
		t.Fatalf("SessionOwner = (%q, %v), want (u1, true)", owner, ok)
	}
}

func TestTimeRangeIDs(t *testing.T) {
	ix := New()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ix.Add(mkMemory("a", "u1", "s1", "x", 0.5, base))
	ix.Add(mkMemory("b", "u1", "s1", "y", 0.5, base.Add(48*time.Hour)))

	ids := ix.TimeRangeIDs("u1", base.Add(-time.Hour), base.Add(time.Hour))
	if !ids["a"] || ids["b"] {
		t.Fatalf("TimeRangeIDs = %v, want only 'a'", ids)
	}
}
