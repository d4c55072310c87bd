package planner

import (
	"testing"
	"time"

	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/index"
	"github.com/mindcache/mindcache/internal/model"
)

type fakeStore struct {
	byID map[string]model.Memory
}

func (f *fakeStore) fetch(id string) (model.Memory, error) {
	m, ok := f.byID[id]
	if !ok {
		return model.Memory{}, errs.NotFoundErr("memory %q", id)
	}
	return m, nil
}

func setup(t *testing.T) (*index.Indexes, *fakeStore) {
	t.Helper()
	ix := index.New()
	fs := &fakeStore{byID: make(map[string]model.Memory)}
	return ix, fs
}

func addMemory(ix *index.Indexes, fs *fakeStore, mem model.Memory) {
	ix.Add(mem)
	fs.byID[mem.ID] = mem
}

func TestPlanReturnsHigherImportanceFirst(t *testing.T) {
	ix, fs := setup(t)
	now := time.Now().UTC()
	addMemory(ix, fs, model.Memory{ID: "a", UserID: "u1", SessionID: "s1", Content: "x", Importance: 0.2, CreatedAt: now})
	addMemory(ix, fs, model.Memory{ID: "b", UserID: "u1", SessionID: "s1", Content: "y", Importance: 0.5, CreatedAt: now})
	addMemory(ix, fs, model.Memory{ID: "c", UserID: "u1", SessionID: "s1", Content: "z", Importance: 0.9, CreatedAt: now})

	results, err := Plan(ix, fs.fetch, model.Filter{UserID: "u1", MinImportance: 0.4}, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results for min_importance=0.4, got %d", len(results))
	}
	if results[0].Memory.ID != "c" || results[1].Memory.ID != "b" {
		t.Fatalf("expected [c b], got [%s %s]", results[0].Memory.ID, results[1].Memory.ID)
	}
}

func TestPlanQueryFiltersToMatchingContent(t *testing.T) {
	ix, fs := setup(t)
	now := time.Now().UTC()
	addMemory(ix, fs, model.Memory{ID: "a", UserID: "u1", SessionID: "s1", Content: "I learned about memory decay", Importance: 0.8, CreatedAt: now})
	addMemory(ix, fs, model.Memory{ID: "b", UserID: "u1", SessionID: "s1", Content: "unrelated content here", Importance: 0.8, CreatedAt: now})

	results, err := Plan(ix, fs.fetch, model.Filter{UserID: "u1", Query: "decay", Limit: 10}, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != "a" {
		t.Fatalf("expected exactly [a], got %v", results)
	}
}

func TestPlanRequiresUserID(t *testing.T) {
	ix, fs := setup(t)
	_, err := Plan(ix, fs.fetch, model.Filter{}, time.Now())
	if errs.KindOf(err) != errs.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestPlanSessionSeedScopesToSession(t *testing.T) {
	ix, fs := setup(t)
	now := time.Now().UTC()
	addMemory(ix, fs, model.Memory{ID: "a", UserID: "u1", SessionID: "s1", Content: "x", Importance: 0.5, CreatedAt: now})
	addMemory(ix, fs, model.Memory{ID: "b", UserID: "u1", SessionID: "s2", Content: "y", Importance: 0.5, CreatedAt: now})

	results, err := Plan(ix, fs.fetch, model.Filter{UserID: "u1", SessionID: "s1"}, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != "a" {
		t.Fatalf("expected exactly [a], got %v", results)
	}
}

func TestPlanLimitTrims(t *testing.T) {
	ix, fs := setup(t)
	now := time.Now().UTC()
	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		addMemory(ix, fs, model.Memory{ID: id, UserID: "u1", SessionID: "s1", Content: "x", Importance: 0.5, CreatedAt: now})
	}
	results, err := Plan(ix, fs.fetch, model.Filter{UserID: "u1", Limit: 2}, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results after trim, got %d", len(results))
	}
}

func TestPlanEmptyQueryIsNoOp(t *testing.T) {
	ix, fs := setup(t)
	now := time.Now().UTC()
	addMemory(ix, fs, model.Memory{ID: "a", UserID: "u1", SessionID: "s1", Content: "x", Importance: 0.5, CreatedAt: now})

	results, err := Plan(ix, fs.fetch, model.Filter{UserID: "u1", Query: "the a"}, now)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected query tokenizing to zero terms to be a no-op, got %d results", len(results))
	}
}
