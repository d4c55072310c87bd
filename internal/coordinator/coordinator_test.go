package coordinator

import (
	"testing"

	"github.com/mindcache/mindcache/internal/config"
	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/model"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	cfg := config.Default()
	cfg.StoragePath = t.TempDir()
	cfg.AutoDecayEnabled = false
	c, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSaveThenRecallRoundTrip(t *testing.T) {
	c := newTestCoordinator(t)
	id, err := c.Save(model.Input{UserID: "u1", SessionID: "s1", Content: "remember the rocket launch"})
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if id == "" {
		t.Fatalf("expected non-empty id")
	}

	memories, count, err := c.Recall(model.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if count != 1 || len(memories) != 1 {
		t.Fatalf("recall count = %d, want 1", count)
	}
	if memories[0].ID != id {
		t.Fatalf("recalled id = %q, want %q", memories[0].ID, id)
	}
}

func TestSaveIsIdempotentOnRequestID(t *testing.T) {
	c := newTestCoordinator(t)
	in := model.Input{UserID: "u1", SessionID: "s1", Content: "x", RequestID: "req-1"}

	first, err := c.Save(in)
	if err != nil {
		t.Fatalf("Save (1st): %v", err)
	}
	second, err := c.Save(in)
	if err != nil {
		t.Fatalf("Save (2nd): %v", err)
	}
	if first != second {
		t.Fatalf("expected idempotent save to return same id, got %q and %q", first, second)
	}

	_, count, err := c.Recall(model.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if count != 1 {
		t.Fatalf("count = %d, want 1 (no duplicate insert)", count)
	}
}

func TestCreateSessionThenListSessions(t *testing.T) {
	c := newTestCoordinator(t)
	sessionID, err := c.CreateSession("u1", "trip planning", model.Metadata{"tags": []any{"travel"}})
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := c.Save(model.Input{UserID: "u1", SessionID: sessionID, Content: "book flights"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sessions, err := c.ListSessions("u1", "")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(sessions))
	}
	if sessions[0].ID != sessionID {
		t.Fatalf("session id = %q, want %q", sessions[0].ID, sessionID)
	}
	if sessions[0].Name != "trip planning" {
		t.Fatalf("session name = %q, want %q", sessions[0].Name, "trip planning")
	}
	if sessions[0].MemoryCount != 1 {
		t.Fatalf("member count = %d, want 1", sessions[0].MemoryCount)
	}
}

func TestListSessionsFiltersByQuery(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.Save(model.Input{UserID: "u1", SessionID: "s1", Content: "rocket launch notes"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := c.Save(model.Input{UserID: "u1", SessionID: "s2", Content: "grocery list"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	sessions, err := c.ListSessions("u1", "rocket")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" {
		t.Fatalf("expected only s1 to match, got %+v", sessions)
	}
}

func TestDeleteSessionRemovesMembers(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.Save(model.Input{UserID: "u1", SessionID: "s1", Content: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}

	count, err := c.DeleteSession("u1", "s1")
	if err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if count != 1 {
		t.Fatalf("deleted = %d, want 1", count)
	}

	_, recallCount, err := c.Recall(model.Filter{UserID: "u1"})
	if err != nil {
		t.Fatalf("Recall: %v", err)
	}
	if recallCount != 0 {
		t.Fatalf("recall count after delete = %d, want 0", recallCount)
	}
}

func TestSummarizeUnknownSessionReturnsSessionEmpty(t *testing.T) {
	c := newTestCoordinator(t)
	_, err := c.Summarize("does-not-exist")
	if errs.KindOf(err) != errs.SessionEmpty {
		t.Fatalf("expected SessionEmpty, got %v", err)
	}
}

func TestStatsReflectsSavedMemories(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.Save(model.Input{UserID: "u1", SessionID: "s1", Content: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stats := c.Stats()
	if stats.TotalMemories != 1 {
		t.Fatalf("total_memories = %d, want 1", stats.TotalMemories)
	}
	if stats.UsersTracked != 1 {
		t.Fatalf("users_tracked = %d, want 1", stats.UsersTracked)
	}
}

func TestRunDecayIsReachableFromCoordinator(t *testing.T) {
	c := newTestCoordinator(t)
	if _, err := c.Save(model.Input{UserID: "u1", SessionID: "s1", Content: "x"}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	stats, err := c.RunDecay(true)
	if err != nil {
		t.Fatalf("RunDecay: %v", err)
	}
	if stats.Scanned < 1 {
		t.Fatalf("scanned = %d, want >= 1", stats.Scanned)
	}
}

func TestConfigIsFrozenAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.StoragePath = dir
	cfg.AutoDecayEnabled = false
	cfg.MaxMemoriesPerUser = 42

	c1, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open (1st): %v", err)
	}
	c1.Close()

	reopenCfg := config.Default()
	reopenCfg.StoragePath = dir
	reopenCfg.AutoDecayEnabled = false
	reopenCfg.MaxMemoriesPerUser = 999 // ignored: frozen config wins

	c2, err := Open(reopenCfg)
	if err != nil {
		t.Fatalf("Open (2nd): %v", err)
	}
	defer c2.Close()

	if c2.Config().MaxMemoriesPerUser != 42 {
		t.Fatalf("max_memories_per_user = %d, want frozen value 42", c2.Config().MaxMemoriesPerUser)
	}
}
