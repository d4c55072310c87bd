package segment

import (
	"testing"

	"github.com/rs/zerolog"

	"github.com/mindcache/mindcache/internal/codec"
)

func openTestStore(t *testing.T, rollBytes int64) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, rollBytes, 0.5, 1000, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendAndRead(t *testing.T) {
	s := openTestStore(t, 1<<20)

	frame, err := codec.Encode(map[string]string{"content": "hello"}, 1024)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := s.Append("rec-1", frame); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, ok, err := s.Read("rec-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to be found")
	}
	var out map[string]string
	if err := codec.Decode(got, &out, "seg", 0); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if out["content"] != "hello" {
		t.Fatalf("content = %q, want %q", out["content"], "hello")
	}
}

func TestTombstoneRemovesRecord(t *testing.T) {
	s := openTestStore(t, 1<<20)
	frame, _ := codec.Encode(map[string]string{"content": "x"}, 1024)
	if _, err := s.Append("rec-1", frame); err != nil {
		t.Fatalf("Append: %v", err)
	}

	removed, err := s.Tombstone("rec-1")
	if err != nil {
		t.Fatalf("Tombstone: %v", err)
	}
	if !removed {
		t.Fatalf("expected Tombstone to report removal")
	}

	_, ok, err := s.Read("rec-1")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if ok {
		t.Fatalf("expected record to be gone after tombstone")
	}
}

func TestAppendRollsSegmentPastLimit(t *testing.T) {
	s := openTestStore(t, 64) // tiny roll threshold forces a roll quickly

	for i := 0; i < 10; i++ {
		frame, _ := codec.Encode(map[string]string{"content": "padding-content-value"}, 1024)
		if _, err := s.Append("rec-"+string(rune('a'+i)), frame); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}
	stats := s.Stats()
	if stats.SegmentCount < 2 {
		t.Fatalf("expected multiple segments after rolling, got %d", stats.SegmentCount)
	}
}

func TestReopenReplaysManifest(t *testing.T) {
	dir := t.TempDir()
	s1, err := Open(dir, 1<<20, 0.5, 1000, zerolog.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	frame, _ := codec.Encode(map[string]string{"content": "persisted"}, 1024)
	if _, err := s1.Append("rec-1", frame); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	s2, err := Open(dir, 1<<20, 0.5, 1000, zerolog.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	_, ok, err := s2.Read("rec-1")
	if err != nil {
		t.Fatalf("Read after reopen: %v", err)
	}
	if !ok {
		t.Fatalf("expected record to survive reopen via manifest replay")
	}
}
