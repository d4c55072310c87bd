// Package store implements the store facade: put/get/scan/delete/
// delete_session/touch over the segment store and indexes, enforcing the
// memory record's invariants. A small facade struct with Put/Get/
// List-equivalent methods, backed by the segment+index
// architecture rather than a SQL table.
package store

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/mindcache/mindcache/internal/codec"
	"github.com/mindcache/mindcache/internal/config"
	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/index"
	"github.com/mindcache/mindcache/internal/model"
	"github.com/mindcache/mindcache/internal/scoring"
	"github.com/mindcache/mindcache/internal/segment"
	"github.com/mindcache/mindcache/internal/sessionmeta"
	"github.com/mindcache/mindcache/internal/striped"
)

const (
	maxContentBytes  = 100 * 1024
	maxMetadataBytes = 16 * 1024
	maxIDBytes       = 255
)

// Store is the store facade.
type Store struct {
	cfg   config.Config
	seg   *segment.Store
	idx   *index.Indexes
	sm    *sessionmeta.Store
	locks *striped.Locks
	log   zerolog.Logger

	touchMu sync.Mutex
	pending map[string]touchDelta

	// evictHook implements the per-user cap eviction policy. It's set once
	// by the coordinator after the decay engine is constructed, breaking
	// what would otherwise be a store<->decay import cycle.
	evictHook func(userID string) (evicted int, err error)
}

// SetEvictHook wires the per-user cap eviction policy (owned by the decay
// engine) into Put's pre-insertion check.
func (s *Store) SetEvictHook(fn func(userID string) (evicted int, err error)) {
	s.evictHook = fn
}

type touchDelta struct {
	count     int64
	accessedAt time.Time
}

// New assembles the facade over already-opened segment/index/sessionmeta
// components (codec is stateless so it has no constructor step here).
func New(cfg config.Config, seg *segment.Store, idx *index.Indexes, sm *sessionmeta.Store, log zerolog.Logger) *Store {
	return &Store{
		cfg:     cfg,
		seg:     seg,
		idx:     idx,
		sm:      sm,
		locks:   striped.New(),
		log:     log,
		pending: make(map[string]touchDelta),
	}
}

// Put validates input, assigns an id and created_at, appends the encoded
// record, and updates the indexes, enforcing the per-user cap by evicting
// the lowest-scoring record first via the evict hook.
func (s *Store) Put(in model.Input) (model.Memory, error) {
	if err := validateInput(in); err != nil {
		return model.Memory{}, err
	}

	var mem model.Memory
	s.locks.WithLock(in.UserID, func() {
		if owner, ok := s.idx.SessionOwner(in.SessionID); ok && owner != in.UserID {
			mem = model.Memory{}
			return
		}

		if len(s.idx.UserIDSet(in.UserID)) >= s.cfg.MaxMemoriesPerUser {
			if s.evictHook != nil {
				s.evictHook(in.UserID)
			}
		}

		now := time.Now().UTC()
		id := s.newID(now)
		mem = model.Memory{
			ID:             id,
			UserID:         in.UserID,
			SessionID:      in.SessionID,
			Content:        in.Content,
			Metadata:       in.Metadata,
			Importance:     importanceOrDefault(in.Importance),
			CreatedAt:      now,
			LastAccessedAt: now,
			AccessCount:    0,
		}
		mem.ExpiresAt = expiresAt(in, now, s.cfg.DefaultMemoryTTLHours)

		frame, encErr := codec.Encode(mem, s.compressionThreshold())
		if encErr != nil {
			mem = model.Memory{}
			return
		}
		if _, appErr := s.seg.Append(id, frame); appErr != nil {
			mem = model.Memory{}
			return
		}
		s.idx.Add(mem)
		_ = s.sm.EnsureSession(in.SessionID, in.UserID)
	})

	if mem.ID == "" {
		if owner, ok := s.idx.SessionOwner(in.SessionID); ok && owner != in.UserID {
			return model.Memory{}, errs.ForbiddenErr("session %q belongs to a different user", in.SessionID)
		}
		return model.Memory{}, errs.IoErr("persist memory", nil)
	}
	return mem, nil
}

// Get fetches a single memory by id.
func (s *Store) Get(id string) (model.Memory, error) {
	frame, ok, err := s.seg.Read(id)
	if err != nil {
		return model.Memory{}, err
	}
	if !ok {
		return model.Memory{}, errs.NotFoundErr("memory %q", id)
	}
	var mem model.Memory
	if err := codec.Decode(frame, &mem, "", 0); err != nil {
		return model.Memory{}, err
	}
	return mem, nil
}

// GetMany fetches multiple ids, skipping any that fail to decode. A
// CorruptRecord is tombstoned on the spot so it stops occupying a
// per-user cap slot and stops blocking segment compaction; its id is
// still reported back in corrupted for callers that want to log it.
func (s *Store) GetMany(ids []string) ([]model.Memory, []string) {
	mems := make([]model.Memory, 0, len(ids))
	var corrupted []string
	for _, id := range ids {
		mem, err := s.Get(id)
		if err != nil {
			if errs.KindOf(err) == errs.CorruptRecord {
				corrupted = append(corrupted, id)
				if tErr := s.Tombstone(id); tErr != nil {
					s.log.Warn().Err(tErr).Str("id", id).Msg("failed to tombstone corrupt record")
				}
			}
			continue
		}
		mems = append(mems, mem)
	}
	return mems, corrupted
}

// GetOrIsolate fetches id like Get, but tombstones it first if decoding
// fails with CorruptRecord, so the id stops occupying a per-user cap slot
// and stops blocking segment compaction instead of lingering in the
// index until some other path notices. Suitable as a planner/summarizer
// MemoryFetcher.
func (s *Store) GetOrIsolate(id string) (model.Memory, error) {
	mem, err := s.Get(id)
	if err != nil && errs.KindOf(err) == errs.CorruptRecord {
		if tErr := s.Tombstone(id); tErr != nil {
			s.log.Warn().Err(tErr).Str("id", id).Msg("failed to tombstone corrupt record")
		}
	}
	return mem, err
}

// Delete tombstones a single memory.
func (s *Store) Delete(userID, id string) error {
	mem, err := s.Get(id)
	if err != nil {
		return err
	}
	if mem.UserID != userID {
		return errs.ForbiddenErr("memory %q belongs to a different user", id)
	}
	var outErr error
	s.locks.WithLock(userID, func() {
		if _, err := s.seg.Tombstone(id); err != nil {
			outErr = err
			return
		}
		s.idx.Remove(id)
	})
	return outErr
}

// DeleteSession tombstones every memory in sessionID, returning the count
// affected. Cross-user session ids are rejected with Forbidden.
func (s *Store) DeleteSession(userID, sessionID string) (int, error) {
	owner, ok := s.idx.SessionOwner(sessionID)
	if !ok {
		return 0, errs.NotFoundErr("session %q", sessionID)
	}
	if owner != userID {
		return 0, errs.ForbiddenErr("session %q belongs to a different user", sessionID)
	}

	var count int
	var outErr error
	s.locks.WithLock(userID, func() {
		ids := s.idx.SessionIDs(sessionID)
		for _, id := range ids {
			if _, err := s.seg.Tombstone(id); err != nil {
				outErr = err
				return
			}
			s.idx.Remove(id)
			count++
		}
	})
	if outErr != nil {
		return count, outErr
	}
	if err := s.sm.DeleteSession(sessionID); err != nil {
		return count, err
	}
	return count, nil
}

// Touch records a pending access-count/last-accessed-at bump, batched in
// memory and flushed by FlushTouches every access_flush_interval.
// Idempotent and lossy on crash by design.
func (s *Store) Touch(id string) {
	s.touchMu.Lock()
	defer s.touchMu.Unlock()
	d := s.pending[id]
	d.count++
	d.accessedAt = time.Now().UTC()
	s.pending[id] = d
}

// FlushTouches applies all pending touches by rewriting each affected
// record through the codec/segment/index path, then clears the batch.
func (s *Store) FlushTouches() {
	s.touchMu.Lock()
	batch := s.pending
	s.pending = make(map[string]touchDelta)
	s.touchMu.Unlock()

	for id, d := range batch {
		mem, err := s.Get(id)
		if err != nil {
			continue // record gone (deleted/expired) since the touch was recorded
		}
		mem.AccessCount += d.count
		if d.accessedAt.After(mem.LastAccessedAt) {
			mem.LastAccessedAt = d.accessedAt
		}
		frame, err := codec.Encode(mem, s.compressionThreshold())
		if err != nil {
			continue
		}
		s.locks.WithLock(mem.UserID, func() {
			if _, err := s.seg.Append(id, frame); err != nil {
				return
			}
			s.idx.Add(mem)
		})
	}
}

// Rewrite re-encodes and re-appends mem (used by the decay engine for
// importance attenuation bucket changes), updating the index. Like
// Tombstone it does not take the per-user lock: the decay engine already
// holds mem.UserID's stripe when it calls Rewrite.
func (s *Store) Rewrite(mem model.Memory) error {
	frame, err := codec.Encode(mem, s.compressionThreshold())
	if err != nil {
		return err
	}
	if _, err := s.seg.Append(mem.ID, frame); err != nil {
		return err
	}
	s.idx.Add(mem)
	return nil
}

// Tombstone removes id from the live set without the ownership checks
// Delete performs — used internally by the decay engine, which already
// holds the per-user lock and has already verified ownership via the
// index scan it's iterating.
func (s *Store) Tombstone(id string) error {
	if _, err := s.seg.Tombstone(id); err != nil {
		return err
	}
	s.idx.Remove(id)
	return nil
}

// Indexes exposes the underlying index set to the planner/decay/
// summarizer, all of which live in sibling internal packages and need
// direct read access to avoid duplicating index logic in the facade.
func (s *Store) Indexes() *index.Indexes { return s.idx }

// Locks exposes the striped lock table so the decay engine can take the
// same per-user write lock the facade uses.
func (s *Store) Locks() *striped.Locks { return s.locks }

// SessionMeta exposes the sidecar store to the coordinator for
// create_session/list_sessions/summarize's name+metadata lookups.
func (s *Store) SessionMeta() *sessionmeta.Store { return s.sm }

// Segments exposes the segment store for the decay engine's post-sweep
// compaction trigger.
func (s *Store) Segments() *segment.Store { return s.seg }

// Score computes the composite score for mem with the given text
// relevance contribution (0 when there's no active text filter).
func (s *Store) Score(mem model.Memory, now time.Time, textRelevance float64) float64 {
	return scoring.Composite(mem.Importance, mem.CreatedAt, now, textRelevance, mem.AccessCount)
}

func (s *Store) compressionThreshold() int64 {
	if !s.cfg.EnableCompression {
		return 1 << 62 // effectively never compress
	}
	return s.cfg.CompressionThresholdBytes
}

func validateInput(in model.Input) error {
	if in.UserID == "" || len(in.UserID) > maxIDBytes {
		return errs.Invalid("user_id must be non-empty and <=%d bytes", maxIDBytes)
	}
	if in.SessionID == "" || len(in.SessionID) > maxIDBytes {
		return errs.Invalid("session_id must be non-empty and <=%d bytes", maxIDBytes)
	}
	if len(in.Content) == 0 || len(in.Content) > maxContentBytes {
		return errs.TooLargeErr("content must be 1 byte to %d bytes", maxContentBytes)
	}
	if in.Importance != nil && (*in.Importance < 0 || *in.Importance > 1) {
		return errs.Invalid("importance must be in [0,1]")
	}
	if metaSize(in.Metadata) > maxMetadataBytes {
		return errs.TooLargeErr("metadata must encode to <=%d bytes", maxMetadataBytes)
	}
	return nil
}

func metaSize(m model.Metadata) int {
	if m == nil {
		return 0
	}
	total := 0
	for k, v := range m {
		total += len(k)
		if s, ok := v.(string); ok {
			total += len(s)
		} else {
			total += 8
		}
	}
	return total
}

func importanceOrDefault(importance *float64) float64 {
	if importance == nil {
		return 0.5
	}
	return *importance
}

func expiresAt(in model.Input, now time.Time, defaultTTLHours float64) *time.Time {
	ttl := defaultTTLHours
	if in.TTLHours != nil {
		ttl = *in.TTLHours
	}
	if ttl <= 0 {
		return nil
	}
	t := now.Add(time.Duration(ttl * float64(time.Hour)))
	return &t
}

// newID assigns a ULID — globally unique and lexicographically
// time-sortable — using crypto/rand as the entropy source so id
// generation stays safe across the many goroutines writing concurrently
// under different striped locks.
func (s *Store) newID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}
