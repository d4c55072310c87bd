// Package coordinator assembles configuration, construction order,
// decay-scheduler lifecycle, and every external operation into a single
// façade. It is MindCache's only process-wide state — constructed once at
// init, torn down deterministically by Close.
package coordinator

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"github.com/mindcache/mindcache/internal/analyzer"
	"github.com/mindcache/mindcache/internal/codec"
	"github.com/mindcache/mindcache/internal/config"
	"github.com/mindcache/mindcache/internal/decay"
	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/index"
	"github.com/mindcache/mindcache/internal/model"
	"github.com/mindcache/mindcache/internal/planner"
	"github.com/mindcache/mindcache/internal/retry"
	"github.com/mindcache/mindcache/internal/segment"
	"github.com/mindcache/mindcache/internal/sessionmeta"
	"github.com/mindcache/mindcache/internal/store"
	"github.com/mindcache/mindcache/internal/summarizer"
)

// Coordinator is the public façade every external binding (CLI, SDK, HTTP
// transport) calls into.
type Coordinator struct {
	cfg config.Config
	seg *segment.Store
	idx *index.Indexes
	sm  *sessionmeta.Store
	st  *store.Store
	dec *decay.Engine
	log zerolog.Logger

	idxDir string
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Open assembles the full core (codec → segment → indexes → sessionmeta →
// store facade → decay engine; the planner and summarizer are stateless
// and called directly), freezing configuration on first init and replaying
// persisted state on every subsequent open.
func Open(cfg config.Config) (*Coordinator, error) {
	if err := os.MkdirAll(cfg.StoragePath, 0o755); err != nil {
		return nil, errs.IoErr("create storage_path", err)
	}
	cfg, err := freezeConfig(cfg)
	if err != nil {
		return nil, err
	}

	log := zerolog.New(os.Stderr).With().Timestamp().Str("component", "coordinator").Logger()

	segDir := filepath.Join(cfg.StoragePath, "segments")
	seg, err := segment.Open(segDir, cfg.SegmentRollBytes, cfg.CompactionThreshold, cfg.CompactionMinEvictions, log)
	if err != nil {
		return nil, err
	}

	idxDir := filepath.Join(cfg.StoragePath, "indexes")
	idx, err := loadOrRebuildIndex(idxDir, seg, log)
	if err != nil {
		seg.Close()
		return nil, err
	}

	smPath := filepath.Join(cfg.StoragePath, "sessions", "sessions.db")
	sm, err := sessionmeta.Open(smPath)
	if err != nil {
		seg.Close()
		return nil, err
	}

	st := store.New(cfg, seg, idx, sm, log)
	dec := decay.New(cfg, st, log)
	st.SetEvictHook(dec.EvictOneForCap)

	c := &Coordinator{
		cfg: cfg, seg: seg, idx: idx, sm: sm, st: st, dec: dec, log: log,
		idxDir: idxDir, stopCh: make(chan struct{}),
	}

	seg.SetRollHook(func() { c.snapshotIndex() })

	if _, err := dec.RunDecay(false); err != nil {
		log.Warn().Err(err).Msg("startup decay sweep failed")
	}
	if cfg.AutoDecayEnabled {
		dec.Start()
	}
	c.startBackgroundLoops()
	return c, nil
}

// freezeConfig writes cfg to storage_path/config.json on first init, or
// loads and returns the already-frozen config on every later open.
func freezeConfig(cfg config.Config) (config.Config, error) {
	path := filepath.Join(cfg.StoragePath, "config.json")
	data, err := os.ReadFile(path)
	if err == nil {
		frozen, err := config.Load(data)
		if err != nil {
			return config.Config{}, errs.InternalErr("load frozen config.json", err)
		}
		return frozen, nil
	}
	if !os.IsNotExist(err) {
		return config.Config{}, errs.IoErr("read config.json", err)
	}
	encoded, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return config.Config{}, errs.InternalErr("marshal config.json", err)
	}
	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return config.Config{}, errs.IoErr("write config.json", err)
	}
	return cfg, nil
}

// loadOrRebuildIndex loads the newest indexes/snapshot-<epoch>.idx if one
// exists, then reconciles it against the segment store's live set by
// record id — dropping anything the snapshot still has but the segment
// store no longer does, and reindexing anything live the snapshot missed.
func loadOrRebuildIndex(idxDir string, seg *segment.Store, log zerolog.Logger) (*index.Indexes, error) {
	if err := os.MkdirAll(idxDir, 0o755); err != nil {
		return nil, errs.IoErr("create indexes dir", err)
	}
	snapPath := newestSnapshot(idxDir)

	var idx *index.Indexes
	if snapPath != "" {
		loaded, err := index.LoadSnapshot(snapPath)
		if err != nil {
			log.Warn().Err(err).Str("snapshot", snapPath).Msg("index snapshot unreadable, rebuilding from segments")
			idx = index.New()
		} else {
			idx = loaded
		}
	} else {
		idx = index.New()
	}

	liveIDs := seg.AllLiveIDs()
	liveSet := make(map[string]bool, len(liveIDs))
	for _, id := range liveIDs {
		liveSet[id] = true
	}
	for _, id := range idx.AllIDs() {
		if !liveSet[id] {
			idx.Remove(id)
		}
	}
	for _, id := range liveIDs {
		if idx.Has(id) {
			continue
		}
		frame, ok, err := seg.Read(id)
		if err != nil || !ok {
			continue // corruption excluded here; isolated and tombstoned on the next decay sweep
		}
		var mem model.Memory
		if err := codec.Decode(frame, &mem, "", 0); err != nil {
			continue
		}
		idx.Add(mem)
	}
	return idx, nil
}

func newestSnapshot(idxDir string) string {
	entries, err := os.ReadDir(idxDir)
	if err != nil {
		return ""
	}
	var best string
	var bestEpoch int64 = -1
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "snapshot-") || !strings.HasSuffix(name, ".idx") {
			continue
		}
		epochStr := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot-"), ".idx")
		epoch, err := strconv.ParseInt(epochStr, 10, 64)
		if err != nil {
			continue
		}
		if epoch > bestEpoch {
			bestEpoch = epoch
			best = filepath.Join(idxDir, name)
		}
	}
	return best
}

// snapshotIndex writes the current index state to a fresh
// snapshot-<epoch>.idx file.
func (c *Coordinator) snapshotIndex() {
	path := filepath.Join(c.idxDir, fmt.Sprintf("snapshot-%d.idx", time.Now().UTC().UnixNano()))
	if err := c.idx.SaveSnapshot(path); err != nil {
		c.log.Warn().Err(err).Msg("index snapshot failed")
	}
}

// startBackgroundLoops runs the access-flush and index-snapshot tickers
// (access_flush_interval, index_snapshot_interval).
func (c *Coordinator) startBackgroundLoops() {
	flushEvery := time.Duration(c.cfg.AccessFlushInterval * float64(time.Second))
	snapEvery := time.Duration(c.cfg.IndexSnapshotInterval * float64(time.Second))

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(flushEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.st.FlushTouches()
			case <-c.stopCh:
				return
			}
		}
	}()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		t := time.NewTicker(snapEvery)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				c.snapshotIndex()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Close stops the decay scheduler and background loops, flushes pending
// touches, writes a final index snapshot, and releases every file handle.
func (c *Coordinator) Close() error {
	close(c.stopCh)
	c.wg.Wait()
	if c.cfg.AutoDecayEnabled {
		c.dec.Stop()
	}
	c.st.FlushTouches()
	c.snapshotIndex()
	if err := c.sm.Close(); err != nil {
		return err
	}
	return c.seg.Close()
}

// Save persists a new memory. Idempotent on (user_id, request_id) within
// a 5-minute window: a retry with the same request id returns the id the
// original call produced instead of inserting a duplicate.
func (c *Coordinator) Save(in model.Input) (string, error) {
	if in.UserID != "" && in.RequestID != "" {
		if prior, found, err := c.sm.CheckIdempotency(in.UserID, in.RequestID); err != nil {
			return "", err
		} else if found {
			return prior, nil
		}
	}

	var mem model.Memory
	err := retry.IoWithBackoff(func() error {
		m, err := c.st.Put(in)
		if err != nil {
			return err
		}
		mem = m
		return nil
	})
	if err != nil {
		return "", err
	}

	if in.RequestID != "" {
		if err := c.sm.RecordIdempotency(in.UserID, in.RequestID, mem.ID); err != nil {
			c.log.Warn().Err(err).Msg("failed to record idempotency key")
		}
	}
	return mem.ID, nil
}

// Recall runs the query plan and batches an access touch for every
// returned id.
func (c *Coordinator) Recall(filter model.Filter) ([]model.Memory, int, error) {
	scored, err := planner.Plan(c.idx, c.st.GetOrIsolate, filter, time.Now().UTC())
	if err != nil {
		return nil, 0, err
	}
	memories := make([]model.Memory, len(scored))
	for i, s := range scored {
		memories[i] = s.Memory
		c.st.Touch(s.Memory.ID)
	}
	return memories, len(memories), nil
}

// Summarize returns the structured digest for sessionID.
func (c *Coordinator) Summarize(sessionID string) (model.SessionSummary, error) {
	return summarizer.Summarize(c.idx, c.st.GetOrIsolate, sessionID, time.Now().UTC())
}

// ExportUser streams every live memory for userID newest-first to fn,
// stopping at the first error fn returns. Corrupt records are tombstoned
// as GetMany discovers them rather than silently left occupying a
// per-user cap slot.
func (c *Coordinator) ExportUser(userID string, fn func(model.Memory) error) error {
	mems, _ := c.st.GetMany(c.idx.UserIDs(userID))
	for _, mem := range mems {
		if err := fn(mem); err != nil {
			return err
		}
	}
	return nil
}

// CreateSession assigns a new session id and registers its optional
// name/metadata sidecar.
func (c *Coordinator) CreateSession(userID, name string, metadata model.Metadata) (string, error) {
	if userID == "" {
		return "", errs.Invalid("user_id is required")
	}
	sessionID := ulid.MustNew(ulid.Timestamp(time.Now().UTC()), rand.Reader).String()
	if err := c.sm.CreateSession(sessionID, userID, name, metadata); err != nil {
		return "", err
	}
	return sessionID, nil
}

// ListSessions returns a Session summary per registered session for
// userID, each carrying derived timestamps, member count, and a tags
// union. When query is non-empty, sessions are filtered to those whose
// members match the full-text step (AND semantics across tokens), scoped
// to that session's own member ids.
func (c *Coordinator) ListSessions(userID, query string) ([]model.Session, error) {
	ids, err := c.sm.SessionsForUser(userID)
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)

	var out []model.Session
	for _, sessionID := range ids {
		entries := c.idx.SessionEntries(sessionID)
		if len(entries) == 0 {
			continue // every member tombstoned; nothing left to summarize
		}
		if query != "" && !sessionMatchesQuery(c.idx, entries, query) {
			continue
		}
		name, metadata, err := c.sm.NameAndMetadata(sessionID)
		if err != nil {
			return nil, err
		}
		sess := model.Session{
			ID:           sessionID,
			UserID:       userID,
			Name:         name,
			Metadata:     metadata,
			CreatedAt:    entries[len(entries)-1].CreatedAt,
			LastActiveAt: entries[0].CreatedAt,
			MemoryCount:  len(entries),
		}
		sess.Tags = c.sessionTags(entries)
		out = append(out, sess)
	}
	return out, nil
}

// sessionTags derives Session.Tags as the union of string-list "tags"
// entries found in member memories' metadata. Corrupt members are
// tombstoned as GetMany discovers them.
func (c *Coordinator) sessionTags(entries []index.Entry) []string {
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.ID
	}
	mems, _ := c.st.GetMany(ids)

	seen := map[string]bool{}
	var tags []string
	for _, mem := range mems {
		raw, ok := mem.Metadata["tags"]
		if !ok {
			continue
		}
		list, ok := raw.([]any)
		if !ok {
			continue
		}
		for _, v := range list {
			tag, ok := v.(string)
			if !ok || tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

func sessionMatchesQuery(ix *index.Indexes, entries []index.Entry, query string) bool {
	terms := analyzer.Tokenize(query)
	if len(terms) == 0 {
		return true
	}
	matched := ix.MatchAll(terms)
	for _, e := range entries {
		if _, ok := matched[e.ID]; ok {
			return true
		}
	}
	return false
}

// DeleteSession removes every live memory belonging to sessionID.
func (c *Coordinator) DeleteSession(userID, sessionID string) (int, error) {
	return c.st.DeleteSession(userID, sessionID)
}

// RunDecay triggers an immediate decay sweep.
func (c *Coordinator) RunDecay(force bool) (model.DecayStats, error) {
	return c.dec.RunDecay(force)
}

// Stats aggregates storage, index, and last-decay statistics.
func (c *Coordinator) Stats() model.Stats {
	users, sessions, records, terms := c.idx.Counts()
	segStats := c.seg.Stats()
	return model.Stats{
		TotalMemories:   records,
		UsersTracked:    users,
		SessionsTracked: sessions,
		SegmentCount:    segStats.SegmentCount,
		SegmentBytes:    segStats.TotalBytes,
		TermCount:       terms,
		LastDecay:       c.dec.LastStats(),
		PerUserCounts:   c.idx.PerUserCounts(),
	}
}

// Config returns the frozen configuration this Coordinator was opened
// with, for callers that want to report it.
func (c *Coordinator) Config() config.Config { return c.cfg }

// NewRequestID generates a request id for idempotent save() retries,
// exposed for callers (CLI, tests) that need to construct one explicitly
// rather than leaving save() non-idempotent.
func NewRequestID() string { return uuid.NewString() }
