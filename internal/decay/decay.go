// Package decay implements the periodic sweep that expires, attenuates,
// and evicts memories, and triggers segment compaction. Scheduling is a
// run-once-at-startup-then-ticker actor that sweeps users in order,
// applying TTL, attenuation, and cap-eviction formulas per user.
package decay

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mindcache/mindcache/internal/config"
	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/model"
	"github.com/mindcache/mindcache/internal/store"
)

const lowImportanceMinAge = 7 * 24 * time.Hour

// Engine runs the decay sweep. Construct with New, wire it into the store
// facade's eviction hook with SetEvictHook on the facade, and start the
// background scheduler with Start when auto-decay is enabled.
type Engine struct {
	cfg config.Config
	st  *store.Store
	log zerolog.Logger
	now func() time.Time

	mu        sync.Mutex
	lastStats model.DecayStats

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs the decay engine over an already-assembled store facade.
func New(cfg config.Config, st *store.Store, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		st:     st,
		log:    log.With().Str("component", "decay").Logger(),
		now:    func() time.Time { return time.Now().UTC() },
		stopCh: make(chan struct{}),
	}
}

// SetClock overrides the engine's notion of "now", letting tests advance
// wall-clock time without sleeping.
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Start launches the background scheduler: a time.Ticker firing every
// decay_interval_hours, stoppable via Stop. Does not run an initial sweep
// itself — the coordinator calls RunDecay(false) once at startup before
// starting the ticker.
func (e *Engine) Start() {
	interval := time.Duration(e.cfg.DecayIntervalHours * float64(time.Hour))
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if _, err := e.RunDecay(false); err != nil {
					e.log.Error().Err(err).Msg("scheduled decay sweep failed")
				}
			case <-e.stopCh:
				return
			}
		}
	}()
}

// Stop shuts down the background scheduler and waits for it to exit.
func (e *Engine) Stop() {
	close(e.stopCh)
	e.wg.Wait()
}

// LastStats returns the most recently published DecayStats, for the
// coordinator's stats() aggregation.
func (e *Engine) LastStats() *model.DecayStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.lastStats.RanAt.IsZero() {
		return nil
	}
	stats := e.lastStats
	return &stats
}

// RunDecay sweeps every user, lexicographically, performing TTL expiry,
// importance attenuation, low-importance eviction, and per-user cap
// eviction under that user's per-user write lock, and publishes the
// aggregate DecayStats. force is accepted for CLI/API symmetry but the
// sweep itself is unconditional — there's no cheaper "nothing to do" path
// to skip, since determining that requires scanning anyway.
func (e *Engine) RunDecay(force bool) (model.DecayStats, error) {
	now := e.now()
	stats := model.DecayStats{RanAt: now}

	users := make([]string, 0)
	for u := range e.st.Indexes().PerUserCounts() {
		users = append(users, u)
	}
	sort.Strings(users)

	for _, userID := range users {
		e.st.Locks().WithLock(userID, func() {
			scanned, expired, attenuated, evicted := e.sweepUser(userID, now)
			stats.Scanned += scanned
			stats.Expired += expired
			stats.Attenuated += attenuated
			stats.Evicted += evicted
		})
	}

	stats.Compacted = e.compactCandidates()

	e.mu.Lock()
	e.lastStats = stats
	e.mu.Unlock()
	e.log.Info().
		Int("scanned", stats.Scanned).Int("expired", stats.Expired).
		Int("attenuated", stats.Attenuated).Int("evicted", stats.Evicted).
		Int("compacted", stats.Compacted).Msg("decay sweep complete")
	return stats, nil
}

// sweepUser performs steps 1-4 for a single user. Caller holds userID's
// stripe lock.
func (e *Engine) sweepUser(userID string, now time.Time) (scanned, expired, attenuated, evicted int) {
	for _, id := range e.st.Indexes().UserIDs(userID) {
		mem, err := e.st.Get(id)
		if err != nil {
			// NotFound: already gone by a concurrent path. CorruptRecord:
			// tombstone it now so it stops occupying a per-user cap slot
			// and stops blocking segment compaction.
			if errs.KindOf(err) == errs.CorruptRecord {
				if tErr := e.st.Tombstone(id); tErr != nil {
					e.log.Warn().Err(tErr).Str("id", id).Msg("failed to tombstone corrupt record")
				}
			}
			continue
		}
		scanned++

		// Step 1: TTL expiry.
		if mem.ExpiresAt != nil && !mem.ExpiresAt.After(now) {
			if err := e.st.Tombstone(id); err == nil {
				expired++
			}
			continue
		}

		// Step 2: importance attenuation, write-amplification-avoiding.
		ageDays := now.Sub(mem.CreatedAt).Hours() / 24
		decayed := mem.Importance * math.Exp(-ageDays/e.cfg.HalfLifeImportanceDays)
		if decayed < 0 {
			decayed = 0
		}
		if importanceBucket(decayed) != importanceBucket(mem.Importance) {
			mem.Importance = decayed
			if err := e.st.Rewrite(mem); err == nil {
				attenuated++
			}
		} else {
			mem.Importance = decayed
		}

		// Step 3: low-importance sweep.
		age := now.Sub(mem.CreatedAt)
		if mem.Importance < e.cfg.ImportanceThreshold && mem.AccessCount == 0 && age > lowImportanceMinAge {
			if err := e.st.Tombstone(id); err == nil {
				evicted++
			}
		}
	}

	// Step 4: per-user cap.
	n, err := e.evictToCap(userID, e.cfg.MaxMemoriesPerUser, now)
	if err == nil {
		evicted += n
	}
	return scanned, expired, attenuated, evicted
}

// EvictOneForCap implements the store facade's pre-insertion eviction
// hook: an eviction of the lowest-scoring record for that user runs
// before insertion. It evicts exactly enough to leave room for one more
// record.
func (e *Engine) EvictOneForCap(userID string) (int, error) {
	return e.evictToCap(userID, e.cfg.MaxMemoriesPerUser-1, e.now())
}

// evictToCap evicts userID's lowest-scoring live records (composite
// score, text weight zero) until at most capacity remain.
func (e *Engine) evictToCap(userID string, capacity int, now time.Time) (int, error) {
	if capacity < 0 {
		capacity = 0
	}
	ids := e.st.Indexes().UserIDs(userID)
	if len(ids) <= capacity {
		return 0, nil
	}

	type candidate struct {
		id    string
		score float64
	}
	candidates := make([]candidate, 0, len(ids))
	for _, id := range ids {
		mem, err := e.st.Get(id)
		if err != nil {
			if errs.KindOf(err) == errs.CorruptRecord {
				if tErr := e.st.Tombstone(id); tErr != nil {
					e.log.Warn().Err(tErr).Str("id", id).Msg("failed to tombstone corrupt record")
				}
			}
			continue
		}
		candidates = append(candidates, candidate{id: id, score: e.st.Score(mem, now, 0)})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	toEvict := len(candidates) - capacity
	if toEvict <= 0 {
		return 0, nil
	}
	evicted := 0
	for _, c := range candidates[:toEvict] {
		if err := e.st.Tombstone(c.id); err != nil {
			return evicted, errs.IoErr("evict over-cap record", err)
		}
		evicted++
	}
	return evicted, nil
}

// compactCandidates runs compaction on every segment whose live fraction
// has dropped below threshold, returning how many were compacted. Only the
// live-fraction trigger is applied, here and in the segment store's own
// Tombstone path; compaction_min_evictions is passed to the segment store
// but no eviction count ever triggers compaction.
func (e *Engine) compactCandidates() int {
	compacted := 0
	for _, segID := range e.st.Segments().CompactionCandidates() {
		if err := e.st.Segments().Compact(segID); err != nil {
			e.log.Warn().Err(err).Uint64("segment", segID).Msg("post-sweep compaction failed")
			continue
		}
		compacted++
	}
	return compacted
}

func importanceBucket(importance float64) int {
	b := int(importance * 10)
	if b < 0 {
		b = 0
	}
	if b > 9 {
		b = 9
	}
	return b
}
