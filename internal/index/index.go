// Package index implements the five secondary index structures kept in
// memory over the segment store — by-user, by-session (+ session
// ownership), by-time, by-importance, and the inverted term index used by
// the query planner and summarizer. Updates are idempotent keyed on
// record id, so replaying a manifest on startup is safe to repeat.
//
// Reads take the structure's RWMutex for reading, which is Go's own
// lock-free-for-readers primitive: many concurrent RLocks never block
// each other.
package index

import (
	"sort"
	"sync"
	"time"

	"github.com/mindcache/mindcache/internal/analyzer"
	"github.com/mindcache/mindcache/internal/model"
)

// ImportanceBuckets is the fixed bucket count used by the
// importance-bucketed index.
const ImportanceBuckets = 10

// Entry is a (created_at, id) pair as kept in the user/session ordered
// sets, sorted created_at desc then id asc.
type Entry struct {
	ID        string    `msgpack:"id"`
	CreatedAt time.Time `msgpack:"created_at"`
}

// indexed is everything the indexes need to remember about a record in
// order to remove it again later (on tombstone, or to reindex on an
// importance-bucket-changing rewrite).
type indexed struct {
	UserID            string         `msgpack:"user_id"`
	SessionID         string         `msgpack:"session_id"`
	CreatedAt         time.Time      `msgpack:"created_at"`
	ImportanceBucket  int            `msgpack:"importance_bucket"`
	Terms             map[string]int `msgpack:"terms,omitempty"`
}

// Indexes holds all five structures. Zero value is not usable; use New.
type Indexes struct {
	mu sync.RWMutex

	byUser    map[string][]Entry
	bySession map[string][]Entry
	// sessionUsers enforces I3: a session's user_id is fixed by its first
	// memory and every subsequent write to that session id must match.
	sessionUsers map[string]string

	// timeIdx[userID][hourBucketUnix] -> set of ids
	timeIdx map[string]map[int64]map[string]bool
	// importanceIdx[userID][bucket] -> set of ids
	importanceIdx map[string][ImportanceBuckets]map[string]bool

	// terms[term] -> id -> term frequency in that record
	terms map[string]map[string]int

	recorded map[string]*indexed
}

// New returns an empty index set.
func New() *Indexes {
	return &Indexes{
		byUser:        make(map[string][]Entry),
		bySession:     make(map[string][]Entry),
		sessionUsers:  make(map[string]string),
		timeIdx:       make(map[string]map[int64]map[string]bool),
		importanceIdx: make(map[string][ImportanceBuckets]map[string]bool),
		terms:         make(map[string]map[string]int),
		recorded:      make(map[string]*indexed),
	}
}

func hourBucket(t time.Time) int64 { return t.Truncate(time.Hour).Unix() }

func importanceBucket(importance float64) int {
	b := int(importance * 10)
	if b < 0 {
		b = 0
	}
	if b >= ImportanceBuckets {
		b = ImportanceBuckets - 1
	}
	return b
}

// SessionOwner returns the user_id a session is bound to, and whether the
// session has been seen at all — used to enforce I3.
func (ix *Indexes) SessionOwner(sessionID string) (string, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	u, ok := ix.sessionUsers[sessionID]
	return u, ok
}

// Add indexes mem into all five structures, first removing any prior
// entry for the same id so reindexing (importance-bucket rewrites,
// manifest replay) stays idempotent.
func (ix *Indexes) Add(mem model.Memory) {
	termFreqs := analyzer.TermFrequencies(mem.Content)

	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(mem.ID)

	rec := &indexed{
		UserID:           mem.UserID,
		SessionID:        mem.SessionID,
		CreatedAt:         mem.CreatedAt,
		ImportanceBucket: importanceBucket(mem.Importance),
		Terms:            termFreqs,
	}
	ix.recorded[mem.ID] = rec

	entry := Entry{ID: mem.ID, CreatedAt: mem.CreatedAt}
	ix.byUser[mem.UserID] = insertSorted(ix.byUser[mem.UserID], entry)
	ix.bySession[mem.SessionID] = insertSorted(ix.bySession[mem.SessionID], entry)
	if _, ok := ix.sessionUsers[mem.SessionID]; !ok {
		ix.sessionUsers[mem.SessionID] = mem.UserID
	}

	bucket := hourBucket(mem.CreatedAt)
	if ix.timeIdx[mem.UserID] == nil {
		ix.timeIdx[mem.UserID] = make(map[int64]map[string]bool)
	}
	if ix.timeIdx[mem.UserID][bucket] == nil {
		ix.timeIdx[mem.UserID][bucket] = make(map[string]bool)
	}
	ix.timeIdx[mem.UserID][bucket][mem.ID] = true

	buckets := ix.importanceIdx[mem.UserID]
	if buckets[rec.ImportanceBucket] == nil {
		buckets[rec.ImportanceBucket] = make(map[string]bool)
	}
	buckets[rec.ImportanceBucket][mem.ID] = true
	ix.importanceIdx[mem.UserID] = buckets

	for term, tf := range termFreqs {
		if ix.terms[term] == nil {
			ix.terms[term] = make(map[string]int)
		}
		ix.terms[term][mem.ID] = tf
	}
}

// Remove deletes id's entry from all five structures. A no-op if the id
// was never indexed (idempotent).
func (ix *Indexes) Remove(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removeLocked(id)
}

func (ix *Indexes) removeLocked(id string) {
	rec, ok := ix.recorded[id]
	if !ok {
		return
	}
	delete(ix.recorded, id)

	ix.byUser[rec.UserID] = removeEntry(ix.byUser[rec.UserID], id)
	ix.bySession[rec.SessionID] = removeEntry(ix.bySession[rec.SessionID], id)

	bucket := hourBucket(rec.CreatedAt)
	if set := ix.timeIdx[rec.UserID]; set != nil {
		if ids := set[bucket]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(set, bucket)
			}
		}
	}

	buckets := ix.importanceIdx[rec.UserID]
	if ids := buckets[rec.ImportanceBucket]; ids != nil {
		delete(ids, id)
	}
	ix.importanceIdx[rec.UserID] = buckets

	for term := range rec.Terms {
		if ids := ix.terms[term]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(ix.terms, term)
			}
		}
	}
}

func insertSorted(entries []Entry, e Entry) []Entry {
	i := sort.Search(len(entries), func(i int) bool {
		if entries[i].CreatedAt.Equal(e.CreatedAt) {
			return entries[i].ID >= e.ID
		}
		return entries[i].CreatedAt.Before(e.CreatedAt)
	})
	entries = append(entries, Entry{})
	copy(entries[i+1:], entries[i:])
	entries[i] = e
	return entries
}

func removeEntry(entries []Entry, id string) []Entry {
	for i, e := range entries {
		if e.ID == id {
			return append(entries[:i], entries[i+1:]...)
		}
	}
	return entries
}

// UserIDs returns ids for userID newest-first (created_at desc, id asc).
func (ix *Indexes) UserIDs(userID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return entryIDs(ix.byUser[userID])
}

// SessionIDs returns ids for sessionID newest-first.
func (ix *Indexes) SessionIDs(sessionID string) []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return entryIDs(ix.bySession[sessionID])
}

// entryIDs copies the ids out of an already newest-first entry list,
// keeping its order.
func entryIDs(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

// TimeRangeIDs returns the union of ids in userID's hourly buckets
// overlapping [from, to].
func (ix *Indexes) TimeRangeIDs(userID string, from, to time.Time) map[string]bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]bool)
	buckets := ix.timeIdx[userID]
	for b, ids := range buckets {
		bucketTime := time.Unix(b, 0).UTC()
		if bucketTime.Add(time.Hour).Before(from) || bucketTime.After(to) {
			continue
		}
		for id := range ids {
			out[id] = true
		}
	}
	return out
}

// ImportanceAtLeast returns the union of ids in userID's importance
// buckets ⌈10·min⌉..9.
func (ix *Indexes) ImportanceAtLeast(userID string, min float64) map[string]bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]bool)
	start := int(minBucketCeil(min))
	buckets := ix.importanceIdx[userID]
	for b := start; b < ImportanceBuckets; b++ {
		for id := range buckets[b] {
			out[id] = true
		}
	}
	return out
}

func minBucketCeil(min float64) int {
	b := int(min * 10)
	if float64(b) < min*10 {
		b++
	}
	if b < 0 {
		b = 0
	}
	if b > ImportanceBuckets {
		b = ImportanceBuckets
	}
	return b
}

// Posting is one entry of a term's posting list: the record id and its
// term frequency within that record.
type Posting struct {
	ID string
	TF int
}

// PostingList returns term's postings, and the document frequency (how
// many distinct records contain the term) callers need for TF-IDF/BM25.
func (ix *Indexes) PostingList(term string) ([]Posting, int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ids := ix.terms[term]
	out := make([]Posting, 0, len(ids))
	for id, tf := range ids {
		out = append(out, Posting{ID: id, TF: tf})
	}
	return out, len(ids)
}

// DocFreq returns the number of distinct records containing term, used by
// the summarizer's TF-IDF scoring without needing the full posting list.
func (ix *Indexes) DocFreq(term string) int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.terms[term])
}

// MatchAll intersects the posting lists for every term (AND semantics),
// returning the surviving ids and, for each, the
// summed term frequency across matched terms (used by the BM25-lite
// relevance term).
func (ix *Indexes) MatchAll(terms []string) map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if len(terms) == 0 {
		return nil
	}
	sets := make([]map[string]int, 0, len(terms))
	for _, t := range terms {
		sets = append(sets, ix.terms[t])
	}
	// Intersect against the smallest set first to minimize work.
	sort.Slice(sets, func(i, j int) bool { return len(sets[i]) < len(sets[j]) })
	if sets[0] == nil {
		return map[string]int{}
	}
	out := make(map[string]int)
	for id, tf := range sets[0] {
		sum := tf
		matched := true
		for _, s := range sets[1:] {
			v, ok := s[id]
			if !ok {
				matched = false
				break
			}
			sum += v
		}
		if matched {
			out[id] = sum
		}
	}
	return out
}

// UserIDSet returns every id recorded for userID as a set, used by the
// planner when no better seed structure applies.
func (ix *Indexes) UserIDSet(userID string) map[string]bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]bool)
	for _, e := range ix.byUser[userID] {
		out[e.ID] = true
	}
	return out
}

// SessionIDSet returns every id recorded for sessionID as a set.
func (ix *Indexes) SessionIDSet(sessionID string) map[string]bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]bool)
	for _, e := range ix.bySession[sessionID] {
		out[e.ID] = true
	}
	return out
}

// Has reports whether id is currently indexed.
func (ix *Indexes) Has(id string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	_, ok := ix.recorded[id]
	return ok
}

// AllIDs returns every currently-indexed id, in no particular order, used
// by the coordinator's startup reconciliation between a loaded snapshot
// and the segment store's live set.
func (ix *Indexes) AllIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make([]string, 0, len(ix.recorded))
	for id := range ix.recorded {
		out = append(out, id)
	}
	return out
}

// SessionEntries returns sessionID's (created_at, id) entries newest-first,
// letting callers derive a session's time span without refetching every
// member memory.
func (ix *Indexes) SessionEntries(sessionID string) []Entry {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	entries := ix.bySession[sessionID]
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}

// Counts reports the distinct users and sessions currently indexed, and
// the total record count, for the coordinator's stats() aggregation.
func (ix *Indexes) Counts() (users, sessions, records, terms int) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.byUser), len(ix.bySession), len(ix.recorded), len(ix.terms)
}

// PerUserCounts reports the live record count of every user.
func (ix *Indexes) PerUserCounts() map[string]int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	out := make(map[string]int, len(ix.byUser))
	for u, entries := range ix.byUser {
		out[u] = len(entries)
	}
	return out
}
