// Package planner composes a recall filter into an index intersection
// plan, scores and ranks the survivors, and trims to the requested limit.
package planner

import (
	"sort"
	"time"

	"github.com/mindcache/mindcache/internal/analyzer"
	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/index"
	"github.com/mindcache/mindcache/internal/model"
	"github.com/mindcache/mindcache/internal/scoring"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000

	narrowRangeThreshold = 7 * 24 * time.Hour
)

// MemoryFetcher resolves a candidate id to its full record, matching
// store.Store.Get's signature without importing the store package
// (planner sits below store in the dependency order but only needs reads,
// so it depends on indexes directly and takes a fetch function instead).
type MemoryFetcher func(id string) (model.Memory, error)

// Plan runs the full filter-intersect-score-rank pipeline against ix,
// fetching full records through fetch, and returns the ranked, trimmed,
// touch-eligible results.
func Plan(ix *index.Indexes, fetch MemoryFetcher, filter model.Filter, now time.Time) ([]model.ScoredMemory, error) {
	if filter.UserID == "" {
		return nil, errs.Invalid("user_id is required")
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	candidates := seedSet(ix, filter)
	candidates = intersectImportance(ix, filter, candidates)
	candidates = intersectTime(ix, filter, candidates)

	terms := queryTerms(filter)
	termFreqSums := make(map[string]int)
	if len(terms) > 0 {
		matched := ix.MatchAll(terms)
		candidates = intersectSet(candidates, idSet(matched))
		termFreqSums = matched
	}

	docFreqMin := 0
	if len(terms) > 0 {
		docFreqMin = minDocFreq(ix, terms)
	}
	_, _, recordCount, _ := ix.Counts()

	scored := make([]model.ScoredMemory, 0, len(candidates))
	for id := range candidates {
		mem, err := fetch(id)
		if err != nil {
			if errs.KindOf(err) == errs.CorruptRecord || errs.KindOf(err) == errs.NotFound {
				// Skip rather than fail the whole recall. fetch is expected to
				// be a self-healing reader (store.Store.GetOrIsolate) that
				// already tombstoned a CorruptRecord id before returning it
				// here, so the id won't keep occupying a cap slot or block
				// compaction.
				continue
			}
			return nil, err
		}
		textRelevance := 0.0
		if len(terms) > 0 {
			textRelevance = scoring.BM25Lite(termFreqSums[id], len(analyzer.Tokenize(mem.Content)), avgDocLen(recordCount), recordCount, docFreqMin)
		}
		score := scoring.Composite(mem.Importance, mem.CreatedAt, now, textRelevance, mem.AccessCount)
		scored = append(scored, model.ScoredMemory{Memory: mem, Score: score})
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if !scored[i].Memory.CreatedAt.Equal(scored[j].Memory.CreatedAt) {
			return scored[i].Memory.CreatedAt.After(scored[j].Memory.CreatedAt)
		}
		return scored[i].Memory.ID < scored[j].Memory.ID
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}

// seedSet picks the most selective available structure, priority session
// > time (range < 7 days) > user.
func seedSet(ix *index.Indexes, filter model.Filter) map[string]bool {
	if filter.SessionID != "" {
		return ix.SessionIDSet(filter.SessionID)
	}
	if filter.DateFrom != nil && filter.DateTo != nil && filter.DateTo.Sub(*filter.DateFrom) < narrowRangeThreshold {
		return ix.TimeRangeIDs(filter.UserID, *filter.DateFrom, *filter.DateTo)
	}
	return ix.UserIDSet(filter.UserID)
}

// intersectImportance applies the importance-index intersection when
// min_importance > 0.
func intersectImportance(ix *index.Indexes, filter model.Filter, candidates map[string]bool) map[string]bool {
	if filter.MinImportance <= 0 {
		return candidates
	}
	return intersectSet(candidates, ix.ImportanceAtLeast(filter.UserID, filter.MinImportance))
}

// intersectTime applies the time-index intersection when a date bound is
// present and the seed set wasn't already the time index.
func intersectTime(ix *index.Indexes, filter model.Filter, candidates map[string]bool) map[string]bool {
	usedTimeAsSeed := filter.SessionID == "" && filter.DateFrom != nil && filter.DateTo != nil &&
		filter.DateTo.Sub(*filter.DateFrom) < narrowRangeThreshold
	if usedTimeAsSeed || (filter.DateFrom == nil && filter.DateTo == nil) {
		return candidates
	}
	from := earliestTime
	to := time.Now().UTC().AddDate(100, 0, 0)
	if filter.DateFrom != nil {
		from = *filter.DateFrom
	}
	if filter.DateTo != nil {
		to = *filter.DateTo
	}
	return intersectSet(candidates, ix.TimeRangeIDs(filter.UserID, from, to))
}

var earliestTime = time.Unix(0, 0).UTC()

// idSet drops MatchAll's term-frequency values, keeping only the id set.
func idSet(m map[string]int) map[string]bool {
	out := make(map[string]bool, len(m))
	for id := range m {
		out[id] = true
	}
	return out
}

func intersectSet(a, b map[string]bool) map[string]bool {
	if a == nil {
		return b
	}
	out := make(map[string]bool)
	for id := range a {
		if b[id] {
			out[id] = true
		}
	}
	return out
}

// queryTerms tokenizes filter.Query and merges it with filter.Keywords,
// producing the AND-semantics term list for the full-text step. A query
// that tokenizes to zero terms is a no-op, so it's simply omitted rather
// than returned as an empty-but-present filter.
func queryTerms(filter model.Filter) []string {
	var terms []string
	terms = append(terms, analyzer.Tokenize(filter.Query)...)
	for _, kw := range filter.Keywords {
		terms = append(terms, analyzer.Tokenize(kw)...)
	}
	return dedupe(terms)
}

func dedupe(terms []string) []string {
	seen := make(map[string]bool, len(terms))
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func minDocFreq(ix *index.Indexes, terms []string) int {
	min := 0
	for i, t := range terms {
		df := ix.DocFreq(t)
		if i == 0 || df < min {
			min = df
		}
	}
	if min == 0 {
		min = 1
	}
	return min
}

func avgDocLen(recordCount int) int {
	// A fixed heuristic average content length in tokens; the inverted
	// index doesn't track per-document length distributions, and BM25's
	// sensitivity to this constant is low once IDF dominates at the
	// corpus sizes this store targets.
	if recordCount == 0 {
		return 1
	}
	return 40
}
