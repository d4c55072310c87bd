// Package summarizer builds a deterministic, dependency-free session
// digest — statistics, TF-IDF key topics, and a highest-scoring excerpt —
// with no LLM or external call of any kind.
package summarizer

import (
	"math"
	"sort"
	"time"

	"github.com/mindcache/mindcache/internal/analyzer"
	"github.com/mindcache/mindcache/internal/errs"
	"github.com/mindcache/mindcache/internal/index"
	"github.com/mindcache/mindcache/internal/model"
	"github.com/mindcache/mindcache/internal/planner"
	"github.com/mindcache/mindcache/internal/scoring"
)

const (
	keyTopicCount   = 5
	excerptCount    = 3
	excerptMaxChars = 240
	minTermDocFreq  = 2
)

// Summarize loads every memory in sessionID via ix/fetch and folds them
// into a structured digest. Returns SessionEmpty if the session has no
// live memories.
func Summarize(ix *index.Indexes, fetch planner.MemoryFetcher, sessionID string, now time.Time) (model.SessionSummary, error) {
	entries := ix.SessionEntries(sessionID)
	memories := make([]model.Memory, 0, len(entries))
	for _, e := range entries {
		mem, err := fetch(e.ID)
		if err != nil {
			if errs.KindOf(err) == errs.CorruptRecord || errs.KindOf(err) == errs.NotFound {
				continue
			}
			return model.SessionSummary{}, err
		}
		memories = append(memories, mem)
	}
	if len(memories) == 0 {
		return model.SessionSummary{}, errs.SessionEmptyErr(sessionID)
	}

	summary := model.SessionSummary{
		SessionID:   sessionID,
		UserID:      memories[0].UserID,
		MemoryCount: len(memories),
	}

	var importanceSum float64
	summary.TimeSpanStart = memories[0].CreatedAt
	summary.TimeSpanEnd = memories[0].CreatedAt
	for _, mem := range memories {
		importanceSum += mem.Importance
		if mem.CreatedAt.Before(summary.TimeSpanStart) {
			summary.TimeSpanStart = mem.CreatedAt
		}
		if mem.CreatedAt.After(summary.TimeSpanEnd) {
			summary.TimeSpanEnd = mem.CreatedAt
		}
	}
	summary.ImportanceScore = importanceSum / float64(len(memories))
	summary.KeyTopics = keyTopics(ix, memories)
	summary.SummaryText = excerpt(memories, now)
	return summary, nil
}

// keyTopics ranks terms by TF-IDF: term frequency summed across the
// session's memories, times idf derived from the global inverted index's
// document frequency. Terms appearing in fewer than minTermDocFreq of the
// session's own memories are skipped, same as stopwords.
func keyTopics(ix *index.Indexes, memories []model.Memory) []string {
	sessionTF := make(map[string]int)
	sessionDF := make(map[string]int)
	for _, mem := range memories {
		seen := make(map[string]bool)
		for term, tf := range analyzer.TermFrequencies(mem.Content) {
			sessionTF[term] += tf
			if !seen[term] {
				sessionDF[term]++
				seen[term] = true
			}
		}
	}

	_, _, corpusSize, _ := ix.Counts()
	if corpusSize == 0 {
		corpusSize = 1
	}

	type scored struct {
		term  string
		score float64
	}
	var candidates []scored
	for term, df := range sessionDF {
		if df < minTermDocFreq || analyzer.IsStopword(term) {
			continue
		}
		globalDF := ix.DocFreq(term)
		if globalDF == 0 {
			globalDF = 1
		}
		idf := math.Log(1 + float64(corpusSize)/float64(globalDF))
		candidates = append(candidates, scored{term: term, score: float64(sessionTF[term]) * idf})
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].term < candidates[j].term
	})

	n := keyTopicCount
	if n > len(candidates) {
		n = len(candidates)
	}
	topics := make([]string, n)
	for i := 0; i < n; i++ {
		topics[i] = candidates[i].term
	}
	return topics
}

// excerpt picks the excerptCount highest-scoring memories (text weight
// forced to zero), then concatenates them newest-first, each truncated to
// excerptMaxChars runes.
func excerpt(memories []model.Memory, now time.Time) string {
	type scored struct {
		mem   model.Memory
		score float64
	}
	candidates := make([]scored, len(memories))
	for i, mem := range memories {
		candidates[i] = scored{mem: mem, score: scoring.Composite(mem.Importance, mem.CreatedAt, now, 0, mem.AccessCount)}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].mem.CreatedAt.After(candidates[j].mem.CreatedAt)
	})

	n := excerptCount
	if n > len(candidates) {
		n = len(candidates)
	}
	top := make([]model.Memory, n)
	for i := 0; i < n; i++ {
		top[i] = candidates[i].mem
	}
	sort.Slice(top, func(i, j int) bool { return top[i].CreatedAt.After(top[j].CreatedAt) })

	out := ""
	for i, mem := range top {
		if i > 0 {
			out += "\n"
		}
		out += truncate(mem.Content, excerptMaxChars)
	}
	return out
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
