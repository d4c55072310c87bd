package index

import (
	"os"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/mindcache/mindcache/internal/errs"
)

// snapshotRecord is the flattened, exported shape written to a snapshot
// file — msgpack can't marshal unexported struct fields, so the live
// Indexes structure is projected into this before encoding.
type snapshotRecord struct {
	ID               string         `msgpack:"id"`
	UserID           string         `msgpack:"user_id"`
	SessionID        string         `msgpack:"session_id"`
	CreatedAt        int64          `msgpack:"created_at_unix_nano"`
	ImportanceBucket int            `msgpack:"importance_bucket"`
	Terms            map[string]int `msgpack:"terms,omitempty"`
}

// Snapshot is the full on-disk image written to
// `indexes/snapshot-<epoch>.idx`: every currently-indexed record,
// rebuildable by replaying Add for each.
type Snapshot struct {
	Records []snapshotRecord `msgpack:"records"`
}

// SaveSnapshot encodes the current index state to path (msgpack), the same
// encoding the codec uses for segment records.
func (ix *Indexes) SaveSnapshot(path string) error {
	ix.mu.RLock()
	snap := Snapshot{Records: make([]snapshotRecord, 0, len(ix.recorded))}
	for id, rec := range ix.recorded {
		snap.Records = append(snap.Records, snapshotRecord{
			ID:               id,
			UserID:           rec.UserID,
			SessionID:        rec.SessionID,
			CreatedAt:        rec.CreatedAt.UnixNano(),
			ImportanceBucket: rec.ImportanceBucket,
			Terms:            rec.Terms,
		})
	}
	ix.mu.RUnlock()

	data, err := msgpack.Marshal(snap)
	if err != nil {
		return errs.InternalErr("marshal index snapshot", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errs.IoErr("write index snapshot", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errs.IoErr("finalize index snapshot", err)
	}
	return nil
}

// LoadSnapshot rebuilds an index set directly from a snapshot file,
// without needing the original memory content (term frequencies are
// already captured in the snapshot, so re-tokenization isn't required).
func LoadSnapshot(path string) (*Indexes, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.IoErr("read index snapshot", err)
	}
	var snap Snapshot
	if err := msgpack.Unmarshal(data, &snap); err != nil {
		return nil, errs.CorruptErr(path, 0, err)
	}

	ix := New()
	for _, r := range snap.Records {
		rec := &indexed{
			UserID:           r.UserID,
			SessionID:        r.SessionID,
			CreatedAt:        timeFromUnixNano(r.CreatedAt),
			ImportanceBucket: r.ImportanceBucket,
			Terms:            r.Terms,
		}
		ix.recorded[r.ID] = rec
		entry := Entry{ID: r.ID, CreatedAt: rec.CreatedAt}
		ix.byUser[r.UserID] = insertSorted(ix.byUser[r.UserID], entry)
		ix.bySession[r.SessionID] = insertSorted(ix.bySession[r.SessionID], entry)
		if _, ok := ix.sessionUsers[r.SessionID]; !ok {
			ix.sessionUsers[r.SessionID] = r.UserID
		}
		bucket := hourBucket(rec.CreatedAt)
		if ix.timeIdx[r.UserID] == nil {
			ix.timeIdx[r.UserID] = make(map[int64]map[string]bool)
		}
		if ix.timeIdx[r.UserID][bucket] == nil {
			ix.timeIdx[r.UserID][bucket] = make(map[string]bool)
		}
		ix.timeIdx[r.UserID][bucket][r.ID] = true

		buckets := ix.importanceIdx[r.UserID]
		if buckets[r.ImportanceBucket] == nil {
			buckets[r.ImportanceBucket] = make(map[string]bool)
		}
		buckets[r.ImportanceBucket][r.ID] = true
		ix.importanceIdx[r.UserID] = buckets

		for term, tf := range r.Terms {
			if ix.terms[term] == nil {
				ix.terms[term] = make(map[string]int)
			}
			ix.terms[term][r.ID] = tf
		}
	}
	return ix, nil
}

func timeFromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
