// Package segment implements append-only on-disk segment files, their
// fsynced write manifests, tombstones, and compaction. The append →
// flush → fsync → manifest idiom writes with *os.File directly rather
// than a buffered writer, since every record must be durable before the
// store facade acknowledges a write.
package segment

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mindcache/mindcache/internal/codec"
	"github.com/mindcache/mindcache/internal/errs"
)

// Record is what the segment store persists: a memory's raw msgpack body
// plus the id the caller assigned, so the segment store stays agnostic
// of the memory shape it's moving. Tombstone records carry Deleted=true
// and an empty Body.
type Record struct {
	ID      string
	Body    []byte // already-framed bytes (codec.Encode output) when non-tombstone
	Deleted bool
}

// manifestEntry is one fsynced line in a segment's write journal:
// (record_id, segment_id, offset, length, deleted).
type manifestEntry struct {
	RecordID string
	SegID    uint64
	Offset   int64
	Length   int64
	Deleted  bool
}

// Store owns the active segment, rolls it, and drives compaction. All
// appends are serialized by mu: segment append is globally serialized.
type Store struct {
	dir          string
	rollBytes    int64
	compactAt    float64
	minEvictions int
	log          zerolog.Logger

	mu         sync.Mutex
	activeID   uint64
	activeFile *os.File
	activeMF   *os.File
	activeSize int64

	// liveCount/totalCount per segment id, used to decide compaction.
	liveCount  map[uint64]int
	totalCount map[uint64]int

	// location of the most recent frame for each live record id, used by
	// Read. Tombstoned ids are removed.
	locations map[string]Location

	// rollHook, if set, fires after a segment roll completes — the
	// coordinator uses it to trigger an index snapshot whenever a
	// segment rolls.
	rollHook func()
}

// SetRollHook registers fn to run after every segment roll.
func (s *Store) SetRollHook(fn func()) {
	s.mu.Lock()
	s.rollHook = fn
	s.mu.Unlock()
}

// Location pinpoints a record's frame within a sealed or active segment.
type Location struct {
	SegID  uint64
	Offset int64
}

// Open opens (or creates) the segment store rooted at dir, replaying every
// existing segment's manifest to rebuild in-memory locations: replay
// manifests in segment order and reconcile locations by record id.
func Open(dir string, rollBytes int64, compactAt float64, minEvictions int, log zerolog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.IoErr("create segment dir", err)
	}
	s := &Store{
		dir:          dir,
		rollBytes:    rollBytes,
		compactAt:    compactAt,
		minEvictions: minEvictions,
		log:          log,
		liveCount:    make(map[uint64]int),
		totalCount:   make(map[uint64]int),
		locations:    make(map[string]Location),
	}
	ids, err := existingSegmentIDs(dir)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if err := s.replay(id); err != nil {
			return nil, err
		}
	}
	var lastID uint64
	if len(ids) > 0 {
		lastID = ids[len(ids)-1]
	} else {
		lastID = 1
	}
	if err := s.openActive(lastID); err != nil {
		return nil, err
	}
	return s, nil
}

func existingSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errs.IoErr("read segment dir", err)
	}
	var ids []uint64
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".seg") {
			continue
		}
		idStr := strings.TrimSuffix(e.Name(), ".seg")
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func segPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%010d.seg", id))
}

func mfPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%010d.manifest", id))
}

// replay reads a sealed (or previously active) segment's manifest in order
// and reconstructs locations/liveCount/totalCount. Idempotent: replaying
// the same manifest twice yields the same final state.
func (s *Store) replay(id uint64) error {
	path := mfPath(s.dir, id)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.IoErr("read manifest", err)
	}
	entries, err := decodeManifest(data)
	if err != nil {
		return err
	}
	total := 0
	for _, e := range entries {
		total++
		if e.Deleted {
			if _, ok := s.locations[e.RecordID]; ok {
				delete(s.locations, e.RecordID)
				s.liveCount[e.SegID]--
			}
			continue
		}
		if _, existed := s.locations[e.RecordID]; !existed {
			s.liveCount[e.SegID]++
		}
		s.locations[e.RecordID] = Location{SegID: e.SegID, Offset: e.Offset}
	}
	s.totalCount[id] = total
	return nil
}

func (s *Store) openActive(id uint64) error {
	segF, err := os.OpenFile(segPath(s.dir, id), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return errs.IoErr("open active segment", err)
	}
	mfF, err := os.OpenFile(mfPath(s.dir, id), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		segF.Close()
		return errs.IoErr("open active manifest", err)
	}
	info, err := segF.Stat()
	if err != nil {
		segF.Close()
		mfF.Close()
		return errs.IoErr("stat active segment", err)
	}
	s.activeID = id
	s.activeFile = segF
	s.activeMF = mfF
	s.activeSize = info.Size()
	return nil
}

// Append writes a frame to the active segment, fsyncs both the segment
// and the manifest before returning, then rolls the segment if it has
// grown past rollBytes. Returns the record's durable location.
func (s *Store) Append(recordID string, frame []byte) (Location, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	offset := s.activeSize
	if _, err := s.activeFile.Write(frame); err != nil {
		return Location{}, errs.IoErr("write segment", err)
	}
	if err := s.activeFile.Sync(); err != nil {
		return Location{}, errs.IoErr("fsync segment", err)
	}
	s.activeSize += int64(len(frame))

	entry := manifestEntry{RecordID: recordID, SegID: s.activeID, Offset: offset, Length: int64(len(frame))}
	if err := s.appendManifest(entry); err != nil {
		return Location{}, err
	}

	if _, existed := s.locations[recordID]; !existed {
		s.liveCount[s.activeID]++
	}
	s.totalCount[s.activeID]++
	loc := Location{SegID: s.activeID, Offset: offset}
	s.locations[recordID] = loc

	if s.activeSize >= s.rollBytes {
		if err := s.roll(); err != nil {
			return loc, err
		}
		if s.rollHook != nil {
			s.rollHook()
		}
	}
	return loc, nil
}

// Tombstone appends a deletion marker for recordID to the active segment's
// manifest (physical removal is deferred to compaction). Returns false if
// the record was already gone.
func (s *Store) Tombstone(recordID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.locations[recordID]
	if !ok {
		return false, nil
	}
	entry := manifestEntry{RecordID: recordID, SegID: s.activeID, Deleted: true}
	if err := s.appendManifest(entry); err != nil {
		return false, err
	}
	delete(s.locations, recordID)
	s.liveCount[loc.SegID]--

	if float64(s.liveCount[loc.SegID])/float64(max1(s.totalCount[loc.SegID])) < s.compactAt {
		if err := s.compact(loc.SegID); err != nil {
			s.log.Warn().Err(err).Uint64("segment", loc.SegID).Msg("compaction failed")
		}
	}
	return true, nil
}

func max1(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

// Read fetches the raw frame for recordID from wherever it currently
// lives, sealed or active.
func (s *Store) Read(recordID string) ([]byte, bool, error) {
	s.mu.Lock()
	loc, ok := s.locations[recordID]
	s.mu.Unlock()
	if !ok {
		return nil, false, nil
	}
	frame, err := s.readAt(loc)
	if err != nil {
		return nil, false, err
	}
	return frame, true, nil
}

func (s *Store) readAt(loc Location) ([]byte, error) {
	f, err := os.Open(segPath(s.dir, loc.SegID))
	if err != nil {
		return nil, errs.IoErr("open segment for read", err)
	}
	defer f.Close()

	header := make([]byte, codec.HeaderLen())
	if _, err := f.ReadAt(header, loc.Offset); err != nil {
		return nil, errs.CorruptErr(segPath(s.dir, loc.SegID), loc.Offset, err)
	}
	total, err := codec.FrameLen(header)
	if err != nil {
		return nil, errs.CorruptErr(segPath(s.dir, loc.SegID), loc.Offset, err)
	}
	frame := make([]byte, total)
	if _, err := f.ReadAt(frame, loc.Offset); err != nil {
		return nil, errs.CorruptErr(segPath(s.dir, loc.SegID), loc.Offset, err)
	}
	return frame, nil
}

// AllLiveIDs returns every record id currently live (not tombstoned),
// across all segments, in no particular order — callers (the
// coordinator's startup index reconciliation) sort as needed.
func (s *Store) AllLiveIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.locations))
	for id := range s.locations {
		ids = append(ids, id)
	}
	return ids
}

// Stats reports segment-level counts for the coordinator's stats() call.
type Stats struct {
	SegmentCount int
	TotalBytes   int64
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, _ := existingSegmentIDs(s.dir)
	var total int64
	for _, id := range ids {
		if info, err := os.Stat(segPath(s.dir, id)); err == nil {
			total += info.Size()
		}
	}
	return Stats{SegmentCount: len(ids), TotalBytes: total}
}

// Close fsyncs and closes the active segment and manifest handles.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errOut error
	if s.activeFile != nil {
		if err := s.activeFile.Close(); err != nil {
			errOut = err
		}
	}
	if s.activeMF != nil {
		if err := s.activeMF.Close(); err != nil {
			errOut = err
		}
	}
	return errOut
}

func (s *Store) appendManifest(e manifestEntry) error {
	line := encodeManifestLine(e)
	if _, err := s.activeMF.Write(line); err != nil {
		return errs.IoErr("write manifest", err)
	}
	if err := s.activeMF.Sync(); err != nil {
		return errs.IoErr("fsync manifest", err)
	}
	return nil
}

// roll seals the active segment and opens a fresh one. Caller holds mu.
func (s *Store) roll() error {
	if err := s.activeFile.Close(); err != nil {
		return errs.IoErr("seal segment", err)
	}
	if err := s.activeMF.Close(); err != nil {
		return errs.IoErr("seal manifest", err)
	}
	return s.openActive(s.activeID + 1)
}

// compact rewrites segID's live records into a fresh trailing segment and
// unlinks the old files. Caller holds mu.
func (s *Store) compact(segID uint64) error {
	if segID == s.activeID {
		return nil // never compact the still-open active segment
	}
	newID := s.nextFreeID()
	newSegPath := segPath(s.dir, newID)
	newMFPath := mfPath(s.dir, newID)

	newSeg, err := os.OpenFile(newSegPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return errs.IoErr("create compaction segment", err)
	}
	defer newSeg.Close()
	newMF, err := os.OpenFile(newMFPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return errs.IoErr("create compaction manifest", err)
	}
	defer newMF.Close()

	var offset int64
	moved := 0
	for id, loc := range s.locations {
		if loc.SegID != segID {
			continue
		}
		frame, err := s.readAt(loc)
		if err != nil {
			return err
		}
		if _, err := newSeg.Write(frame); err != nil {
			return errs.IoErr("write compacted segment", err)
		}
		entry := manifestEntry{RecordID: id, SegID: newID, Offset: offset, Length: int64(len(frame))}
		if _, err := newMF.Write(encodeManifestLine(entry)); err != nil {
			return errs.IoErr("write compacted manifest", err)
		}
		s.locations[id] = Location{SegID: newID, Offset: offset}
		offset += int64(len(frame))
		moved++
	}
	if err := newSeg.Sync(); err != nil {
		return errs.IoErr("fsync compacted segment", err)
	}
	if err := newMF.Sync(); err != nil {
		return errs.IoErr("fsync compacted manifest", err)
	}

	s.liveCount[newID] = moved
	s.totalCount[newID] = moved
	delete(s.liveCount, segID)
	delete(s.totalCount, segID)

	os.Remove(segPath(s.dir, segID))
	os.Remove(mfPath(s.dir, segID))

	s.log.Info().Uint64("old_segment", segID).Uint64("new_segment", newID).Int("records_moved", moved).Msg("compaction complete")
	return nil
}

func (s *Store) nextFreeID() uint64 {
	max := s.activeID
	ids, _ := existingSegmentIDs(s.dir)
	for _, id := range ids {
		if id > max {
			max = id
		}
	}
	return max + 1
}

// CompactionCandidates returns sealed segment ids whose live fraction has
// dropped below compactAt, for the decay engine's post-sweep compaction
// trigger.
func (s *Store) CompactionCandidates() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []uint64
	for id, total := range s.totalCount {
		if id == s.activeID || total == 0 {
			continue
		}
		if float64(s.liveCount[id])/float64(total) < s.compactAt {
			out = append(out, id)
		}
	}
	return out
}

// Compact runs compaction on segID if it is eligible, used by the decay
// engine after a sweep's bulk tombstoning.
func (s *Store) Compact(segID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.compact(segID)
}

// manifest line encoding: a tiny fixed binary record, not msgpack, since
// it is read byte-by-byte during crash recovery before any codec context
// exists: [len(recordID) uint16][recordID][segID uint64][offset
// int64][length int64][deleted byte].
func encodeManifestLine(e manifestEntry) []byte {
	idBytes := []byte(e.RecordID)
	buf := make([]byte, 2+len(idBytes)+8+8+8+1)
	binary.BigEndian.PutUint16(buf[0:2], uint16(len(idBytes)))
	copy(buf[2:], idBytes)
	off := 2 + len(idBytes)
	binary.BigEndian.PutUint64(buf[off:off+8], e.SegID)
	binary.BigEndian.PutUint64(buf[off+8:off+16], uint64(e.Offset))
	binary.BigEndian.PutUint64(buf[off+16:off+24], uint64(e.Length))
	if e.Deleted {
		buf[off+24] = 1
	}
	return buf
}

func decodeManifest(data []byte) ([]manifestEntry, error) {
	var entries []manifestEntry
	pos := 0
	for pos < len(data) {
		if pos+2 > len(data) {
			break // truncated trailing write from an unfinished fsync: stop replay here
		}
		idLen := int(binary.BigEndian.Uint16(data[pos : pos+2]))
		pos += 2
		if pos+idLen+24+1 > len(data) {
			break
		}
		recordID := string(data[pos : pos+idLen])
		pos += idLen
		segID := binary.BigEndian.Uint64(data[pos : pos+8])
		offset := int64(binary.BigEndian.Uint64(data[pos+8 : pos+16]))
		length := int64(binary.BigEndian.Uint64(data[pos+16 : pos+24]))
		deleted := data[pos+24] == 1
		pos += 24 + 1
		entries = append(entries, manifestEntry{
			RecordID: recordID, SegID: segID, Offset: offset, Length: length, Deleted: deleted,
		})
	}
	return entries, nil
}
