// ABOUTME: Durable bookmark store: one append-only, record-isolated log per document
// ABOUTME: One writer per document, lock-free readers of committed records

package bookmark

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/nainya/docsession/internal/logger"
	"github.com/nainya/docsession/internal/metrics"
	"github.com/nainya/docsession/pkg/wal"
)

// FileSuffix is the extension of per-document bookmark logs
const FileSuffix = ".bmk"

const (
	defaultRetryAttempts    = 3
	defaultRetryDelay       = 50 * time.Millisecond
	defaultCompactThreshold = 64
)

// Options configure a Store
type Options struct {
	// Dir holds one log file per document
	Dir string

	// RetryAttempts bounds write attempts on I/O failure (default 3)
	RetryAttempts uint
	// RetryDelay is the first backoff delay (default 50ms)
	RetryDelay time.Duration

	// CompactThreshold is the number of superseded records that triggers a
	// rewrite, once they also outnumber live ones. Negative disables.
	CompactThreshold int

	Logger  *logger.Logger
	Metrics *metrics.Metrics

	// Now overrides the clock used for updated-at stamps
	Now func() time.Time
}

// Store persists bookmarks
type Store struct {
	dir              string
	attempts         uint
	delay            time.Duration
	compactThreshold int
	log              *logger.Logger
	metrics          *metrics.Metrics
	now              func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex

	indexes sync.Map // docID -> *index
}

// NewStore creates a store rooted at opts.Dir
func NewStore(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, errors.New("bookmark store: no directory")
	}
	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, &StoreError{Kind: IOFailure, Err: err}
	}

	s := &Store{
		dir:              opts.Dir,
		attempts:         opts.RetryAttempts,
		delay:            opts.RetryDelay,
		compactThreshold: opts.CompactThreshold,
		log:              opts.Logger,
		metrics:          opts.Metrics,
		now:              opts.Now,
		locks:            make(map[string]*sync.Mutex),
	}
	if s.attempts == 0 {
		s.attempts = defaultRetryAttempts
	}
	if s.delay <= 0 {
		s.delay = defaultRetryDelay
	}
	if s.compactThreshold == 0 {
		s.compactThreshold = defaultCompactThreshold
	}
	if s.log == nil {
		s.log = logger.Nop()
	}
	s.log = s.log.Component("bookmarks")
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// Dir returns the store directory
func (s *Store) Dir() string { return s.dir }

func (s *Store) path(docID string) string {
	return filepath.Join(s.dir, docID+FileSuffix)
}

func checkDocID(docID string) error {
	if docID == "" || strings.ContainsAny(docID, `:/\`) || docID == "." || docID == ".." {
		return fmt.Errorf("%w: document id %q", ErrInvalidBookmark, docID)
	}
	return nil
}

func (s *Store) lockDoc(docID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[docID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[docID] = l
	}
	return l
}

// lockLog takes the cross-process lock of a document's log. Callers hold the
// in-process document lock first.
func (s *Store) lockLog(docID string) (*wal.FileLock, error) {
	fl, err := wal.Lock(s.path(docID))
	if err != nil {
		return nil, &StoreError{Kind: IOFailure, DocumentID: docID, Err: err}
	}
	return fl, nil
}

func (s *Store) unlockLog(docID string, fl *wal.FileLock) {
	if err := fl.Unlock(); err != nil {
		s.log.Warn("bookmark log unlock failed").Str("document", docID).Err(err).Send()
	}
}

// snapshot returns the committed index of a document, loading it on first use
func (s *Store) snapshot(docID string) *index {
	if v, ok := s.indexes.Load(docID); ok {
		return v.(*index)
	}

	l := s.lockDoc(docID)
	l.Lock()
	defer l.Unlock()

	if v, ok := s.indexes.Load(docID); ok {
		return v.(*index)
	}
	return s.reloadLocked(docID)
}

// reloadLocked rebuilds a document's index from disk. An unreadable log yields
// an empty index; bookmarks are never a reason to fail.
func (s *Store) reloadLocked(docID string) *index {
	res, err := wal.ReadFile(s.path(docID))
	if err != nil {
		s.log.Warn("bookmark log unreadable, starting empty").
			Str("document", docID).
			Err(err).
			Send()
		idx := newIndex()
		idx.size = -1
		s.indexes.Store(docID, idx)
		return idx
	}

	idx := replay(docID, res)
	if idx.corrupt > 0 {
		s.metrics.RecordCorruptRecords(idx.corrupt)
		s.log.Warn("skipped corrupt bookmark records").
			Str("document", docID).
			Int("corrupt", idx.corrupt).
			Bool("torn_tail", res.TornTail).
			Send()
	}
	s.indexes.Store(docID, idx)
	return idx
}

// currentLocked returns the index, reloading it when the log changed behind
// the store's back (another process appended or compacted).
func (s *Store) currentLocked(docID string) *index {
	v, ok := s.indexes.Load(docID)
	if !ok {
		return s.reloadLocked(docID)
	}
	idx := v.(*index)

	var size int64
	if st, err := os.Stat(s.path(docID)); err == nil {
		size = st.Size()
	}
	if size != idx.size {
		return s.reloadLocked(docID)
	}
	return idx
}

// stamp returns the updated-at for the next write of id: max(now, previous+1µs)
func (s *Store) stamp(idx *index, id string) time.Time {
	t := time.Unix(0, s.now().UnixNano()).UTC()
	if prev, ok := idx.stamps[id]; ok && !t.After(prev) {
		t = prev.Add(time.Microsecond)
	}
	return t
}

// Load returns the live bookmarks of a document. A missing or damaged log
// yields what could be recovered, possibly nothing.
func (s *Store) Load(docID string) ([]Bookmark, error) {
	if err := checkDocID(docID); err != nil {
		return nil, err
	}
	return s.snapshot(docID).sorted(), nil
}

// Get returns one bookmark by id
func (s *Store) Get(id string) (Bookmark, error) {
	docID, ok := DocumentOf(id)
	if !ok || checkDocID(docID) != nil {
		return Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	b, ok := s.snapshot(docID).records[id]
	if !ok {
		return Bookmark{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return b, nil
}

// LastRead returns the reading position of a document, if one was recorded
func (s *Store) LastRead(docID string) (Bookmark, bool, error) {
	if err := checkDocID(docID); err != nil {
		return Bookmark{}, false, err
	}
	b, ok := s.snapshot(docID).records[LastReadID(docID)]
	return b, ok, nil
}

// Upsert commits a bookmark. A new user bookmark without id gets one. When
// b.Version differs from the committed version another writer got there first:
// the edit wins only if its UpdatedAt (now when zero) is after the committed
// one, otherwise the committed record is returned with a VersionMismatch error.
func (s *Store) Upsert(ctx context.Context, b Bookmark) (Bookmark, error) {
	return s.upsert(ctx, b, true, "")
}

// SetLastRead records the reading position of a document. It always wins and
// keeps the recorded title.
func (s *Store) SetLastRead(ctx context.Context, docID string, page int, offset float64) (Bookmark, error) {
	return s.upsert(ctx, Bookmark{DocumentID: docID, Page: page, Offset: offset, Kind: LastRead}, false, "set_last_read")
}

// SetTitle records the title of a document on its last-read bookmark, keeping
// the reading position (page 0 when none was recorded).
func (s *Store) SetTitle(ctx context.Context, docID, title string) (Bookmark, error) {
	return s.upsert(ctx, Bookmark{DocumentID: docID, Label: title, Kind: LastRead}, false, "set_title")
}

func (s *Store) upsert(ctx context.Context, b Bookmark, checkVersion bool, op string) (committed Bookmark, err error) {
	start := time.Now()
	if op == "" {
		op = "upsert"
	}
	defer func() {
		s.observe(op, b.DocumentID, start, err)
	}()

	if b.Kind == 0 {
		b.Kind = User
	}
	if err := checkDocID(b.DocumentID); err != nil {
		return Bookmark{}, err
	}
	switch {
	case b.Kind == LastRead:
		b.ID = LastReadID(b.DocumentID)
	case b.ID == "":
		b.ID = NewID(b.DocumentID)
	}
	b.Label = NormalizeLabel(b.Label)
	if err := b.Validate(); err != nil {
		return Bookmark{}, err
	}

	l := s.lockDoc(b.DocumentID)
	l.Lock()
	defer l.Unlock()
	fl, err := s.lockLog(b.DocumentID)
	if err != nil {
		return Bookmark{}, err
	}
	defer s.unlockLog(b.DocumentID, fl)

	idx := s.currentLocked(b.DocumentID)
	existing, exists := idx.records[b.ID]

	if exists && checkVersion && b.Version != existing.Version {
		incoming := b.UpdatedAt
		if incoming.IsZero() {
			incoming = s.now()
		}
		if !incoming.After(existing.UpdatedAt) {
			return existing, &StoreError{
				Kind:       VersionMismatch,
				DocumentID: b.DocumentID,
				ID:         b.ID,
				Err:        fmt.Errorf("edit of version %d is older than committed version %d", b.Version, existing.Version),
			}
		}
		s.log.Info("version conflict resolved in favor of newer edit").
			Str("id", b.ID).
			Uint64("stale_version", b.Version).
			Uint64("committed_version", existing.Version).
			Send()
	}

	rec := b
	if exists && b.Kind == LastRead {
		switch op {
		case "set_last_read":
			rec.Label = existing.Label
		case "set_title":
			rec.Page, rec.Offset = existing.Page, existing.Offset
		}
	}
	rec.UpdatedAt = s.stamp(idx, b.ID)
	if exists {
		rec.Version = existing.Version + 1
		rec.CreatedAt = existing.CreatedAt
	} else {
		rec.Version = 1
		rec.CreatedAt = rec.UpdatedAt
	}

	next := idx.clone()
	next.apply(rec)
	entry := wal.Entry{
		LSN:       idx.maxLSN + 1,
		OpType:    wal.OpPut,
		Key:       []byte(rec.ID),
		Value:     encodeRecord(rec),
		Timestamp: rec.UpdatedAt,
	}
	if err := s.commitLocked(ctx, b.DocumentID, next, entry); err != nil {
		return Bookmark{}, err
	}
	return rec, nil
}

// Delete removes a user bookmark
func (s *Store) Delete(ctx context.Context, id string) (err error) {
	start := time.Now()
	docID, ok := DocumentOf(id)
	defer func() {
		s.observe("delete", docID, start, err)
	}()

	if !ok || checkDocID(docID) != nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if id == LastReadID(docID) {
		return ErrLastReadProtected
	}

	l := s.lockDoc(docID)
	l.Lock()
	defer l.Unlock()
	fl, err := s.lockLog(docID)
	if err != nil {
		return err
	}
	defer s.unlockLog(docID, fl)

	idx := s.currentLocked(docID)
	if _, ok := idx.records[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	at := s.stamp(idx, id)
	next := idx.clone()
	next.remove(id, at)
	entry := wal.Entry{
		LSN:       idx.maxLSN + 1,
		OpType:    wal.OpDelete,
		Key:       []byte(id),
		Timestamp: at,
	}
	return s.commitLocked(ctx, docID, next, entry)
}

// commitLocked appends entry and publishes next once the append is durable.
// The caller holds both the document lock and the log lock.
func (s *Store) commitLocked(ctx context.Context, docID string, next *index, entry wal.Entry) error {
	path := s.path(docID)
	if err := s.appendWithRetry(ctx, path, entry); err != nil {
		return &StoreError{Kind: IOFailure, DocumentID: docID, ID: string(entry.Key), Err: err}
	}

	next.maxLSN = entry.LSN
	next.frames++
	if st, err := os.Stat(path); err == nil {
		next.size = st.Size()
	} else {
		next.size = -1
	}
	s.indexes.Store(docID, next)

	if s.compactThreshold > 0 {
		if stale := next.superseded(); stale >= s.compactThreshold && stale > len(next.records) {
			if err := s.compactLocked(docID, next); err != nil {
				s.log.Warn("compaction failed").Str("document", docID).Err(err).Send()
			}
		}
	}
	return nil
}

func (s *Store) appendWithRetry(ctx context.Context, path string, entry wal.Entry) error {
	attempt := 0
	return retry.Do(
		func() error {
			if attempt++; attempt > 1 {
				s.metrics.RecordStoreRetry()
			}
			_, err := wal.Append(path, entry)
			if errors.Is(err, wal.ErrInvalidEntry) {
				return retry.Unrecoverable(err)
			}
			return err
		},
		retry.Context(ctx),
		retry.Attempts(s.attempts),
		retry.Delay(s.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			s.log.Warn("bookmark write failed, retrying").
				Str("path", path).
				Uint("attempt", n+1).
				Err(err).
				Send()
		}),
	)
}

// Compact rewrites a document's log with only its live records
func (s *Store) Compact(docID string) (err error) {
	start := time.Now()
	defer func() {
		s.observe("compact", docID, start, err)
	}()

	if err := checkDocID(docID); err != nil {
		return err
	}

	l := s.lockDoc(docID)
	l.Lock()
	defer l.Unlock()
	fl, err := s.lockLog(docID)
	if err != nil {
		return err
	}
	defer s.unlockLog(docID, fl)

	return s.compactLocked(docID, s.currentLocked(docID))
}

func (s *Store) compactLocked(docID string, idx *index) error {
	live := idx.sorted()
	entries := make([]wal.Entry, len(live))
	for i, b := range live {
		entries[i] = wal.Entry{
			LSN:       uint64(i + 1),
			OpType:    wal.OpPut,
			Key:       []byte(b.ID),
			Value:     encodeRecord(b),
			Timestamp: b.UpdatedAt,
		}
	}

	size, err := wal.Rewrite(s.path(docID), entries)
	if err != nil {
		return &StoreError{Kind: IOFailure, DocumentID: docID, Err: err}
	}

	next := idx.clone()
	next.frames = len(entries)
	next.maxLSN = uint64(len(entries))
	next.size = size
	next.corrupt = 0
	s.indexes.Store(docID, next)

	s.metrics.RecordCompaction()
	s.log.Debug("compacted bookmark log").
		Str("document", docID).
		Int("superseded", idx.superseded()).
		Int("live", len(live)).
		Send()
	return nil
}

// SortOrder orders the documents listed by DocumentsBy
type SortOrder int

const (
	NewestFirst SortOrder = iota
	OldestFirst
	TitleAscending
	TitleDescending
)

func (o SortOrder) String() string {
	switch o {
	case NewestFirst:
		return "newest"
	case OldestFirst:
		return "oldest"
	case TitleAscending:
		return "title"
	case TitleDescending:
		return "title-desc"
	default:
		return "unknown"
	}
}

// ParseSortOrder maps the String form back to a SortOrder
func ParseSortOrder(name string) (SortOrder, error) {
	for o := NewestFirst; o <= TitleDescending; o++ {
		if o.String() == name {
			return o, nil
		}
	}
	return NewestFirst, fmt.Errorf("unknown sort order %q (newest, oldest, title, title-desc)", name)
}

// Documents returns the last-read bookmark of every document with one, most
// recently read first.
func (s *Store) Documents() ([]Bookmark, error) {
	return s.DocumentsBy(NewestFirst)
}

// DocumentsBy returns the last-read bookmark of every document with one, in
// order. Titles compare with locale-independent collation, ignoring case;
// untitled documents sort by id after titled ones.
func (s *Store) DocumentsBy(order SortOrder) ([]Bookmark, error) {
	dirents, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, &StoreError{Kind: IOFailure, Err: err}
	}

	var out []Bookmark
	for _, de := range dirents {
		name := de.Name()
		if de.IsDir() || !strings.HasSuffix(name, FileSuffix) {
			continue
		}
		docID := strings.TrimSuffix(name, FileSuffix)
		if checkDocID(docID) != nil {
			continue
		}
		if b, ok := s.snapshot(docID).records[LastReadID(docID)]; ok {
			out = append(out, b)
		}
	}

	byTime := func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].DocumentID < out[j].DocumentID
	}

	switch order {
	case OldestFirst:
		sort.Slice(out, func(i, j int) bool { return byTime(j, i) })
	case TitleAscending, TitleDescending:
		col := collate.New(language.Und, collate.IgnoreCase)
		sort.Slice(out, func(i, j int) bool {
			a, b := out[i].Label, out[j].Label
			switch {
			case a == "" && b == "":
				return out[i].DocumentID < out[j].DocumentID
			case a == "":
				return false
			case b == "":
				return true
			}
			c := col.CompareString(a, b)
			if order == TitleDescending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
			return out[i].DocumentID < out[j].DocumentID
		})
	default:
		sort.Slice(out, byTime)
	}
	return out, nil
}

// invalidate drops the cached index so the next read replays the log
func (s *Store) invalidate(docID string) {
	s.indexes.Delete(docID)
}

func (s *Store) observe(op, docID string, start time.Time, err error) {
	dur := time.Since(start)
	status := "ok"
	switch {
	case errors.Is(err, ErrVersionMismatch):
		status = "conflict"
	case err != nil:
		status = "error"
	}
	s.metrics.RecordStoreOperation(op, status, dur)
	s.log.LogStoreOperation(op, docID, dur, err)
}
