package bookmark

import (
	"sort"
	"time"

	"github.com/nainya/docsession/pkg/wal"
)

// index is the committed state of one document's log. It is immutable once
// published; writers publish a modified clone.
type index struct {
	records map[string]Bookmark
	stamps  map[string]time.Time // last updated-at per id, deleted ids included
	maxLSN  uint64
	frames  int   // frames in the log, superseded ones included
	size    int64 // log size when the index was built
	corrupt int
}

func newIndex() *index {
	return &index{
		records: make(map[string]Bookmark),
		stamps:  make(map[string]time.Time),
	}
}

func (x *index) clone() *index {
	c := &index{
		records: make(map[string]Bookmark, len(x.records)+1),
		stamps:  make(map[string]time.Time, len(x.stamps)+1),
		maxLSN:  x.maxLSN,
		frames:  x.frames,
		size:    x.size,
		corrupt: x.corrupt,
	}
	for k, v := range x.records {
		c.records[k] = v
	}
	for k, v := range x.stamps {
		c.stamps[k] = v
	}
	return c
}

// replay builds an index from scanned frames. Frames are applied last-writer-wins
// on updated-at, so interleaved appends from two processes converge.
func replay(docID string, res wal.ScanResult) *index {
	x := newIndex()
	x.maxLSN = res.MaxLSN
	x.frames = len(res.Entries)
	x.size = res.Size
	x.corrupt = res.Corrupt

	for _, e := range res.Entries {
		id := string(e.Key)
		switch e.OpType {
		case wal.OpPut:
			b, err := decodeRecord(e.Value)
			if err != nil || b.ID != id || b.DocumentID != docID {
				x.corrupt++
				continue
			}
			x.apply(b)
		case wal.OpDelete:
			x.remove(id, e.Timestamp)
		}
	}
	return x
}

func (x *index) apply(b Bookmark) {
	if prev, ok := x.stamps[b.ID]; ok && !b.UpdatedAt.After(prev) {
		return
	}
	x.records[b.ID] = b
	x.stamps[b.ID] = b.UpdatedAt
}

func (x *index) remove(id string, at time.Time) {
	if prev, ok := x.stamps[id]; ok && at.Before(prev) {
		return
	}
	delete(x.records, id)
	x.stamps[id] = at
}

// superseded counts frames that no longer carry a live record
func (x *index) superseded() int {
	return x.frames - len(x.records)
}

// sorted returns live bookmarks: last-read first, then by page, offset and creation
func (x *index) sorted() []Bookmark {
	out := make([]Bookmark, 0, len(x.records))
	for _, b := range x.records {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Kind != b.Kind {
			return a.Kind == LastRead
		}
		if a.Page != b.Page {
			return a.Page < b.Page
		}
		if a.Offset != b.Offset {
			return a.Offset < b.Offset
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out
}
