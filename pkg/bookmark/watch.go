package bookmark

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// Watch reports bookmark logs changed by other processes. Each change drops
// the cached index of that document, so the next read sees the new records,
// then calls onChange with the document id. Changes made through this store are
// not reported. Watching stops when ctx is done.
func (s *Store) Watch(ctx context.Context, onChange func(docID string)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return &StoreError{Kind: IOFailure, Err: err}
	}
	if err := w.Add(s.dir); err != nil {
		w.Close()
		return &StoreError{Kind: IOFailure, Err: err}
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				s.handleEvent(ev, onChange)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("bookmark watcher error").Err(err).Send()
			}
		}
	}()
	return nil
}

func (s *Store) handleEvent(ev fsnotify.Event, onChange func(docID string)) {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Remove) && !ev.Has(fsnotify.Rename) {
		return
	}
	name := filepath.Base(ev.Name)
	if !strings.HasSuffix(name, FileSuffix) {
		return
	}
	docID := strings.TrimSuffix(name, FileSuffix)
	if checkDocID(docID) != nil {
		return
	}

	if s.ownWrite(docID) {
		return
	}

	s.invalidate(docID)
	s.log.Debug("bookmark log changed externally").Str("document", docID).Send()
	if onChange != nil {
		onChange(docID)
	}
}

// ownWrite reports whether the log on disk is the one this store last wrote
func (s *Store) ownWrite(docID string) bool {
	l := s.lockDoc(docID)
	l.Lock()
	defer l.Unlock()

	v, ok := s.indexes.Load(docID)
	if !ok {
		return false
	}
	var size int64
	if st, err := os.Stat(s.path(docID)); err == nil {
		size = st.Size()
	}
	return size == v.(*index).size
}
