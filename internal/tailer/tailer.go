// Package tailer follows log files and emits each newly appended line.
package tailer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/watcher"
)

// Options tunes a Tailer.
type Options struct {
	// FromStart reads files without a checkpoint from the beginning
	// instead of from their current end.
	FromStart bool
	// SaveEvery is the checkpoint save interval; 0 means 5s.
	SaveEvery time.Duration
}

// Tailer reads newly appended lines from watched files and emits RawLine values.
type Tailer struct {
	mu     sync.Mutex
	files  map[string]*trackedFile
	moved  []movedFile
	out    chan model.RawLine
	ckpt   *Checkpoint
	events <-chan watcher.Event
	watch  *watcher.Watcher
	opts   Options
	log    *zap.Logger
}

type trackedFile struct {
	path    string
	file    *os.File
	reader  *bufio.Reader
	offset  int64  // end of the last complete line
	partial string // bytes after offset not yet ended by a newline
}

// movedFile is a tracked file renamed away from a watched name. It is
// matched by identity when the new name shows up so it is not replayed.
type movedFile struct {
	info os.FileInfo
	tf   *trackedFile
}

// maxMoved bounds files renamed out of sight whose new name never arrived.
const maxMoved = 8

// New creates a Tailer that reads events from the given Watcher. ckpt may be nil.
func New(w *watcher.Watcher, ckpt *Checkpoint, opts Options, log *zap.Logger) *Tailer {
	if log == nil {
		log = zap.NewNop()
	}
	if ckpt == nil {
		ckpt = NewMemoryCheckpoint()
	}
	if opts.SaveEvery <= 0 {
		opts.SaveEvery = 5 * time.Second
	}
	return &Tailer{
		files:  make(map[string]*trackedFile),
		out:    make(chan model.RawLine, 512),
		ckpt:   ckpt,
		events: w.Events,
		watch:  w,
		opts:   opts,
		log:    log,
	}
}

// Lines returns the channel where raw log lines are sent.
func (t *Tailer) Lines() <-chan model.RawLine {
	return t.out
}

// FileCount returns the number of files currently open.
func (t *Tailer) FileCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.files)
}

// Start begins processing watcher events. Blocks until context is cancelled.
func (t *Tailer) Start(ctx context.Context) {
	defer close(t.out)

	// Open all initially watched files and drain what a checkpoint or
	// FromStart left unread.
	for _, p := range t.watch.Paths() {
		if t.openFile(p, t.opts.FromStart) {
			t.readNewLines(ctx, p)
		}
	}

	saveTicker := time.NewTicker(t.opts.SaveEvery)
	defer saveTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.saveCheckpoint()
			t.closeAll()
			return

		case ev, ok := <-t.events:
			if !ok {
				t.saveCheckpoint()
				t.closeAll()
				return
			}
			t.handleEvent(ctx, ev)

		case <-saveTicker.C:
			t.saveCheckpoint()
		}
	}
}

// handleEvent dispatches watcher events to the appropriate handler.
func (t *Tailer) handleEvent(ctx context.Context, ev watcher.Event) {
	switch {
	case ev.Op&fsnotify.Create != 0:
		t.closeFile(ev.Path)
		t.ckpt.Delete(ev.Path)
		if t.adoptMoved(ev.Path) {
			t.log.Debug("following renamed file", zap.String("file", ev.Path))
			t.readNewLines(ctx, ev.Path)
			return
		}
		// A genuinely new file starts from its beginning.
		if t.openFile(ev.Path, true) {
			t.log.Info("following new file", zap.String("file", ev.Path))
			t.readNewLines(ctx, ev.Path)
		}

	case ev.Op&fsnotify.Write != 0:
		if !t.tracked(ev.Path) {
			t.openFile(ev.Path, true)
		}
		t.readNewLines(ctx, ev.Path)

	case ev.Op&fsnotify.Rename != 0:
		// Rotated away; the old content may reappear under a new name and
		// the replacement arrives as a Create.
		t.parkMoved(ev.Path)
		t.ckpt.Delete(ev.Path)

	case ev.Op&fsnotify.Remove != 0:
		t.closeFile(ev.Path)
		t.ckpt.Delete(ev.Path)
	}
}

// parkMoved keeps the handle of a renamed file open until its new name
// is created or it falls out of the bounded moved list.
func (t *Tailer) parkMoved(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tf, ok := t.files[path]
	if !ok {
		return
	}
	delete(t.files, path)
	info, err := tf.file.Stat()
	if err != nil {
		tf.file.Close()
		return
	}
	t.moved = append(t.moved, movedFile{info: info, tf: tf})
	if len(t.moved) > maxMoved {
		t.moved[0].tf.file.Close()
		t.moved = t.moved[1:]
	}
}

// adoptMoved re-keys a parked file under path when path is the same file,
// keeping its read position.
func (t *Tailer) adoptMoved(path string) bool {
	st, err := os.Stat(path)
	if err != nil {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i, m := range t.moved {
		if !os.SameFile(st, m.info) {
			continue
		}
		t.moved = append(t.moved[:i], t.moved[i+1:]...)
		m.tf.path = path
		t.files[path] = m.tf
		t.ckpt.Set(path, m.tf.offset)
		return true
	}
	return false
}

func (t *Tailer) tracked(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.files[path]
	return ok
}

// openFile opens a file for tailing, resuming from the checkpointed offset.
// Without a checkpoint it starts at the beginning when fromStart is set,
// and at the end otherwise.
func (t *Tailer) openFile(path string, fromStart bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.files[path]; exists {
		return true
	}
	if strings.HasSuffix(path, ".gz") {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		t.log.Warn("cannot open file", zap.String("file", path), zap.Error(err))
		return false
	}

	var offset int64
	if saved, ok := t.ckpt.Get(path); ok {
		offset = saved
	} else if !fromStart {
		offset, _ = f.Seek(0, io.SeekEnd)
	}
	if st, err := f.Stat(); err == nil && st.Size() < offset {
		// Truncated since the checkpoint was written.
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		t.log.Warn("cannot seek", zap.String("file", path), zap.Error(err))
		f.Close()
		return false
	}

	t.files[path] = &trackedFile{
		path:   path,
		file:   f,
		reader: bufio.NewReaderSize(f, 64*1024),
		offset: offset,
	}
	return true
}

// readNewLines reads from the last offset to EOF and emits complete lines.
// A trailing fragment without a newline is held until the rest arrives.
func (t *Tailer) readNewLines(ctx context.Context, path string) {
	t.mu.Lock()
	tf, ok := t.files[path]
	t.mu.Unlock()
	if !ok {
		return
	}

	if st, err := tf.file.Stat(); err == nil && st.Size() < tf.offset+int64(len(tf.partial)) {
		t.log.Info("file truncated, restarting from the beginning", zap.String("file", path))
		if _, err := tf.file.Seek(0, io.SeekStart); err != nil {
			return
		}
		tf.reader.Reset(tf.file)
		tf.offset, tf.partial = 0, ""
	}

	for {
		chunk, err := tf.reader.ReadString('\n')
		if strings.HasSuffix(chunk, "\n") {
			line := tf.partial + chunk
			tf.offset += int64(len(line))
			tf.partial = ""
			select {
			case t.out <- model.RawLine{Text: strings.TrimRight(line, "\r\n"), Source: path}:
			case <-ctx.Done():
				return
			}
		} else {
			tf.partial += chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				t.log.Warn("read error", zap.String("file", path), zap.Error(err))
			}
			break
		}
	}
	t.ckpt.Set(path, tf.offset)
}

// closeFile releases a tracked file.
func (t *Tailer) closeFile(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tf, ok := t.files[path]; ok {
		tf.file.Close()
		delete(t.files, path)
	}
}

// saveCheckpoint persists the current offsets.
func (t *Tailer) saveCheckpoint() {
	if err := t.ckpt.Save(); err != nil {
		t.log.Warn("checkpoint save failed", zap.Error(err))
	}
}

// closeAll closes all tracked file handles.
func (t *Tailer) closeAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for path, tf := range t.files {
		tf.file.Close()
		delete(t.files, path)
	}
	for _, m := range t.moved {
		m.tf.file.Close()
	}
	t.moved = nil
}
