// Package source locates log files on disk and turns them into line sources.
//
// A log root holds one directory per origin server:
//
//	<root>/<server>/**/nginx-access.log
//	<root>/<server>/**/php-error.log
//
// The directory name becomes the server label of every record read from it.
package source

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/klauspost/compress/gzip"
)

// ErrNoShards is returned when a root contains no matching log files.
var ErrNoShards = errors.New("source: no log files found")

// MaxLineSize bounds a single log line. Longer lines are dropped, not kept.
const MaxLineSize = 1024 * 1024

// Layout names the files that hold each kind of log, as doublestar
// patterns relative to a shard directory.
type Layout struct {
	AccessGlob string
	ErrorGlob  string
}

// DefaultLayout matches the file names nginx and PHP-FPM write.
func DefaultLayout() Layout {
	return Layout{
		AccessGlob: "**/nginx-access.log*",
		ErrorGlob:  "**/php-error.log*",
	}
}

// Shard is the set of log files collected from one origin server.
type Shard struct {
	Server      string   `json:"server"`
	AccessFiles []string `json:"access_files"`
	ErrorFiles  []string `json:"error_files"`
}

// Discover lists the shards under root, sorted by server label. When no
// subdirectory holds matching files, root itself is treated as one shard.
func Discover(root string, layout Layout) ([]Shard, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading log root: %w", err)
	}

	var shards []Shard
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		sh, err := scanShard(filepath.Join(root, e.Name()), e.Name(), layout)
		if err != nil {
			return nil, err
		}
		if len(sh.AccessFiles)+len(sh.ErrorFiles) > 0 {
			shards = append(shards, sh)
		}
	}

	if len(shards) == 0 {
		abs, _ := filepath.Abs(root)
		sh, err := scanShard(root, filepath.Base(abs), layout)
		if err != nil {
			return nil, err
		}
		if len(sh.AccessFiles)+len(sh.ErrorFiles) > 0 {
			shards = append(shards, sh)
		}
	}
	if len(shards) == 0 {
		return nil, fmt.Errorf("%w under %s", ErrNoShards, root)
	}

	sort.Slice(shards, func(i, j int) bool { return shards[i].Server < shards[j].Server })
	return shards, nil
}

func scanShard(dir, server string, layout Layout) (Shard, error) {
	access, err := glob(dir, layout.AccessGlob)
	if err != nil {
		return Shard{}, err
	}
	errs, err := glob(dir, layout.ErrorGlob)
	if err != nil {
		return Shard{}, err
	}
	return Shard{Server: server, AccessFiles: access, ErrorFiles: errs}, nil
}

func glob(dir, pattern string) ([]string, error) {
	if pattern == "" {
		return nil, nil
	}
	matches, err := doublestar.Glob(os.DirFS(dir), pattern, doublestar.WithFilesOnly())
	if err != nil {
		return nil, fmt.Errorf("expanding %q in %s: %w", pattern, dir, err)
	}
	sort.Strings(matches)
	out := make([]string, len(matches))
	for i, m := range matches {
		out[i] = filepath.Join(dir, filepath.FromSlash(m))
	}
	return out, nil
}

// Open opens a log file for reading, decompressing it when it ends in .gz.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening gzip stream %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	return errors.Join(g.Reader.Close(), g.f.Close())
}

// LineReader yields the lines of a stream without their line endings.
// A line longer than its limit is read through and yielded as the empty
// string, so parsers skip it and reading continues with the next line.
type LineReader struct {
	r         *bufio.Reader
	max       int
	line      []byte
	err       error
	oversized int
}

// NewLineReader returns a LineReader over r with the MaxLineSize limit.
func NewLineReader(r io.Reader) *LineReader {
	return NewLineReaderSize(r, MaxLineSize)
}

// NewLineReaderSize is NewLineReader with an explicit line limit.
func NewLineReaderSize(r io.Reader, max int) *LineReader {
	return &LineReader{r: bufio.NewReaderSize(r, 64*1024), max: max}
}

// Scan advances to the next line. It returns false at EOF or on a read error.
func (l *LineReader) Scan() bool {
	if l.err != nil {
		return false
	}
	l.line = l.line[:0]
	var read int
	tooLong := false
	for {
		chunk, err := l.r.ReadSlice('\n')
		read += len(chunk)
		if !tooLong {
			if len(l.line)+len(chunk) > l.max+2 {
				tooLong = true
				l.line = l.line[:0]
			} else {
				l.line = append(l.line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				l.err = err
				return false
			}
			l.err = io.EOF
			if read == 0 {
				return false
			}
		}
		break
	}
	if tooLong {
		l.oversized++
		l.line = l.line[:0]
		return true
	}
	l.line = bytes.TrimSuffix(l.line, []byte("\n"))
	l.line = bytes.TrimSuffix(l.line, []byte("\r"))
	if len(l.line) > l.max {
		l.oversized++
		l.line = l.line[:0]
	}
	return true
}

// Text returns the current line.
func (l *LineReader) Text() string { return string(l.line) }

// Err returns the first read error other than EOF.
func (l *LineReader) Err() error {
	if errors.Is(l.err, io.EOF) {
		return nil
	}
	return l.err
}

// Oversized returns how many lines exceeded the limit and were dropped.
func (l *LineReader) Oversized() int { return l.oversized }

// ServerLabel derives a server label for a file followed outside a log
// root: the name of the directory the file sits in.
func ServerLabel(path string) string {
	return filepath.Base(filepath.Dir(path))
}
