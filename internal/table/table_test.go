package table

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/atikulmunna/logscope/internal/derive"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/parser"
	"github.com/atikulmunna/logscope/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func accessLine(i int, ua string) string {
	return fmt.Sprintf(`10.0.0.1 - - [17/Feb/2026:12:00:%02d +0000] "GET /page/%d.html HTTP/1.1" 200 10 "-" "%s" 0.01 "203.0.113.%d"`, i%60, i, ua, i%250)
}

func memOpener(files map[string]string) Opener {
	return func(path string) (io.ReadCloser, error) {
		content, ok := files[path]
		if !ok {
			return nil, errors.New("no such file")
		}
		return io.NopCloser(strings.NewReader(content)), nil
	}
}

type recordingObserver struct {
	mu    sync.Mutex
	stats []ShardStats
}

func (o *recordingObserver) ObserveShard(s ShardStats) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stats = append(o.stats, s)
}

func newLoader(files map[string]string) *Loader {
	return &Loader{
		Access:   parser.NewAccessParser(),
		Errors:   parser.NewErrorParser(""),
		Enricher: derive.NewEnricher(derive.NewBotClassifier([]string{"bot"})),
		Open:     memOpener(files),
		Workers:  4,
	}
}

func TestLoadPreservesShardAndLineOrder(t *testing.T) {
	files := map[string]string{}
	var shards []source.Shard
	for s := 0; s < 8; s++ {
		var lines []string
		for i := 0; i < 50; i++ {
			lines = append(lines, accessLine(i, "Mozilla/5.0"))
		}
		path := fmt.Sprintf("s%d/nginx-access.log", s)
		files[path] = strings.Join(lines, "\n") + "\nbroken line\n"
		shards = append(shards, source.Shard{Server: fmt.Sprintf("s%d", s), AccessFiles: []string{path}})
	}

	obs := &recordingObserver{}
	l := newLoader(files)
	l.Observer = obs

	tbl, err := l.Load(context.Background(), shards)
	require.NoError(t, err)
	assert.NotEmpty(t, tbl.ID)

	recs := tbl.Access()
	require.Len(t, recs, 400)
	for i, r := range recs {
		assert.Equal(t, fmt.Sprintf("s%d", i/50), r.Server)
		assert.Equal(t, fmt.Sprintf("/page/%d.html", i%50), r.Path)
		assert.Equal(t, "html", r.Extension, "records are enriched")
	}

	stats := tbl.Shards()
	require.Len(t, stats, 8)
	assert.Equal(t, "s0", stats[0].Server)
	assert.Equal(t, 51, stats[0].AccessLines)
	assert.Equal(t, 1, stats[0].AccessSkipped)
	assert.Len(t, obs.stats, 8)
}

func TestLoadErrorsAndMissingFiles(t *testing.T) {
	files := map[string]string{
		"a/php-error.log": strings.Join([]string{
			"[12-Jan-2024 00:00:00 UTC] PHP Fatal error:  boom",
			"[12-Jan-2024 00:00:01 UTC] PHP Warning:  careful",
			"#0 /code/index.php(3): stack frame",
		}, "\n"),
		"a/nginx-access.log": accessLine(1, "Googlebot/2.1"),
	}
	shards := []source.Shard{{
		Server:      "a",
		AccessFiles: []string{"a/nginx-access.log", "a/missing.log"},
		ErrorFiles:  []string{"a/php-error.log"},
	}}

	tbl, err := newLoader(files).Load(context.Background(), shards)
	require.NoError(t, err, "missing files do not fail the load")

	access, errs := tbl.Len()
	assert.Equal(t, 1, access)
	assert.Equal(t, 2, errs)
	assert.True(t, tbl.Access()[0].IsBot)

	fatal := tbl.ErrorsOfType(model.ErrorTypeFatal)
	require.Len(t, fatal, 1)
	assert.Equal(t, "boom", fatal[0].Message)
	assert.Equal(t, "a", fatal[0].Server)
	assert.Len(t, tbl.ErrorsOfType(""), 2)

	st := tbl.Shards()[0]
	assert.Equal(t, []string{"a/missing.log"}, st.FileErrors)
	assert.Equal(t, 3, st.ErrorLines)
	assert.Equal(t, 1, st.ErrorSkipped)
}

func TestLoadSkipsOversizedLines(t *testing.T) {
	content := strings.Join([]string{
		accessLine(1, "Mozilla/5.0"),
		strings.Repeat("g", 2*source.MaxLineSize),
		accessLine(2, "Mozilla/5.0"),
		accessLine(3, "Mozilla/5.0"),
	}, "\n") + "\n"
	files := map[string]string{"a/nginx-access.log": content}

	tbl, err := newLoader(files).Load(context.Background(), []source.Shard{{Server: "a", AccessFiles: []string{"a/nginx-access.log"}}})
	require.NoError(t, err)

	recs := tbl.Access()
	require.Len(t, recs, 3)
	assert.Equal(t, "/page/3.html", recs[2].Path)

	st := tbl.Shards()[0]
	assert.Equal(t, 4, st.AccessLines)
	assert.Equal(t, 1, st.AccessSkipped)
	assert.Empty(t, st.FileErrors)
}

func TestLoadCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newLoader(map[string]string{"x": accessLine(1, "-")}).Load(ctx, []source.Shard{{Server: "x", AccessFiles: []string{"x"}}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSnapshotsAreIndependent(t *testing.T) {
	tbl := New()
	tbl.AppendAccess(model.AccessRecord{IP: "1.1.1.1"})

	snap := tbl.Access()
	tbl.AppendAccess(model.AccessRecord{IP: "2.2.2.2"})
	snap[0].IP = "changed"

	assert.Len(t, snap, 1)
	assert.Equal(t, "1.1.1.1", tbl.Access()[0].IP)
}
