package cmd

import (
	"path/filepath"
	"testing"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/source"
)

func TestShardLabel(t *testing.T) {
	root := t.TempDir()
	label := shardLabel(root)

	assert.Equal(t, "app_server_10.0.0.1", label(filepath.Join(root, "app_server_10.0.0.1", "nginx-access.log")))
	assert.Equal(t, "app_server_10.0.0.1", label(filepath.Join(root, "app_server_10.0.0.1", "old", "nginx-access.log.1")))
	assert.Equal(t, filepath.Base(root), label(filepath.Join(root, "nginx-access.log")))
	assert.Equal(t, "elsewhere", label(filepath.Join(filepath.Dir(root), "elsewhere", "nginx-access.log")))
}

func TestShouldShow(t *testing.T) {
	notFound := 404
	rec := model.AccessRecord{Status: &notFound}

	assert.True(t, shouldShow(rec, statusClassSet("")))
	assert.True(t, shouldShow(rec, statusClassSet("4XX, 5xx")))
	assert.False(t, shouldShow(rec, statusClassSet("2xx")))
	assert.True(t, shouldShow(model.AccessRecord{}, statusClassSet("unknown")))
}

func TestLivePatternsSkipRotatedFiles(t *testing.T) {
	root := t.TempDir()
	patterns, err := livePatterns(root, source.DefaultLayout())
	require.NoError(t, err)
	require.Len(t, patterns, 1)

	match := func(p string) bool {
		ok, _ := doublestar.Match(filepath.ToSlash(patterns[0]), filepath.ToSlash(p))
		return ok
	}
	assert.True(t, match(filepath.Join(root, "app_server_1", "nginx-access.log")))
	assert.True(t, match(filepath.Join(root, "nginx-access.log")))
	assert.False(t, match(filepath.Join(root, "app_server_1", "nginx-access.log.1")))
	assert.False(t, match(filepath.Join(root, "app_server_1", "nginx-access.log.2.gz")))
}

func TestErrorLimitFlagReachesConfig(t *testing.T) {
	f := analyzeCmd.Flags().Lookup("error-limit")
	t.Cleanup(func() {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})

	assert.Equal(t, 0, viper.GetInt("error_limit"))
	require.NoError(t, analyzeCmd.Flags().Set("error-limit", "7"))
	assert.Equal(t, 7, viper.GetInt("error_limit"))
}
