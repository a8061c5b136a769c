package parser

import (
	"bufio"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atikulmunna/logscope/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleLine = `10.0.0.7 - - [17/Feb/2026:12:00:00 +0100] "GET /index.php?x=1 HTTP/1.1" 200 5678 "https://example.com/" "Mozilla/5.0 (X11; Linux x86_64)" 0.123 "203.0.113.5, 10.0.0.1"`

func TestAccessParser(t *testing.T) {
	p := NewAccessParser()

	rec, ok := p.Parse(sampleLine)
	require.True(t, ok)

	assert.Equal(t, "203.0.113.5", rec.IP)
	assert.Equal(t, "GET", rec.Method)
	assert.Equal(t, "/index.php?x=1", rec.Path)
	assert.Equal(t, "HTTP/1.1", rec.Protocol)
	require.NotNil(t, rec.Status)
	assert.Equal(t, 200, *rec.Status)
	require.NotNil(t, rec.Size)
	assert.Equal(t, int64(5678), *rec.Size)
	assert.Equal(t, "https://example.com/", rec.Referrer)
	assert.Equal(t, "Mozilla/5.0 (X11; Linux x86_64)", rec.UserAgent)
	require.NotNil(t, rec.ReqTime)
	assert.Equal(t, "0.123", *rec.ReqTime)
	assert.Equal(t, "203.0.113.5, 10.0.0.1", rec.ProxyChain)

	require.NotNil(t, rec.Time)
	want := time.Date(2026, 2, 17, 11, 0, 0, 0, time.UTC)
	assert.True(t, rec.Time.Equal(want), "got %v", rec.Time)
	_, offset := rec.Time.Zone()
	assert.Equal(t, 3600, offset)
}

func TestAccessParserSkipsTooFewFields(t *testing.T) {
	p := NewAccessParser()

	lines := []string{
		"",
		"garbage",
		// classic combined line: only three quoted fields
		`1.2.3.4 - - [17/Feb/2026:12:00:00 +0000] "GET / HTTP/1.1" 200 12 "-" "curl/8.0"`,
		// four quoted fields but no brackets
		`1.2.3.4 - - "GET / HTTP/1.1" 200 12 "-" "curl/8.0" 0.1 "1.2.3.4"`,
		// truncated mid-line
		`1.2.3.4 - - [17/Feb/2026:12:00:00 +0000] "GET / HTTP/1.1" 200 12 "-" "curl`,
	}
	for _, line := range lines {
		_, ok := p.Parse(line)
		assert.False(t, ok, "expected skip for %q", line)
	}
}

func TestAccessParserPartialRecords(t *testing.T) {
	p := NewAccessParser()

	// Malformed request line, bad timestamp, no status/size, no request time.
	line := `- - - [yesterday] "\x16\x03\x01" - - "-" "-" - "-"`
	rec, ok := p.Parse(line)
	require.True(t, ok, "four quoted and one bracketed field make a record")

	assert.Empty(t, rec.Method)
	assert.Empty(t, rec.Path)
	assert.Empty(t, rec.Protocol)
	assert.Nil(t, rec.Time)
	assert.Nil(t, rec.Status)
	assert.Nil(t, rec.Size)
	assert.Nil(t, rec.ReqTime)
	assert.Equal(t, "-", rec.IP)
	assert.Equal(t, "-", rec.Referrer)
}

func TestAccessParserZeroSizeIsNotAbsent(t *testing.T) {
	p := NewAccessParser()

	rec, ok := p.Parse(`x - - [17/Feb/2026:12:00:00 +0000] "HEAD / HTTP/1.1" 304 0 "-" "-" 0.000 "8.8.8.8"`)
	require.True(t, ok)
	require.NotNil(t, rec.Size)
	assert.Equal(t, int64(0), *rec.Size)
	assert.Equal(t, 304, *rec.Status)
}

func TestAccessParserStatusOutOfRange(t *testing.T) {
	p := NewAccessParser()

	rec, ok := p.Parse(`x - - [17/Feb/2026:12:00:00 +0000] "GET / HTTP/1.1" 999 10 "-" "-" 0.1 "8.8.8.8"`)
	require.True(t, ok)
	assert.Nil(t, rec.Status)
	assert.Nil(t, rec.Size, "status and size are recovered together")
}

func TestClientIP(t *testing.T) {
	cases := map[string]string{
		"203.0.113.5, 10.0.0.1": "203.0.113.5",
		"  198.51.100.2 ":       "198.51.100.2",
		"2001:db8::1, 10.0.0.1": "2001:db8::1",
		"not-an-ip":             "-",
		"":                      "-",
		"-":                     "-",
		"cafe":                  "-",
		"1.2.3":                 "-",
	}
	for chain, want := range cases {
		assert.Equal(t, want, ClientIP(chain), "chain %q", chain)
	}
}

func TestErrorParser(t *testing.T) {
	p := NewErrorParser("")

	rec, ok := p.Parse("[12-Jan-2024 00:00:00 UTC] PHP Fatal error:  boom  ")
	require.True(t, ok)
	assert.Equal(t, "12-Jan-2024 00:00:00 UTC", rec.Time)
	assert.Equal(t, model.ErrorTypeFatal, rec.Type)
	assert.Equal(t, "boom", rec.Message)
}

func TestErrorParserSeverities(t *testing.T) {
	p := NewErrorParser("")

	cases := map[string]string{
		"[t] PHP Warning:  Undefined variable $x": model.ErrorTypeWarning,
		"[t] PHP Notice: something":               model.ErrorTypeInfo,
		"[t] PHP FATAL ERROR: boom":               model.ErrorTypeFatal,
		"[t] PHP Parse error: syntax":             "Parse error",
		"[t] PHP Deprecated: old api":             "Deprecated",
	}
	for line, want := range cases {
		rec, ok := p.Parse(line)
		require.True(t, ok, line)
		assert.Equal(t, want, rec.Type, line)
	}
}

func TestErrorParserSkips(t *testing.T) {
	p := NewErrorParser("")

	for _, line := range []string{
		"",
		"PHP Warning: no timestamp",
		"  [t] PHP Warning: leading space",
		"[t] NGINX Warning: other marker",
		"[t] PHP 123: digits are not a severity",
	} {
		_, ok := p.Parse(line)
		assert.False(t, ok, "expected skip for %q", line)
	}
}

func TestErrorParserCustomMarker(t *testing.T) {
	p := NewErrorParser("APP")

	rec, ok := p.Parse("[t] APP Warning: disk")
	require.True(t, ok)
	assert.Equal(t, model.ErrorTypeWarning, rec.Type)

	_, ok = p.Parse("[t] PHP Warning: disk")
	assert.False(t, ok)
}

func TestParseAccessBatch(t *testing.T) {
	input := strings.Join([]string{
		sampleLine,
		"not a log line",
		sampleLine,
	}, "\n")

	b, err := ParseAccess(NewAccessParser(), bufio.NewScanner(strings.NewReader(input)), "app_server_1")
	require.NoError(t, err)

	assert.Equal(t, 3, b.Lines)
	assert.Equal(t, 1, b.Skipped)
	require.Len(t, b.Records, 2)
	for _, r := range b.Records {
		assert.Equal(t, "app_server_1", r.Server)
	}
}

type failingSource struct {
	lines []string
	i     int
}

func (s *failingSource) Scan() bool {
	if s.i >= len(s.lines) {
		return false
	}
	s.i++
	return true
}
func (s *failingSource) Text() string { return s.lines[s.i-1] }
func (s *failingSource) Err() error   { return errors.New("connection reset") }

func TestParseErrorsKeepsRecordsOnSourceFailure(t *testing.T) {
	src := &failingSource{lines: []string{"[t] PHP Warning: a", "[t] PHP Notice: b"}}

	b, err := ParseErrors(NewErrorParser(""), src, "s1")
	require.Error(t, err)
	assert.Len(t, b.Records, 2)
	assert.Equal(t, "s1", b.Records[1].Server)
}

func TestFormatAccessRoundTrip(t *testing.T) {
	p := NewAccessParser()

	lines := []string{
		sampleLine,
		`- - - [yesterday] "BROKEN" - - "-" "-" - "-"`,
		`x - - [01/Mar/2026:23:59:59 -0500] "POST /wp-login.php HTTP/2.0" 401 0 "" "python-requests/2.31" 1.5 "2001:db8::7"`,
	}
	for _, line := range lines {
		first, ok := p.Parse(line)
		require.True(t, ok, line)

		second, ok := p.Parse(FormatAccess(first))
		require.True(t, ok, FormatAccess(first))

		assert.Equal(t, first.IP, second.IP)
		assert.Equal(t, first.Method, second.Method)
		assert.Equal(t, first.Path, second.Path)
		assert.Equal(t, first.Protocol, second.Protocol)
		assert.Equal(t, first.Status, second.Status)
		assert.Equal(t, first.Size, second.Size)
		assert.Equal(t, first.Referrer, second.Referrer)
		assert.Equal(t, first.UserAgent, second.UserAgent)
		assert.Equal(t, first.ReqTime, second.ReqTime)
		assert.Equal(t, first.ProxyChain, second.ProxyChain)
		if first.Time == nil {
			assert.Nil(t, second.Time)
		} else {
			require.NotNil(t, second.Time)
			assert.True(t, first.Time.Equal(*second.Time))
		}
	}
}
