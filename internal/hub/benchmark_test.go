package hub

import (
	"context"
	"fmt"
	"testing"

	"github.com/atikulmunna/logscope/internal/model"
)

// mixedLines is a followed-file sample where every fourth line is not an
// access record: PHP errors written to the wrong file, blanks and cut lines.
func mixedLines(n int) []model.RawLine {
	noise := []string{
		`[17-Feb-2026 12:00:00 UTC] PHP Warning:  Undefined variable $x in /var/www/index.php on line 3`,
		``,
		`10.0.0.1 - - [17/Feb/2026:12:00:00 +0000] "GET /cut`,
	}
	lines := make([]model.RawLine, n)
	for i := range lines {
		text := fmt.Sprintf(`10.0.0.%d - - [17/Feb/2026:12:%02d:00 +0000] "GET /page/%d?id=%d HTTP/1.1" %d 10 "-" "Mozilla/5.0" 0.01 "203.0.113.9"`,
			i%250, i%60, i%40, i, []int{200, 304, 404, 500}[i%4])
		if i%4 == 3 {
			text = noise[i%len(noise)]
		}
		lines[i] = model.RawLine{Text: text, Source: "/logs/app_server_1/nginx-access.log"}
	}
	return lines
}

// BenchmarkHubMixed measures parse, enrich, detect and fan-out of a mixed
// stream, including the skip path, for a growing number of subscribers.
func BenchmarkHubMixed(b *testing.B) {
	for _, subs := range []int{1, 5, 10} {
		b.Run(fmt.Sprintf("subs=%d", subs), func(b *testing.B) {
			lines := mixedLines(b.N)
			input := make(chan model.RawLine, len(lines))
			for _, l := range lines {
				input <- l
			}
			close(input)

			h := New(input, testConfig())
			for i := 0; i < subs; i++ {
				ch := h.Subscribe()
				go func() {
					for range ch {
					}
				}()
			}

			b.ReportAllocs()
			b.ResetTimer()
			h.Start(context.Background())
			b.StopTimer()

			if got := h.Parsed() + h.Skipped(); got != int64(b.N) {
				b.Fatalf("handled %d of %d lines", got, b.N)
			}
			b.ReportMetric(float64(h.Skipped())/float64(b.N), "skipped/op")
		})
	}
}
