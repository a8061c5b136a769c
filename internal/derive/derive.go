// Package derive computes the secondary fields of access records.
package derive

import (
	"strings"

	"github.com/atikulmunna/logscope/internal/model"
)

// Extension returns the lower-cased extension of the last path segment,
// ignoring any query string, or "" when that segment has no dot.
func Extension(path string) string {
	if path == "" {
		return ""
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	seg := path[strings.LastIndexByte(path, '/')+1:]
	i := strings.LastIndexByte(seg, '.')
	if i < 0 {
		return ""
	}
	return strings.ToLower(seg[i+1:])
}

// BotClassifier flags user agents containing any configured keyword.
// Matching is on substrings so suffixed tokens such as "Googlebot/2.1" hit.
type BotClassifier struct {
	keywords []string
}

// NewBotClassifier lower-cases keywords once; empty keywords are dropped.
func NewBotClassifier(keywords []string) *BotClassifier {
	c := &BotClassifier{keywords: make([]string, 0, len(keywords))}
	for _, k := range keywords {
		if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
			c.keywords = append(c.keywords, k)
		}
	}
	return c
}

// IsBot reports whether userAgent looks like a crawler or scripted client.
func (c *BotClassifier) IsBot(userAgent string) bool {
	if userAgent == "" {
		return false
	}
	ua := strings.ToLower(userAgent)
	for _, k := range c.keywords {
		if strings.Contains(ua, k) {
			return true
		}
	}
	return false
}

// Enricher fills in the derived fields of freshly parsed records.
type Enricher struct {
	bots *BotClassifier
}

func NewEnricher(bots *BotClassifier) *Enricher {
	return &Enricher{bots: bots}
}

// Enrich sets the extension and bot flag of r.
func (e *Enricher) Enrich(r *model.AccessRecord) {
	r.Extension = Extension(r.Path)
	r.IsBot = e.bots.IsBot(r.UserAgent)
}

// EnrichAll enriches every record in place.
func (e *Enricher) EnrichAll(records []model.AccessRecord) {
	for i := range records {
		e.Enrich(&records[i])
	}
}
