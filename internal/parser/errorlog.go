package parser

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/atikulmunna/logscope/internal/model"
)

// DefaultErrorMarker is the word PHP writes between timestamp and severity.
const DefaultErrorMarker = "PHP"

// ErrorParser handles application error lines of the form
//
//	[12-Jan-2024 00:00:00 UTC] PHP Fatal error:  message
//
// Lines that do not match from their first byte are skipped.
type ErrorParser struct {
	re *regexp.Regexp
}

// NewErrorParser builds a parser for the given marker word; an empty
// marker means DefaultErrorMarker.
func NewErrorParser(marker string) *ErrorParser {
	if marker == "" {
		marker = DefaultErrorMarker
	}
	pattern := fmt.Sprintf(`^\[(.*?)\]\s+%s\s+([A-Za-z ]+):\s*(.*)`, regexp.QuoteMeta(marker))
	return &ErrorParser{re: regexp.MustCompile(pattern)}
}

// Parse returns the record for line, or false if line is not an error record.
func (p *ErrorParser) Parse(line string) (model.ErrorRecord, bool) {
	m := p.re.FindStringSubmatch(line)
	if m == nil {
		return model.ErrorRecord{}, false
	}
	return model.ErrorRecord{
		Time:    m[1],
		Type:    NormalizeSeverity(m[2]),
		Message: strings.TrimSpace(m[3]),
	}, true
}

// NormalizeSeverity maps a raw severity phrase onto the labels used in reports.
func NormalizeSeverity(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "fatal error":
		return model.ErrorTypeFatal
	case "warning":
		return model.ErrorTypeWarning
	case "notice":
		return model.ErrorTypeInfo
	}
	return capitalize(s)
}

// capitalize upper-cases the first letter of an already lower-cased phrase.
func capitalize(s string) string {
	r, n := utf8.DecodeRuneInString(s)
	if n == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + s[n:]
}
