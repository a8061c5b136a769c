package parser

import (
	"fmt"

	"github.com/atikulmunna/logscope/internal/model"
)

// LineSource yields raw lines one at a time. *bufio.Scanner satisfies it.
type LineSource interface {
	Scan() bool
	Text() string
	Err() error
}

// Batch is the outcome of running a parser over one line source.
type Batch[T any] struct {
	Records []T
	Lines   int
	Skipped int
}

// ParseAccess parses every line of src and tags each record with server.
// Only a failure of src itself is returned as an error; the records read
// before the failure are kept.
func ParseAccess(p *AccessParser, src LineSource, server string) (Batch[model.AccessRecord], error) {
	return parseAll(src, func(line string) (model.AccessRecord, bool) {
		rec, ok := p.Parse(line)
		rec.Server = server
		return rec, ok
	})
}

// ParseErrors is ParseAccess for error-log lines.
func ParseErrors(p *ErrorParser, src LineSource, server string) (Batch[model.ErrorRecord], error) {
	return parseAll(src, func(line string) (model.ErrorRecord, bool) {
		rec, ok := p.Parse(line)
		rec.Server = server
		return rec, ok
	})
}

func parseAll[T any](src LineSource, parse func(string) (T, bool)) (Batch[T], error) {
	var b Batch[T]
	for src.Scan() {
		b.Lines++
		rec, ok := parse(src.Text())
		if !ok {
			b.Skipped++
			continue
		}
		b.Records = append(b.Records, rec)
	}
	if err := src.Err(); err != nil {
		return b, fmt.Errorf("reading lines: %w", err)
	}
	return b, nil
}
