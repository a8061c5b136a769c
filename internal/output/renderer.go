package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/atikulmunna/logscope/internal/aggregator"
	"github.com/atikulmunna/logscope/internal/model"
	"github.com/atikulmunna/logscope/internal/security"
)

// Renderer writes streamed access records to an output.
type Renderer interface {
	Render(rec model.AccessRecord, findings []security.Finding) error
}

// ---------------------------------------------------------------------------
// Text Renderer (colorized terminal output)
// ---------------------------------------------------------------------------

var (
	style2xx   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))  // green
	style3xx   = lipgloss.NewStyle().Foreground(lipgloss.Color("245")) // gray
	style4xx   = lipgloss.NewStyle().Foreground(lipgloss.Color("220")) // yellow
	style5xx   = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleNone  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Faint(true)
	styleAlert = lipgloss.NewStyle().
			Foreground(lipgloss.Color("255")).
			Background(lipgloss.Color("196")).
			Bold(true) // white on red
	styleSource = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Faint(true) // cyan
	styleBot    = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
)

// TextRenderer prints one line per record with status-class colors.
type TextRenderer struct {
	w io.Writer
}

func NewTextRenderer(w io.Writer) *TextRenderer {
	return &TextRenderer{w: w}
}

func (r *TextRenderer) Render(rec model.AccessRecord, findings []security.Finding) error {
	ts := "--:--:--"
	if rec.Time != nil {
		ts = rec.Time.Format("15:04:05")
	}
	status := model.NoValue
	if s, ok := rec.StatusCode(); ok {
		status = fmt.Sprint(s)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s %s %-15s %s %s",
		ts,
		styleStatus(rec).Render(fmt.Sprintf("%-3s", status)),
		styleSource.Render(rec.Server),
		rec.IP,
		orDash(rec.Method),
		orDash(rec.Path))
	if rec.IsBot {
		b.WriteString(" " + styleBot.Render("bot"))
	}
	for _, f := range findings {
		b.WriteString(" " + styleAlert.Render(f.Kind))
	}
	_, err := fmt.Fprintln(r.w, b.String())
	return err
}

func styleStatus(rec model.AccessRecord) lipgloss.Style {
	switch aggregator.StatusClass(rec) {
	case "2xx":
		return style2xx
	case "3xx":
		return style3xx
	case "4xx":
		return style4xx
	case "5xx":
		return style5xx
	default:
		return styleNone
	}
}

func orDash(s string) string {
	if s == "" {
		return model.NoValue
	}
	return s
}

// ---------------------------------------------------------------------------
// JSON Renderer (structured output for piping)
// ---------------------------------------------------------------------------

// StreamEvent is the JSON shape of one streamed record.
type StreamEvent struct {
	Record   model.AccessRecord `json:"record"`
	Findings []security.Finding `json:"findings,omitempty"`
}

// JSONRenderer prints each record as a single JSON object per line.
type JSONRenderer struct {
	enc *json.Encoder
}

func NewJSONRenderer(w io.Writer) *JSONRenderer {
	return &JSONRenderer{enc: json.NewEncoder(w)}
}

func (r *JSONRenderer) Render(rec model.AccessRecord, findings []security.Finding) error {
	return r.enc.Encode(NewStreamEvent(rec, findings))
}

// NewStreamEvent pairs rec with its findings. The findings' own record
// copies are dropped since they repeat the event's.
func NewStreamEvent(rec model.AccessRecord, findings []security.Finding) StreamEvent {
	ev := StreamEvent{Record: rec}
	for _, f := range findings {
		ev.Findings = append(ev.Findings, security.Finding{Kind: f.Kind, Field: f.Field, Pattern: f.Pattern})
	}
	return ev
}
