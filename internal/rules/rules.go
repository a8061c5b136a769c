// Package rules holds the keyword lists and thresholds that drive field
// derivation and the security heuristics. Defaults live here; deployments
// override them from a YAML file so tests and operators can swap fixtures
// without touching detector code.
package rules

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalidRules is returned when a rules file is malformed or out of range.
var ErrInvalidRules = errors.New("rules: invalid rules")

// Rules configures the derivation and detection stages.
type Rules struct {
	// BotAgents are substrings matched against the lower-cased user agent.
	BotAgents []string `yaml:"bot_agents"`

	// SQLKeywords and XSSPatterns are matched case-insensitively against
	// the request path and the referrer.
	SQLKeywords []string `yaml:"sql_keywords"`
	XSSPatterns []string `yaml:"xss_patterns"`

	BruteForce BruteForce `yaml:"brute_force"`
	ErrorRate  ErrorRate  `yaml:"error_rate"`

	// ErrorMarker is the word between the timestamp and the severity in
	// application error logs.
	ErrorMarker string `yaml:"error_marker"`

	// TopN caps every ranked table in reports.
	TopN int `yaml:"top_n"`
}

// BruteForce configures the login brute-force detector.
type BruteForce struct {
	PathMarker string `yaml:"path_marker"`
	Statuses   []int  `yaml:"statuses"`
	// Groups are reported only when their count is strictly greater.
	Threshold int `yaml:"threshold"`
}

// ErrorRate configures the high-error-IP detector.
type ErrorRate struct {
	// Rate must be strictly exceeded.
	Rate float64 `yaml:"rate"`
	// MinRequests must be strictly exceeded.
	MinRequests int `yaml:"min_requests"`
	Limit       int `yaml:"limit"`
}

// Default returns the built-in rule set.
func Default() Rules {
	return Rules{
		BotAgents: []string{
			"bot", "spider", "crawl", "slurp", "baidu", "bingpreview", "duckduckbot",
			"yandex", "sogou", "exabot", "facebot", "ia_archiver", "mj12bot", "ahrefsbot",
			"semrushbot", "dotbot", "gigabot", "seznambot", "panscient", "applebot",
			"petalbot", "gptbot", "python-requests", "curl", "wget",
		},
		SQLKeywords: []string{
			"SELECT", "UNION", "DROP", "INSERT", "UPDATE", "DELETE", "WHERE", "OR", "AND",
		},
		XSSPatterns: []string{"<script>", "javascript:", "onerror=", "onload="},
		BruteForce: BruteForce{
			PathMarker: "login",
			Statuses:   []int{401, 403},
			Threshold:  5,
		},
		ErrorRate: ErrorRate{
			Rate:        0.5,
			MinRequests: 10,
			Limit:       10,
		},
		ErrorMarker: "PHP",
		TopN:        10,
	}
}

// Validate checks that thresholds are usable.
func (r Rules) Validate() error {
	switch {
	case r.ErrorRate.Rate < 0 || r.ErrorRate.Rate > 1:
		return fmt.Errorf("%w: error_rate.rate %v outside [0,1]", ErrInvalidRules, r.ErrorRate.Rate)
	case r.ErrorRate.MinRequests < 0:
		return fmt.Errorf("%w: error_rate.min_requests is negative", ErrInvalidRules)
	case r.ErrorRate.Limit <= 0:
		return fmt.Errorf("%w: error_rate.limit must be positive", ErrInvalidRules)
	case r.BruteForce.Threshold < 0:
		return fmt.Errorf("%w: brute_force.threshold is negative", ErrInvalidRules)
	case strings.TrimSpace(r.BruteForce.PathMarker) == "":
		return fmt.Errorf("%w: brute_force.path_marker is empty", ErrInvalidRules)
	case strings.TrimSpace(r.ErrorMarker) == "":
		return fmt.Errorf("%w: error_marker is empty", ErrInvalidRules)
	case r.TopN <= 0:
		return fmt.Errorf("%w: top_n must be positive", ErrInvalidRules)
	}
	return nil
}

// Load reads YAML from r on top of the defaults. Keys absent from the
// document keep their default values; lists present replace the defaults.
func Load(r io.Reader) (Rules, error) {
	out := Default()
	data, err := io.ReadAll(r)
	if err != nil {
		return Rules{}, fmt.Errorf("reading rules: %w", err)
	}
	if err := yaml.Unmarshal(data, &out); err != nil {
		return Rules{}, fmt.Errorf("%w: %v", ErrInvalidRules, err)
	}
	if err := out.Validate(); err != nil {
		return Rules{}, err
	}
	return out, nil
}

// LoadFile is Load for a path. An empty path yields the defaults.
func LoadFile(path string) (Rules, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return Rules{}, fmt.Errorf("opening rules file: %w", err)
	}
	defer f.Close()
	return Load(f)
}
