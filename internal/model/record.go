package model

import "time"

// Severity labels assigned to error-log records.
const (
	ErrorTypeFatal   = "Fatal Error (Critical)"
	ErrorTypeWarning = "Warning"
	ErrorTypeInfo    = "Info"
)

// NoValue is the placeholder logged for a field that is not available.
const NoValue = "-"

// RawLine is a single unparsed line together with the file it came from.
type RawLine struct {
	Text   string
	Source string // originating file path
}

// AccessRecord is one parsed access-log line.
//
// Optional fields are pointers: nil means the value could not be recovered
// from the line, which is different from a recovered zero (size 0 is valid).
type AccessRecord struct {
	IP         string     `json:"ip"`
	Time       *time.Time `json:"time"`
	Method     string     `json:"method"`
	Path       string     `json:"path"`
	Protocol   string     `json:"protocol"`
	Status     *int       `json:"status"`
	Size       *int64     `json:"size"`
	Referrer   string     `json:"referrer"`
	UserAgent  string     `json:"user_agent"`
	ReqTime    *string    `json:"req_time"`
	ProxyChain string     `json:"proxy_chain"`

	// Set after parsing by whoever knows the originating shard.
	Server string `json:"server"`

	// Derived.
	Extension string `json:"extension"`
	IsBot     bool   `json:"is_bot"`
}

// StatusCode returns the status and whether one was recovered.
func (r *AccessRecord) StatusCode() (int, bool) {
	if r.Status == nil {
		return 0, false
	}
	return *r.Status, true
}

// IsError reports whether the record carries a status of 400 or above.
// A record without a status is never an error.
func (r *AccessRecord) IsError() bool {
	s, ok := r.StatusCode()
	return ok && s >= 400
}

// HasStatus reports whether the record's status equals one of codes.
func (r *AccessRecord) HasStatus(codes ...int) bool {
	s, ok := r.StatusCode()
	if !ok {
		return false
	}
	for _, c := range codes {
		if s == c {
			return true
		}
	}
	return false
}

// ErrorRecord is one parsed application error-log line.
type ErrorRecord struct {
	Time    string `json:"time"` // as written inside the brackets
	Type    string `json:"type"`
	Message string `json:"message"`
	Server  string `json:"server"`
}
