package domain

import (
	"net/url"
	"strings"
	"time"
)

// Level is the severity attached to a single log entry.
type Level string

const (
	LevelDebug   Level = "DEBUG"
	LevelInfo    Level = "INFO"
	LevelWarning Level = "WARNING"
	LevelError   Level = "ERROR"
)

// severity ranks levels for minimum-level filtering. Unknown levels rank as INFO
// so a default filter never drops them silently.
func (l Level) severity() int {
	switch l {
	case LevelDebug:
		return 0
	case LevelWarning:
		return 2
	case LevelError:
		return 3
	default:
		return 1
	}
}

// AtLeast reports whether l is at or above min. An empty min matches everything.
func (l Level) AtLeast(min Level) bool {
	if min == "" {
		return true
	}
	return l.severity() >= min.severity()
}

// ParseLevel normalizes a level string. Aliases used by common runtimes
// ("warn", "err") map onto the canonical names.
func ParseLevel(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG", "TRACE":
		return LevelDebug
	case "WARNING", "WARN":
		return LevelWarning
	case "ERROR", "ERR", "FATAL", "CRITICAL":
		return LevelError
	default:
		return LevelInfo
	}
}

// LogEntry is one timestamped line of workload output. Entries are immutable
// once received and carry no identity beyond their position in the stream.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     Level     `json:"level"`
	Message   string    `json:"message"`
}

// LogQuery narrows a log stream request. The zero value means "everything, live".
type LogQuery struct {
	StartDate *time.Time
	EndDate   *time.Time
	Level     Level
	Direction string // "forward" or "backward", forward when empty
}

// Values serializes the query into the wire parameter names the gateway expects.
func (q LogQuery) Values() url.Values {
	v := url.Values{}
	if q.StartDate != nil {
		v.Set("start_date", q.StartDate.UTC().Format(time.RFC3339))
	}
	if q.EndDate != nil {
		v.Set("end_date", q.EndDate.UTC().Format(time.RFC3339))
	}
	if q.Level != "" {
		v.Set("level", string(q.Level))
	}
	if q.Direction != "" {
		v.Set("direction", q.Direction)
	}
	return v
}

// ParseLogQuery is the server-side inverse of Values.
func ParseLogQuery(v url.Values) (LogQuery, error) {
	var q LogQuery
	if s := v.Get("start_date"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, err
		}
		q.StartDate = &ts
	}
	if s := v.Get("end_date"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, err
		}
		q.EndDate = &ts
	}
	if s := v.Get("level"); s != "" {
		q.Level = ParseLevel(s)
	}
	q.Direction = v.Get("direction")
	return q, nil
}

// Matches reports whether an entry passes the query's level and date window.
func (q LogQuery) Matches(e LogEntry) bool {
	if !e.Level.AtLeast(q.Level) {
		return false
	}
	if q.StartDate != nil && e.Timestamp.Before(*q.StartDate) {
		return false
	}
	if q.EndDate != nil && e.Timestamp.After(*q.EndDate) {
		return false
	}
	return true
}
