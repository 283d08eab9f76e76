package agent

import (
	"regexp"
	"strings"
	"time"

	"aimx.console/internal/core/domain"
)

// Container output carries no structure, so the agent recovers what it can:
// a leading RFC3339 timestamp and a level token anywhere in the first few
// words. Everything unrecognized becomes an INFO entry with the receive time.

var timestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:\d{2})?)\s+`)

var levelRe = regexp.MustCompile(`(?i)\b(TRACE|DEBUG|INFO|WARNING|WARN|ERROR|ERR|FATAL|CRITICAL)\b[:\]]?`)

// parseEntry turns one raw container log line into a LogEntry.
func parseEntry(line string, now time.Time) domain.LogEntry {
	entry := domain.LogEntry{
		Timestamp: now,
		Level:     domain.LevelInfo,
		Message:   line,
	}

	if m := timestampRe.FindStringSubmatch(line); m != nil {
		raw := strings.Replace(m[1], " ", "T", 1)
		for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05"} {
			if ts, err := time.Parse(layout, raw); err == nil {
				entry.Timestamp = ts
				entry.Message = strings.TrimSpace(line[len(m[0]):])
				break
			}
		}
	}

	// Only scan the head of the message: a level word deep inside free text
	// is more likely payload than severity.
	head := entry.Message
	if len(head) > 48 {
		head = head[:48]
	}
	if m := levelRe.FindStringSubmatch(head); m != nil {
		entry.Level = domain.ParseLevel(m[1])
	}

	return entry
}
