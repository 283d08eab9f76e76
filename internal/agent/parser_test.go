package agent

import (
	"testing"
	"time"

	"aimx.console/internal/core/domain"
)

func TestParseEntry(t *testing.T) {
	now := time.Date(2026, 5, 6, 7, 8, 9, 0, time.UTC)

	tests := []struct {
		name     string
		line     string
		wantTS   time.Time
		wantLvl  domain.Level
		wantMsg  string
	}{
		{
			name:    "rfc3339 timestamp and level",
			line:    "2026-05-06T07:00:00Z ERROR failed to bind port",
			wantTS:  time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC),
			wantLvl: domain.LevelError,
			wantMsg: "ERROR failed to bind port",
		},
		{
			name:    "space-separated timestamp",
			line:    "2026-05-06 07:00:00 WARN disk nearly full",
			wantTS:  time.Date(2026, 5, 6, 7, 0, 0, 0, time.UTC),
			wantLvl: domain.LevelWarning,
			wantMsg: "WARN disk nearly full",
		},
		{
			name:    "bracketed level no timestamp",
			line:    "[DEBUG] cache warmed",
			wantTS:  now,
			wantLvl: domain.LevelDebug,
			wantMsg: "[DEBUG] cache warmed",
		},
		{
			name:    "level with colon",
			line:    "info: worker started",
			wantTS:  now,
			wantLvl: domain.LevelInfo,
			wantMsg: "info: worker started",
		},
		{
			name:    "plain line defaults to info",
			line:    "checkpoint saved to /tmp/ckpt",
			wantTS:  now,
			wantLvl: domain.LevelInfo,
			wantMsg: "checkpoint saved to /tmp/ckpt",
		},
		{
			name:    "level word deep in message is ignored",
			line:    "training step 9000 completed, loss trending down, no error conditions observed in validation",
			wantTS:  now,
			wantLvl: domain.LevelInfo,
			wantMsg: "training step 9000 completed, loss trending down, no error conditions observed in validation",
		},
		{
			name:    "fractional seconds",
			line:    "2026-05-06T07:00:00.123456Z FATAL out of memory",
			wantTS:  time.Date(2026, 5, 6, 7, 0, 0, 123456000, time.UTC),
			wantLvl: domain.LevelError,
			wantMsg: "FATAL out of memory",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseEntry(tt.line, now)
			if !got.Timestamp.Equal(tt.wantTS) {
				t.Errorf("timestamp = %v, want %v", got.Timestamp, tt.wantTS)
			}
			if got.Level != tt.wantLvl {
				t.Errorf("level = %q, want %q", got.Level, tt.wantLvl)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}
