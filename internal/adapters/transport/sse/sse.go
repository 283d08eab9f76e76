// Package sse implements the push log stream binding: a persistent
// text/event-stream connection to the gateway, framed as one JSON LogEntry per
// data line and terminated by the literal "[DONE]" sentinel.
package sse

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/logger"
	"aimx.console/internal/core/ports"
)

// DoneSentinel ends a stream without carrying an entry.
const DoneSentinel = "[DONE]"

type Transport struct {
	baseURL string
	client  *http.Client
}

// NewTransport returns a push transport rooted at baseURL, e.g.
// "http://gateway:8080". A nil client falls back to a default with no overall
// timeout, since log streams are long-lived.
func NewTransport(baseURL string, client *http.Client) *Transport {
	if client == nil {
		client = &http.Client{}
	}
	return &Transport{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (t *Transport) OpenLogStream(ctx context.Context, workloadID string, query domain.LogQuery) (ports.LogStream, error) {
	u := fmt.Sprintf("%s/api/workloads/%s/logs/stream", t.baseURL, workloadID)
	if params := query.Values().Encode(); params != "" {
		u += "?" + params
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("stream request failed: %s", resp.Status)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &stream{ctx: ctx, body: resp.Body, sc: sc}, nil
}

type stream struct {
	ctx    context.Context
	body   io.ReadCloser
	sc     *bufio.Scanner
	closed atomic.Bool
}

// Recv returns the next entry. Malformed payloads are discarded and the scan
// continues; the sentinel maps to io.EOF.
func (s *stream) Recv() (domain.LogEntry, error) {
	for s.sc.Scan() {
		line := s.sc.Text()
		if !strings.HasPrefix(line, "data:") {
			// Comments, event names and blank separator lines.
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == DoneSentinel {
			return domain.LogEntry{}, io.EOF
		}

		var entry domain.LogEntry
		if err := json.Unmarshal([]byte(payload), &entry); err != nil {
			logger.Debug("discarding malformed stream payload", "error", err)
			continue
		}
		if entry.Timestamp.IsZero() {
			entry.Timestamp = time.Now().UTC()
		}
		return entry, nil
	}

	if s.closed.Load() {
		return domain.LogEntry{}, ports.ErrStreamClosed
	}
	if err := s.ctx.Err(); err != nil {
		return domain.LogEntry{}, err
	}
	if err := s.sc.Err(); err != nil {
		return domain.LogEntry{}, err
	}
	// Server closed the body without a sentinel.
	return domain.LogEntry{}, io.EOF
}

func (s *stream) Close() error {
	s.closed.Store(true)
	return s.body.Close()
}
