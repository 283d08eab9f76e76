// Package ws implements the pull log stream binding: a WebSocket connection
// delivering already-parsed LogEntry values, read one at a time by the
// consumer.
package ws

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/ports"
)

const handshakeTimeout = 10 * time.Second

type Transport struct {
	baseURL string
	header  http.Header
}

// NewTransport returns a pull transport rooted at baseURL. Both http(s) and
// ws(s) schemes are accepted; http schemes are rewritten for the dial.
func NewTransport(baseURL string, header http.Header) *Transport {
	return &Transport{baseURL: strings.TrimRight(baseURL, "/"), header: header}
}

func (t *Transport) OpenLogStream(ctx context.Context, workloadID string, query domain.LogQuery) (ports.LogStream, error) {
	u, err := url.Parse(fmt.Sprintf("%s/api/workloads/%s/logs/ws", t.baseURL, workloadID))
	if err != nil {
		return nil, err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = query.Values().Encode()

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, u.String(), t.header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed: %s: %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}

	s := &stream{ctx: ctx, conn: conn}
	// Release a blocked read as soon as the session context ends.
	go func() {
		<-ctx.Done()
		s.Close()
	}()
	return s, nil
}

type stream struct {
	ctx    context.Context
	conn   *websocket.Conn
	closed atomic.Bool
}

// Recv blocks for the next entry. A normal close from the server maps to
// io.EOF; a parse failure is a read failure for this binding, not a skip.
func (s *stream) Recv() (domain.LogEntry, error) {
	var entry domain.LogEntry
	if err := s.conn.ReadJSON(&entry); err != nil {
		if s.closed.Load() {
			return domain.LogEntry{}, ports.ErrStreamClosed
		}
		if cerr := s.ctx.Err(); cerr != nil {
			return domain.LogEntry{}, cerr
		}
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return domain.LogEntry{}, io.EOF
		}
		return domain.LogEntry{}, err
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	return entry, nil
}

func (s *stream) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	deadline := time.Now().Add(time.Second)
	s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	return s.conn.Close()
}
