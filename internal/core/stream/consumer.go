package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/ports"
)

// Status is the lifecycle state of a consumer's current session.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusStreaming
	StatusStopped
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusStreaming:
		return "streaming"
	case StatusStopped:
		return "stopped"
	case StatusErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// Consumer accumulates a workload's log stream into an ordered buffer and
// exposes start/stop/clear controls over it.
//
// A consumer owns at most one open transport handle at a time. Entries are
// appended strictly in delivery order with no deduplication or batching.
// Intentional teardown (Stop, context cancellation, Retarget) is never
// surfaced through Err; only genuine transport failures are.
type Consumer struct {
	transport ports.LogStreamTransport

	// OnEntry, when set before Start, is invoked for every appended entry from
	// the session goroutine. It must not call back into the consumer.
	OnEntry func(domain.LogEntry)

	mu         sync.Mutex
	logs       []domain.LogEntry
	status     Status
	err        error
	handle     ports.LogStream
	cancel     context.CancelFunc
	done       chan struct{}
	gen        uint64
	workloadID string
	query      domain.LogQuery
}

func New(transport ports.LogStreamTransport) *Consumer {
	return &Consumer{transport: transport, status: StatusIdle}
}

// Start opens a new session for workloadID. While a session is loading or
// streaming, Start is a no-op: it never opens a second connection. Any error
// from a previous session is cleared.
func (c *Consumer) Start(ctx context.Context, workloadID string, query domain.LogQuery) {
	c.mu.Lock()
	if c.status == StatusLoading || c.status == StatusStreaming {
		c.mu.Unlock()
		return
	}

	// Release a lingering handle from the previous session before opening a
	// new one, so two readers are never attached at once.
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	prev := c.done

	c.gen++
	gen := c.gen
	c.status = StatusLoading
	c.err = nil
	c.workloadID = workloadID
	c.query = query

	sctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	go c.run(sctx, gen, workloadID, query, prev, done)
}

func (c *Consumer) run(ctx context.Context, gen uint64, workloadID string, query domain.LogQuery, prev, done chan struct{}) {
	defer close(done)

	// Let the previous session's goroutine settle first.
	if prev != nil {
		<-prev
	}
	if ctx.Err() != nil {
		c.finish(gen, StatusStopped, nil)
		return
	}

	s, err := c.transport.OpenLogStream(ctx, workloadID, query)
	if err != nil {
		if isCancellation(ctx, err) {
			c.finish(gen, StatusStopped, nil)
		} else {
			c.finish(gen, StatusErrored, err)
		}
		return
	}

	c.mu.Lock()
	// A Stop issued while the open was in flight already ended this session;
	// the opened stream must be released, not installed.
	if c.gen != gen || c.status != StatusLoading {
		c.mu.Unlock()
		s.Close()
		return
	}
	c.handle = s
	c.status = StatusStreaming
	onEntry := c.OnEntry
	c.mu.Unlock()

	for {
		entry, err := s.Recv()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF):
				c.finish(gen, StatusStopped, nil)
			case isCancellation(ctx, err):
				c.finish(gen, StatusStopped, nil)
			default:
				c.finish(gen, StatusErrored, err)
			}
			return
		}

		c.mu.Lock()
		if c.gen != gen || c.status != StatusStreaming {
			c.mu.Unlock()
			return
		}
		c.logs = append(c.logs, entry)
		c.mu.Unlock()

		if onEntry != nil {
			onEntry(entry)
		}
	}
}

// isCancellation classifies intentional teardown. Both transports return
// ports.ErrStreamClosed after Close; a cancelled session context covers the
// window where the underlying connection error is transport-specific.
func isCancellation(ctx context.Context, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ports.ErrStreamClosed) {
		return true
	}
	return ctx.Err() != nil
}

func (c *Consumer) finish(gen uint64, status Status, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return
	}
	if c.cancel != nil {
		c.cancel()
	}
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	// A stop that raced the session goroutine already moved the status to a
	// terminal state; never downgrade Stopped to Errored afterwards.
	if c.status == StatusStopped && status == StatusErrored {
		return
	}
	c.status = status
	c.err = err
}

// Stop releases the transport handle and ends the session. It is idempotent
// and safe to call in any state, including before the first Start.
func (c *Consumer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	if c.handle != nil {
		c.handle.Close()
		c.handle = nil
	}
	if c.status == StatusLoading || c.status == StatusStreaming {
		c.status = StatusStopped
	}
}

// Clear empties the accumulated buffer without touching connection state.
func (c *Consumer) Clear() {
	c.mu.Lock()
	c.logs = nil
	c.mu.Unlock()
}

// Retarget points the consumer at a new workload or query, tearing down the
// active session and resetting the buffer. Retargeting to the current target
// while a session is active is a no-op.
func (c *Consumer) Retarget(ctx context.Context, workloadID string, query domain.LogQuery) {
	c.mu.Lock()
	same := c.workloadID == workloadID && queryEqual(c.query, query)
	active := c.status == StatusLoading || c.status == StatusStreaming
	c.mu.Unlock()
	if same && active {
		return
	}
	c.Stop()
	c.Clear()
	c.Start(ctx, workloadID, query)
}

func queryEqual(a, b domain.LogQuery) bool {
	if a.Level != b.Level || a.Direction != b.Direction {
		return false
	}
	return timePtrEqual(a.StartDate, b.StartDate) && timePtrEqual(a.EndDate, b.EndDate)
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// Logs returns a copy of the accumulated buffer in delivery order.
func (c *Consumer) Logs() []domain.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.LogEntry, len(c.logs))
	copy(out, c.logs)
	return out
}

func (c *Consumer) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Consumer) IsLoading() bool { return c.Status() == StatusLoading }

func (c *Consumer) IsStreaming() bool { return c.Status() == StatusStreaming }

// Err returns the last non-cancellation failure, or nil. It is cleared by the
// next Start.
func (c *Consumer) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done returns a channel closed when the current session's goroutine exits.
// Before the first Start it returns an already-closed channel.
func (c *Consumer) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}
