package ports

import (
	"context"
	"errors"

	"aimx.console/internal/core/domain"
)

// ErrStreamClosed is returned by LogStream.Recv after Close. It marks an
// intentional teardown, never a transport failure, and consumers must not
// surface it to users.
var ErrStreamClosed = errors.New("log stream closed")

// ErrWorkloadNotFound is returned by repositories and services when the
// referenced workload does not exist.
var ErrWorkloadNotFound = errors.New("workload not found")

// LogStream is an open log connection. Recv blocks for the next entry and
// returns io.EOF on graceful end of stream. A stream is exclusively owned by
// one consumer and is not safe for concurrent Recv calls.
type LogStream interface {
	Recv() (domain.LogEntry, error)
	Close() error
}

// LogStreamTransport opens log streams against the gateway. Implementations
// exist for the push (SSE) and pull (WebSocket) wire bindings; consumers treat
// both identically through this interface.
type LogStreamTransport interface {
	OpenLogStream(ctx context.Context, workloadID string, query domain.LogQuery) (LogStream, error)
}

type WorkloadRepository interface {
	Create(ctx context.Context, w *domain.Workload) error
	Get(ctx context.Context, id string) (*domain.Workload, error)
	Update(ctx context.Context, w *domain.Workload) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, projectID string, offset, limit int) ([]*domain.Workload, error)
	Count(ctx context.Context, projectID string) (int64, error)
	ListByStatus(ctx context.Context, status domain.WorkloadStatus) ([]*domain.Workload, error)
}

// LogPubSub fans live log entries out to stream producers and keeps a capped
// recent-history window per workload.
type LogPubSub interface {
	Publish(ctx context.Context, workloadID string, entry domain.LogEntry) error
	// PublishDone marks the workload's stream as finished. Subscribers observe
	// it as a closed channel.
	PublishDone(ctx context.Context, workloadID string) error
	// Subscribe returns a channel of live entries for one workload. The channel
	// closes when the done marker is published or ctx is cancelled.
	Subscribe(ctx context.Context, workloadID string) (<-chan domain.LogEntry, error)
	Recent(ctx context.Context, workloadID string, limit int) ([]domain.LogEntry, error)
	// SubscribeAll returns a firehose of entries across every workload, used
	// by fanout publishers. Done markers surface with Done set and no entry.
	SubscribeAll(ctx context.Context) (<-chan WorkloadLogEntry, error)
}

// WorkloadLogEntry is a firehose item: one entry tagged with its workload.
type WorkloadLogEntry struct {
	WorkloadID string
	Entry      domain.LogEntry
	Done       bool
}
