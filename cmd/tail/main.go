// Command tail follows a workload's log stream from the terminal, over either
// the SSE or the WebSocket binding.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aimx.console/internal/adapters/transport/sse"
	"aimx.console/internal/adapters/transport/ws"
	"aimx.console/internal/core/domain"
	"aimx.console/internal/core/ports"
	"aimx.console/internal/core/stream"
)

func main() {
	var (
		baseURL   = flag.String("gateway", "http://localhost:8080", "gateway base URL")
		transport = flag.String("transport", "sse", "stream transport: sse or ws")
		level     = flag.String("level", "", "minimum level (DEBUG, INFO, WARNING, ERROR)")
		since     = flag.Duration("since", 0, "only entries newer than this, e.g. 10m")
	)
	flag.Parse()

	workloadID := flag.Arg(0)
	if workloadID == "" {
		fmt.Fprintln(os.Stderr, "usage: tail [flags] <workload-id>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	var t ports.LogStreamTransport
	switch *transport {
	case "sse":
		t = sse.NewTransport(*baseURL, nil)
	case "ws":
		t = ws.NewTransport(*baseURL, nil)
	default:
		log.Fatalf("unknown transport %q", *transport)
	}

	var query domain.LogQuery
	if *level != "" {
		query.Level = domain.ParseLevel(*level)
	}
	if *since > 0 {
		start := time.Now().Add(-*since)
		query.StartDate = &start
	}

	consumer := stream.New(t)
	consumer.OnEntry = func(e domain.LogEntry) {
		fmt.Printf("%s %-7s %s\n", e.Timestamp.Format(time.RFC3339), e.Level, e.Message)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		consumer.Stop()
		cancel()
	}()

	consumer.Start(ctx, workloadID, query)
	<-consumer.Done()

	if err := consumer.Err(); err != nil {
		log.Fatalf("stream failed: %v", err)
	}
}
