package agent

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// DockerSource follows a running container's output line by line.
type DockerSource struct {
	cli *client.Client
}

func NewDockerSource() (*DockerSource, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerSource{cli: cli}, nil
}

// Follow streams the container's logs into lineFn until the container stops
// or ctx is cancelled. It returns the container's exit code.
func (d *DockerSource) Follow(ctx context.Context, containerID string, lineFn func(string)) (int64, error) {
	inspect, err := d.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return 0, fmt.Errorf("inspect container: %w", err)
	}

	out, err := d.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
	})
	if err != nil {
		return 0, fmt.Errorf("attach to container logs: %w", err)
	}

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer out.Close()
		scanLines(out, inspect.Config.Tty, lineFn)
	}()

	statusCh, errCh := d.cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return 0, fmt.Errorf("wait for container: %w", err)
		}
		<-readDone
		return 0, nil
	case status := <-statusCh:
		// Drain remaining buffered output before reporting the exit.
		<-readDone
		return status.StatusCode, nil
	case <-ctx.Done():
		out.Close()
		<-readDone
		return 0, ctx.Err()
	}
}

// scanLines handles both container output modes: TTY containers emit a plain
// byte stream, non-TTY ones use Docker's multiplexed framing with an 8-byte
// header ([1 stream type][3 padding][4 big-endian size]) per chunk.
func scanLines(r io.Reader, tty bool, lineFn func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !tty {
		scanner.Split(func(data []byte, atEOF bool) (int, []byte, error) {
			if atEOF && len(data) == 0 {
				return 0, nil, nil
			}
			if len(data) < 8 {
				return 0, nil, nil
			}
			size := binary.BigEndian.Uint32(data[4:8])
			total := 8 + int(size)
			if len(data) < total {
				return 0, nil, nil
			}
			return total, data[8:total], nil
		})
	}

	for scanner.Scan() {
		for _, line := range splitChunk(scanner.Text()) {
			if line != "" {
				lineFn(line)
			}
		}
	}
}

// splitChunk breaks a multiplexed payload that may carry several lines.
func splitChunk(chunk string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(chunk); i++ {
		if chunk[i] == '\n' {
			lines = append(lines, trimCR(chunk[start:i]))
			start = i + 1
		}
	}
	if start < len(chunk) {
		lines = append(lines, trimCR(chunk[start:]))
	}
	return lines
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}
