package tools

import (
	"io"
	"os/exec"
	"strings"
	"sync"
)

// tailBytes bounds how much of each stream is kept for error reporting and
// transient-signature matching.
const tailBytes = 16 * 1024

// Result captures the tail of stdout/stderr emitted by a streaming command run.
type Result struct {
	Stdout string
	Stderr string
}

// RunStreaming wires the command's stdout/stderr into log while collecting
// the tail of each for later inspection. A stream already redirected to a
// file is artifact data and is neither logged nor collected.
func RunStreaming(cmd *exec.Cmd, log io.Writer) (Result, error) {
	shared := &syncWriter{w: log}
	stdout := &tail{limit: tailBytes}
	stderr := &tail{limit: tailBytes}

	if cmd.Stdout == nil {
		cmd.Stdout = io.MultiWriter(shared, stdout)
	}
	if cmd.Stderr == nil {
		cmd.Stderr = io.MultiWriter(shared, stderr)
	}

	err := cmd.Run()

	return Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}, err
}

// PrimaryOutput returns stderr if present, otherwise stdout.
func PrimaryOutput(res Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}

// syncWriter serialises writes coming from the stdout and stderr copiers.
type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

// tail keeps the last limit bytes written to it.
type tail struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.limit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}
