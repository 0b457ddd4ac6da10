package vterm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/queue"
)

// WriteInput queues one byte received from the client. It reports false once
// input is closed.
func (t *Terminal) WriteInput(b byte) bool {
	return t.input.Put(b)
}

// CloseInput signals the end of client input. Queued bytes can still be read.
func (t *Terminal) CloseInput() {
	t.input.Close()
}

// ReadInput blocks for the next input byte. It returns EOF once input is closed
// and drained, or when ctx ends.
func (t *Terminal) ReadInput(ctx context.Context) int {
	b, err := t.input.Take(ctx)
	if err != nil {
		return EOF
	}
	return int(b)
}

// Read implements io.Reader over the input bytes. It blocks for the first byte and
// then returns whatever else is queued.
func (t *Terminal) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	b, err := t.input.Take(context.Background())
	if err != nil {
		if errors.Is(err, queue.ErrClosed) {
			return 0, io.EOF
		}
		return 0, err
	}
	p[0] = b
	n := 1
	for n < len(p) {
		next, ok := t.input.TryTake()
		if !ok {
			break
		}
		p[n] = next
		n++
	}
	return n, nil
}

// Write buffers standard output until the next Flush.
func (t *Terminal) Write(p []byte) (int, error) {
	return t.stdout.Write(p)
}

// Stdout returns the standard output stream.
func (t *Terminal) Stdout() *Stream {
	return t.stdout
}

// Stderr returns the standard error stream.
func (t *Terminal) Stderr() *Stream {
	return t.stderr
}

// Flush sends buffered standard output and standard error to the client.
func (t *Terminal) Flush() error {
	return errors.Join(t.stdout.Flush(), t.stderr.Flush())
}

// Stream is one buffered output stream of a terminal.
type Stream struct {
	t      *Terminal
	method string

	mu  sync.Mutex
	buf bytes.Buffer
}

// Write appends p to the buffer.
func (s *Stream) Write(p []byte) (int, error) {
	if s.t.Closed() {
		return 0, ErrClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

// Buffered returns the number of unflushed bytes.
func (s *Stream) Buffered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

// Flush sends the buffered bytes as one notification and clears the buffer.
// An empty buffer sends nothing.
func (s *Stream) Flush() error {
	s.mu.Lock()
	if s.buf.Len() == 0 {
		s.mu.Unlock()
		return nil
	}
	data := bytes.Clone(s.buf.Bytes())
	s.buf.Reset()
	s.mu.Unlock()

	if s.t.Closed() {
		return ErrClosed
	}
	return s.t.q.Notify(s.method, protocol.SystemOutParams{Bytes: data, Channel: s.t.opts.Name})
}
