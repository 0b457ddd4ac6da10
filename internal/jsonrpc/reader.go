package jsonrpc

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/codefionn/buildwire/internal/consts"
)

// Delimiter terminates every outbound frame.
const Delimiter byte = '\n'

// FrameError describes one malformed frame. It is never fatal to a reader: the
// next ReadFrame continues with the following frame.
type FrameError struct {
	Reason string
	Input  string
}

func (e *FrameError) Error() string {
	if e.Input == "" {
		return "malformed frame: " + e.Reason
	}
	return fmt.Sprintf("malformed frame: %s (input %q)", e.Reason, e.Input)
}

// IsTimeout reports whether err is a read deadline expiring.
func IsTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// HeaderFunc receives header lines other than Content-Length.
type HeaderFunc func(name, value string)

// Reader cuts a byte stream into message bodies. It accepts LSP style frames
// ("Content-Length: N" headers, an empty line, N bytes) and bare single-line JSON.
//
// Partial frames survive read timeouts: after a timeout error the next call
// resumes where the previous one stopped.
type Reader struct {
	r        *bufio.Reader
	onHeader HeaderFunc
	maxSize  int

	line          []byte
	inHeaders     bool
	contentLength int
	body          []byte
	bodyN         int
	discardN      int
	discardErr    error
}

// NewReader returns a reader over r. onHeader may be nil.
func NewReader(r io.Reader, onHeader HeaderFunc) *Reader {
	return &Reader{
		r:        bufio.NewReaderSize(r, consts.BufferSize64KB),
		onHeader: onHeader,
		maxSize:  consts.MaxFrameSize,
	}
}

// SetMaxFrameSize changes the largest accepted body.
func (r *Reader) SetMaxFrameSize(n int) {
	r.maxSize = n
}

// ReadFrame returns the next message body. Malformed input yields *FrameError;
// any other error comes from the underlying stream.
func (r *Reader) ReadFrame() ([]byte, error) {
	for {
		if r.discardN > 0 {
			n, err := r.r.Discard(r.discardN)
			r.discardN -= n
			if err != nil {
				return nil, err
			}
			frameErr := r.discardErr
			r.discardErr = nil
			return nil, frameErr
		}

		if r.body != nil {
			n, err := io.ReadFull(r.r, r.body[r.bodyN:])
			r.bodyN += n
			if err != nil {
				return nil, err
			}
			body := r.body
			r.body = nil
			r.bodyN = 0
			return body, nil
		}

		line, err := r.readLine()
		if err != nil {
			return nil, err
		}
		text := strings.TrimRight(line, "\r\n")

		if !r.inHeaders {
			trimmed := strings.TrimSpace(text)
			if trimmed == "" {
				continue
			}
			if trimmed[0] == '{' || trimmed[0] == '[' {
				return []byte(trimmed), nil
			}
			r.inHeaders = true
			r.contentLength = -1
		}

		if text == "" {
			r.inHeaders = false
			switch {
			case r.contentLength < 0:
				return nil, &FrameError{Reason: "header block without Content-Length"}
			case r.contentLength > r.maxSize:
				r.discardN = r.contentLength
				r.discardErr = &FrameError{Reason: fmt.Sprintf("frame of %d bytes exceeds limit of %d", r.contentLength, r.maxSize)}
				continue
			}
			r.body = make([]byte, r.contentLength)
			r.bodyN = 0
			continue
		}

		name, value, ok := strings.Cut(text, ":")
		if !ok {
			r.inHeaders = false
			return nil, &FrameError{Reason: "malformed header line", Input: text}
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)

		if strings.EqualFold(name, "Content-Length") {
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				r.inHeaders = false
				return nil, &FrameError{Reason: "invalid Content-Length", Input: value}
			}
			r.contentLength = n
			continue
		}
		if r.onHeader != nil {
			r.onHeader(name, value)
		}
	}
}

// readLine returns one complete line including its terminator. Bytes read before
// an error are kept for the next call.
func (r *Reader) readLine() (string, error) {
	for {
		chunk, err := r.r.ReadSlice('\n')
		r.line = append(r.line, chunk...)
		if err == nil {
			line := string(r.line)
			r.line = r.line[:0]
			return line, nil
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			if len(r.line) > r.maxSize {
				r.line = r.line[:0]
				return "", &FrameError{Reason: fmt.Sprintf("line exceeds limit of %d bytes", r.maxSize)}
			}
			continue
		}
		return "", err
	}
}
