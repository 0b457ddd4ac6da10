package jsonrpc

import (
	"errors"
	"io"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaderBareLinesAndBlankLines(t *testing.T) {
	input := "\n{\"a\":1}\n\r\n  {\"b\":2}  \r\n"
	r := NewReader(strings.NewReader(input), nil)

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(frame))

	frame, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(frame))

	_, err = r.ReadFrame()
	assert.ErrorIs(t, err, io.EOF)
}

func TestReaderContentLengthFrames(t *testing.T) {
	body1 := `{"jsonrpc":"2.0","method":"x"}`
	body2 := "{\n\"id\":1,\"method\":\"y\"}"
	input := "Content-Length: " + strconv.Itoa(len(body1)) + "\r\n" +
		"Content-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n" + body1 +
		"Content-Length: " + strconv.Itoa(len(body2)) + "\r\n\r\n" + body2

	var headers []string
	r := NewReader(strings.NewReader(input), func(name, value string) {
		headers = append(headers, name+"="+value)
	})

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, body1, string(frame))

	frame, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, body2, string(frame), "multi-line bodies are framed by length")

	assert.Equal(t, []string{"Content-Type=application/vscode-jsonrpc; charset=utf-8"}, headers)
}

func TestReaderMalformedHeadersAreNotFatal(t *testing.T) {
	input := "Content-Type: text/plain\r\n\r\n" +
		"Content-Length: abc\r\n" +
		"\r\n" +
		"{\"ok\":true}\n"
	r := NewReader(strings.NewReader(input), nil)

	_, err := r.ReadFrame()
	var frameErr *FrameError
	require.True(t, errors.As(err, &frameErr))
	assert.Contains(t, frameErr.Reason, "without Content-Length")

	_, err = r.ReadFrame()
	require.True(t, errors.As(err, &frameErr))
	assert.Contains(t, frameErr.Reason, "invalid Content-Length")

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(frame))
}

func TestReaderOversizedFrameIsSkipped(t *testing.T) {
	input := "Content-Length: 10\r\n\r\n0123456789{\"next\":1}\n"
	r := NewReader(strings.NewReader(input), nil)
	r.SetMaxFrameSize(5)

	_, err := r.ReadFrame()
	var frameErr *FrameError
	require.True(t, errors.As(err, &frameErr))
	assert.Contains(t, frameErr.Reason, "exceeds limit")

	frame, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, `{"next":1}`, string(frame))
}

// stutterReader delivers its chunks one per Read and reports a deadline error between them.
type stutterReader struct {
	chunks  []string
	timeout bool
}

func (s *stutterReader) Read(p []byte) (int, error) {
	if s.timeout {
		s.timeout = false
		return 0, os.ErrDeadlineExceeded
	}
	if len(s.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, s.chunks[0])
	s.chunks[0] = s.chunks[0][n:]
	if s.chunks[0] == "" {
		s.chunks = s.chunks[1:]
		s.timeout = true
	}
	return n, nil
}

func TestReaderResumesAfterTimeout(t *testing.T) {
	body := `{"jsonrpc":"2.0","method":"z"}`
	src := &stutterReader{chunks: []string{
		"Content-Len", "gth: " + strconv.Itoa(len(body)) + "\r", "\n\r\n", body[:10], body[10:],
		`{"line":`, "1}\n",
	}}
	r := NewReader(src, nil)

	var frames []string
	timeouts := 0
	for {
		frame, err := r.ReadFrame()
		if err != nil {
			if IsTimeout(err) {
				timeouts++
				continue
			}
			require.ErrorIs(t, err, io.EOF)
			break
		}
		frames = append(frames, string(frame))
	}

	assert.Equal(t, []string{body, `{"line":1}`}, frames)
	assert.Greater(t, timeouts, 0)
}
