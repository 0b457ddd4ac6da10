package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestClientWithoutServer(t *testing.T) {
	stateDir := t.TempDir()
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("socket:\n  state_dir: "+stateDir+"\n"), 0600))

	_, err := execute(t, "--config", cfgPath, "-C", t.TempDir(), "client", "--batch", "compile")
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "no server running for"), err.Error())
}

func TestServeRejectsArguments(t *testing.T) {
	_, err := execute(t, "--config", filepath.Join(t.TempDir(), "missing.yaml"), "serve", "extra")
	assert.Error(t, err)
}

func TestExitError(t *testing.T) {
	err := &exitError{code: 3}
	assert.Equal(t, "command exited with code 3", err.Error())
}

type scriptedExecutor struct {
	outcomes map[string]func() (protocol.ExecStatusEvent, error)
	ran      []string
}

func (s *scriptedExecutor) Exec(_ context.Context, line string) (protocol.ExecStatusEvent, error) {
	s.ran = append(s.ran, line)
	if out, ok := s.outcomes[line]; ok {
		return out()
	}
	zero := 0
	return protocol.ExecStatusEvent{Status: protocol.StatusDone, ExitCode: &zero}, nil
}

func TestExecLines(t *testing.T) {
	failing := 2
	tests := []struct {
		name     string
		outcome  func() (protocol.ExecStatusEvent, error)
		wantErr  bool
		wantRan  []string
		wantNote string
	}{
		{
			name: "non-zero exit continues",
			outcome: func() (protocol.ExecStatusEvent, error) {
				return protocol.ExecStatusEvent{Status: protocol.StatusDone, ExitCode: &failing}, nil
			},
			wantRan:  []string{"first", "second", "third"},
			wantNote: "command exited with code 2",
		},
		{
			name: "cancelled continues",
			outcome: func() (protocol.ExecStatusEvent, error) {
				return protocol.ExecStatusEvent{}, jsonrpc.NewError(jsonrpc.CodeRequestCancelled, "cancelled")
			},
			wantRan:  []string{"first", "second", "third"},
			wantNote: "cancelled",
		},
		{
			name: "failure ends the session",
			outcome: func() (protocol.ExecStatusEvent, error) {
				return protocol.ExecStatusEvent{}, jsonrpc.NewError(jsonrpc.CodeInternalError, "boom")
			},
			wantErr: true,
			wantRan: []string{"first", "second"},
		},
		{
			name: "lost connection ends the session",
			outcome: func() (protocol.ExecStatusEvent, error) {
				return protocol.ExecStatusEvent{}, errors.New("connection closed")
			},
			wantErr: true,
			wantRan: []string{"first", "second"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exec := &scriptedExecutor{outcomes: map[string]func() (protocol.ExecStatusEvent, error){"second": tt.outcome}}
			var stderr bytes.Buffer

			err := execLines(context.Background(), exec, strings.NewReader("first\n\n second \nthird\n"), &stderr)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantRan, exec.ran)
			assert.Contains(t, stderr.String(), tt.wantNote)
		})
	}
}
