package channel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
)

func TestMatchExecID(t *testing.T) {
	tests := []struct {
		name      string
		running   string
		requested string
		want      bool
	}{
		{"equal strings", "build-1", "build-1", true},
		{"different strings", "build-1", "build-2", false},
		{"marked running matches number", "⚓42", "42", true},
		{"marked running matches padded number", "⚓42", "042", true},
		{"marked running different number", "⚓42", "43", false},
		{"marked running with marked request", "⚓42", "⚓42", false},
		{"marked running non numeric request", "⚓42", "abc", false},
		{"marked running non numeric remainder", "⚓x", "1", false},
		{"unmarked running does not match marked request", "42", "⚓42", false},
		{"unmarked numeric strings compare as strings", "42", "042", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MatchExecID(tt.running, tt.requested))
		})
	}
}

func TestCancellation(t *testing.T) {
	tests := []struct {
		name        string
		running     *fakeWork
		target      string
		wantCode    int
		wantCancels int32
	}{
		{name: "matching id", running: &fakeWork{id: "E"}, target: "E", wantCancels: 1},
		{name: "anonymous id", running: &fakeWork{id: "⚓42"}, target: "42", wantCancels: 1},
		{name: "mismatch", running: &fakeWork{id: "E"}, target: "X", wantCode: jsonrpc.CodeCancelMismatch},
		{name: "marked request against unmarked id", running: &fakeWork{id: "42"}, target: "⚓42", wantCode: jsonrpc.CodeCancelMismatch},
		{name: "no work", target: "E", wantCode: jsonrpc.CodeNoRunningWork},
		{name: "cancel fails", running: &fakeWork{id: "E", panics: true}, target: "E", wantCode: jsonrpc.CodeCancelFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, nil)
			if tt.running != nil {
				f.engine.setRunning(tt.running)
			}

			f.peer.request(9, protocol.MethodCancelRequest, protocol.CancelRequestParams{ID: tt.target})
			msg := f.peer.next()
			require.NotNil(t, msg.ID)
			assert.Equal(t, "9", msg.ID.String())

			if tt.wantCode != 0 {
				require.NotNil(t, msg.Error)
				assert.Equal(t, tt.wantCode, msg.Error.Code)
			} else {
				require.Nil(t, msg.Error)
				event := decode[protocol.ExecStatusEvent](t, msg.Result)
				assert.Equal(t, protocol.StatusCancelled, event.Status)
				assert.Equal(t, "network-1", event.ChannelName)
				assert.Equal(t, tt.running.id, event.ExecID)
			}
			if tt.running != nil {
				assert.Equal(t, tt.wantCancels, tt.running.cancels.Load())
			}
			assert.True(t, f.ch.Running(), "cancellation never stops the channel")
		})
	}
}
