package channel

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
)

// MatchExecID reports whether a cancel request for requested targets the work
// running as runningID.
//
// Anonymous ids carry the anchor marker followed by a counter; they match the
// bare number numerically. Everything else must be equal as a string, so a
// marked request never matches an unmarked running id.
func MatchExecID(runningID, requested string) bool {
	if rest, ok := strings.CutPrefix(runningID, protocol.AnonymousExecMarker); ok {
		running, err := strconv.Atoi(rest)
		if err != nil {
			return false
		}
		want, err := strconv.Atoi(requested)
		if err != nil {
			return false
		}
		return running == want
	}
	return runningID == requested
}

// OnCancellationRequest cancels the engine's running work if params.ID names it
// and answers request id with the outcome. It never fails the channel.
func (c *Channel) OnCancellationRequest(id string, params protocol.CancelRequestParams) {
	if c.dropUninitialized(id, protocol.MethodCancelRequest) {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Error("cancel %q: %v", params.ID, r)
			c.RespondError(id, jsonrpc.CodeCancelFailed, fmt.Sprintf("cancel request failed: %v", r))
		}
	}()

	if c.opts.Engine == nil {
		c.RespondError(id, jsonrpc.CodeNoRunningWork, "no work in progress")
		return
	}
	work := c.opts.Engine.Running()
	if work == nil {
		c.RespondError(id, jsonrpc.CodeNoRunningWork, "no work in progress")
		return
	}

	runningID := work.ExecID()
	if !MatchExecID(runningID, params.ID) {
		c.log.Info("cancel %q does not match running %q", params.ID, runningID)
		c.RespondError(id, jsonrpc.CodeCancelMismatch, fmt.Sprintf("id mismatch: running %s", runningID))
		return
	}

	work.CancelAndShutdown()
	c.log.Info("cancelled %s", runningID)
	c.RespondResult(id, protocol.ExecStatusEvent{
		Status:      protocol.StatusCancelled,
		ChannelName: c.Name(),
		ExecID:      runningID,
	})
}
