package channel

import (
	"errors"
	"fmt"
	"io"

	"github.com/codefionn/buildwire/internal/engine"
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/vterm"
)

// AppendExec queues commandLine on the engine. Its progress is reported through
// execStatus notifications; no request is answered for it.
func (c *Channel) AppendExec(commandLine, execID string) (string, error) {
	return c.appendExec(commandLine, execID, "")
}

// appendExec queues commandLine and, when replyTo is a ledger key, answers that
// request once the work finishes.
func (c *Channel) appendExec(commandLine, execID, replyTo string) (string, error) {
	if !c.Initialized() {
		return "", ErrNotInitialized
	}
	if c.opts.Engine == nil {
		return "", errors.New("no engine")
	}

	cmd := &engine.Command{
		ExecID:      execID,
		CommandLine: commandLine,
		Channel:     c.Name(),
		ReplyTo:     replyTo,
		Stdout:      &output{c: c, method: protocol.MethodSystemOut},
		Stderr:      &output{c: c, method: protocol.MethodSystemErr},
		OnStart:     c.execStarted,
	}
	cmd.OnDone = func(res engine.Result) { c.execDone(cmd.ReplyTo, res) }
	if term := c.Terminal(); term != nil {
		cmd.Stdin = term
		cmd.Terminal = term
	}

	id, ahead, err := c.opts.Engine.Submit(cmd)
	if err != nil {
		return id, err
	}
	c.log.Debug("exec %s queued behind %d: %s", id, ahead, commandLine)
	_ = c.Notify(protocol.MethodExecStatus, protocol.ExecStatusEvent{
		Status:       protocol.StatusProcessing,
		ChannelName:  c.Name(),
		ExecID:       id,
		CommandQueue: ahead,
	})
	return id, nil
}

func (c *Channel) execStarted(execID string) {
	if term := c.Terminal(); term != nil {
		term.SetPrompt(vterm.PromptRunning)
	}
	_ = c.Notify(protocol.MethodExecStatus, protocol.ExecStatusEvent{
		Status:      protocol.StatusProcessing,
		ChannelName: c.Name(),
		ExecID:      execID,
	})
}

func (c *Channel) execDone(replyTo string, res engine.Result) {
	term := c.Terminal()
	announce := term != nil && term.IsSuccessEnabled()
	if term != nil {
		if err := term.Flush(); err != nil {
			c.log.Debug("flush terminal: %v", err)
		}
		term.SetPrompt(vterm.PromptInteractive)
	}

	code := res.ExitCode
	event := protocol.ExecStatusEvent{
		Status:      protocol.StatusDone,
		ChannelName: c.Name(),
		ExecID:      res.ExecID,
		ExitCode:    &code,
	}

	switch {
	case res.Cancelled():
		event.Status = protocol.StatusCancelled
		_ = c.Notify(protocol.MethodExecStatus, event)
		if replyTo != "" {
			c.RespondError(replyTo, jsonrpc.CodeRequestCancelled, "cancelled")
		}
	case res.Err != nil:
		event.Status = protocol.StatusError
		event.Message = res.Err.Error()
		_ = c.Notify(protocol.MethodExecStatus, event)
		if replyTo != "" {
			c.RespondError(replyTo, jsonrpc.CodeInternalError, res.Err.Error())
		}
	default:
		_ = c.Notify(protocol.MethodExecStatus, event)
		if announce && code == 0 {
			c.LogMessage(protocol.MessageInfo, "%s succeeded", res.ExecID)
		}
		if replyTo != "" {
			c.RespondResult(replyTo, event)
		}
	}
}

// output streams engine output to the client. With a terminal attached bytes go
// through it, otherwise each write becomes one notification.
type output struct {
	c      *Channel
	method string
}

func (o *output) Write(p []byte) (int, error) {
	if term := o.c.Terminal(); term != nil {
		stream := term.Stdout()
		if o.method == protocol.MethodSystemErr {
			stream = term.Stderr()
		}
		if n, err := stream.Write(p); err == nil {
			return n, stream.Flush()
		}
	}

	data := append([]byte(nil), p...)
	if err := o.c.Notify(o.method, protocol.SystemOutParams{Bytes: data, Channel: o.c.Name()}); err != nil {
		return 0, fmt.Errorf("forward output: %w", err)
	}
	return len(p), nil
}

var _ io.Writer = (*output)(nil)
