package channel

import (
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/vterm"
)

// Terminal returns the attached virtual terminal, nil in batch mode.
func (c *Channel) Terminal() *vterm.Terminal {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	return c.terminal
}

// swapTerminal installs next and returns the previous terminal. Once the channel
// has shut down nothing is installed and ok is false.
func (c *Channel) swapTerminal(next *vterm.Terminal) (prev *vterm.Terminal, ok bool) {
	c.termMu.Lock()
	defer c.termMu.Unlock()
	if c.termClosed {
		return nil, false
	}
	prev = c.terminal
	c.terminal = next
	return prev, true
}

// Attach switches the channel between interactive and batch mode. Interactive
// mode replaces any terminal with a fresh one; batch mode flushes and closes it.
func (c *Channel) Attach(interactive bool) *vterm.Terminal {
	var next *vterm.Terminal
	if interactive {
		next = vterm.New(c, vterm.Options{
			Name:              c.Name(),
			Interactive:       true,
			PropertiesTTL:     c.opts.PropertiesTTL,
			PropertiesTimeout: c.opts.PropertiesTimeout,
			CapabilityTimeout: c.opts.CapabilityTimeout,
			Logger:            c.log,
		})
	}

	prev, ok := c.swapTerminal(next)
	if !ok {
		if next != nil {
			next.Close()
		}
		return nil
	}
	if prev != nil {
		if err := prev.Flush(); err != nil {
			c.log.Debug("flush detached terminal: %v", err)
		}
		prev.Close()
	}
	c.log.Info("attached (interactive: %v)", interactive)
	return next
}

func (c *Channel) handleAttach(_ Callback, req *jsonrpc.Request) error {
	key := req.ID.Key()
	if c.dropUninitialized(key, req.Method) {
		return nil
	}
	var params protocol.AttachParams
	if err := req.DecodeParams(&params); err != nil {
		return err
	}
	c.Attach(params.Interactive)
	c.RespondResult(key, nil)
	return nil
}

func (c *Channel) handleSystemIn(_ Callback, n *jsonrpc.Notification) error {
	var params protocol.SystemInParams
	if err := n.DecodeParams(&params); err != nil {
		return err
	}
	if params.Byte < 0 || params.Byte > 255 {
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, "input byte %d out of range", params.Byte)
	}
	term := c.Terminal()
	if term == nil {
		c.log.Debug("input without terminal dropped")
		return nil
	}
	term.WriteInput(byte(params.Byte))
	return nil
}

func (c *Channel) handleInputClosed(_ Callback, _ *jsonrpc.Notification) error {
	if term := c.Terminal(); term != nil {
		term.CloseInput()
	}
	return nil
}
