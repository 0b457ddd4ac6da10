package channel

import (
	"bufio"
	"context"
	"errors"

	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/queue"
)

type outboundItem struct {
	payload []byte
	delimit bool
}

// enqueue hands a frame to the writer. Frames are written in enqueue order.
func (c *Channel) enqueue(payload []byte, delimit bool) bool {
	if !c.out.Put(outboundItem{payload: payload, delimit: delimit}) {
		c.log.Debug("dropped outbound frame, writer stopped")
		return false
	}
	return true
}

// writeLoop is the only writer of the connection.
func (c *Channel) writeLoop() {
	w := bufio.NewWriterSize(c.conn, consts.BufferSize64KB)

	for {
		item, err := c.out.Take(context.Background())
		if err != nil {
			// queue closed: teardown is in progress elsewhere
			c.alive.Store(false)
			if !errors.Is(err, queue.ErrClosed) {
				c.log.Warn("writer interrupted: %v", err)
			}
			return
		}

		if err := writeItem(w, item); err != nil {
			c.alive.Store(false)
			if c.running.Load() {
				c.log.Error("write failed: %v", err)
			}
			c.Shutdown()
			return
		}
	}
}

func writeItem(w *bufio.Writer, item outboundItem) error {
	if _, err := w.Write(item.payload); err != nil {
		return err
	}
	if item.delimit {
		if err := w.WriteByte(jsonrpc.Delimiter); err != nil {
			return err
		}
	}
	return w.Flush()
}
