package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/codefionn/buildwire/internal/jsonrpc"
)

// ErrClosed is returned for round trips on a channel that shut down.
var ErrClosed = errors.New("channel closed")

// Query sends a request to the client and waits for its response. result may be
// nil when only success matters. Handlers run on the dispatch loop and must not
// call Query themselves: the response would never be read.
func (c *Channel) Query(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := jsonrpc.StringID(uuid.NewString())
	key := id.Key()
	replies := make(chan *jsonrpc.Response, 1)

	c.queryMu.Lock()
	select {
	case <-c.done:
		c.queryMu.Unlock()
		return ErrClosed
	default:
	}
	c.outstanding[key] = replies
	c.queryMu.Unlock()

	defer func() {
		c.queryMu.Lock()
		delete(c.outstanding, key)
		c.queryMu.Unlock()
	}()

	payload, err := jsonrpc.EncodeRequest(id, method, params)
	if err != nil {
		return err
	}
	if !c.enqueue(payload, true) {
		return ErrClosed
	}

	select {
	case resp := <-replies:
		if result == nil {
			if resp.Error != nil {
				return resp.Error
			}
			return nil
		}
		return resp.DecodeResult(result)
	case <-c.done:
		return ErrClosed
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	}
}

// Outstanding returns the number of queries awaiting a reply.
func (c *Channel) Outstanding() int {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	return len(c.outstanding)
}

// replyTo returns the waiter of a query response, if any.
func (c *Channel) replyTo(resp *jsonrpc.Response) (chan *jsonrpc.Response, bool) {
	c.queryMu.Lock()
	defer c.queryMu.Unlock()
	ch, ok := c.outstanding[resp.ID.Key()]
	return ch, ok
}
