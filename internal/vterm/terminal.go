// Package vterm implements a terminal whose input, output and capabilities live on
// the remote end of a channel.
//
// Output is buffered and sent as one notification per Flush. Capabilities are
// answered by requests to the client: the properties snapshot is cached for a
// short TTL with at most one refresh in flight, single capabilities are queried
// one at a time and never cached. Every caller blocked on the client registers as
// a waiter; Close interrupts all of them and they return defaults.
package vterm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/queue"
)

// EOF is returned by ReadInput once input is closed and drained.
const EOF = -1

// ErrClosed is returned when writing to a closed terminal.
var ErrClosed = errors.New("terminal closed")

// Querier carries the terminal's round trips. The channel implements it.
type Querier interface {
	// Query sends a request and decodes the reply into result. It returns when the
	// reply arrives, ctx ends or the channel goes away.
	Query(ctx context.Context, method string, params interface{}, result interface{}) error
	Notify(method string, params interface{}) error
}

// PromptMode describes how the session presents itself to the user.
type PromptMode int

const (
	// PromptBatch runs commands without interaction.
	PromptBatch PromptMode = iota
	// PromptRunning is shown while a command runs in an interactive session.
	PromptRunning
	// PromptInteractive is the idle interactive prompt.
	PromptInteractive
)

func (m PromptMode) String() string {
	switch m {
	case PromptBatch:
		return "batch"
	case PromptRunning:
		return "running"
	case PromptInteractive:
		return "interactive"
	default:
		return fmt.Sprintf("PromptMode(%d)", int(m))
	}
}

// Options configure a terminal. Zero values take the package defaults.
type Options struct {
	Name              string
	Interactive       bool
	PropertiesTTL     time.Duration
	PropertiesTimeout time.Duration
	CapabilityTimeout time.Duration
	Logger            *logger.Logger
	Now               func() time.Time
}

func (o *Options) applyDefaults() {
	if o.PropertiesTTL <= 0 {
		o.PropertiesTTL = consts.DefaultPropertiesTTL
	}
	if o.PropertiesTimeout <= 0 {
		o.PropertiesTimeout = consts.DefaultPropertiesTimeout
	}
	if o.CapabilityTimeout <= 0 {
		o.CapabilityTimeout = consts.DefaultCapabilityTimeout
	}
	if o.Logger == nil {
		o.Logger = logger.Global()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

// Terminal is the virtual terminal of one channel.
type Terminal struct {
	q    Querier
	opts Options
	log  *logger.Logger

	input  *queue.Queue[byte]
	stdout *Stream
	stderr *Stream

	mu          sync.Mutex
	closed      bool
	done        chan struct{}
	props       *protocol.TerminalPropertiesResponse
	lastRefresh time.Time
	refreshing  chan struct{}
	refreshes   int
	waiters     map[uint64]context.CancelFunc
	nextWaiter  uint64
	prompt      PromptMode
}

// New returns an open terminal whose round trips go through q.
func New(q Querier, opts Options) *Terminal {
	opts.applyDefaults()
	t := &Terminal{
		q:       q,
		opts:    opts,
		log:     opts.Logger.WithPrefix("vterm"),
		input:   queue.New[byte](),
		done:    make(chan struct{}),
		waiters: make(map[uint64]context.CancelFunc),
		prompt:  PromptBatch,
	}
	if opts.Interactive {
		t.prompt = PromptInteractive
	}
	t.stdout = &Stream{t: t, method: protocol.MethodSystemOut}
	t.stderr = &Stream{t: t, method: protocol.MethodSystemErr}
	return t
}

// Name returns the name of the owning channel.
func (t *Terminal) Name() string {
	return t.opts.Name
}

// Interactive reports whether the terminal was attached in interactive mode.
func (t *Terminal) Interactive() bool {
	return t.opts.Interactive
}

// Attached reports whether the client has answered a properties query.
func (t *Terminal) Attached() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.props != nil
}

// Closed reports whether Close was called.
func (t *Terminal) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// Done is closed when the terminal closes.
func (t *Terminal) Done() <-chan struct{} {
	return t.done
}

// Close interrupts every blocked caller, ends input and discards unflushed output.
// It is safe to call more than once.
func (t *Terminal) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.done)
	waiters := t.waiters
	t.waiters = make(map[uint64]context.CancelFunc)
	t.mu.Unlock()

	for _, cancel := range waiters {
		cancel()
	}
	t.input.Close()
	t.log.Debug("closed, interrupted %d waiters", len(waiters))
}

// Waiters returns the number of callers currently blocked on the client.
func (t *Terminal) Waiters() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.waiters)
}

// wait registers a blocked caller. The returned context ends on timeout or Close;
// release must be called when the caller stops waiting.
func (t *Terminal) wait(timeout time.Duration) (ctx context.Context, release func(), ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	id := t.nextWaiter
	t.nextWaiter++
	t.waiters[id] = cancel

	release = func() {
		t.mu.Lock()
		delete(t.waiters, id)
		t.mu.Unlock()
		cancel()
	}
	return ctx, release, true
}

// SetPrompt changes the prompt mode.
func (t *Terminal) SetPrompt(mode PromptMode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.prompt = mode
}

// Prompt returns the prompt mode.
func (t *Terminal) Prompt() PromptMode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.prompt
}

// IsSuccessEnabled reports whether success feedback is shown. Only batch sessions
// stay quiet.
func (t *Terminal) IsSuccessEnabled() bool {
	return t.Prompt() != PromptBatch
}
