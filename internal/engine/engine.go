// Package engine is the reference build engine behind a server: a single worker
// running submitted command lines in order, the handle of the command currently
// running, a settings table and the parser state completions are computed from.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/queue"
)

// ErrStopped is returned when submitting to a stopped engine.
var ErrStopped = errors.New("engine stopped")

// ErrCancelled is the error of a result whose work was cancelled.
var ErrCancelled = errors.New("work cancelled")

// Work is the handle of the command currently running.
type Work interface {
	ExecID() string
	CancelAndShutdown()
}

// Terminal is the client terminal a command runs against. Every call may be a
// round trip to the client.
type Terminal interface {
	Width() int
	Height() int
	IsAnsiSupported() bool
	IsColorEnabled() bool
	NumericCapability(name string) int
}

// Command is one submitted command line.
type Command struct {
	ExecID      string
	CommandLine string
	Channel     string
	// ReplyTo is the ledger key of the request to answer when the command
	// finishes, empty when nobody waits for a response. The engine only carries it.
	ReplyTo string

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Terminal is nil for batch sessions.
	Terminal Terminal

	// OnStart is called when the command leaves the queue.
	OnStart func(execID string)
	// OnDone is called exactly once with the outcome, also for commands dropped
	// because the engine stopped.
	OnDone func(Result)
}

// Result is the outcome of one command.
type Result struct {
	ExecID   string
	ExitCode int
	Err      error
}

// Cancelled reports whether the work was cancelled.
func (r Result) Cancelled() bool {
	return errors.Is(r.Err, ErrCancelled)
}

// Runner executes one command line.
type Runner interface {
	Run(ctx context.Context, cmd *Command) (exitCode int, err error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd *Command) (int, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, cmd *Command) (int, error) { return f(ctx, cmd) }

// Engine queues commands and runs them one at a time.
type Engine struct {
	runner Runner
	log    *logger.Logger

	queue   *queue.Queue[*Command]
	counter atomic.Int64
	stopped atomic.Bool

	mu      sync.Mutex
	running *runningWork

	state    atomic.Pointer[ParserState]
	settings *Settings
}

// New returns an engine running commands through runner.
func New(runner Runner, settings *Settings) *Engine {
	if settings == nil {
		settings = NewSettings(nil)
	}
	e := &Engine{
		runner:   runner,
		log:      logger.Global().WithPrefix("engine"),
		queue:    queue.New[*Command](),
		settings: settings,
	}
	e.state.Store(NewParserState(nil, settings.Names()))
	return e
}

// Submit queues cmd. An empty ExecID is replaced by an anonymous id. It returns the
// assigned id and the number of commands queued ahead of it.
func (e *Engine) Submit(cmd *Command) (string, int, error) {
	if cmd.ExecID == "" {
		cmd.ExecID = protocol.AnonymousExecMarker + strconv.FormatInt(e.counter.Add(1), 10)
	}
	ahead := e.queue.Len()
	if !e.queue.Put(cmd) {
		return cmd.ExecID, 0, ErrStopped
	}
	e.log.Debug("queued %s from %s: %s", cmd.ExecID, cmd.Channel, cmd.CommandLine)
	return cmd.ExecID, ahead, nil
}

// Pending returns the number of queued commands.
func (e *Engine) Pending() int {
	return e.queue.Len()
}

// Running returns the handle of the running command, nil when idle.
func (e *Engine) Running() Work {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running == nil {
		return nil
	}
	return e.running
}

// LastState returns the parser state after the last finished command.
func (e *Engine) LastState() *ParserState {
	return e.state.Load()
}

// Settings returns the settings table.
func (e *Engine) Settings() *Settings {
	return e.settings
}

// Run executes queued commands until ctx ends or Stop is called. Commands still
// queued when it returns are finished with ErrStopped.
func (e *Engine) Run(ctx context.Context) error {
	defer e.drain()

	for {
		cmd, err := e.queue.Take(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		if e.stopped.Load() {
			finish(cmd, Result{ExecID: cmd.ExecID, ExitCode: -1, Err: ErrStopped})
			continue
		}
		e.execute(ctx, cmd)
	}
}

// Stop refuses new commands and cancels the running one.
func (e *Engine) Stop() {
	e.stopped.Store(true)
	e.queue.Close()
	if work := e.Running(); work != nil {
		work.CancelAndShutdown()
	}
}

func (e *Engine) drain() {
	e.queue.Close()
	for {
		cmd, ok := e.queue.TryTake()
		if !ok {
			return
		}
		finish(cmd, Result{ExecID: cmd.ExecID, ExitCode: -1, Err: ErrStopped})
	}
}

func (e *Engine) execute(ctx context.Context, cmd *Command) {
	workCtx, cancel := context.WithCancel(ctx)
	work := &runningWork{execID: cmd.ExecID, cancel: cancel}
	defer cancel()

	e.mu.Lock()
	e.running = work
	e.mu.Unlock()

	if cmd.OnStart != nil {
		cmd.OnStart(cmd.ExecID)
	}
	e.log.Info("running %s: %s", cmd.ExecID, cmd.CommandLine)

	code, err := e.run(workCtx, cmd)
	if work.cancelled.Load() {
		err = ErrCancelled
	}

	e.mu.Lock()
	e.running = nil
	e.mu.Unlock()

	e.state.Store(e.state.Load().With(cmd.CommandLine))
	if err != nil {
		e.log.Warn("%s finished with exit code %d: %v", cmd.ExecID, code, err)
	} else {
		e.log.Info("%s finished with exit code %d", cmd.ExecID, code)
	}
	finish(cmd, Result{ExecID: cmd.ExecID, ExitCode: code, Err: err})
}

func (e *Engine) run(ctx context.Context, cmd *Command) (code int, err error) {
	defer func() {
		if r := recover(); r != nil {
			code, err = -1, fmt.Errorf("runner panicked: %v", r)
		}
	}()
	return e.runner.Run(ctx, cmd)
}

func finish(cmd *Command, res Result) {
	if cmd.OnDone != nil {
		cmd.OnDone(res)
	}
}

type runningWork struct {
	execID    string
	cancel    context.CancelFunc
	cancelled atomic.Bool
}

func (w *runningWork) ExecID() string {
	return w.execID
}

// CancelAndShutdown cancels the work's context. The runner stops the process.
func (w *runningWork) CancelAndShutdown() {
	if w.cancelled.CompareAndSwap(false, true) {
		w.cancel()
	}
}
