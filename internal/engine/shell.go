package engine

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"

	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/logger"
)

// ShellRunner runs command lines through a shell in a working directory.
type ShellRunner struct {
	Shell string
	Dir   string
	// WaitDelay bounds how long a finished process waits for its I/O to drain.
	WaitDelay time.Duration
}

// Run executes cmd.CommandLine and returns its exit code. Cancelling ctx stops the
// whole process group.
func (r *ShellRunner) Run(ctx context.Context, cmd *Command) (int, error) {
	c := exec.CommandContext(ctx, r.Shell, shellFlag(r.Shell), cmd.CommandLine)
	c.Dir = r.Dir
	c.Env = append(os.Environ(), "BUILDWIRE_EXEC_ID="+cmd.ExecID)
	c.Env = append(c.Env, TerminalEnv(cmd.Terminal)...)
	c.Stdin = cmd.Stdin
	c.Stdout = cmd.Stdout
	c.Stderr = cmd.Stderr
	configureProcessGroup(c)
	c.Cancel = func() error {
		return terminateProcessGroup(c)
	}
	c.WaitDelay = r.WaitDelay
	if c.WaitDelay <= 0 {
		c.WaitDelay = consts.Timeout2Seconds
	}

	err := c.Run()
	if err == nil {
		return 0, nil
	}

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		if ctx.Err() != nil {
			return exitErr.ExitCode(), ctx.Err()
		}
		return exitErr.ExitCode(), nil
	case errors.Is(err, exec.ErrWaitDelay):
		// the process exited but its stdin copy was still blocked on client input
		logger.Debug("engine: %s exited with stdin still open", cmd.ExecID)
		return c.ProcessState.ExitCode(), nil
	default:
		return -1, err
	}
}

func shellFlag(shell string) string {
	if runtime.GOOS == "windows" {
		return "/C"
	}
	return "-c"
}

// trueColors is the numeric "colors" capability of a 24-bit terminal.
const trueColors = 1 << 24

// TerminalEnv describes the client terminal to a child process. Unknown sizes are
// left out; a client without ANSI support gets TERM=dumb and one without colour
// NO_COLOR. Nil means batch: no variables.
func TerminalEnv(t Terminal) []string {
	if t == nil {
		return nil
	}
	var env []string
	if w := t.Width(); w > 0 {
		env = append(env, "COLUMNS="+strconv.Itoa(w))
	}
	if h := t.Height(); h > 0 {
		env = append(env, "LINES="+strconv.Itoa(h))
	}
	if !t.IsAnsiSupported() {
		env = append(env, "TERM=dumb")
	}
	if !t.IsColorEnabled() {
		return append(env, "NO_COLOR=1")
	}
	if t.NumericCapability("colors") >= trueColors {
		env = append(env, "COLORTERM=truecolor")
	}
	return env
}
