package client

import (
	"os"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/codefionn/buildwire/internal/protocol"
)

// LocalTerminal answers terminal queries from the process's own terminal.
type LocalTerminal struct {
	in  *os.File
	out *os.File

	mu       sync.Mutex
	echo     bool
	raw      bool
	restore  *term.State
	profile  termenv.Profile
	terminal bool
}

// NewLocalTerminal inspects in and out. Echo starts enabled on a terminal.
func NewLocalTerminal(in, out *os.File) *LocalTerminal {
	isTerm := IsTerminal(out)
	return &LocalTerminal{
		in:       in,
		out:      out,
		echo:     isTerm,
		profile:  termenv.NewOutput(out).EnvColorProfile(),
		terminal: isTerm,
	}
}

// IsTerminal reports whether f is an interactive terminal.
func IsTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Interactive reports whether output goes to a terminal.
func (t *LocalTerminal) Interactive() bool {
	return t.terminal
}

// Properties returns the current terminal snapshot.
func (t *LocalTerminal) Properties() protocol.TerminalPropertiesResponse {
	t.mu.Lock()
	echo := t.echo
	t.mu.Unlock()

	width, height := t.size()
	return protocol.TerminalPropertiesResponse{
		Width:               width,
		Height:              height,
		IsAnsiSupported:     t.terminal,
		IsColorEnabled:      t.terminal && t.profile != termenv.Ascii,
		IsSupershellEnabled: t.terminal && width > 0,
		IsEchoEnabled:       echo,
	}
}

func (t *LocalTerminal) size() (int, int) {
	if !t.terminal {
		return 0, 0
	}
	width, height, err := term.GetSize(int(t.out.Fd()))
	if err != nil {
		return 0, 0
	}
	return width, height
}

// Capability answers the few terminfo capabilities the server asks about.
// Unknown capabilities are left out of the answer.
func (t *LocalTerminal) Capability(query protocol.TerminalCapabilitiesQuery) protocol.TerminalCapabilitiesResponse {
	var resp protocol.TerminalCapabilitiesResponse
	width, height := t.size()

	switch query.Boolean {
	case "am", "xenl":
		v := t.terminal
		resp.Boolean = &v
	case "bce":
		v := false
		resp.Boolean = &v
	}

	switch query.Numeric {
	case "cols", "columns":
		resp.Numeric = &width
	case "lines":
		resp.Numeric = &height
	case "colors":
		v := colorCount(t.profile)
		resp.Numeric = &v
	}

	if t.terminal {
		if seq, ok := stringCapabilities[query.String]; ok {
			resp.String = &seq
		}
	}
	return resp
}

var stringCapabilities = map[string]string{
	"sgr0":  termenv.CSI + termenv.ResetSeq + "m",
	"clear": termenv.CSI + "H" + termenv.CSI + "2J",
	"el":    termenv.CSI + "K",
	"civis": termenv.CSI + "?25l",
	"cnorm": termenv.CSI + "?25h",
}

func colorCount(profile termenv.Profile) int {
	switch profile {
	case termenv.TrueColor:
		return 1 << 24
	case termenv.ANSI256:
		return 256
	case termenv.ANSI:
		return 16
	default:
		return -1
	}
}

// SetEcho toggles local echo. Echo is off while the terminal is in raw mode.
func (t *LocalTerminal) SetEcho(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.echo = enabled
	return t.apply()
}

// SetRawMode toggles raw mode.
func (t *LocalTerminal) SetRawMode(enabled bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.raw = enabled
	return t.apply()
}

// Restore leaves raw mode, if entered.
func (t *LocalTerminal) Restore() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaveRaw()
}

func (t *LocalTerminal) apply() error {
	if !t.terminal || t.in == nil {
		return nil
	}
	// x/term only offers raw mode, which also disables echo
	if t.raw || !t.echo {
		if t.restore != nil {
			return nil
		}
		state, err := term.MakeRaw(int(t.in.Fd()))
		if err != nil {
			return err
		}
		t.restore = state
		return nil
	}
	return t.leaveRaw()
}

func (t *LocalTerminal) leaveRaw() error {
	if t.restore == nil {
		return nil
	}
	err := term.Restore(int(t.in.Fd()), t.restore)
	t.restore = nil
	return err
}
