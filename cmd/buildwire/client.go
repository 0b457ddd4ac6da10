package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/codefionn/buildwire/internal/auth"
	"github.com/codefionn/buildwire/internal/client"
	"github.com/codefionn/buildwire/internal/consts"
	"github.com/codefionn/buildwire/internal/jsonrpc"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/protocol"
	"github.com/codefionn/buildwire/internal/server"
	"github.com/codefionn/buildwire/internal/socketutil"
)

type clientOptions struct {
	address string
	batch   bool
}

func newClientCmd(root *rootOptions) *cobra.Command {
	opts := &clientOptions{}

	cmd := &cobra.Command{
		Use:   "client [command line...]",
		Short: "Connect to the project's build server and run command lines",
		Long: "Runs the given command line on the build server of the project directory. " +
			"Without arguments, command lines are read from standard input, one per line.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClient(cmd, root, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.address, "address", "", "server address: socket path or ws:// URL (default from the token file)")
	cmd.Flags().BoolVar(&opts.batch, "batch", false, "do not attach the local terminal")
	return cmd
}

// target resolves the server address and token from the flags and the token file.
func (o *clientOptions) target(root *rootOptions) (string, string, error) {
	cfg, project, err := root.load()
	if err != nil {
		return "", "", err
	}
	tokenPath, err := cfg.TokenPathFor(project)
	if err != nil {
		return "", "", err
	}

	tf, err := auth.ReadTokenFile(tokenPath)
	if err != nil && o.address == "" {
		socketPath, _ := cfg.Socket.PathFor(project)
		logger.Debug("%s", socketutil.Describe(socketPath))
		return "", "", fmt.Errorf("no server running for %s: %w", project, err)
	}

	address := o.address
	if address == "" {
		address = strings.TrimPrefix(tf.URI, server.URIScheme)
	}
	return address, tf.Token, nil
}

func runClient(cmd *cobra.Command, root *rootOptions, opts *clientOptions, args []string) error {
	address, token, err := opts.target(root)
	if err != nil {
		return err
	}

	term := client.NewLocalTerminal(os.Stdin, os.Stdout)
	interactive := !opts.batch && len(args) > 0 && term.Interactive() && client.IsTerminal(os.Stdin)

	ctx := cmd.Context()
	dialCtx, cancel := context.WithTimeout(ctx, consts.Timeout10Seconds)
	c, err := client.Dial(dialCtx, address, client.Config{
		ClientName: "buildwire",
		Token:      token,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
		Terminal:   term,
	})
	if err != nil {
		cancel()
		return err
	}
	defer c.Close()
	defer term.Restore()

	_, err = c.Initialize(dialCtx)
	cancel()
	if err != nil {
		return err
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	go cancelOnInterrupt(ctx, c, interrupts, cmd.ErrOrStderr())

	if len(args) > 0 {
		if interactive {
			if err := c.Attach(ctx, true); err != nil {
				return err
			}
			go forwardInput(c, os.Stdin)
		}
		return execLine(ctx, c, strings.Join(args, " "))
	}

	if err := execLines(ctx, c, cmd.InOrStdin(), cmd.ErrOrStderr()); err != nil {
		return err
	}
	return c.Shutdown()
}

type executor interface {
	Exec(ctx context.Context, commandLine string) (protocol.ExecStatusEvent, error)
}

// execLines runs every non-empty line of in. A failing exit code or a cancelled
// command is reported and the next line runs; anything else ends the session.
func execLines(ctx context.Context, c executor, in io.Reader, stderr io.Writer) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if err := execLine(ctx, c, line); err != nil {
			if !recoverable(err) {
				return err
			}
			fmt.Fprintf(stderr, "%v\n", err)
		}
	}
	return scanner.Err()
}

func recoverable(err error) bool {
	var exit *exitError
	if errors.As(err, &exit) {
		return true
	}
	var rpcErr *jsonrpc.Error
	return errors.As(err, &rpcErr) && rpcErr.Code == jsonrpc.CodeRequestCancelled
}

func execLine(ctx context.Context, c executor, line string) error {
	event, err := c.Exec(ctx, line)
	if err != nil {
		return err
	}
	if event.ExitCode != nil && *event.ExitCode != 0 {
		return &exitError{code: *event.ExitCode}
	}
	return nil
}

// cancelOnInterrupt cancels the running command on every interrupt.
func cancelOnInterrupt(ctx context.Context, c *client.Client, interrupts <-chan os.Signal, stderr io.Writer) {
	for {
		select {
		case <-interrupts:
		case <-c.Done():
			return
		}

		execID := c.Current()
		if execID == "" {
			continue
		}
		cancelCtx, cancel := context.WithTimeout(ctx, consts.Timeout5Seconds)
		if _, err := c.Cancel(cancelCtx, execID); err != nil {
			fmt.Fprintf(stderr, "cancel failed: %v\n", err)
		}
		cancel()
	}
}

func forwardInput(c *client.Client, in io.Reader) {
	buf := make([]byte, consts.BufferSize1KB)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			if sendErr := c.SendInput(buf[:n]); sendErr != nil {
				return
			}
		}
		if err != nil {
			_ = c.CloseInput()
			return
		}
	}
}
