package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codefionn/buildwire/internal/engine"
	"github.com/codefionn/buildwire/internal/logger"
	"github.com/codefionn/buildwire/internal/pprof"
	"github.com/codefionn/buildwire/internal/securemem"
	"github.com/codefionn/buildwire/internal/server"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		wsAddr string
		noAuth bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the build server for the project directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, project, err := root.load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("ws-addr") {
				cfg.WebSocket.Addr = wsAddr
			}
			if noAuth {
				cfg.Auth.TokenRequired = false
			}

			if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer logger.Global().Close()

			securemem.Init()
			defer securemem.Purge()

			profiler, err := pprof.Start(pprof.Config{
				CPUProfile:       cfg.Debug.CPUProfile,
				HeapProfile:      cfg.Debug.HeapProfile,
				GoroutineProfile: cfg.Debug.GoroutineProfile,
			})
			if err != nil {
				return err
			}
			defer func() {
				if err := profiler.Stop(); err != nil {
					logger.Warn("Failed to write profiles: %v", err)
				}
			}()

			settings := engine.NewSettings(map[string]string{
				"projectDir": project,
				"shell":      cfg.Engine.Shell,
			})
			eng := engine.New(&engine.ShellRunner{Shell: cfg.Engine.Shell, Dir: project}, settings)

			srv, err := server.New(cfg, project, eng)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(cmd.OutOrStdout(), "serving %s on %s\n", project, srv.SocketPath())
			if gw := srv.Gateway(); gw != nil {
				go func() {
					select {
					case <-srv.Ready():
						fmt.Fprintf(cmd.OutOrStdout(), "websocket gateway at %s\n", gw.URL())
					case <-ctx.Done():
					}
				}()
			}
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&wsAddr, "ws-addr", "", "also serve channels over websockets on this address")
	cmd.Flags().BoolVar(&noAuth, "no-auth", false, "accept clients without a token")
	return cmd
}
