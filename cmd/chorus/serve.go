package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/jllopis/chorus/pkg/config"
	"github.com/jllopis/chorus/pkg/server"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var (
		addr  string
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the chat API over HTTP",
		Long: `Serve the chorus HTTP API:

  GET    /health
  GET    /v1/personas
  GET    /v1/tools
  POST   /v1/chat            {"session_id"?, "message"} -> text/event-stream
  GET    /v1/sessions/:id
  DELETE /v1/sessions/:id

With --watch the config file is polled and the log level follows it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			opts := g.options()

			var (
				cfg     *config.Config
				watcher *config.Watcher
				err     error
			)
			if watch && opts.Path != "" {
				if watcher, err = config.NewWatcher(opts); err != nil {
					return err
				}
				cfg = watcher.Config()
			} else if cfg, err = config.LoadWith(opts); err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			rt, err := startRuntime(ctx, cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer rt.Close(context.WithoutCancel(ctx))

			if watcher != nil {
				watcher.OnChange(rt.Apply)
				watcher.Start(ctx)
				defer watcher.Stop()
			}

			mode := cfg.Server.Mode
			if mode == "" {
				mode = gin.ReleaseMode
			}
			srv := server.New(rt.Orchestrator,
				server.WithLogger(rt.Logger.With(slog.String("component", "server"))),
				server.WithMode(mode),
				server.WithSessions(server.NewSessions(time.Duration(cfg.Server.SessionTTLSeconds)*time.Second)),
				server.WithVersion(version),
			)
			rt.StartSweeper(srv.Sessions(), time.Duration(cfg.Server.SweepIntervalSeconds)*time.Second, 5*time.Second)
			return srv.Run(ctx, cfg.Server.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	cmd.Flags().BoolVar(&watch, "watch", false, "reload the log level when the config file changes")
	return cmd
}
