package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hupe1980/flowmesh/mcp"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/server"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/tool/builtin"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
)

func serveCMD(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := flags.openApp(cmd)
			if err != nil {
				return err
			}
			defer app.Close()

			if addr == "" {
				addr = app.Config.Server.Address
			}
			return server.New(app).Start(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.address)")
	return cmd
}

func mcpServeCMD(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp-serve",
		Short: "Serve the builtin tools over MCP stdio",
		Long: `mcp-serve exposes get_datetime, get_current_datetime, add_to_stack and
pop_from_stack as an MCP server on stdin/stdout. Logs go to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := cfg.Logger(cmd.ErrOrStderr()).WithComponent("mcp")
			reg := tool.NewRegistry(builtin.Defaults(), func(o *tool.RegistryOptions) {
				o.Name = "builtin"
				o.Logger = logger
			})
			return mcp.ServeStdio(cmd.Context(), reg, func(o *mcp.ServerOptions) {
				o.Name = "flowmesh-builtin"
				o.Version = Version
				o.Logger = logger
			})
		},
	}
}

func mockBackendCMD(flags *rootFlags) *cobra.Command {
	var (
		addr   string
		maxLen int
		delay  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "mock-backend",
		Short: "Serve the scripted model as an OpenAI-compatible API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.loadConfig()
			if err != nil {
				return err
			}
			logger := cfg.Logger(cmd.ErrOrStderr()).WithComponent("mock").With("max_len", maxLen)
			backend := model.NewMockBackend(func(o *model.MockBackendOptions) { o.MaxLen = maxLen })
			e := server.NewMockBackend(backend, func(o *server.MockBackendOptions) {
				o.Delay = delay
				o.Logger = logger
			})
			logger.Info("mock.listening", "address", addr)
			return serveEcho(cmd.Context(), e, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().IntVar(&maxLen, "max-len", 0, "truncate replies to this many characters (0 disables)")
	cmd.Flags().DurationVar(&delay, "delay", 10*time.Millisecond, "pause between streamed fragments")
	return cmd
}

// serveEcho runs e until ctx is canceled.
func serveEcho(ctx context.Context, e *echo.Echo, addr string) error {
	errCh := make(chan error, 1)
	go func() { errCh <- e.Start(addr) }()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	}
}
