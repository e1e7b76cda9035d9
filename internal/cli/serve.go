package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jaakkos/sharedstore/internal/dashboard"
	"github.com/jaakkos/sharedstore/internal/domain"
	"github.com/jaakkos/sharedstore/internal/lifecycle"
	"github.com/jaakkos/sharedstore/internal/tools/records"
)

// NewServeCommand creates the serve command: the application role exposed as
// an MCP server on stdio, plus the dashboard and MCP over HTTP when --http is set.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	var httpAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run as the application and serve the store over MCP (stdio)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// Keep running when daemonized (nohup, launchd, etc.)
			signal.Ignore(syscall.SIGHUP)
			return withProcess(cmd.Context(), rootOpts, runOptions{role: domain.RoleApplication}, func(ctx context.Context, p *lifecycle.Process) error {
				addr := httpAddr
				if addr == "" {
					addr = p.Config.HTTPAddr
				}
				return runServe(ctx, p, rootOpts.Version, addr, cmd)
			})
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "Listen address for the dashboard and MCP over HTTP (e.g. 127.0.0.1:8943)")
	return cmd
}

func newMCPServer(p *lifecycle.Process, version string) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			p.Logger.Printf("Calling tool: %s", message.Params.Name)
		}
	})
	s := server.NewMCPServer(
		"sharedstore",
		version,
		server.WithToolCapabilities(false),
		server.WithHooks(hooks),
	)
	records.Register(s, p.Accessor, p.Coordinator, p.Logger, records.WithToolFilter(p.Config.IsToolEnabled))
	return s
}

// newHTTPHandler serves the dashboard, its JSON API and the MCP server over
// streamable HTTP at /mcp.
func newHTTPHandler(p *lifecycle.Process, s *server.MCPServer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/mcp", server.NewStreamableHTTPServer(s))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","phase":%q}`, p.Coordinator.Phase())
	})
	dash := dashboard.NewHandler(p.Accessor, p.Coordinator, p.Config.GroupID, p.Role)
	dash.RegisterRoutes(mux)
	return mux
}

func serveHTTP(ctx context.Context, p *lifecycle.Process, s *server.MCPServer, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("http listen %s: %w", addr, err)
	}
	p.Logger.Printf("Dashboard: http://%s/dashboard", ln.Addr())
	httpServer := &http.Server{Handler: newHTTPHandler(p, s)}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			p.Logger.Printf("HTTP shutdown error: %v", err)
		}
	}()
	if err := httpServer.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func runServe(ctx context.Context, p *lifecycle.Process, version, httpAddr string, cmd *cobra.Command) error {
	s := newMCPServer(p, version)
	sub := records.PushStoreChanges(s, p.Notifier, p.Accessor, p.Logger)
	defer sub.Unsubscribe()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// stdin closing ends the session and the process.
		defer cancel()
		stdio := server.NewStdioServer(s)
		stdio.SetErrorLogger(p.Logger)
		p.Logger.Printf("Serving MCP on stdio")
		return stdio.Listen(gctx, cmd.InOrStdin(), cmd.OutOrStdout())
	})
	if httpAddr != "" {
		g.Go(func() error {
			return serveHTTP(gctx, p, s, httpAddr)
		})
	}
	g.Go(func() error {
		reportFailures(gctx, p.Errors, p.Logger.Writer())
		return nil
	})
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
