package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/edgevec/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API (and MCP over stdio with --mcp)",
	Long: `Serve the HTTP API on 127.0.0.1:<server.port>.

Every route except /health needs "Authorization: Bearer <token>". The token
comes from --token, then ` + apiTokenEnv + `; otherwise a random one is
generated and printed to stderr.

With --mcp the same store is also exposed as MCP tools over stdin/stdout.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, _ := cmd.Flags().GetString("token")
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(token, withMCP)
	},
}

func init() {
	serveCmd.Flags().String("token", "", "bearer token for the HTTP API")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdio")
}

// resolveToken picks the API token: flag, environment, or a fresh one.
func resolveToken(flag string) (token string, generated bool) {
	if flag != "" {
		return flag, false
	}
	if env := os.Getenv(apiTokenEnv); env != "" {
		return env, false
	}
	return uuid.NewString(), true
}

func runServer(tokenFlag string, withMCP bool) error {
	fmt.Fprintf(os.Stderr, "edgevec version %s\n", version)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Refuse to start twice on the same port.
	probe := newAPIClient(cfg, "")
	probe.httpClient.Timeout = 2 * time.Second
	if probe.healthy(ctx) {
		printWarning("edgevec is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}

	rt, err := openRuntime(ctx, cfg, true)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.close(); err != nil {
			slog.Warn("closing database", "error", err)
		}
	}()

	token, generated := resolveToken(tokenFlag)
	if generated {
		fmt.Fprintf(os.Stderr, "API token (set %s to fix it): %s\n", apiTokenEnv, token)
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Store:  rt.store,
			Token:  token,
			Logger: slog.Default(),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:   rt.store,
			Config:  rt.store.Config(),
			Version: version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	// Start server in a goroutine.
	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "edgevec listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for signal or server error.
	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	// Graceful shutdown with timeout.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
