// Package main implements the PostgreSQL MCP server.
//
// The server exposes analysis tools (execution-plan explanation, index
// recommendation, health diagnostics, raw queries) over stdio JSON-RPC
// (Model Context Protocol), backed by a pooled database connection. The
// access mode chosen at startup governs every operation for the life of
// the process.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"postgres-mcp/internal/mcpserver"
	"postgres-mcp/internal/sqldriver"
)

var accessModeFlag string

var rootCmd = &cobra.Command{
	Use:   "postgres-mcp DATABASE_URL",
	Short: "PostgreSQL analysis MCP server",
	Long: `postgres-mcp serves PostgreSQL analysis tools over the Model Context Protocol.

It connects a pool to the given database and exposes tools for explaining
query plans, recommending indexes from the recorded workload, and running
health diagnostics. With --access-mode=restricted every statement is
validated as read-only and bounded by a statement timeout.`,
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          run,
}

func init() {
	rootCmd.Flags().StringVar(&accessModeFlag, "access-mode", string(sqldriver.AccessUnrestricted),
		fmt.Sprintf("SQL access mode: %q (no restrictions) or %q (read-only with protections)",
			sqldriver.AccessUnrestricted, sqldriver.AccessRestricted))
}

func run(cmd *cobra.Command, args []string) error {
	logger := log.New(os.Stderr, "[postgres-mcp] ", log.LstdFlags)

	mode, err := sqldriver.ParseAccessMode(accessModeFlag)
	if err != nil {
		return err
	}
	logger.Printf("Starting PostgreSQL MCP server in %s mode", strings.ToUpper(mode.String()))

	// A misconfigured or unreachable database must not prevent startup:
	// the server still serves, and only operations that need the database
	// fail, individually.
	pool := sqldriver.NewConnPool()
	if err := pool.Connect(context.Background(), args[0]); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not connect to database: %s\n",
			sqldriver.ObfuscatePassword(err.Error()))
		fmt.Fprintln(os.Stderr, "The MCP server will start but database operations will fail until a valid connection is established.")
	} else {
		logger.Printf("Successfully connected to database and initialized connection pool")
	}

	svc := mcpserver.NewService(pool, mode, logger)
	coordinator := mcpserver.NewShutdownCoordinator(svc, mcpserver.DefaultDrainTimeout, logger)
	stop := coordinator.Notify()
	defer stop()

	srv := mcpserver.NewServer(svc)
	serveErr := server.ServeStdio(srv, server.WithErrorLogger(logger))

	// Normal-exit path (EOF on stdin, or platforms without signal delivery):
	// run the same drain-then-close sequence. No-op if a signal already did.
	coordinator.Shutdown()
	return serveErr
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
