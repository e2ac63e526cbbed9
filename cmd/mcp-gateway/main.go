// Command mcp-gateway runs the MCP gateway process.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nullrunner/mcp-gateway/pkg/gateway"
)

// version is stamped at build time via -ldflags; "dev" outside a release build.
var version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "mcp-gateway",
		Short:         "Aggregates multiple MCP servers behind one endpoint",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand())
	return root
}

func newServeCommand() *cobra.Command {
	var configPath string
	var pidFile string
	var surfaces gateway.Surfaces

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway and block until shutdown",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), configPath, pidFile, surfaces)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&configPath, "config", "", "Path to the gateway config file (default: OS-standard per-user location)")
	flags.StringVar(&pidFile, "pid-file", "", "Advisory PID file path; a stale entry only logs a warning, it is never enforced as a lock")
	flags.BoolVar(&surfaces.Stdio, "stdio", false, "Serve MCP over stdio")
	flags.BoolVar(&surfaces.SSE, "sse", false, "Serve MCP over SSE (GET /sse, POST /messages)")
	flags.BoolVar(&surfaces.StreamableHTTP, "streamable-http", true, "Serve MCP over streamable-HTTP (POST /mcp)")

	return cmd
}

func runServe(ctx context.Context, configPath, pidFile string, surfaces gateway.Surfaces) error {
	if pidFile != "" {
		release, err := acquirePIDFile(pidFile)
		if err != nil {
			return err
		}
		defer release()
	}

	g, err := gateway.New(configPath, version)
	if err != nil {
		return err
	}

	ctx, stop := signalContext(ctx)
	defer stop()

	return g.Run(ctx, surfaces)
}
