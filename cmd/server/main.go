// Command server runs the group chat realtime service.
//
//	server serve            start HTTP + websocket server
//	server serve --in-memory
//	server migrate up|down|status
package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	if err := buildRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.S().Errorf("command failed: %v", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "server",
		Short:        "Group chat realtime server",
		Version:      version,
		SilenceUsage: true,
	}
	root.AddCommand(buildServeCmd(), buildMigrateCmd())
	return root
}
