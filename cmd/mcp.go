package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/form-detector/internal/mcpserver"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the analysis tools over MCP (stdio)",
	Long:  "Runs a Model Context Protocol server on stdin/stdout. Logs go to stderr.",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initEnv(cmd.Context(), "mcp")
		if err != nil {
			return err
		}
		defer env.Close()

		zap.L().Info("starting mcp server", zap.String("version", version))
		return mcpserver.New(rootCmd.Name(), version, env.Pipeline, env.Fetcher, cfg.Limits.MaxURLs).Serve()
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
