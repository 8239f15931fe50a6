// Package graphmem holds the CLI commands of the memory server.
package graphmem

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/liliang-cn/graphmem/pkg/config"
	"github.com/liliang-cn/graphmem/pkg/log"
)

var (
	cfgFile string
	verbose bool
	cfg     *config.Config
	version = "dev"
)

var RootCmd = &cobra.Command{
	Use:   "graphmem",
	Short: "GraphMem - knowledge graph memory for AI agents",
	Long: `GraphMem ingests documents into per-tenant knowledge graphs, combining
LLM entity extraction, semantic chunking and vector search. It serves
memories to agents over MCP (SSE) and a small REST API.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		cfg, err = config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		log.SetDebug(verbose || cfg.Server.Debug)
		return nil
	},
}

func Execute() error {
	return RootCmd.Execute()
}

// SetVersion sets the version reported by the CLI.
func SetVersion(v string) {
	version = v
	RootCmd.Version = v
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("graphmem %s\n", version)
	},
}

func init() {
	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	RootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	RootCmd.AddCommand(versionCmd)
}
