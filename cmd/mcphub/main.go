package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowanlm/mcphub/internal/config"
	"github.com/rowanlm/mcphub/internal/tokenstore"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

var cfg *config.Config

func main() {
	rootCmd := &cobra.Command{
		Use:   "mcphub",
		Short: "mcphub - MCP connectivity and credential hub for LLM agents",
		Long: `mcphub connects LLM agents to MCP tool servers: it spawns and pools
local stdio servers, maintains authorized connections to remote ones,
and walks users through the OAuth flows those servers require.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg, err = config.Load()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			return nil
		},
	}

	rootCmd.AddCommand(
		serveCmd(),
		connectCmd(),
		connectionsCmd(),
		disconnectCmd(),
		toolsCmd(),
		configCmd(),
		keygenCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// configCmd shows current configuration
func configCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("Current configuration:")
			fmt.Println()

			fmt.Println("Server:")
			fmt.Printf("  Host: %s\n", cfg.Server.Host)
			fmt.Printf("  Port: %d\n", cfg.Server.Port)
			fmt.Println()

			fmt.Println("Database:")
			fmt.Printf("  PostgreSQL: %s\n", maskSecret(cfg.Database.PostgresURL))
			fmt.Println()

			fmt.Println("Registry:")
			fmt.Printf("  Path: %s\n", cfg.Registry.Path)
			fmt.Println()

			fmt.Println("Auth:")
			fmt.Printf("  Encryption Key: %s\n", maskSecret(cfg.Auth.EncryptionKey))
			fmt.Printf("  Sweep Interval: %s\n", cfg.Auth.SweepInterval)
			fmt.Println()

			fmt.Println("Environment variables:")
			fmt.Println("  MCPHUB_SERVER_HOST, MCPHUB_SERVER_PORT")
			fmt.Println("  MCPHUB_POSTGRES_URL, MCPHUB_REGISTRY_PATH")
			fmt.Println("  MCPHUB_ENCRYPTION_KEY, MCPHUB_SWEEP_INTERVAL")
			fmt.Println("  MCPHUB_CONFIG")

			return nil
		},
	}
}

// keygenCmd generates a fresh token encryption key. It does not need config,
// so it overrides the root PersistentPreRunE.
func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "keygen",
		Short:             "Generate a new token encryption key",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(tokenstore.NewRandomKey())
		},
	}
}

// versionCmd shows version information
func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:               "version",
		Short:             "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mcphub %s\n", version)
			fmt.Printf("  Commit:     %s\n", commit)
			fmt.Printf("  Build Date: %s\n", buildDate)
		},
	}
}

func maskSecret(s string) string {
	if s == "" {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****"
}
