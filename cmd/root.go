package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the calbridge application
var rootCmd = &cobra.Command{
	Use:   "calbridge",
	Short: "Multi-user Google Calendar MCP server",
	Long: `calbridge exposes Google Calendar to AI assistants over the Model Context
Protocol. One server instance serves many users; each user connects their
own Google account through a browser once and every tool call names the
user it acts for.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "calbridge version %s\n" .Version}}`)

	// A missing .env is fine; variables already set take precedence.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
	rootCmd.AddCommand(newAuthURLCmd())
	rootCmd.AddCommand(newTokensCmd())
}
