// Quorum terminal control surface — connects to a council orchestration
// server, mirrors live run state, and issues control and review actions.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/councilhq/quorum/pkg/config"
	"github.com/councilhq/quorum/pkg/version"
)

var (
	envFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "quorum",
	Short: "Terminal control surface for council orchestration runs",
	Long: `Quorum mirrors the live state of a council workflow run — the
conversation transcript and the execution graph — over the server's
streaming channel, and issues pause/resume/stop and human-review
actions back over HTTP.`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		if err := godotenv.Load(envFile); err != nil {
			slog.Debug("Could not load .env file, continuing with existing environment",
				"path", envFile, "error", err)
		} else {
			slog.Info("Loaded environment", "path", envFile)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.Full())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Path to .env file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
