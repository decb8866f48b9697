package cli

import (
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/voxgate/voxgate/internal/cli.version=1.2.3"
	version = "0.3.0"
	logo    = "\n" +
		"                                  _\n" +
		" __   __ ___ __  __ __ _  __ _ | |_  ___\n" +
		" \\ \\ / // _ \\\\ \\/ // _` |/ _` || __|/ _ \\\n" +
		"  \\ V /| (_) |>  <| (_| | (_| || |_|  __/\n" +
		"   \\_/  \\___//_/\\_\\\\__, |\\__,_| \\__|\\___|\n" +
		"                   |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "voxgate",
	Short: "voxgate - voice-authorized message pipeline",
	Long: color.CyanString(logo) +
		"\nDurable inbound message collection with two-channel voice authorization.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("voxgate " + version)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := slog.LevelInfo
		if debug, _ := cmd.Flags().GetBool("debug"); debug {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	}
	rootCmd.AddCommand(versionCmd)
}
