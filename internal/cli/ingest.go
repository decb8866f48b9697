package cli

import (
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/rawlog"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Append raw upstream payloads to the inbound log",
	Long: "Single append point for upstream bridges. Accepts a JSON object, a\n" +
		"JSON array or JSONL from stdin or --in and appends one object per line\n" +
		"under an exclusive lock so concurrent appenders never interleave.",
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().String("in", "", "Read input from file instead of stdin")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	var text []byte
	if inFile, _ := cmd.Flags().GetString("in"); inFile != "" {
		text, err = os.ReadFile(inFile)
	} else {
		text, err = io.ReadAll(cmd.InOrStdin())
	}
	if err != nil {
		return err
	}

	objs := rawlog.ParseInput(text)
	appended, err := rawlog.Append(cfg.Paths.RawLog, cfg.Paths.RawWriteLock, objs)
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{
		"appended": appended,
		"out":      cfg.Paths.RawLog,
	})
}
