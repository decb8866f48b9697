package cli

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/authgate"
	"github.com/voxgate/voxgate/internal/channels"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/consumer"
	"github.com/voxgate/voxgate/internal/executor"
	"github.com/voxgate/voxgate/internal/store"
	"github.com/voxgate/voxgate/internal/transcribe"
	"github.com/voxgate/voxgate/internal/voiceauth"
)

var consumeCmd = &cobra.Command{
	Use:   "consume",
	Short: "Run one cursor consumer pass over the event stream",
	Long: "Reads events after the named consumer's checkpoint, dispatches them\n" +
		"through the voice authorization flow and commits the checkpoint per\n" +
		"batch. Designed for frequent short-lived invocation.",
	RunE: runConsume,
}

func init() {
	consumeCmd.Flags().String("consumer", "", "Consumer offset name (overrides config)")
	consumeCmd.Flags().Int("limit", 0, "Max events to process this run (overrides config)")
	rootCmd.AddCommand(consumeCmd)
}

func runConsume(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if name, _ := cmd.Flags().GetString("consumer"); name != "" {
		cfg.Consumer.Name = name
	}
	if limit, _ := cmd.Flags().GetInt("limit"); limit > 0 {
		cfg.Consumer.Limit = limit
	}

	st, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	gate := authgate.New(st.DB(), cfg.Auth.CodeLength, cfg.Auth.TTL(),
		authgate.NewAuditLog(cfg.Paths.AuthFailureLog))

	var codeSender channels.CodeSender = channels.Unconfigured{}
	if s := channels.NewSlackSender(cfg.Channels.Slack); s != nil {
		codeSender = s
	}

	handler := voiceauth.New(
		gate,
		transcribe.NewElevenLabs(cfg.Transcribe),
		executor.NewGateway(cfg.Executor),
		channels.NewSignalBridge(cfg.Channels.Signal),
		codeSender,
		voiceauth.Options{
			AuthorizedSender: cfg.Auth.AuthorizedSender,
			MinConfidence:    cfg.Transcribe.MinConfidence,
		},
	)

	engine := consumer.New(st, cfg.Consumer.Name, cfg.Consumer.Limit, cfg.Consumer.MaxAttempts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := engine.RunOnce(ctx, handler)
	if err != nil {
		return err
	}

	out := map[string]any{
		"trace_id":      res.TraceID,
		"consumer":      cfg.Consumer.Name,
		"read":          res.Read,
		"processed":     res.Processed,
		"skipped":       res.Skipped,
		"dead_lettered": res.DeadLettered,
		"committed":     res.Committed,
		"checkpoint":    res.Checkpoint,
	}
	if res.HandlerErr != nil {
		out["handler_error"] = res.HandlerErr.Error()
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
}
