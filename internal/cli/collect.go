package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/collector"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/relay"
	"github.com/voxgate/voxgate/internal/store"
)

// Exit codes for the collect command. Lock-held is an expected condition
// and must be distinguishable from a fatal error.
const (
	exitLockHeld = 2
)

var collectCmd = &cobra.Command{
	Use:   "collect",
	Short: "Run the inbound collector (singleton per account)",
	RunE:  runCollect,
}

func init() {
	collectCmd.Flags().Bool("follow", false, "Keep running and poll for new input")
	collectCmd.Flags().Int("poll-ms", 0, "Follow poll interval in ms (overrides config)")
	collectCmd.Flags().Bool("stdin", false, "Read raw JSONL from stdin (single pass, no offset)")
	collectCmd.Flags().String("account", "", "Upstream account identifier (overrides config)")
	rootCmd.AddCommand(collectCmd)
}

func runCollect(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	follow, _ := cmd.Flags().GetBool("follow")
	fromStdin, _ := cmd.Flags().GetBool("stdin")
	if pollMS, _ := cmd.Flags().GetInt("poll-ms"); pollMS > 0 {
		cfg.Collector.PollMS = pollMS
	}
	if account, _ := cmd.Flags().GetString("account"); account != "" {
		cfg.Collector.Account = account
	}

	lease, err := collector.AcquireLease(cfg.Paths.CollectorLock)
	if err != nil {
		if errors.Is(err, collector.ErrLockHeld) {
			fmt.Fprintln(cmd.ErrOrStderr(), "collector already running (lock held)")
			os.Exit(exitLockHeld)
		}
		return err
	}
	defer lease.Release()

	st, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	mirror := relay.New(cfg.Mirror)
	defer mirror.Close()

	c := collector.New(st, mirror, collector.Options{
		RawLogPath:  cfg.Paths.RawLog,
		OffsetPath:  cfg.Paths.RawOffset,
		Account:     cfg.Collector.Account,
		MaxAttempts: cfg.Collector.MaxAttempts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var stats collector.Stats
	switch {
	case fromStdin:
		lines, err := readStdinLines(cmd)
		if err != nil {
			return err
		}
		stats, err = c.IngestLines(ctx, lines)
		if err != nil {
			return err
		}
	case follow:
		stats, err = c.Follow(ctx, cfg.Collector.PollInterval())
		if err != nil {
			return err
		}
	default:
		stats, err = c.RunOnce(ctx)
		if err != nil {
			return err
		}
	}

	return json.NewEncoder(cmd.OutOrStdout()).Encode(stats)
}

func readStdinLines(cmd *cobra.Command) ([][]byte, error) {
	var lines [][]byte
	sc := bufio.NewScanner(cmd.InOrStdin())
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		lines = append(lines, append([]byte(nil), line...))
	}
	return lines, sc.Err()
}
