package cli

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/collector"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/rawlog"
	"github.com/voxgate/voxgate/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pipeline state: store counts, offsets, lock, pending auth",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	bold := color.New(color.Bold).SprintFunc()
	green := color.GreenString
	yellow := color.YellowString

	fmt.Fprintln(out, bold("voxgate status"))
	fmt.Fprintf(out, "  state dir   %s\n", cfg.Paths.StateDir)

	total, err := st.CountEvents()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "  events      %d\n", total)
	fmt.Fprintf(out, "  raw offset  %d bytes\n", rawlog.ReadOffset(cfg.Paths.RawOffset))

	held, err := collector.Held(cfg.Paths.CollectorLock)
	if err != nil {
		return err
	}
	if held {
		fmt.Fprintf(out, "  collector   %s\n", green("running (lock held)"))
	} else {
		fmt.Fprintf(out, "  collector   %s\n", yellow("not running"))
	}

	offsets, err := st.ListOffsets()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, bold("consumers"))
	if len(offsets) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, o := range offsets {
		lag := total - o.Checkpoint
		if lag < 0 {
			lag = 0
		}
		fmt.Fprintf(out, "  %-24s checkpoint=%d lag=%d updated=%s\n",
			o.ConsumerName, o.Checkpoint, lag,
			time.Unix(o.UpdatedAt, 0).UTC().Format(time.RFC3339))
	}

	livePending, totalPending, err := pendingAuthSummary(st)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, bold("auth"))
	fmt.Fprintf(out, "  pending     %d live / %d total\n", livePending, totalPending)

	dead, err := st.CountDeadLetters()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, bold("dead letters"))
	if len(dead) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for stage, n := range dead {
		fmt.Fprintf(out, "  %-10s %d\n", stage, n)
	}
	return nil
}

func pendingAuthSummary(st *store.EventStore) (live, total int64, err error) {
	now := time.Now().Unix()
	row := st.DB().QueryRow(
		`SELECT COUNT(*) FROM pending_auth WHERE consumed = 0 AND expires_at >= ?`, now)
	if err = row.Scan(&live); err != nil {
		return 0, 0, err
	}
	row = st.DB().QueryRow(`SELECT COUNT(*) FROM pending_auth`)
	if err = row.Scan(&total); err != nil {
		return 0, 0, err
	}
	return live, total, nil
}
