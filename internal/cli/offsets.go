package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/store"
)

var (
	offsetsCmd = &cobra.Command{
		Use:   "offsets",
		Short: "Consumer checkpoint tooling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	offsetsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List consumer checkpoints",
		RunE:  runOffsetsList,
	}

	offsetsResetCmd = &cobra.Command{
		Use:   "reset",
		Short: "Delete one consumer's checkpoint (it restarts from the beginning)",
		RunE:  runOffsetsReset,
	}
)

func init() {
	offsetsResetCmd.Flags().String("consumer", "", "Consumer name to reset")
	offsetsCmd.AddCommand(offsetsListCmd)
	offsetsCmd.AddCommand(offsetsResetCmd)
	rootCmd.AddCommand(offsetsCmd)
}

func openStore() (*store.EventStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return store.Open(cfg.Paths.Database)
}

func runOffsetsList(cmd *cobra.Command, args []string) error {
	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	offsets, err := st.ListOffsets()
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(offsets)
}

func runOffsetsReset(cmd *cobra.Command, args []string) error {
	name, _ := cmd.Flags().GetString("consumer")
	if name == "" {
		return fmt.Errorf("--consumer is required")
	}

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.ResetOffset(name); err != nil {
		return err
	}
	cmd.Printf("offset reset: %s\n", name)
	return nil
}
