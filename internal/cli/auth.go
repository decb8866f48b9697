package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxgate/voxgate/internal/authgate"
	"github.com/voxgate/voxgate/internal/config"
	"github.com/voxgate/voxgate/internal/store"
)

var (
	authCmd = &cobra.Command{
		Use:   "auth",
		Short: "Authorization gate tooling",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	authGenerateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Open a challenge for a sender and print its code",
		RunE:  runAuthGenerate,
	}

	authValidateCmd = &cobra.Command{
		Use:   "validate",
		Short: "Validate a submitted code against the sender's pending state",
		RunE:  runAuthValidate,
	}

	authGCCmd = &cobra.Command{
		Use:   "gc",
		Short: "Remove consumed and long-expired pending authorizations",
		RunE:  runAuthGC,
	}
)

func init() {
	authGenerateCmd.Flags().String("sender", "", "Sender identifier")
	authGenerateCmd.Flags().String("transcript", "", "Transcript to store with the challenge")
	authValidateCmd.Flags().String("sender", "", "Sender identifier")
	authValidateCmd.Flags().String("code", "", "Submitted code")
	authCmd.AddCommand(authGenerateCmd)
	authCmd.AddCommand(authValidateCmd)
	authCmd.AddCommand(authGCCmd)
	rootCmd.AddCommand(authCmd)
}

func openGate() (*authgate.Gate, *store.EventStore, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Paths.Database)
	if err != nil {
		return nil, nil, err
	}
	gate := authgate.New(st.DB(), cfg.Auth.CodeLength, cfg.Auth.TTL(),
		authgate.NewAuditLog(cfg.Paths.AuthFailureLog))
	return gate, st, nil
}

func runAuthGenerate(cmd *cobra.Command, args []string) error {
	sender, _ := cmd.Flags().GetString("sender")
	transcript, _ := cmd.Flags().GetString("transcript")
	if sender == "" {
		return fmt.Errorf("--sender is required")
	}

	gate, st, err := openGate()
	if err != nil {
		return err
	}
	defer st.Close()

	code, err := gate.Challenge(cmd.Context(), sender, transcript, "")
	if err != nil {
		return err
	}
	cmd.Println(code)
	return nil
}

func runAuthValidate(cmd *cobra.Command, args []string) error {
	sender, _ := cmd.Flags().GetString("sender")
	code, _ := cmd.Flags().GetString("code")
	if sender == "" || code == "" {
		return fmt.Errorf("--sender and --code are required")
	}

	gate, st, err := openGate()
	if err != nil {
		return err
	}
	defer st.Close()

	out := map[string]any{"ok": false}
	transcript, err := gate.Validate(cmd.Context(), sender, code, "")
	switch {
	case err == nil:
		out["ok"] = true
		out["transcript"] = transcript
	case authgate.Reason(err) != "":
		out["reason"] = authgate.Reason(err)
	default:
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(out)
}

func runAuthGC(cmd *cobra.Command, args []string) error {
	gate, st, err := openGate()
	if err != nil {
		return err
	}
	defer st.Close()

	removed, err := gate.GC(cmd.Context())
	if err != nil {
		return err
	}
	return json.NewEncoder(cmd.OutOrStdout()).Encode(map[string]any{"removed": removed})
}
