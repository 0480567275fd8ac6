package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/BulkMailer/internal/dispatch"
)

var statusCmd = &cobra.Command{
	Use:   "status <campaign-id>",
	Short: "Show delivery progress of a campaign",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmdContext(cmd), 30*time.Second)
	defer cancel()

	client := dispatch.NewClient(cfg.BaseURL, dispatch.StaticToken(cfg.Token))
	st, err := client.CampaignStatus(ctx, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Campaign: %s\n", st.CampaignID)
	fmt.Fprintf(out, "Status:   %s\n", st.Status)
	fmt.Fprintf(out, "Progress: %.1f%%\n", st.Progress)
	fmt.Fprintf(out, "Sent:     %d / %d\n", st.Sent, st.Total)
	fmt.Fprintf(out, "Failed:   %d\n", st.Failed)
	return nil
}
