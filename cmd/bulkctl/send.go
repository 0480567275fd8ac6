package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/BulkMailer/internal/dispatch"
	"github.com/Mutter0815/BulkMailer/internal/render"
	"github.com/Mutter0815/BulkMailer/internal/tui"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
)

var (
	sendFlags   composeFlags
	sendAttach  []string
	sendNoTUI   bool
	sendRefresh = 200 * time.Millisecond
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit a campaign and follow its delivery",
	Long: `Reads recipients from a CSV file (header row required; the first columns
whose headers contain "name" and "email" are used), submits the campaign once
and polls its status until it completes or fails.

Placeholders {name}, {email}, {company} and {jobTitle} are filled in per
recipient. Stopping the command stops tracking only; delivery continues on
the server.`,
	Example: `  bulkctl send --contacts leads.csv --subject "Hi {name}" --body-file pitch.md --attach deck.pdf`,
	RunE:    runSend,
}

func init() {
	sendCmd.Flags().StringVar(&sendFlags.contacts, "contacts", "", "CSV file with recipients (required)")
	sendCmd.Flags().StringVar(&sendFlags.name, "name", "", "campaign name (default: timestamped)")
	sendCmd.Flags().StringVar(&sendFlags.subject, "subject", "", "subject template (required)")
	sendCmd.Flags().StringVar(&sendFlags.body, "body", "", "body template text")
	sendCmd.Flags().StringVar(&sendFlags.bodyFile, "body-file", "", "read the body template from a file")
	sendCmd.Flags().StringArrayVar(&sendAttach, "attach", nil, "file to attach (repeatable)")
	sendCmd.Flags().BoolVar(&sendNoTUI, "no-tui", false, "print progress lines instead of the interactive view")
	sendCmd.MarkFlagRequired("contacts")
	sendCmd.MarkFlagRequired("subject")
}

func runSend(cmd *cobra.Command, args []string) error {
	tpl, err := sendFlags.template()
	if err != nil {
		return err
	}
	rcpts, err := sendFlags.recipients()
	if err != nil {
		return err
	}
	codec := newCodec(cfg)
	atts, err := attachFiles(codec, sendAttach)
	if err != nil {
		return err
	}

	if left := render.Unresolved(render.Render(tpl.Subject+"\n"+tpl.Body, rcpts[0])); len(left) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: unresolved placeholders %s\n", strings.Join(left, ", "))
	}

	client := dispatch.NewClient(cfg.BaseURL, dispatch.StaticToken(cfg.Token))
	tracker := dispatch.NewTracker(dispatch.NewSubmitter(client, codec), client, dispatch.TrackerConfig{
		Interval:        cfg.PollInterval,
		MaxPollFailures: cfg.MaxPollFailures,
		MaxBackoff:      cfg.MaxPollBackoff,
	})

	ctx, stop := signal.NotifyContext(cmdContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	req := dispatch.Request{Recipients: rcpts, Template: tpl, Attachments: atts}
	if err := tracker.Start(ctx, req); err != nil {
		return err
	}
	logx.L().Debugw("send_started", "recipients", len(rcpts), "attachments", len(atts))

	var snap dispatch.Snapshot
	if sendNoTUI {
		snap = follow(ctx, cmd.OutOrStdout(), tracker, sendRefresh)
	} else {
		title := fmt.Sprintf("Sending %q to %d recipients", tpl.Subject, len(rcpts))
		if snap, err = tui.Run(ctx, tracker, title, sendRefresh); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), snap.Summary())
	}
	return outcome(cmd.ErrOrStderr(), snap)
}

// follow prints each new summary line until the tracker's run exits.
func follow(ctx context.Context, w io.Writer, t *dispatch.Tracker, every time.Duration) dispatch.Snapshot {
	tick := time.NewTicker(every)
	defer tick.Stop()

	last := ""
	emit := func() dispatch.Snapshot {
		s := t.Snapshot()
		if line := s.Summary(); line != "" && line != last {
			fmt.Fprintln(w, line)
			last = line
		}
		return s
	}
	for {
		emit()
		select {
		case <-t.Done():
			return emit()
		case <-ctx.Done():
			t.Cancel()
			<-t.Done()
			return emit()
		case <-tick.C:
		}
	}
}

func outcome(stderr io.Writer, s dispatch.Snapshot) error {
	if s.CampaignID != "" {
		fmt.Fprintf(stderr, "campaign id: %s\n", s.CampaignID)
	}
	switch {
	case s.PartialFailure():
		fmt.Fprintf(stderr, "warning: %d of %d emails failed\n", s.Failed, s.Total)
	case s.State == dispatch.StateFailed:
		return s.Err
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
