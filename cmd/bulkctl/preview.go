package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Mutter0815/BulkMailer/internal/render"
)

var (
	previewFlags composeFlags
	previewIndex int
	previewRaw   bool
)

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Render the template for one recipient without sending",
	RunE:  runPreview,
}

func init() {
	previewCmd.Flags().StringVar(&previewFlags.contacts, "contacts", "", "CSV file with recipients (required)")
	previewCmd.Flags().StringVar(&previewFlags.subject, "subject", "", "subject template")
	previewCmd.Flags().StringVar(&previewFlags.body, "body", "", "body template text")
	previewCmd.Flags().StringVar(&previewFlags.bodyFile, "body-file", "", "read the body template from a file")
	previewCmd.Flags().IntVar(&previewIndex, "index", 0, "zero-based recipient row to preview")
	previewCmd.Flags().BoolVar(&previewRaw, "raw", false, "print the personalized body without markup conversion")
	previewCmd.MarkFlagRequired("contacts")
}

func runPreview(cmd *cobra.Command, args []string) error {
	tpl, err := previewFlags.template()
	if err != nil {
		return err
	}
	rcpts, err := previewFlags.recipients()
	if err != nil {
		return err
	}
	if previewIndex < 0 || previewIndex >= len(rcpts) {
		return fmt.Errorf("--index %d out of range: %d recipients", previewIndex, len(rcpts))
	}
	r := rcpts[previewIndex]
	out := render.RenderTemplate(tpl, r)

	body := out.Body
	if !previewRaw {
		body = render.ToDisplayMarkup(body)
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "To:      %s <%s>\n", r.Name, r.Email)
	fmt.Fprintf(w, "Subject: %s\n\n%s\n", out.Subject, body)
	if left := render.Unresolved(out.Subject + "\n" + out.Body); len(left) > 0 {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: unresolved placeholders %v\n", left)
	}
	return nil
}
