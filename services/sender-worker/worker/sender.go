package worker

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/Mutter0815/BulkMailer/internal/attachment"
	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/internal/render"
	"github.com/Mutter0815/BulkMailer/internal/store"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
)

// Message is one personalized email ready for a delivery provider.
type Message struct {
	From        mail.Address
	To          mail.Address
	Subject     string
	Text        string
	HTML        string
	Attachments []File
}

type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Sender hands a message to a delivery provider.
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// LogSender records messages instead of delivering them.
type LogSender struct{}

func (LogSender) Name() string { return "log" }

func (LogSender) Send(_ context.Context, msg Message) error {
	files := make([]string, 0, len(msg.Attachments))
	for _, f := range msg.Attachments {
		files = append(files, fmt.Sprintf("%s (%s)", f.Filename, campaign.FormatSize(int64(len(f.Data)))))
	}
	logx.L().Infow("mail_logged",
		"from", msg.From.String(),
		"to", msg.To.String(),
		"subject", msg.Subject,
		"text_bytes", len(msg.Text),
		"html_bytes", len(msg.HTML),
		"attachments", files,
	)
	return nil
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// compose personalizes a stored campaign for one recipient.
func compose(c store.CampaignRow, r campaign.Recipient, from mail.Address) (Message, error) {
	tpl := render.RenderTemplate(campaign.Template{Name: c.Name, Subject: c.Subject, Body: c.Body}, r)

	html, err := render.HTMLBody(tpl.Body)
	if err != nil {
		return Message{}, &permanentError{fmt.Errorf("render html body: %w", err)}
	}

	files := make([]File, 0, len(c.Attachments))
	for _, a := range c.Attachments {
		data, err := attachment.Decode(a)
		if err != nil {
			return Message{}, &permanentError{err}
		}
		ct := a.ContentType
		if ct == "" {
			ct = attachment.DetectContentType(data)
		}
		files = append(files, File{Filename: a.Filename, ContentType: ct, Data: data})
	}

	return Message{
		From:        from,
		To:          mail.Address{Name: r.Name, Address: r.Email},
		Subject:     tpl.Subject,
		Text:        tpl.Body,
		HTML:        html,
		Attachments: files,
	}, nil
}
