package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/Mutter0815/BulkMailer/internal/attachment"
	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/internal/recipient"
	"github.com/Mutter0815/BulkMailer/pkg/config"
)

// composeFlags are shared by send and preview.
type composeFlags struct {
	contacts string
	name     string
	subject  string
	body     string
	bodyFile string
}

func (f composeFlags) template() (campaign.Template, error) {
	body := f.body
	if f.bodyFile != "" {
		if body != "" {
			return campaign.Template{}, errors.New("use either --body or --body-file")
		}
		b, err := os.ReadFile(f.bodyFile)
		if err != nil {
			return campaign.Template{}, fmt.Errorf("read body: %w", err)
		}
		body = string(b)
	}
	return campaign.Template{Name: f.name, Subject: f.subject, Body: body}, nil
}

func (f composeFlags) recipients() ([]campaign.Recipient, error) {
	if f.contacts == "" {
		return nil, errors.New("--contacts is required")
	}
	rs, err := recipient.ParseFile(f.contacts)
	if err != nil {
		return nil, fmt.Errorf("contacts: %w", err)
	}
	return rs, nil
}

func newCodec(c config.ClientConfig) *attachment.Codec {
	return attachment.NewCodec(attachment.Limits{MaxSize: c.MaxAttachmentSize, MaxCount: c.MaxAttachments})
}

func attachFiles(codec *attachment.Codec, paths []string) ([]campaign.Attachment, error) {
	set := attachment.NewSet(codec)
	for _, p := range paths {
		if err := set.AddFile(p); err != nil {
			return nil, fmt.Errorf("attach %s: %w", p, err)
		}
	}
	return set.Items(), nil
}
