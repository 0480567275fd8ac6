package dispatch

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Mutter0815/BulkMailer/internal/attachment"
	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
)

// Dispatcher is the submission half of the delivery backend.
type Dispatcher interface {
	SendEmails(ctx context.Context, req campaign.SendEmailsReq) (campaign.SendEmailsResp, error)
}

// Request is one user-initiated send.
type Request struct {
	Recipients  []campaign.Recipient
	Template    campaign.Template
	Attachments []campaign.Attachment
	RequesterID string
}

// Handle identifies a campaign accepted by the backend.
type Handle struct {
	CampaignID string
	Status     string
	Message    string
}

type Submitter struct {
	backend  Dispatcher
	codec    *attachment.Codec
	validate *validator.Validate
}

func NewSubmitter(backend Dispatcher, codec *attachment.Codec) *Submitter {
	if codec == nil {
		codec = attachment.NewCodec(attachment.DefaultLimits())
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Submitter{backend: backend, codec: codec, validate: v}
}

// Validate checks req without touching the network.
func (s *Submitter) Validate(req Request) error {
	if len(req.Recipients) == 0 {
		return &campaign.ValidationError{Field: "recipients", Reason: "at least one recipient is required"}
	}
	if strings.TrimSpace(req.Template.Subject) == "" {
		return &campaign.ValidationError{Field: "template.subject", Reason: "subject is required"}
	}
	if strings.TrimSpace(req.Template.Body) == "" {
		return &campaign.ValidationError{Field: "template.body", Reason: "body is required"}
	}

	for i, r := range req.Recipients {
		if err := s.validate.Struct(r); err != nil {
			var ves validator.ValidationErrors
			if errors.As(err, &ves) && len(ves) > 0 {
				return &campaign.ValidationError{
					Field:  fmt.Sprintf("recipients[%d].%s", i, ves[0].Field()),
					Reason: reason(ves[0]),
				}
			}
			return &campaign.ValidationError{Field: fmt.Sprintf("recipients[%d]", i), Reason: err.Error()}
		}
	}

	if limit := s.codec.Limits().MaxCount; len(req.Attachments) > limit {
		return &campaign.CountLimitError{Limit: limit}
	}
	for i, a := range req.Attachments {
		if a.Filename == "" {
			return &campaign.ValidationError{Field: fmt.Sprintf("attachments[%d].filename", i), Reason: "filename is required"}
		}
		if err := s.codec.Check(a); err != nil {
			var se *campaign.SizeLimitError
			if errors.As(err, &se) {
				return err
			}
			return &campaign.ValidationError{Field: fmt.Sprintf("attachments[%d].content", i), Reason: err.Error()}
		}
	}
	return nil
}

// Submit validates req and sends it to the backend exactly once. It returns
// as soon as the backend assigns a campaign id; delivery is not awaited and
// failures are never retried here.
func (s *Submitter) Submit(ctx context.Context, req Request) (Handle, error) {
	if err := s.Validate(req); err != nil {
		return Handle{}, err
	}

	tpl := req.Template
	if strings.TrimSpace(tpl.Name) == "" {
		tpl.Name = "Campaign " + time.Now().UTC().Format(time.RFC3339)
	}

	resp, err := s.backend.SendEmails(ctx, campaign.SendEmailsReq{
		Contacts:    req.Recipients,
		Template:    tpl,
		UserID:      req.RequesterID,
		Attachments: req.Attachments,
	})
	if err != nil {
		logx.L().Warnw("submit_failed", "recipients", len(req.Recipients), "error", err)
		return Handle{}, err
	}
	if resp.CampaignID == "" {
		return Handle{}, &campaign.TransportError{Op: "send emails", Message: "backend returned no campaign id"}
	}

	logx.L().Infow("campaign_submitted",
		"campaign_id", resp.CampaignID,
		"recipients", len(req.Recipients),
		"attachments", len(req.Attachments),
	)
	return Handle{CampaignID: resp.CampaignID, Status: resp.Status, Message: resp.Message}, nil
}

func reason(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "email":
		return fmt.Sprintf("%q is not a valid email address", fe.Value())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
