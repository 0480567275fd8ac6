package worker

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
)

type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

type SESConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// SESSender delivers through AWS SES v2. Retries are left to the queue.
type SESSender struct {
	client SendEmailAPI
}

func NewSESSender(ctx context.Context, cfg SESConfig) (*SESSender, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &SESSender{client: sesv2.NewFromConfig(awsCfg)}, nil
}

func NewSESSenderWithClient(client SendEmailAPI) *SESSender {
	return &SESSender{client: client}
}

func (s *SESSender) Name() string { return "ses" }

func (s *SESSender) Send(ctx context.Context, msg Message) error {
	input := simpleInput(msg)
	if len(msg.Attachments) > 0 {
		raw, err := rawMessage(msg)
		if err != nil {
			return &permanentError{fmt.Errorf("build raw message: %w", err)}
		}
		input = &sesv2.SendEmailInput{
			Destination: &types.Destination{ToAddresses: []string{msg.To.Address}},
			Content:     &types.EmailContent{Raw: &types.RawMessage{Data: raw}},
		}
	}
	if _, err := s.client.SendEmail(ctx, input); err != nil {
		return fmt.Errorf("ses send email: %w", err)
	}
	return nil
}

func simpleInput(msg Message) *sesv2.SendEmailInput {
	body := &types.Body{}
	if msg.HTML != "" {
		body.Html = &types.Content{Data: aws.String(msg.HTML), Charset: aws.String("UTF-8")}
	}
	if msg.Text != "" {
		body.Text = &types.Content{Data: aws.String(msg.Text), Charset: aws.String("UTF-8")}
	}
	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From.String()),
		Destination:      &types.Destination{ToAddresses: []string{msg.To.String()}},
		Content: &types.EmailContent{
			Simple: &types.Message{
				Subject: &types.Content{Data: aws.String(msg.Subject), Charset: aws.String("UTF-8")},
				Body:    body,
			},
		},
	}
}

// rawMessage builds a multipart/mixed message with a multipart/alternative
// body followed by the attachments.
func rawMessage(msg Message) ([]byte, error) {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "From: %s\r\n", msg.From.String())
	fmt.Fprintf(&buf, "To: %s\r\n", msg.To.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", msg.Subject))
	fmt.Fprintf(&buf, "MIME-Version: 1.0\r\n")

	mixed := multipart.NewWriter(&buf)
	fmt.Fprintf(&buf, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", mixed.Boundary())

	var alt bytes.Buffer
	altWriter := multipart.NewWriter(&alt)
	for _, p := range []struct{ ct, body string }{
		{"text/plain; charset=UTF-8", msg.Text},
		{"text/html; charset=UTF-8", msg.HTML},
	} {
		if p.body == "" {
			continue
		}
		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", p.ct)
		part, err := altWriter.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(p.body)); err != nil {
			return nil, err
		}
	}
	if err := altWriter.Close(); err != nil {
		return nil, err
	}

	altHeader := make(textproto.MIMEHeader)
	altHeader.Set("Content-Type", fmt.Sprintf("multipart/alternative; boundary=%q", altWriter.Boundary()))
	part, err := mixed.CreatePart(altHeader)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(alt.Bytes()); err != nil {
		return nil, err
	}

	for _, f := range msg.Attachments {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Type", f.ContentType)
		h.Set("Content-Transfer-Encoding", "base64")
		h.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", mime.QEncoding.Encode("UTF-8", f.Filename)))
		part, err := mixed.CreatePart(h)
		if err != nil {
			return nil, err
		}
		if _, err := part.Write([]byte(base64Lines(f.Data))); err != nil {
			return nil, err
		}
	}

	if err := mixed.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// base64Lines wraps base64 output at 76 characters.
func base64Lines(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var b strings.Builder
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		if i > 0 {
			b.WriteString("\r\n")
		}
		b.WriteString(encoded[i:end])
	}
	return b.String()
}
