package worker

import (
	"context"
	"errors"
	"net/mail"
	"os"
	"strings"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/internal/store"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
	"github.com/Mutter0815/BulkMailer/pkg/rmq"
)

func TestMain(m *testing.M) {
	logx.Set(zap.NewNop())
	os.Exit(m.Run())
}

type fakeStore struct {
	campaign    store.CampaignRow
	recipient   campaign.Recipient
	settings    *store.EmailSettings
	getErr      error
	sent        int
	attemptErrs []string
	failed      []string
}

func (f *fakeStore) GetCampaign(ctx context.Context, id string) (store.CampaignRow, error) {
	if f.getErr != nil {
		return store.CampaignRow{}, f.getErr
	}
	return f.campaign, nil
}

func (f *fakeStore) GetRecipient(ctx context.Context, campaignID string, recipientID int64) (campaign.Recipient, error) {
	return f.recipient, nil
}

func (f *fakeStore) GetEmailSettings(ctx context.Context, userID string) (store.EmailSettings, error) {
	if f.settings == nil {
		return store.EmailSettings{}, store.ErrNotFound
	}
	return *f.settings, nil
}

func (f *fakeStore) MarkMessageSent(ctx context.Context, campaignID string, recipientID int64) error {
	f.sent++
	return nil
}

func (f *fakeStore) RecordAttemptError(ctx context.Context, campaignID string, recipientID int64, lastErr string) error {
	f.attemptErrs = append(f.attemptErrs, lastErr)
	return nil
}

func (f *fakeStore) MarkMessageFailed(ctx context.Context, campaignID string, recipientID int64, lastErr string) error {
	f.failed = append(f.failed, lastErr)
	return nil
}

type fakePublisher struct {
	headers []amqp.Table
}

func (p *fakePublisher) PublishJSONWithHeaders(ctx context.Context, body []byte, headers amqp.Table) error {
	p.headers = append(p.headers, headers)
	return nil
}

type fakeSender struct {
	err  error
	sent []Message
}

func (s *fakeSender) Name() string { return "fake" }

func (s *fakeSender) Send(ctx context.Context, msg Message) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, msg)
	return nil
}

type fakeAck struct {
	acks, nacks int
}

func (a *fakeAck) Ack(tag uint64, multiple bool) error { a.acks++; return nil }
func (a *fakeAck) Nack(tag uint64, multiple, requeue bool) error {
	a.nacks++
	return nil
}
func (a *fakeAck) Reject(tag uint64, requeue bool) error { a.nacks++; return nil }

func delivery(ack *fakeAck, body string, retries int) amqp.Delivery {
	d := amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}
	if retries > 0 {
		d.Headers = amqp.Table{rmq.RetriesHeader: int32(retries)}
	}
	return d
}

const jobBody = `{"campaign_id":"c1","recipient_id":7,"address":"ada@x.com"}`

func newStore() *fakeStore {
	return &fakeStore{
		campaign: store.CampaignRow{
			ID:          "c1",
			UserID:      "u1",
			Subject:     "Hi {name}",
			Body:        "Hello **{name}** from {company}",
			Attachments: []campaign.Attachment{{Filename: "a.txt", Content: "aGVsbG8=", ContentType: "text/plain"}},
		},
		recipient: campaign.Recipient{Name: "Ada", Email: "ada@x.com", Company: "Acme"},
	}
}

func newWorker(st *fakeStore, pub *fakePublisher, s Sender) *Worker {
	return New(st, nil, pub, s, Options{
		MaxRetries: 3,
		From:       mail.Address{Name: "Bulk", Address: "noreply@example.com"},
		Backoff:    func(int) time.Duration { return 0 },
	})
}

func TestHandle_Success(t *testing.T) {
	st := newStore()
	st.settings = &store.EmailSettings{UserID: "u1", DisplayName: "Acme Sales", FromAddress: "sales@acme.test"}
	s := &fakeSender{}
	ack := &fakeAck{}

	newWorker(st, &fakePublisher{}, s).handle(context.Background(), delivery(ack, jobBody, 0))

	if ack.acks != 1 || st.sent != 1 {
		t.Fatalf("acks=%d sent=%d", ack.acks, st.sent)
	}
	if len(s.sent) != 1 {
		t.Fatalf("want one message, got %d", len(s.sent))
	}
	msg := s.sent[0]
	if msg.Subject != "Hi Ada" || msg.Text != "Hello **Ada** from Acme" {
		t.Fatalf("not personalized: %q / %q", msg.Subject, msg.Text)
	}
	if !strings.Contains(msg.HTML, "<strong>Ada</strong>") {
		t.Fatalf("html body: %q", msg.HTML)
	}
	if msg.From.Address != "sales@acme.test" || msg.To.Address != "ada@x.com" {
		t.Fatalf("addresses: %v -> %v", msg.From, msg.To)
	}
	if len(msg.Attachments) != 1 || string(msg.Attachments[0].Data) != "hello" {
		t.Fatalf("attachments: %+v", msg.Attachments)
	}
}

func TestHandle_DefaultSender(t *testing.T) {
	st := newStore()
	s := &fakeSender{}
	newWorker(st, &fakePublisher{}, s).handle(context.Background(), delivery(&fakeAck{}, jobBody, 0))

	if s.sent[0].From.Address != "noreply@example.com" {
		t.Fatalf("want configured sender, got %v", s.sent[0].From)
	}
}

func TestHandle_RetryKeepsMessagePending(t *testing.T) {
	st := newStore()
	pub := &fakePublisher{}
	ack := &fakeAck{}

	newWorker(st, pub, &fakeSender{err: errors.New("throttled")}).handle(context.Background(), delivery(ack, jobBody, 1))

	if len(pub.headers) != 1 || rmq.Retries(pub.headers[0]) != 2 {
		t.Fatalf("want one republish with retries=2, got %v", pub.headers)
	}
	if len(st.attemptErrs) != 1 || len(st.failed) != 0 {
		t.Fatalf("attempts=%v failed=%v", st.attemptErrs, st.failed)
	}
	if ack.acks != 1 {
		t.Fatalf("original delivery should be acked after republish, acks=%d", ack.acks)
	}
}

func TestHandle_FailsAfterMaxRetries(t *testing.T) {
	st := newStore()
	pub := &fakePublisher{}
	ack := &fakeAck{}

	newWorker(st, pub, &fakeSender{err: errors.New("mailbox full")}).handle(context.Background(), delivery(ack, jobBody, 3))

	if len(pub.headers) != 0 {
		t.Fatal("no republish after the last retry")
	}
	if len(st.failed) != 1 || st.failed[0] != "mailbox full" {
		t.Fatalf("failed=%v", st.failed)
	}
	if ack.acks != 1 {
		t.Fatalf("acks=%d", ack.acks)
	}
}

func TestHandle_BadAttachmentIsPermanent(t *testing.T) {
	st := newStore()
	st.campaign.Attachments = []campaign.Attachment{{Filename: "broken", Content: "%%%%"}}
	pub := &fakePublisher{}
	s := &fakeSender{}

	newWorker(st, pub, s).handle(context.Background(), delivery(&fakeAck{}, jobBody, 0))

	if len(s.sent) != 0 || len(pub.headers) != 0 || len(st.failed) != 1 {
		t.Fatalf("sent=%d republished=%d failed=%v", len(s.sent), len(pub.headers), st.failed)
	}
}

func TestHandle_UndecodableJobDropped(t *testing.T) {
	st := newStore()
	ack := &fakeAck{}

	newWorker(st, &fakePublisher{}, &fakeSender{}).handle(context.Background(), delivery(ack, `{not json`, 0))

	if ack.acks != 1 || ack.nacks != 0 || st.sent != 0 {
		t.Fatalf("acks=%d nacks=%d sent=%d", ack.acks, ack.nacks, st.sent)
	}
}

func TestHandle_DatabaseErrorRequeues(t *testing.T) {
	st := newStore()
	st.getErr = errors.New("connection refused")
	ack := &fakeAck{}

	newWorker(st, &fakePublisher{}, &fakeSender{}).handle(context.Background(), delivery(ack, jobBody, 0))

	if ack.nacks != 1 || ack.acks != 0 {
		t.Fatalf("acks=%d nacks=%d", ack.acks, ack.nacks)
	}
}

func TestHandle_MissingCampaignDropped(t *testing.T) {
	st := newStore()
	st.getErr = store.ErrNotFound
	ack := &fakeAck{}

	newWorker(st, &fakePublisher{}, &fakeSender{}).handle(context.Background(), delivery(ack, jobBody, 0))

	if ack.acks != 1 || len(st.failed) != 0 {
		t.Fatalf("acks=%d failed=%v", ack.acks, st.failed)
	}
}

func TestRun_StopsOnClosedChannel(t *testing.T) {
	ch := make(chan amqp.Delivery, 1)
	ack := &fakeAck{}
	ch <- delivery(ack, jobBody, 0)
	close(ch)

	st := newStore()
	w := New(st, fakeConsumer{ch}, &fakePublisher{}, &fakeSender{}, Options{MaxRetries: 3})
	if err := w.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if st.sent != 1 || ack.acks != 1 {
		t.Fatalf("sent=%d acks=%d", st.sent, ack.acks)
	}
}

type fakeConsumer struct{ ch chan amqp.Delivery }

func (c fakeConsumer) Consume() (<-chan amqp.Delivery, error) { return c.ch, nil }

func TestBackoffDelay(t *testing.T) {
	want := []time.Duration{0, time.Second, 2 * time.Second, 4 * time.Second}
	for i, w := range want {
		if got := backoffDelay(i); got != w {
			t.Errorf("backoffDelay(%d) = %s, want %s", i, got, w)
		}
	}
}
