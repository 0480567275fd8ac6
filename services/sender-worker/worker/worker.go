package worker

import (
	"context"
	"encoding/json"
	"errors"
	"net/mail"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/internal/store"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
	"github.com/Mutter0815/BulkMailer/pkg/metrics"
	"github.com/Mutter0815/BulkMailer/pkg/rmq"
)

type storeAPI interface {
	GetCampaign(ctx context.Context, id string) (store.CampaignRow, error)
	GetRecipient(ctx context.Context, campaignID string, recipientID int64) (campaign.Recipient, error)
	GetEmailSettings(ctx context.Context, userID string) (store.EmailSettings, error)
	MarkMessageSent(ctx context.Context, campaignID string, recipientID int64) error
	RecordAttemptError(ctx context.Context, campaignID string, recipientID int64, lastErr string) error
	MarkMessageFailed(ctx context.Context, campaignID string, recipientID int64, lastErr string) error
}

type consumerAPI interface {
	Consume() (<-chan amqp.Delivery, error)
}

type publisherAPI interface {
	PublishJSONWithHeaders(ctx context.Context, body []byte, headers amqp.Table) error
}

type Options struct {
	MaxRetries int
	// From is used when the campaign owner has no sender identity on file.
	From mail.Address
	// Backoff returns the delay before re-publishing attempt n (1-based).
	Backoff func(retries int) time.Duration
}

type Worker struct {
	Store  storeAPI
	Cons   consumerAPI
	Pub    publisherAPI
	Sender Sender
	opts   Options
}

func New(st storeAPI, cons consumerAPI, pub publisherAPI, sender Sender, opts Options) *Worker {
	if opts.Backoff == nil {
		opts.Backoff = backoffDelay
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	return &Worker{Store: st, Cons: cons, Pub: pub, Sender: sender, opts: opts}
}

func (w *Worker) Run(ctx context.Context) error {
	msgs, err := w.Cons.Consume()
	if err != nil {
		return err
	}
	logx.L().Infow("worker_started", "provider", w.Sender.Name(), "max_retries", w.opts.MaxRetries)

	for {
		select {
		case <-ctx.Done():
			logx.L().Infow("worker_stopping")
			return ctx.Err()

		case d, ok := <-msgs:
			if !ok {
				logx.L().Warnw("consumer_channel_closed")
				return nil
			}
			start := time.Now()
			metrics.WorkerJobsConsumed.Inc()
			w.handle(ctx, d)
			metrics.WorkerProcessDuration.Observe(time.Since(start).Seconds())
		}
	}
}

func (w *Worker) handle(ctx context.Context, d amqp.Delivery) {
	var job campaign.JobMessage
	if err := json.Unmarshal(d.Body, &job); err != nil || job.CampaignID == "" {
		logx.L().Warnw("job_unmarshal_error", "error", err)
		_ = d.Ack(false)
		return
	}
	fields := []any{
		"campaign_id", job.CampaignID,
		"recipient_id", job.RecipientID,
		"address", job.Address,
	}

	ctx1, cancel1 := context.WithTimeout(ctx, 5*time.Second)
	msg, err := w.load(ctx1, job)
	cancel1()
	switch {
	case errors.Is(err, store.ErrNotFound):
		logx.L().Warnw("job_target_missing", append(fields, "error", err)...)
		_ = d.Ack(false)
		return
	case isPermanent(err):
		w.fail(ctx, d, job, err, fields)
		return
	case err != nil:
		logx.L().Errorw("db_load_job_error", append(fields, "error", err)...)
		_ = d.Nack(false, true)
		return
	}

	if err := w.Sender.Send(ctx, msg); err != nil {
		logx.L().Infow("send_failed", append(fields, "provider", w.Sender.Name(), "error", err)...)
		metrics.WorkerJobsFailed.Inc()

		retries := rmq.Retries(d.Headers)
		if isPermanent(err) || retries >= w.opts.MaxRetries {
			w.fail(ctx, d, job, err, append(fields, "retries", retries))
			return
		}
		w.retry(ctx, d, job, retries, err, fields)
		return
	}

	ctx3, cancel3 := context.WithTimeout(ctx, 5*time.Second)
	err = w.Store.MarkMessageSent(ctx3, job.CampaignID, job.RecipientID)
	cancel3()
	if err != nil {
		logx.L().Errorw("db_mark_sent_error", append(fields, "error", err)...)
		_ = d.Nack(false, true)
		return
	}

	metrics.WorkerJobsSent.WithLabelValues(w.Sender.Name()).Inc()
	logx.L().Infow("send_success", fields...)
	_ = d.Ack(false)
}

// load reads the campaign, the recipient and the sender identity and builds
// the personalized message.
func (w *Worker) load(ctx context.Context, job campaign.JobMessage) (Message, error) {
	camp, err := w.Store.GetCampaign(ctx, job.CampaignID)
	if err != nil {
		return Message{}, err
	}
	rcpt, err := w.Store.GetRecipient(ctx, job.CampaignID, job.RecipientID)
	if err != nil {
		return Message{}, err
	}

	from := w.opts.From
	settings, err := w.Store.GetEmailSettings(ctx, camp.UserID)
	switch {
	case err == nil:
		from = mail.Address{Name: settings.DisplayName, Address: settings.FromAddress}
	case !errors.Is(err, store.ErrNotFound):
		return Message{}, err
	}
	return compose(camp, rcpt, from)
}

func (w *Worker) retry(ctx context.Context, d amqp.Delivery, job campaign.JobMessage, retries int, sendErr error, fields []any) {
	ctx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	err := w.Store.RecordAttemptError(ctx2, job.CampaignID, job.RecipientID, sendErr.Error())
	cancel2()
	if err != nil {
		logx.L().Errorw("db_record_attempt_error", append(fields, "error", err)...)
		_ = d.Nack(false, true)
		return
	}

	delay := w.opts.Backoff(retries + 1)
	metrics.WorkerJobRetries.Inc()
	logx.L().Infow("retry_requeue", append(fields, "retries", retries+1, "delay", delay.String())...)
	if err := w.requeueMessage(ctx, d, retries+1, delay); err != nil {
		logx.L().Errorw("retry_publish_error", append(fields, "retries", retries+1, "error", err)...)
		_ = d.Nack(false, true)
	}
}

func (w *Worker) fail(ctx context.Context, d amqp.Delivery, job campaign.JobMessage, cause error, fields []any) {
	ctx2, cancel2 := context.WithTimeout(ctx, 5*time.Second)
	err := w.Store.MarkMessageFailed(ctx2, job.CampaignID, job.RecipientID, cause.Error())
	cancel2()
	if err != nil {
		logx.L().Errorw("db_mark_failed_error", append(fields, "error", err)...)
		_ = d.Nack(false, true)
		return
	}
	metrics.WorkerJobsDropped.Inc()
	logx.L().Warnw("drop_after_retries", append(fields, "error", cause)...)
	_ = d.Ack(false)
}

func (w *Worker) requeueMessage(ctx context.Context, d amqp.Delivery, retries int, delay time.Duration) error {
	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	pubCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := w.Pub.PublishJSONWithHeaders(pubCtx, d.Body, rmq.WithRetries(d.Headers, retries)); err != nil {
		return err
	}

	return d.Ack(false)
}

func isPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// backoffDelay is 1s, 2s, 4s, ... for retries 1, 2, 3, ...
func backoffDelay(retries int) time.Duration {
	if retries <= 0 {
		return 0
	}
	return time.Second << (retries - 1)
}
