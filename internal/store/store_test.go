package store

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Error(err)
		}
		db.Close()
	})
	return New(db), mock
}

var campaignCols = []string{"id", "user_id", "name", "subject", "body", "attachments", "status", "created_at"}

func TestInsertCampaign_WithTx(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO campaigns (id, user_id, name, subject, body, attachments, status)`)).
		WithArgs("c1", "u1", "n", "s", "b", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		return s.InsertCampaign(ctx, tx, CampaignRow{ID: "c1", UserID: "u1", Name: "n", Subject: "s", Body: "b"})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestInsertRecipient_And_Message(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO recipients (campaign_id, name, address, company, job_title)`)).
		WithArgs("c1", "Ada", "a@x.com", "Acme", "").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(101))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO messages (campaign_id, recipient_id, status)`)).
		WithArgs("c1", int64(101)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.WithTx(ctx, func(tx *sql.Tx) error {
		rid, e := s.InsertRecipient(ctx, tx, "c1", campaign.Recipient{Name: "Ada", Email: "a@x.com", Company: "Acme"})
		if e != nil {
			return e
		}
		return s.InsertMessagePending(ctx, tx, "c1", rid)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectRollback()

	boom := errors.New("boom")
	if err := s.WithTx(context.Background(), func(tx *sql.Tx) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("want boom, got %v", err)
	}
}

func TestGetCampaign(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2025, 10, 2, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM campaigns`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(campaignCols).
			AddRow("c1", "u1", "Q4", "Hi {name}", "Body", []byte(`[{"filename":"a.txt","content":"YQ==","content_type":"text/plain"}]`), "pending", created))

	c, err := s.GetCampaign(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if c.UserID != "u1" || c.Subject != "Hi {name}" || !c.CreatedAt.Equal(created) {
		t.Fatalf("unexpected row %+v", c)
	}
	if len(c.Attachments) != 1 || c.Attachments[0].ContentType != "text/plain" {
		t.Fatalf("attachments not decoded: %+v", c.Attachments)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM campaigns`)).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(campaignCols))
	if _, err := s.GetCampaign(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestGetCampaignStats(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta(`FROM messages`)).
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows([]string{"total", "pending", "sent", "failed"}).AddRow(3, 1, 1, 1))

	st, err := s.GetCampaignStats(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if st != (campaign.Stats{Total: 3, Pending: 1, Sent: 1, Failed: 1}) {
		t.Fatalf("unexpected stats %+v", st)
	}
}

func TestListCampaigns_JoinsStats(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE user_id = $1`)).
		WithArgs("u1", 20, 0).
		WillReturnRows(sqlmock.NewRows(campaignCols).
			AddRow("c2", "u1", "B", "s", "b", []byte(`[]`), "pending", now).
			AddRow("c1", "u1", "A", "s", "b", nil, "failed", now))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE campaign_id = ANY($1)`)).
		WithArgs(`{"c2","c1"}`).
		WillReturnRows(sqlmock.NewRows([]string{"campaign_id", "total", "pending", "sent", "failed"}).
			AddRow("c1", 2, 0, 1, 1))

	rows, stats, err := s.ListCampaigns(context.Background(), "u1", 0, -5)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 2 || len(stats) != 2 {
		t.Fatalf("got %d rows, %d stats", len(rows), len(stats))
	}
	if stats[0] != (campaign.Stats{}) {
		t.Errorf("campaign without messages should have zero stats, got %+v", stats[0])
	}
	if stats[1].Sent != 1 || stats[1].Failed != 1 {
		t.Errorf("unexpected stats for c1: %+v", stats[1])
	}
	if rows[1].Attachments == nil {
		t.Error("nil attachments column should decode to an empty slice")
	}
}

func TestMessageUpdates(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(`SET status='sent'`)).
		WithArgs("c1", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET attempts=attempts+1, last_error=$1`)).
		WithArgs("timeout", "c1", int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`SET status='failed'`)).
		WithArgs("bounced", "c1", int64(9)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE campaigns SET status='failed'`)).
		WithArgs("c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.MarkMessageSent(ctx, "c1", 7); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordAttemptError(ctx, "c1", 8, "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkMessageFailed(ctx, "c1", 9, "bounced"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkCampaignFailed(ctx, "c1"); err != nil {
		t.Fatal(err)
	}
}

func TestEmailSettings(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT EXISTS`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	ok, err := s.HasEmailSettings(ctx, "u1")
	if err != nil || !ok {
		t.Fatalf("got %v, %v", ok, err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT display_name, from_address`)).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"display_name", "from_address"}))
	if _, err := s.GetEmailSettings(ctx, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestSaveEmailSettings(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO email_settings`)).
		WithArgs("u1", "Acme Sales", "sales@acme.test", true).
		WillReturnRows(sqlmock.NewRows([]string{"updated_at"}).AddRow(now))
	saved, err := s.SaveEmailSettings(ctx, "u1", campaign.EmailSettings{DisplayName: "Acme Sales", FromAddress: "sales@acme.test", IsActive: true})
	if err != nil {
		t.Fatal(err)
	}
	if !saved.UpdatedAt.Equal(now) || saved.FromAddress != "sales@acme.test" {
		t.Fatalf("unexpected settings %+v", saved)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT display_name, from_address, is_active, updated_at`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"display_name", "from_address", "is_active", "updated_at"}).
			AddRow("Acme Sales", "sales@acme.test", false, now))
	got, err := s.UserEmailSettings(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if got.IsActive || got.DisplayName != "Acme Sales" {
		t.Fatalf("unexpected settings %+v", got)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT display_name, from_address, is_active, updated_at`)).
		WithArgs("u2").
		WillReturnRows(sqlmock.NewRows([]string{"display_name", "from_address", "is_active", "updated_at"}))
	if _, err := s.UserEmailSettings(ctx, "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestTemplates(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO email_templates`)).
		WithArgs("t1", "u1", "Welcome", "Hi", "Hello {name}", []byte(`[]`)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}).AddRow(now, now))
	created, err := s.CreateTemplate(ctx, campaign.SavedTemplate{ID: "t1", UserID: "u1", Name: "Welcome", Subject: "Hi", Body: "Hello {name}"})
	if err != nil {
		t.Fatal(err)
	}
	if created.Attachments == nil || !created.CreatedAt.Equal(now) {
		t.Fatalf("unexpected template %+v", created)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`UPDATE email_templates`)).
		WithArgs("W", "S", "B", []byte(`[]`), "t1", "intruder").
		WillReturnRows(sqlmock.NewRows([]string{"created_at", "updated_at"}))
	_, err = s.UpdateTemplate(ctx, campaign.SavedTemplate{ID: "t1", UserID: "intruder", Name: "W", Subject: "S", Body: "B"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound for foreign template, got %v", err)
	}

	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM email_templates`)).
		WithArgs("t1", "u1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := s.DeleteTemplate(ctx, "u1", "t1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound when nothing deleted, got %v", err)
	}

	mock.ExpectQuery(regexp.QuoteMeta(`FROM email_templates`)).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "name", "subject", "body", "attachments", "created_at", "updated_at"}).
			AddRow("t1", "u1", "Welcome", "Hi", "Hello", []byte(`[{"filename":"a.pdf","content":"YQ=="}]`), now, now))
	list, err := s.ListTemplates(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Attachments[0].Filename != "a.pdf" {
		t.Fatalf("unexpected list %+v", list)
	}
}

func TestTextArray(t *testing.T) {
	v, err := textArray{`a`, `b"c`, `d\e`}.Value()
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"a","b\"c","d\\e"}`; v != want {
		t.Fatalf("got %s, want %s", v, want)
	}
	if v, _ := (textArray{}).Value(); v != "{}" {
		t.Fatalf("empty array: got %v", v)
	}
}
