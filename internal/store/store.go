package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Mutter0815/BulkMailer/internal/campaign"
)

var ErrNotFound = errors.New("not found")

type Store struct {
	DB *sql.DB
}

type CampaignRow struct {
	ID          string
	UserID      string
	Name        string
	Subject     string
	Body        string
	Attachments []campaign.Attachment
	Status      string
	CreatedAt   time.Time
}

type EmailSettings struct {
	UserID      string
	DisplayName string
	FromAddress string
}

type DashboardTotals struct {
	Campaigns int
	Sent      int
	Failed    int
	Templates int
}

func New(db *sql.DB) *Store { return &Store{DB: db} }

func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) InsertCampaign(ctx context.Context, tx *sql.Tx, c CampaignRow) error {
	atts, err := json.Marshal(nonNilAttachments(c.Attachments))
	if err != nil {
		return fmt.Errorf("encode attachments: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO campaigns (id, user_id, name, subject, body, attachments, status)
		VALUES ($1,$2,$3,$4,$5,$6,'pending')
	`, c.ID, c.UserID, c.Name, c.Subject, c.Body, atts)
	return err
}

func (s *Store) InsertRecipient(ctx context.Context, tx *sql.Tx, campaignID string, r campaign.Recipient) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, `
		INSERT INTO recipients (campaign_id, name, address, company, job_title)
		VALUES ($1,$2,$3,$4,$5) RETURNING id
	`, campaignID, r.Name, r.Email, r.Company, r.JobTitle).Scan(&id)
	return id, err
}

func (s *Store) InsertMessagePending(ctx context.Context, tx *sql.Tx, campaignID string, recipientID int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO messages (campaign_id, recipient_id, status)
		VALUES ($1,$2,'pending')
	`, campaignID, recipientID)
	return err
}

func (s *Store) HasEmailSettings(ctx context.Context, userID string) (bool, error) {
	var ok bool
	err := s.DB.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM email_settings WHERE user_id=$1 AND is_active)
	`, userID).Scan(&ok)
	return ok, err
}

func (s *Store) GetEmailSettings(ctx context.Context, userID string) (EmailSettings, error) {
	es := EmailSettings{UserID: userID}
	err := s.DB.QueryRowContext(ctx, `
		SELECT display_name, from_address
		FROM email_settings
		WHERE user_id=$1 AND is_active
	`, userID).Scan(&es.DisplayName, &es.FromAddress)
	if errors.Is(err, sql.ErrNoRows) {
		return EmailSettings{}, ErrNotFound
	}
	return es, err
}

// UserEmailSettings returns the caller's settings whether or not they are
// active.
func (s *Store) UserEmailSettings(ctx context.Context, userID string) (campaign.EmailSettings, error) {
	var es campaign.EmailSettings
	err := s.DB.QueryRowContext(ctx, `
		SELECT display_name, from_address, is_active, updated_at
		FROM email_settings
		WHERE user_id=$1
	`, userID).Scan(&es.DisplayName, &es.FromAddress, &es.IsActive, &es.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.EmailSettings{}, ErrNotFound
	}
	return es, err
}

func (s *Store) SaveEmailSettings(ctx context.Context, userID string, es campaign.EmailSettings) (campaign.EmailSettings, error) {
	err := s.DB.QueryRowContext(ctx, `
		INSERT INTO email_settings (user_id, display_name, from_address, is_active, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (user_id) DO UPDATE
		   SET display_name=EXCLUDED.display_name,
		       from_address=EXCLUDED.from_address,
		       is_active=EXCLUDED.is_active,
		       updated_at=NOW()
		RETURNING updated_at
	`, userID, es.DisplayName, es.FromAddress, es.IsActive).Scan(&es.UpdatedAt)
	if err != nil {
		return campaign.EmailSettings{}, err
	}
	return es, nil
}

func (s *Store) MarkMessageSent(ctx context.Context, campaignID string, recipientID int64) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE messages
		   SET status='sent', sent_at=NOW(), attempts=attempts+1, last_error=NULL
		 WHERE campaign_id=$1 AND recipient_id=$2
	`, campaignID, recipientID)
	return err
}

// RecordAttemptError notes a failed attempt that will be retried; the
// message stays pending.
func (s *Store) RecordAttemptError(ctx context.Context, campaignID string, recipientID int64, lastErr string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE messages
		   SET attempts=attempts+1, last_error=$1
		 WHERE campaign_id=$2 AND recipient_id=$3
	`, lastErr, campaignID, recipientID)
	return err
}

func (s *Store) MarkMessageFailed(ctx context.Context, campaignID string, recipientID int64, lastErr string) error {
	_, err := s.DB.ExecContext(ctx, `
		UPDATE messages
		   SET status='failed', attempts=attempts+1, last_error=$1
		 WHERE campaign_id=$2 AND recipient_id=$3
	`, lastErr, campaignID, recipientID)
	return err
}

func (s *Store) MarkCampaignFailed(ctx context.Context, campaignID string) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE campaigns SET status='failed' WHERE id=$1`, campaignID)
	return err
}

func (s *Store) GetCampaign(ctx context.Context, id string) (CampaignRow, error) {
	return scanCampaign(s.DB.QueryRowContext(ctx, `
		SELECT id, user_id, name, subject, body, attachments, status, created_at
		FROM campaigns
		WHERE id = $1
	`, id))
}

func (s *Store) GetRecipient(ctx context.Context, campaignID string, recipientID int64) (campaign.Recipient, error) {
	var r campaign.Recipient
	err := s.DB.QueryRowContext(ctx, `
		SELECT name, address, company, job_title
		FROM recipients
		WHERE campaign_id=$1 AND id=$2
	`, campaignID, recipientID).Scan(&r.Name, &r.Email, &r.Company, &r.JobTitle)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.Recipient{}, ErrNotFound
	}
	return r, err
}

func (s *Store) GetCampaignStats(ctx context.Context, id string) (campaign.Stats, error) {
	var st campaign.Stats
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  COUNT(*)                                         AS total,
		  COUNT(*) FILTER (WHERE status='pending')         AS pending,
		  COUNT(*) FILTER (WHERE status='sent')            AS sent,
		  COUNT(*) FILTER (WHERE status='failed')          AS failed
		FROM messages
		WHERE campaign_id = $1
	`, id).Scan(&st.Total, &st.Pending, &st.Sent, &st.Failed)
	if err != nil {
		return campaign.Stats{}, err
	}
	return st, nil
}

func (s *Store) ListCampaigns(ctx context.Context, userID string, limit, offset int) ([]CampaignRow, []campaign.Stats, error) {
	if limit <= 0 || limit > 1000 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, name, subject, body, attachments, status, created_at
		FROM campaigns
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var campaigns []CampaignRow
	var ids []string
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, nil, err
		}
		campaigns = append(campaigns, c)
		ids = append(ids, c.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	if len(campaigns) == 0 {
		return campaigns, []campaign.Stats{}, nil
	}

	statRows, err := s.DB.QueryContext(ctx, `
		SELECT campaign_id,
		       COUNT(*)                                         AS total,
		       COUNT(*) FILTER (WHERE status='pending')         AS pending,
		       COUNT(*) FILTER (WHERE status='sent')            AS sent,
		       COUNT(*) FILTER (WHERE status='failed')          AS failed
		FROM messages
		WHERE campaign_id = ANY($1)
		GROUP BY campaign_id
	`, textArray(ids))
	if err != nil {
		return nil, nil, err
	}
	defer statRows.Close()

	statsByID := make(map[string]campaign.Stats, len(ids))
	for statRows.Next() {
		var id string
		var st campaign.Stats
		if err := statRows.Scan(&id, &st.Total, &st.Pending, &st.Sent, &st.Failed); err != nil {
			return nil, nil, err
		}
		statsByID[id] = st
	}
	if err := statRows.Err(); err != nil {
		return nil, nil, err
	}

	out := make([]campaign.Stats, len(campaigns))
	for i, c := range campaigns {
		out[i] = statsByID[c.ID]
	}
	return campaigns, out, nil
}

func (s *Store) DashboardTotals(ctx context.Context, userID string) (DashboardTotals, error) {
	var d DashboardTotals
	err := s.DB.QueryRowContext(ctx, `
		SELECT
		  (SELECT COUNT(*) FROM campaigns WHERE user_id=$1),
		  (SELECT COUNT(*) FROM messages m JOIN campaigns c ON c.id=m.campaign_id
		    WHERE c.user_id=$1 AND m.status='sent'),
		  (SELECT COUNT(*) FROM messages m JOIN campaigns c ON c.id=m.campaign_id
		    WHERE c.user_id=$1 AND m.status='failed'),
		  (SELECT COUNT(*) FROM email_templates WHERE user_id=$1)
	`, userID).Scan(&d.Campaigns, &d.Sent, &d.Failed, &d.Templates)
	return d, err
}

func (s *Store) ListTemplates(ctx context.Context, userID string) ([]campaign.SavedTemplate, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, name, subject, body, attachments, created_at, updated_at
		FROM email_templates
		WHERE user_id = $1
		ORDER BY updated_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []campaign.SavedTemplate{}
	for rows.Next() {
		var t campaign.SavedTemplate
		var atts []byte
		if err := rows.Scan(&t.ID, &t.UserID, &t.Name, &t.Subject, &t.Body, &atts, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, err
		}
		if t.Attachments, err = decodeAttachments(atts); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) CreateTemplate(ctx context.Context, t campaign.SavedTemplate) (campaign.SavedTemplate, error) {
	atts, err := json.Marshal(nonNilAttachments(t.Attachments))
	if err != nil {
		return campaign.SavedTemplate{}, fmt.Errorf("encode attachments: %w", err)
	}
	err = s.DB.QueryRowContext(ctx, `
		INSERT INTO email_templates (id, user_id, name, subject, body, attachments)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at, updated_at
	`, t.ID, t.UserID, t.Name, t.Subject, t.Body, atts).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return campaign.SavedTemplate{}, err
	}
	t.Attachments = nonNilAttachments(t.Attachments)
	return t, nil
}

// UpdateTemplate replaces a template owned by t.UserID.
func (s *Store) UpdateTemplate(ctx context.Context, t campaign.SavedTemplate) (campaign.SavedTemplate, error) {
	atts, err := json.Marshal(nonNilAttachments(t.Attachments))
	if err != nil {
		return campaign.SavedTemplate{}, fmt.Errorf("encode attachments: %w", err)
	}
	err = s.DB.QueryRowContext(ctx, `
		UPDATE email_templates
		   SET name=$1, subject=$2, body=$3, attachments=$4, updated_at=NOW()
		 WHERE id=$5 AND user_id=$6
		RETURNING created_at, updated_at
	`, t.Name, t.Subject, t.Body, atts, t.ID, t.UserID).Scan(&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return campaign.SavedTemplate{}, ErrNotFound
	}
	if err != nil {
		return campaign.SavedTemplate{}, err
	}
	t.Attachments = nonNilAttachments(t.Attachments)
	return t, nil
}

func (s *Store) DeleteTemplate(ctx context.Context, userID, id string) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM email_templates WHERE id=$1 AND user_id=$2`, id, userID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row scanner) (CampaignRow, error) {
	var c CampaignRow
	var atts []byte
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Subject, &c.Body, &atts, &c.Status, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CampaignRow{}, ErrNotFound
	}
	if err != nil {
		return CampaignRow{}, err
	}
	if c.Attachments, err = decodeAttachments(atts); err != nil {
		return CampaignRow{}, err
	}
	return c, nil
}

func decodeAttachments(raw []byte) ([]campaign.Attachment, error) {
	out := []campaign.Attachment{}
	if len(raw) == 0 {
		return out, nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode attachments: %w", err)
	}
	return out, nil
}

func nonNilAttachments(a []campaign.Attachment) []campaign.Attachment {
	if a == nil {
		return []campaign.Attachment{}
	}
	return a
}

// textArray encodes a postgres text[] literal.
type textArray []string

func (a textArray) Value() (driver.Value, error) {
	if len(a) == 0 {
		return "{}", nil
	}
	var b strings.Builder
	b.WriteByte('{')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteByte('"')
		b.WriteString(strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(v))
		b.WriteByte('"')
	}
	b.WriteByte('}')
	return b.String(), nil
}
