package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/Mutter0815/BulkMailer/internal/attachment"
	"github.com/Mutter0815/BulkMailer/internal/campaign"
	"github.com/Mutter0815/BulkMailer/internal/store"
	"github.com/Mutter0815/BulkMailer/pkg/logx"
	"github.com/Mutter0815/BulkMailer/pkg/metrics"
	"github.com/Mutter0815/BulkMailer/pkg/rmq"
)

const (
	errNoEmailSettings = "Please configure your email settings first"

	defaultDisplayName = "Bulk Email Sender"
)

type storeAPI interface {
	WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error
	InsertCampaign(ctx context.Context, tx *sql.Tx, c store.CampaignRow) error
	InsertRecipient(ctx context.Context, tx *sql.Tx, campaignID string, r campaign.Recipient) (int64, error)
	InsertMessagePending(ctx context.Context, tx *sql.Tx, campaignID string, recipientID int64) error
	HasEmailSettings(ctx context.Context, userID string) (bool, error)
	UserEmailSettings(ctx context.Context, userID string) (campaign.EmailSettings, error)
	SaveEmailSettings(ctx context.Context, userID string, es campaign.EmailSettings) (campaign.EmailSettings, error)
	MarkCampaignFailed(ctx context.Context, campaignID string) error
	GetCampaign(ctx context.Context, id string) (store.CampaignRow, error)
	GetCampaignStats(ctx context.Context, id string) (campaign.Stats, error)
	ListCampaigns(ctx context.Context, userID string, limit, offset int) ([]store.CampaignRow, []campaign.Stats, error)
	DashboardTotals(ctx context.Context, userID string) (store.DashboardTotals, error)
	ListTemplates(ctx context.Context, userID string) ([]campaign.SavedTemplate, error)
	CreateTemplate(ctx context.Context, t campaign.SavedTemplate) (campaign.SavedTemplate, error)
	UpdateTemplate(ctx context.Context, t campaign.SavedTemplate) (campaign.SavedTemplate, error)
	DeleteTemplate(ctx context.Context, userID, id string) error
}

type publisherAPI interface {
	PublishJSON(ctx context.Context, body []byte) error
}

type Handlers struct {
	Store storeAPI
	Pub   publisherAPI
	Codec *attachment.Codec
	// Now and NewID are replaceable in tests.
	Now   func() time.Time
	NewID func() string
}

func NewHandlers(s *store.Store, pub *rmq.Publisher, codec *attachment.Codec) *Handlers {
	return &Handlers{Store: s, Pub: pub, Codec: codec}
}

func (h *Handlers) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *Handlers) newID() string {
	if h.NewID != nil {
		return h.NewID()
	}
	return uuid.NewString()
}

var defaultCodec = attachment.NewCodec(attachment.DefaultLimits())

func (h *Handlers) codec() *attachment.Codec {
	if h.Codec == nil {
		return defaultCodec
	}
	return h.Codec
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) TestAuth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message": "Authentication successful",
		"user_id": c.GetString(ctxUserID),
		"email":   c.GetString(ctxUserEmail),
	})
}

func (h *Handlers) SendEmails(c *gin.Context) {
	var req campaign.SendEmailsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.Template.Subject) == "" || strings.TrimSpace(req.Template.Body) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "template subject and body are required"})
		return
	}
	if err := h.checkAttachments(req.Attachments); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	userID := c.GetString(ctxUserID)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 10*time.Second)
	defer cancel()

	ok, err := h.Store.HasEmailSettings(ctx, userID)
	if err != nil {
		logx.L().Errorw("email_settings_lookup_error", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "settings lookup failed"})
		return
	}
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": errNoEmailSettings})
		return
	}

	name := strings.TrimSpace(req.Template.Name)
	if name == "" {
		name = "Campaign " + h.now().UTC().Format(time.RFC3339)
	}
	campaignID := h.newID()

	type queued struct {
		id   int64
		addr string
	}
	recs := make([]queued, 0, len(req.Contacts))

	err = h.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := h.Store.InsertCampaign(ctx, tx, store.CampaignRow{
			ID:          campaignID,
			UserID:      userID,
			Name:        name,
			Subject:     req.Template.Subject,
			Body:        req.Template.Body,
			Attachments: req.Attachments,
		}); err != nil {
			return err
		}
		for _, r := range req.Contacts {
			rid, err := h.Store.InsertRecipient(ctx, tx, campaignID, r)
			if err != nil {
				return err
			}
			if err := h.Store.InsertMessagePending(ctx, tx, campaignID, rid); err != nil {
				return err
			}
			recs = append(recs, queued{id: rid, addr: r.Email})
		}
		return nil
	})
	if err != nil {
		logx.L().Errorw("create_campaign_error", "user_id", userID, "error", err)
		metrics.CampaignsCreatedTotal.WithLabelValues("db_error").Inc()
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create campaign"})
		return
	}

	ctxPub, cancelPub := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPub()

	for _, r := range recs {
		payload, err := json.Marshal(campaign.JobMessage{CampaignID: campaignID, RecipientID: r.id, Address: r.addr})
		if err == nil {
			err = h.Pub.PublishJSON(ctxPub, payload)
		}
		if err != nil {
			logx.L().Errorw("publish_job_error", "campaign_id", campaignID, "recipient_id", r.id, "error", err)
			if mErr := h.Store.MarkCampaignFailed(context.Background(), campaignID); mErr != nil {
				logx.L().Errorw("mark_campaign_failed_error", "campaign_id", campaignID, "error", mErr)
			}
			metrics.CampaignsCreatedTotal.WithLabelValues("queue_error").Inc()
			c.JSON(http.StatusBadGateway, gin.H{"error": "queue unavailable"})
			return
		}
		metrics.PublishedJobsTotal.Inc()
	}

	metrics.CampaignsCreatedTotal.WithLabelValues("accepted").Inc()
	metrics.CampaignRecipients.Observe(float64(len(recs)))
	logx.L().Infow("campaign_created", "campaign_id", campaignID, "user_id", userID, "recipients", len(recs), "attachments", len(req.Attachments))

	c.JSON(http.StatusOK, campaign.SendEmailsResp{
		CampaignID:    campaignID,
		Status:        campaign.StatusPending,
		Message:       "Email campaign started",
		TotalContacts: len(recs),
	})
}

func (h *Handlers) CampaignStatus(c *gin.Context) {
	id := c.Param("id")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	camp, ok := h.ownedCampaign(ctx, c, id)
	if !ok {
		return
	}
	stats, err := h.Store.GetCampaignStats(ctx, id)
	if err != nil {
		logx.L().Errorw("get_campaign_stats_error", "campaign_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	c.JSON(http.StatusOK, campaign.DeriveStatus(camp.ID, camp.Status, stats))
}

func (h *Handlers) ownedCampaign(ctx context.Context, c *gin.Context, id string) (store.CampaignRow, bool) {
	camp, err := h.Store.GetCampaign(ctx, id)
	if err == nil && camp.UserID == c.GetString(ctxUserID) {
		return camp, true
	}
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		logx.L().Errorw("get_campaign_error", "campaign_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "lookup error"})
		return store.CampaignRow{}, false
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "Campaign not found"})
	return store.CampaignRow{}, false
}

func (h *Handlers) ListCampaigns(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	items, err := h.listItems(ctx, c.GetString(ctxUserID), limit, offset)
	if err != nil {
		logx.L().Errorw("list_campaigns_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": items})
}

func (h *Handlers) listItems(ctx context.Context, userID string, limit, offset int) ([]campaign.CampaignListItem, error) {
	rows, stats, err := h.Store.ListCampaigns(ctx, userID, limit, offset)
	if err != nil {
		return nil, err
	}
	out := make([]campaign.CampaignListItem, 0, len(rows))
	for i, r := range rows {
		st := campaign.DeriveStatus(r.ID, r.Status, stats[i])
		out = append(out, campaign.CampaignListItem{
			ID:        r.ID,
			Name:      r.Name,
			Subject:   r.Subject,
			Status:    st.Status,
			Progress:  st.Progress,
			CreatedAt: r.CreatedAt,
			Stats:     stats[i],
		})
	}
	return out, nil
}

func (h *Handlers) DashboardStats(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	totals, err := h.Store.DashboardTotals(ctx, userID)
	if err != nil {
		logx.L().Errorw("dashboard_totals_error", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	recent, err := h.listItems(ctx, userID, 5, 0)
	if err != nil {
		logx.L().Errorw("dashboard_recent_error", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "stats error"})
		return
	}
	hasSettings, err := h.Store.HasEmailSettings(ctx, userID)
	if err != nil {
		logx.L().Warnw("email_settings_lookup_error", "user_id", userID, "error", err)
	}

	c.JSON(http.StatusOK, campaign.DashboardStats{
		TotalCampaigns:    totals.Campaigns,
		TotalEmailsSent:   totals.Sent,
		TotalEmailsFailed: totals.Failed,
		RecentCampaigns:   recent,
		TemplatesCount:    totals.Templates,
		HasEmailSettings:  hasSettings,
	})
}

func (h *Handlers) GetEmailSettings(c *gin.Context) {
	userID := c.GetString(ctxUserID)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	es, err := h.Store.UserEmailSettings(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No email settings found"})
		return
	}
	if err != nil {
		logx.L().Errorw("email_settings_lookup_error", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch email settings"})
		return
	}
	c.JSON(http.StatusOK, es)
}

// SaveEmailSettings creates or replaces the caller's sender identity.
func (h *Handlers) SaveEmailSettings(c *gin.Context) {
	var req campaign.SaveEmailSettingsReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	es := campaign.EmailSettings{
		DisplayName: strings.TrimSpace(req.DisplayName),
		FromAddress: strings.TrimSpace(req.FromAddress),
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
	if es.DisplayName == "" {
		es.DisplayName = defaultDisplayName
	}

	userID := c.GetString(ctxUserID)
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	saved, err := h.Store.SaveEmailSettings(ctx, userID, es)
	if err != nil {
		logx.L().Errorw("email_settings_save_error", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save email settings"})
		return
	}
	logx.L().Infow("email_settings_saved", "user_id", userID, "active", saved.IsActive)
	c.JSON(http.StatusOK, saved)
}

func (h *Handlers) ListTemplates(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	list, err := h.Store.ListTemplates(ctx, c.GetString(ctxUserID))
	if err != nil {
		logx.L().Errorw("list_templates_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"templates": list})
}

func (h *Handlers) CreateTemplate(c *gin.Context) {
	var req campaign.SaveTemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.checkAttachments(req.Attachments); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	t, err := h.Store.CreateTemplate(ctx, savedTemplate(h.newID(), c.GetString(ctxUserID), req))
	if err != nil {
		logx.L().Errorw("create_template_error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save template"})
		return
	}
	c.JSON(http.StatusCreated, t)
}

func (h *Handlers) UpdateTemplate(c *gin.Context) {
	var req campaign.SaveTemplateReq
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.checkAttachments(req.Attachments); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	t, err := h.Store.UpdateTemplate(ctx, savedTemplate(c.Param("id"), c.GetString(ctxUserID), req))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
	case err != nil:
		logx.L().Errorw("update_template_error", "template_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save template"})
	default:
		c.JSON(http.StatusOK, t)
	}
}

func (h *Handlers) DeleteTemplate(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	err := h.Store.DeleteTemplate(ctx, c.GetString(ctxUserID), c.Param("id"))
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Template not found"})
	case err != nil:
		logx.L().Errorw("delete_template_error", "template_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete template"})
	default:
		c.JSON(http.StatusOK, gin.H{"message": "Template deleted"})
	}
}

func (h *Handlers) checkAttachments(atts []campaign.Attachment) error {
	limits := h.codec().Limits()
	if len(atts) > limits.MaxCount {
		return &campaign.CountLimitError{Limit: limits.MaxCount}
	}
	for _, a := range atts {
		if err := h.codec().Check(a); err != nil {
			return err
		}
	}
	return nil
}

func savedTemplate(id, userID string, req campaign.SaveTemplateReq) campaign.SavedTemplate {
	return campaign.SavedTemplate{
		ID:          id,
		UserID:      userID,
		Name:        req.Name,
		Subject:     req.Subject,
		Body:        req.Body,
		Attachments: req.Attachments,
	}
}
