package campaign

import "time"

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Recipient is a single addressable target of a campaign.
type Recipient struct {
	Name     string `json:"name"                validate:"required"       binding:"required"`
	Email    string `json:"email"               validate:"required,email" binding:"required,email"`
	Company  string `json:"company,omitempty"`
	JobTitle string `json:"job_title,omitempty"`
}

type Template struct {
	Name    string `json:"name"`
	Subject string `json:"subject" binding:"required"`
	Body    string `json:"body"    binding:"required"`
}

// Attachment carries base64 content as sent over the wire.
type Attachment struct {
	Filename    string `json:"filename"     binding:"required"`
	Content     string `json:"content"      binding:"required"`
	ContentType string `json:"content_type"`
}

type SendEmailsReq struct {
	Contacts    []Recipient  `json:"contacts"              binding:"required,min=1,dive"`
	Template    Template     `json:"template"              binding:"required"`
	UserID      string       `json:"user_id"`
	Attachments []Attachment `json:"attachments,omitempty" binding:"omitempty,dive"`
}

type SendEmailsResp struct {
	CampaignID    string `json:"campaign_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	TotalContacts int    `json:"total_contacts,omitempty"`
}

// CampaignStatus is the backend's view of a campaign at one point in time.
type CampaignStatus struct {
	CampaignID string  `json:"campaign_id"`
	Status     string  `json:"status"`
	Sent       int     `json:"sent"`
	Failed     int     `json:"failed"`
	Total      int     `json:"total"`
	Progress   float64 `json:"progress"`
}

// Terminal reports whether the backend will not change the campaign further.
func (s CampaignStatus) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusFailed
}

type JobMessage struct {
	CampaignID  string `json:"campaign_id"`
	RecipientID int64  `json:"recipient_id"`
	Address     string `json:"address"`
}

type Stats struct {
	Total   int `json:"total"`
	Pending int `json:"pending"`
	Sent    int `json:"sent"`
	Failed  int `json:"failed"`
}

type CampaignListItem struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Subject   string    `json:"subject"`
	Status    string    `json:"status"`
	Progress  float64   `json:"progress"`
	CreatedAt time.Time `json:"created_at"`
	Stats     Stats     `json:"stats"`
}

type SavedTemplate struct {
	ID          string       `json:"id"`
	UserID      string       `json:"user_id"`
	Name        string       `json:"name"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

type SaveTemplateReq struct {
	Name        string       `json:"name"    binding:"required"`
	Subject     string       `json:"subject" binding:"required"`
	Body        string       `json:"body"    binding:"required"`
	Attachments []Attachment `json:"attachments" binding:"omitempty,dive"`
}

// EmailSettings is the sender identity a user's campaigns are delivered
// from. Sending requires an active record.
type EmailSettings struct {
	DisplayName string    `json:"display_name"`
	FromAddress string    `json:"from_address"`
	IsActive    bool      `json:"is_active"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type SaveEmailSettingsReq struct {
	DisplayName string `json:"display_name"`
	FromAddress string `json:"from_address" binding:"required,email"`
	// IsActive defaults to true when omitted.
	IsActive *bool `json:"is_active"`
}

type DashboardStats struct {
	TotalCampaigns    int                `json:"total_campaigns"`
	TotalEmailsSent   int                `json:"total_emails_sent"`
	TotalEmailsFailed int                `json:"total_emails_failed"`
	RecentCampaigns   []CampaignListItem `json:"recent_campaigns"`
	TemplatesCount    int                `json:"templates_count"`
	HasEmailSettings  bool               `json:"has_email_settings"`
}
