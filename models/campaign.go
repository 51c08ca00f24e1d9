package models

import (
	"strings"
	"time"
)

// CampaignStatus represents the lifecycle state of a campaign
type CampaignStatus string

const (
	CampaignStatusActive   CampaignStatus = "ACTIVE"
	CampaignStatusPaused   CampaignStatus = "PAUSED"
	CampaignStatusArchived CampaignStatus = "ARCHIVED"
)

// Campaign is the read-only view of a campaign the orchestrator consumes
type Campaign struct {
	ID       int64          `json:"id" db:"id"`
	Name     string         `json:"name" db:"name"`
	Channel  string         `json:"channel" db:"channel"`
	Status   CampaignStatus `json:"status" db:"status"`
	MaxSteps int            `json:"max_steps" db:"max_steps"`
}

// TableName returns the table name for the Campaign model
func (Campaign) TableName() string {
	return "campaigns"
}

// LeadStatus is the lead pipeline state owned by the lead lifecycle module
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "NEW"
	LeadStatusEnriched  LeadStatus = "ENRICHED"
	LeadStatusContacted LeadStatus = "CONTACTED"
	LeadStatusReplied   LeadStatus = "REPLIED"
	LeadStatusQualified LeadStatus = "QUALIFIED"
	LeadStatusLost      LeadStatus = "LOST"
)

// ConsentStatus records the lead's contact consent
type ConsentStatus string

const (
	ConsentGranted            ConsentStatus = "granted"
	ConsentLegitimateInterest ConsentStatus = "legitimate_interest"
	ConsentUnknown            ConsentStatus = "unknown"
	ConsentDenied             ConsentStatus = "denied"
	ConsentWithdrawn          ConsentStatus = "withdrawn"
)

// IsAffirmative reports whether outbound contact is permitted
func (c ConsentStatus) IsAffirmative() bool {
	return c == ConsentGranted || c == ConsentLegitimateInterest
}

// Lead is the read-only view of a lead record
type Lead struct {
	ID            int64         `json:"id" db:"id"`
	CampaignID    int64         `json:"campaign_id" db:"campaign_id"`
	Email         string        `json:"email" db:"email"`
	IdentityHash  string        `json:"identity_hash" db:"identity_hash"`
	Status        LeadStatus    `json:"status" db:"status"`
	ConsentStatus ConsentStatus `json:"consent_status" db:"consent_status"`
	StepIndex     int           `json:"step_index" db:"step_index"` // next pipeline step to run
	NextActionAt  *time.Time    `json:"next_action_at,omitempty" db:"next_action_at"`
	StopFollowUp  bool          `json:"stop_follow_up" db:"stop_follow_up"`
}

// TableName returns the table name for the Lead model
func (Lead) TableName() string {
	return "leads"
}

// NormalizedEmail returns the lower-cased, trimmed email
func (l *Lead) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(l.Email))
}

// Domain returns the email domain, or "" when the email has none
func (l *Lead) Domain() string {
	email := l.NormalizedEmail()
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	return email[at+1:]
}
