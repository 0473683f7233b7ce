package database

import (
	"encoding/json"
	"time"
)

// Tenant bears credits, a personal concurrency cap, and notification
// preferences (§3).
type Tenant struct {
	ID                   int64     `db:"id" json:"id"`
	Name                 string    `db:"name" json:"name"`
	Credits              int       `db:"credits" json:"credits"`
	ConcurrentCallsLimit int       `db:"concurrent_calls_limit" json:"concurrent_calls_limit"`
	IndividualPromptID   string    `db:"individual_prompt_id" json:"individual_prompt_id,omitempty"`
	CompletePromptID     string    `db:"complete_prompt_id" json:"complete_prompt_id,omitempty"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// Agent is a configured AI persona bound to one Tenant (§3).
type Agent struct {
	ID              int64     `db:"id" json:"id"`
	TenantID        int64     `db:"tenant_id" json:"tenant_id"`
	Name            string    `db:"name" json:"name"`
	ProviderAgentID string    `db:"provider_agent_id" json:"provider_agent_id"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
}

// PhoneNumber is an outbound caller-id resource, optionally assigned to one
// Agent (§3).
type PhoneNumber struct {
	ID                int64  `db:"id" json:"id"`
	TenantID          int64  `db:"tenant_id" json:"tenant_id"`
	Phone             string `db:"phone" json:"phone"`
	AssignedToAgentID *int64 `db:"assigned_to_agent_id" json:"assigned_to_agent_id,omitempty"`
	IsActive          bool   `db:"is_active" json:"is_active"`
}

// Contact is a (Tenant, phone) pair with display fields (§3).
type Contact struct {
	ID                    int64     `db:"id" json:"id"`
	TenantID              int64     `db:"tenant_id" json:"tenant_id"`
	Phone                 string    `db:"phone" json:"phone"`
	Name                  string    `db:"name" json:"name,omitempty"`
	Email                 string    `db:"email" json:"email,omitempty"`
	Company               string    `db:"company" json:"company,omitempty"`
	Tags                  []string  `db:"tags" json:"tags,omitempty"`
	IsAutoCreated         bool      `db:"is_auto_created" json:"is_auto_created"`
	AutoCreationSource    string    `db:"auto_creation_source" json:"auto_creation_source,omitempty"`
	AutoCreatedFromCallID *int64    `db:"auto_created_from_call_id" json:"auto_created_from_call_id,omitempty"`
	CreatedAt             time.Time `db:"created_at" json:"created_at"`
}

// HasName reports whether the contact carries a usable display name, which
// drives the named-contact priority boost (§4.2).
func (c *Contact) HasName() bool {
	return c != nil && c.Name != ""
}

// IsDNC reports whether the contact carries a do-not-call tag, which aborts
// all trigger-evaluator flows (§4.10). Dispatch does not read this tag; it
// checks the blacklist_entries table instead (§12).
func (c *Contact) IsDNC() bool {
	if c == nil {
		return false
	}
	for _, t := range c.Tags {
		if t == "DNC" || t == "dnc" {
			return true
		}
	}
	return false
}

// Lifecycle status values for Call (§3).
const (
	LifecycleInitiated        = "initiated"
	LifecycleRinging          = "ringing"
	LifecycleInProgress       = "in-progress"
	LifecycleNoAnswer         = "no-answer"
	LifecycleBusy             = "busy"
	LifecycleCallDisconnected = "call-disconnected"
	LifecycleCompleted        = "completed"
	LifecycleFailed           = "failed"
	LifecycleCancelled        = "cancelled"
)

// Call is an attempt record (§3).
type Call struct {
	ID                 int64           `db:"id" json:"id"`
	TenantID           int64           `db:"tenant_id" json:"tenant_id"`
	AgentID            int64           `db:"agent_id" json:"agent_id"`
	ContactID          *int64          `db:"contact_id" json:"contact_id,omitempty"`
	ExecutionID        string          `db:"execution_id" json:"execution_id"`
	Direction          string          `db:"direction" json:"direction"`
	Phone              string          `db:"phone" json:"phone"`
	LifecycleStatus    string          `db:"lifecycle_status" json:"lifecycle_status"`
	RingingStartedAt   *time.Time      `db:"ringing_started_at" json:"ringing_started_at,omitempty"`
	CallAnsweredAt     *time.Time      `db:"call_answered_at" json:"call_answered_at,omitempty"`
	CallDisconnectedAt *time.Time      `db:"call_disconnected_at" json:"call_disconnected_at,omitempty"`
	DurationSeconds    int             `db:"duration_seconds" json:"duration_seconds"`
	DurationMinutes    int             `db:"duration_minutes" json:"duration_minutes"`
	CreditsUsed        int             `db:"credits_used" json:"credits_used"`
	HangupBy           string          `db:"hangup_by" json:"hangup_by,omitempty"`
	HangupReason       string          `db:"hangup_reason" json:"hangup_reason,omitempty"`
	HangupProviderCode string          `db:"hangup_provider_code" json:"hangup_provider_code,omitempty"`
	ProviderPayload    json.RawMessage `db:"provider_payload" json:"provider_payload,omitempty"`
	CampaignID         *int64          `db:"campaign_id" json:"campaign_id,omitempty"`
	CreatedAt          time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at" json:"updated_at"`
}

// IsTerminal reports whether the call has reached a state that no longer
// holds an ActiveSlot (invariant 3, §8).
func (c *Call) IsTerminal() bool {
	switch c.LifecycleStatus {
	case LifecycleCompleted, LifecycleFailed, LifecycleCancelled:
		return true
	default:
		return false
	}
}

// BilledMinutes computes the ceiling-rounded billed duration (§8 boundary
// behaviors).
func BilledMinutes(durationSeconds int) int {
	if durationSeconds <= 0 {
		return 0
	}
	return (durationSeconds + 59) / 60
}

// QueueItem kinds (§3).
const (
	KindDirect   = "direct"
	KindCampaign = "campaign"
)

// QueueItem status values (§4.2 state machine).
const (
	QueueStatusQueued     = "queued"
	QueueStatusProcessing = "processing"
	QueueStatusCompleted  = "completed"
	QueueStatusFailed     = "failed"
	QueueStatusCancelled  = "cancelled"
)

// QueueItem is a pending request to place a Call (§3).
type QueueItem struct {
	ID           int64     `db:"id" json:"id"`
	TenantID     int64     `db:"tenant_id" json:"tenant_id"`
	CampaignID   *int64    `db:"campaign_id" json:"campaign_id,omitempty"`
	ContactID    *int64    `db:"contact_id" json:"contact_id,omitempty"`
	AgentID      int64     `db:"agent_id" json:"agent_id"`
	Phone        string    `db:"phone" json:"phone"`
	Kind         string    `db:"kind" json:"kind"`
	Priority     int       `db:"priority" json:"priority"`
	Position     int64     `db:"position" json:"position"`
	ScheduledFor time.Time `db:"scheduled_for" json:"scheduled_for"`
	Status       string    `db:"status" json:"status"`
	Attempts     int       `db:"attempts" json:"attempts"`
	LastError    string    `db:"last_error" json:"last_error,omitempty"`
	CallID       *int64    `db:"call_id" json:"call_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// ActiveSlot kinds mirror QueueItem kinds; presence of a row counts toward
// the concurrency caps (§3, §4.1).
type ActiveSlot struct {
	ID         int64     `db:"id" json:"id"`
	TenantID   int64     `db:"tenant_id" json:"tenant_id"`
	Kind       string    `db:"kind" json:"kind"`
	ReservedAt time.Time `db:"reserved_at" json:"reserved_at"`
}

// Campaign status values (§3).
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

// Campaign is a batch definition (§3).
type Campaign struct {
	ID             int64     `db:"id" json:"id"`
	TenantID       int64     `db:"tenant_id" json:"tenant_id"`
	AgentID        int64     `db:"agent_id" json:"agent_id"`
	Name           string    `db:"name" json:"name"`
	Status         string    `db:"status" json:"status"`
	FirstCallTime  string    `db:"first_call_time" json:"first_call_time"` // "HH:MM"
	LastCallTime   string    `db:"last_call_time" json:"last_call_time"`   // "HH:MM"
	Timezone       string    `db:"timezone" json:"timezone"`
	StartDate      time.Time `db:"start_date" json:"start_date"`
	TotalContacts  int       `db:"total_contacts" json:"total_contacts"`
	CompletedCalls int       `db:"completed_calls" json:"completed_calls"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// IsMisconfigured reports a non-wrapping window violation (§4.2, Open
// Question 5: midnight-wrapping windows are rejected, not supported).
func (c *Campaign) IsMisconfigured() bool {
	return c.FirstCallTime > c.LastCallTime
}

// IsComplete reports whether the campaign's completed-call count has reached
// its contact count (§4.8 campaign-summary trigger). It does not look at
// queue items, so items still queued or processing are not considered.
func (c *Campaign) IsComplete() bool {
	return c.TotalContacts > 0 && c.CompletedCalls >= c.TotalContacts
}

// TranscriptSegment is one turn of a call transcript (§4.6).
type TranscriptSegment struct {
	Role      string    `json:"role"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Transcript is tied 1:1 to a completed Call (§3).
type Transcript struct {
	CallID   int64               `db:"call_id" json:"call_id"`
	TenantID int64               `db:"tenant_id" json:"tenant_id"`
	Content  string              `db:"content" json:"content"`
	Segments []TranscriptSegment `db:"segments" json:"segments"`
}

// LeadAnalytics analysis types (§3).
const (
	AnalysisIndividual = "individual"
	AnalysisComplete   = "complete"
)

// Lead status tags produced by the LLM extraction (§4.7 mapping contract).
const (
	StatusHot  = "Hot"
	StatusWarm = "Warm"
	StatusCold = "Cold"
)

// LeadAnalytics is the dual-analysis artifact (§3, §4.7).
type LeadAnalytics struct {
	ID                    int64           `db:"id" json:"id"`
	TenantID              int64           `db:"tenant_id" json:"tenant_id"`
	Phone                 string          `db:"phone" json:"phone"`
	CallID                *int64          `db:"call_id" json:"call_id,omitempty"`
	AnalysisType          string          `db:"analysis_type" json:"analysis_type"`
	IntentScore           int             `db:"intent_score" json:"intent_score"`
	UrgencyScore          int             `db:"urgency_score" json:"urgency_score"`
	BudgetScore           int             `db:"budget_score" json:"budget_score"`
	FitScore              int             `db:"fit_score" json:"fit_score"`
	EngagementScore       int             `db:"engagement_score" json:"engagement_score"`
	TotalScore            int             `db:"total_score" json:"total_score"`
	StatusTag             string          `db:"status_tag" json:"status_tag"`
	Reasoning             json.RawMessage `db:"reasoning" json:"reasoning,omitempty"`
	CTAPricingClicked     bool            `db:"cta_pricing_clicked" json:"cta_pricing_clicked"`
	CTADemoClicked        bool            `db:"cta_demo_clicked" json:"cta_demo_clicked"`
	CTAFollowupClicked    bool            `db:"cta_followup_clicked" json:"cta_followup_clicked"`
	CTASampleClicked      bool            `db:"cta_sample_clicked" json:"cta_sample_clicked"`
	CTAEscalatedToHuman   bool            `db:"cta_escalated_to_human" json:"cta_escalated_to_human"`
	DemoBookDatetime      *time.Time      `db:"demo_book_datetime" json:"demo_book_datetime,omitempty"`
	PreviousCallsAnalyzed int             `db:"previous_calls_analyzed" json:"previous_calls_analyzed"`
	LatestCallID          *int64          `db:"latest_call_id" json:"latest_call_id,omitempty"`
	AnalysisTimestamp     time.Time       `db:"analysis_timestamp" json:"analysis_timestamp"`
}

// ClampScore bounds an LLM-reported score to [0,100] (§4.7 Safety).
func ClampScore(v int) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

// Notification statuses (§3).
const (
	NotificationSent    = "sent"
	NotificationFailed  = "failed"
	NotificationSkipped = "skipped"
)

// Notification type taxonomy (§4.8).
const (
	NotifyEmailVerification         = "email_verification"
	NotifyEmailVerificationReminder = "email_verification_reminder"
	NotifyCreditLow15               = "credit_low_15"
	NotifyCreditLow5                = "credit_low_5"
	NotifyCreditExhausted0          = "credit_exhausted_0"
	NotifyCreditsAdded              = "credits_added"
	NotifyCampaignSummary           = "campaign_summary"
	NotifyMarketing                 = "marketing"
)

// Notification is a single delivery attempt (§3).
type Notification struct {
	ID                   int64           `db:"id" json:"id"`
	TenantID             int64           `db:"tenant_id" json:"tenant_id"`
	Type                 string          `db:"type" json:"type"`
	Recipient            string          `db:"recipient" json:"recipient"`
	Status               string          `db:"status" json:"status"`
	RelatedCampaignID    *int64          `db:"related_campaign_id" json:"related_campaign_id,omitempty"`
	RelatedTransactionID *int64          `db:"related_transaction_id" json:"related_transaction_id,omitempty"`
	Payload              json.RawMessage `db:"payload" json:"payload,omitempty"`
	IdempotencyKey       string          `db:"idempotency_key" json:"idempotency_key"`
	Error                string          `db:"error" json:"error,omitempty"`
	SentAt               time.Time       `db:"sent_at" json:"sent_at"`
}

// NotificationPreference is the per-tenant map of type-bucket → enabled
// boolean (§3), defaulting to enabled.
type NotificationPreference struct {
	TenantID                   int64 `db:"tenant_id" json:"tenant_id"`
	LowCreditAlerts            bool  `db:"low_credit_alerts" json:"low_credit_alerts"`
	CreditsAddedEmails         bool  `db:"credits_added_emails" json:"credits_added_emails"`
	CampaignSummaryEmails      bool  `db:"campaign_summary_emails" json:"campaign_summary_emails"`
	EmailVerificationReminders bool  `db:"email_verification_reminders" json:"email_verification_reminders"`
	MarketingEmails            bool  `db:"marketing_emails" json:"marketing_emails"`
}

// Enabled reports whether the preference bucket for a notification type is
// on for this tenant. Types without a bucket (email_verification) are always
// enabled.
func (p *NotificationPreference) Enabled(notificationType string) bool {
	switch notificationType {
	case NotifyEmailVerification:
		return true
	case NotifyEmailVerificationReminder:
		return p.EmailVerificationReminders
	case NotifyCreditLow15, NotifyCreditLow5, NotifyCreditExhausted0:
		return p.LowCreditAlerts
	case NotifyCreditsAdded:
		return p.CreditsAddedEmails
	case NotifyCampaignSummary:
		return p.CampaignSummaryEmails
	case NotifyMarketing:
		return p.MarketingEmails
	default:
		return true
	}
}

// CreditTransaction is the billing audit trail row (§4.9, invariant 7).
type CreditTransaction struct {
	ID           int64     `db:"id" json:"id"`
	TenantID     int64     `db:"tenant_id" json:"tenant_id"`
	Type         string    `db:"type" json:"type"`
	Amount       int       `db:"amount" json:"amount"`
	BalanceAfter int       `db:"balance_after" json:"balance_after"`
	CallID       *int64    `db:"call_id" json:"call_id,omitempty"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// AutoEngagementFlow action kinds (§3, §4.10 — a tagged variant, not a class
// hierarchy, per §9's redesign note).
const (
	ActionCall    = "call"
	ActionMessage = "message"
	ActionEmail   = "email"
	ActionWait    = "wait"
)

// FlowAction is one step of an AutoEngagementFlow (§3, §4.10).
type FlowAction struct {
	Kind          string          `json:"kind"` // call | message | email | wait
	Params        json.RawMessage `json:"params,omitempty"`
	WaitDuration  time.Duration   `json:"wait_duration,omitempty"`
	SkipIfOutcome string          `json:"skip_if_outcome,omitempty"`
}

// TriggerCondition is one AND-clause of an AutoEngagementFlow's trigger set
// (§4.10).
type TriggerCondition struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"` // equals | any | contains | not-equals
	Value    interface{} `json:"value"`
}

// AutoEngagementFlow matches newly-created contacts to automated action
// sequences (§3, §4.10, optional component L).
type AutoEngagementFlow struct {
	ID         int64              `db:"id" json:"id"`
	TenantID   int64              `db:"tenant_id" json:"tenant_id"`
	Name       string             `db:"name" json:"name"`
	Priority   int                `db:"priority" json:"priority"`
	Enabled    bool               `db:"enabled" json:"enabled"`
	Conditions []TriggerCondition `db:"conditions" json:"conditions"`
	Actions    []FlowAction       `db:"actions" json:"actions"`
	CreatedAt  time.Time          `db:"created_at" json:"created_at"`
}

// BlacklistEntry is checked before every dispatch, direct or campaign (§12 —
// generalized from apicall's campaign-only check).
type BlacklistEntry struct {
	ID        int64     `db:"id" json:"id"`
	TenantID  int64     `db:"tenant_id" json:"tenant_id"`
	Phone     string    `db:"phone" json:"phone"`
	Reason    string    `db:"reason" json:"reason,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
