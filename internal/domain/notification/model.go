package notification

import "time"

// Type is a notification delivery channel.
type Type string

const (
	TypeEmail Type = "email"
	TypePush  Type = "push"
)

// IsValidType checks whether a notification type is recognized.
func IsValidType(t Type) bool {
	return t == TypeEmail || t == TypePush
}

// Status is a notification lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusFailed    Status = "failed"
)

// IsValidStatus checks whether a status value is recognized.
func IsValidStatus(s Status) bool {
	return s == StatusPending || s == StatusDelivered || s == StatusFailed
}

// Variables carries template data for the downstream renderer. Meta is an
// opaque pass-through; this service never interprets it.
type Variables struct {
	Name string         `json:"name" binding:"required"`
	Link string         `json:"link" binding:"required,url"`
	Meta map[string]any `json:"meta,omitempty"`
}

// Job is the unit of work handed to the queue. NotificationID is assigned
// once at acceptance and joins the queue message to the status record.
type Job struct {
	NotificationID string         `json:"notification_id"`
	CorrelationID  string         `json:"correlation_id"`
	UserID         string         `json:"user_id"`
	Type           Type           `json:"notification_type"`
	TemplateCode   string         `json:"template_code"`
	Variables      Variables      `json:"variables"`
	Priority       int            `json:"priority"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"timestamp"`
	RetryCount     int            `json:"retry_count"`
}

// RoutingKey returns the queue routing key for the job's channel.
func (j *Job) RoutingKey() string {
	return "notification." + string(j.Type)
}

// StatusRecord is the TTL-bounded projection of a job's lifecycle. It is
// created by this service after a successful publish and mutated only by
// the downstream delivery services.
type StatusRecord struct {
	NotificationID string `json:"notification_id"`
	Status         Status `json:"status"`
	Type           Type   `json:"notification_type"`
	UserID         string `json:"user_id"`
	TemplateCode   string `json:"template_code"`
	CreatedAt      string `json:"created_at"`
	UpdatedAt      string `json:"updated_at,omitempty"`
	ErrorMessage   string `json:"error_message,omitempty"`
}

// StatusUpdate carries the fields downstream services may change.
type StatusUpdate struct {
	Status       Status
	Type         Type
	UpdatedAt    string
	ErrorMessage string
}

// SendRequest is the API payload for accepting a notification.
type SendRequest struct {
	Type         Type           `json:"notification_type" binding:"required"`
	UserID       string         `json:"user_id" binding:"required,uuid"`
	TemplateCode string         `json:"template_code" binding:"required"`
	Variables    Variables      `json:"variables" binding:"required"`
	RequestID    string         `json:"request_id"`
	Priority     int            `json:"priority" binding:"omitempty,min=1,max=5"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// AcceptData is the success payload for an accepted notification.
type AcceptData struct {
	NotificationID string `json:"notification_id"`
	Status         Status `json:"status"`
	RequestID      string `json:"request_id"`
	Type           Type   `json:"notification_type"`
}

// StatusUpdateRequest is the payload delivery services post back.
type StatusUpdateRequest struct {
	NotificationID string `json:"notification_id" binding:"required"`
	Status         Status `json:"status" binding:"required"`
	Timestamp      string `json:"timestamp,omitempty"`
	Error          string `json:"error,omitempty"`
}
