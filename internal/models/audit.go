package models

import (
	"time"
)

// Audit event types for security- and business-relevant transitions
const (
	AuditActionApproved  = "action:approved"
	AuditActionRejected  = "action:rejected"
	AuditActionExecuted  = "action:executed"
	AuditWebhookRejected = "webhook:rejected"
	AuditCircuitOpened   = "circuit:opened"
	AuditCircuitClosed   = "circuit:closed"
	AuditCircuitReset    = "circuit:reset"
	AuditConfigChanged   = "config:changed"
	AuditUserLogin       = "user:login"
)

// GenesisHash is the previous-hash sentinel for the first event in the chain
const GenesisHash = "GENESIS"

// A single entry in the append-only, hash-chained audit trail.
// Once written it is never updated or deleted; each event's hash covers
// the previous event's hash so tampering is detectable.
type AuditEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	EventType    string    `gorm:"index;not null" json:"event_type"`
	ActorID      string    `gorm:"index" json:"actor_id"`
	ActorRole    string    `json:"actor_role"`
	Resource     string    `gorm:"index" json:"resource"`
	ResourceID   string    `json:"resource_id"`
	Action       string    `gorm:"not null" json:"action"`
	Metadata     []byte    `gorm:"type:jsonb" json:"metadata"`
	IPAddress    string    `json:"ip_address"`
	UserAgent    string    `json:"user_agent"`
	PreviousHash string    `gorm:"not null" json:"previous_hash"`
	EventHash    string    `gorm:"index;not null" json:"event_hash"`
	CreatedAt    time.Time `gorm:"index" json:"created_at"`
}

func (AuditEvent) TableName() string {
	return "audit_trail"
}
