package models

import (
	"time"
)

// A stored response for a previously-seen idempotency key.
// Written once on the first successful completion, never updated.
type IdempotencyRecord struct {
	Key            string    `gorm:"primaryKey;size:255" json:"key"`
	RequestHash    string    `gorm:"not null" json:"request_hash"`
	ResponseStatus int       `gorm:"not null" json:"response_status"`
	ResponseBody   []byte    `gorm:"type:jsonb" json:"response_body"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
}

func (IdempotencyRecord) TableName() string {
	return "idempotency_keys"
}

func (r *IdempotencyRecord) Expired(ttl time.Duration) bool {
	return time.Since(r.CreatedAt) > ttl
}
