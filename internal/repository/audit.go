package repository

import (
	"context"
	"time"

	"github.com/hotdash/integration-gateway/internal/models"
	"github.com/hotdash/integration-gateway/internal/storage"
	"gorm.io/gorm"
)

// AuditRepository only exposes insert and read operations. The table
// additionally carries a trigger rejecting UPDATE/DELETE, so append-only
// is enforced at the storage layer, not just here.
type AuditRepository struct {
	db *storage.Postgres
}

func NewAuditRepository(db *storage.Postgres) *AuditRepository {
	return &AuditRepository{db: db}
}

// Appends one event
func (r *AuditRepository) Insert(ctx context.Context, event *models.AuditEvent) error {
	return r.db.DB.WithContext(ctx).Create(event).Error
}

// Returns the hash of the most recently written event, or the genesis
// sentinel when the trail is empty
func (r *AuditRepository) LastEventHash(ctx context.Context) (string, error) {
	var event models.AuditEvent
	err := r.db.DB.WithContext(ctx).
		Order("id DESC").
		First(&event).Error

	if err == gorm.ErrRecordNotFound {
		return models.GenesisHash, nil
	}
	if err != nil {
		return "", err
	}

	return event.EventHash, nil
}

// Query filter for the audit trail
type AuditFilter struct {
	ActorID   string
	EventType string
	Resource  string
	Start     *time.Time
	End       *time.Time
	Limit     int
}

// Lists events newest-first for the admin query surface
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	query := r.filtered(ctx, filter).Order("id DESC")

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	var events []models.AuditEvent
	err := query.Limit(limit).Find(&events).Error
	return events, err
}

// Lists events oldest-first, without a limit, for chain verification
// and compliance reporting
func (r *AuditRepository) ListAsc(ctx context.Context, filter AuditFilter) ([]models.AuditEvent, error) {
	var events []models.AuditEvent
	err := r.filtered(ctx, filter).Order("id ASC").Find(&events).Error
	return events, err
}

func (r *AuditRepository) filtered(ctx context.Context, filter AuditFilter) *gorm.DB {
	query := r.db.DB.WithContext(ctx).Model(&models.AuditEvent{})

	if filter.ActorID != "" {
		query = query.Where("actor_id = ?", filter.ActorID)
	}
	if filter.EventType != "" {
		query = query.Where("event_type = ?", filter.EventType)
	}
	if filter.Resource != "" {
		query = query.Where("resource = ?", filter.Resource)
	}
	if filter.Start != nil {
		query = query.Where("created_at >= ?", *filter.Start)
	}
	if filter.End != nil {
		query = query.Where("created_at <= ?", *filter.End)
	}

	return query
}
