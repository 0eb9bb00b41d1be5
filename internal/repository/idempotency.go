package repository

import (
	"context"
	"time"

	"github.com/hotdash/integration-gateway/internal/models"
	"github.com/hotdash/integration-gateway/internal/storage"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type IdempotencyRepository struct {
	db *storage.Postgres
}

func NewIdempotencyRepository(db *storage.Postgres) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Retrieves the record for key, nil when absent
func (r *IdempotencyRepository) Get(ctx context.Context, key string) (*models.IdempotencyRecord, error) {
	var record models.IdempotencyRecord
	err := r.db.DB.WithContext(ctx).
		Where("key = ?", key).
		First(&record).Error

	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &record, nil
}

// PutIfAbsent writes the record only if no row exists for the key yet.
// Insert-if-absent at the database makes two gateway instances agree on
// which of them was first. Returns false when the key already existed.
func (r *IdempotencyRepository) PutIfAbsent(ctx context.Context, record *models.IdempotencyRecord) (bool, error) {
	result := r.db.DB.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(record)

	if result.Error != nil {
		return false, result.Error
	}

	return result.RowsAffected > 0, nil
}

// Removes records older than the TTL cutoff; run from a periodic sweep
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.DB.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&models.IdempotencyRecord{})

	return result.RowsAffected, result.Error
}
