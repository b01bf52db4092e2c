package persistence

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"tiktok-publisher/domain/model"
	"tiktok-publisher/domain/repository"
)

// PendingStateRepository keeps OAuth handshakes in MySQL through gorm. Rows
// carry their own expiry; SweepExpired removes the leftovers.
type PendingStateRepository struct {
	db  *gorm.DB
	now func() time.Time
}

func NewPendingStateRepository(db *gorm.DB) repository.IPendingState {
	return &PendingStateRepository{db: db, now: time.Now}
}

// EnsurePendingStateSchema creates or migrates the pending state table.
func EnsurePendingStateSchema(db *gorm.DB) error {
	return db.AutoMigrate(&model.PendingAuthState{})
}

func (r *PendingStateRepository) Save(ctx context.Context, state *model.PendingAuthState) error {
	return r.db.WithContext(ctx).Create(state).Error
}

func (r *PendingStateRepository) Consume(ctx context.Context, state string) (*model.PendingAuthState, error) {
	var found model.PendingAuthState
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("state = ?", state).First(&found).Error; err != nil {
			return err
		}
		return tx.Delete(&found).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if found.Expired(r.now()) {
		return nil, nil
	}
	return &found, nil
}

func (r *PendingStateRepository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Where("expires_at <= ?", now).Delete(&model.PendingAuthState{})
	return res.RowsAffected, res.Error
}
