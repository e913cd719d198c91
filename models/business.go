package models

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/forecast_backend/config"
	"github.com/mmdatafocus/forecast_backend/utils"
	"gorm.io/gorm"
)

type Business struct {
	ID             uuid.UUID `gorm:"primary_key" json:"id"`
	Name           string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	ContactName    string    `gorm:"size:100" json:"contact_name"`
	Email          string    `gorm:"size:255" json:"email"`
	Country        string    `gorm:"size:100" json:"country"`
	BaseCurrencyId int       `json:"base_currency_id"`
	Timezone       string    `gorm:"size:50" json:"timezone"`
	IsActive       *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (b *Business) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	return nil
}

func (b *Business) StoreRedis() error {
	return config.SetRedisObject("Business:"+b.ID.String(), b, 0)
}

func GetBusinessById(ctx context.Context, id string) (*Business, error) {
	var result Business

	exists, err := config.GetRedisObject("Business:"+id, &result)
	if err != nil {
		return nil, err
	}

	if !exists {
		db := config.GetDB()
		err := db.WithContext(ctx).Where("id = ?", id).First(&result).Error
		if err != nil {
			return nil, utils.ErrorRecordNotFound
		}
		if err := result.StoreRedis(); err != nil {
			return nil, err
		}
	}
	return &result, nil
}

// ListActiveBusinessIds is used by all-company sweeps (scheduled syncs, the
// slot reaper). Callers must skip tenant scope in ctx.
func ListActiveBusinessIds(ctx context.Context) ([]string, error) {
	db := config.GetDB()
	var ids []string
	err := db.WithContext(ctx).Model(&Business{}).
		Where("is_active = ?", true).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, err
	}
	return ids, nil
}
