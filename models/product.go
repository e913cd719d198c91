package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID           int             `gorm:"primary_key" json:"id"`
	BusinessId   string          `gorm:"index;not null" json:"business_id"`
	Name         string          `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Sku          string          `gorm:"index;size:100" json:"sku"`
	Barcode      string          `gorm:"size:100" json:"barcode"`
	Description  string          `gorm:"type:text" json:"description"`
	SellingPrice decimal.Decimal `gorm:"type:decimal(20,9)" json:"selling_price"`
	CostPrice    decimal.Decimal `gorm:"type:decimal(20,9)" json:"cost_price"`
	IsActive     *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Warehouse struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Address    string    `gorm:"type:text" json:"address"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
