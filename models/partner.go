package models

import (
	"time"
)

type Customer struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Email      string    `gorm:"size:255" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	CurrencyId int       `json:"currency_id"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Supplier struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index;not null" json:"business_id"`
	Name       string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Email      string    `gorm:"size:255" json:"email"`
	Phone      string    `gorm:"size:20" json:"phone"`
	CurrencyId int       `json:"currency_id"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
