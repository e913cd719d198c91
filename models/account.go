package models

import (
	"time"
)

type AccountMainType string

const (
	AccountMainTypeAsset     AccountMainType = "Asset"
	AccountMainTypeLiability AccountMainType = "Liability"
	AccountMainTypeEquity    AccountMainType = "Equity"
	AccountMainTypeIncome    AccountMainType = "Income"
	AccountMainTypeExpense   AccountMainType = "Expense"
)

type Account struct {
	ID            int             `gorm:"primary_key" json:"id"`
	BusinessId    string          `gorm:"index;not null" json:"business_id"`
	MainType      AccountMainType `gorm:"type:enum('Asset', 'Liability', 'Equity', 'Income', 'Expense');default:'Expense';index;size:10;not null" json:"main_type" binding:"required"`
	Name          string          `gorm:"index;size:100;not null" json:"name" binding:"required"`
	AccountNumber string          `gorm:"index;size:100" json:"account_number"`
	CurrencyId    int             `gorm:"index" json:"currency_id"`
	Description   string          `gorm:"type:text" json:"description"`
	IsActive      *bool           `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}
