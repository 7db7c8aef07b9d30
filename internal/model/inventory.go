package model

import (
	"time"
)

// InventoryItem is the ownership row kept by the cosmetics/inventory module.
// The economy core only reads the owner and moves it during settlement.
type InventoryItem struct {
	ItemRef        string    `gorm:"type:varchar(64);primaryKey" json:"item_ref"`
	OwnerID        int64     `gorm:"not null;index" json:"owner_id"`
	EstimatedValue int64     `gorm:"not null;default:0" json:"estimated_value"`
	Version        int       `gorm:"not null;default:0" json:"version"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (InventoryItem) TableName() string {
	return "inventory_item"
}
