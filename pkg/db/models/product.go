package models

import "time"

// Product is a catalog entry resolved by barcode scans. The core never
// mutates it.
type Product struct {
	ID                string    `gorm:"column:id;primaryKey" json:"id"`
	Name              string    `gorm:"column:name;not null" json:"name"`
	LocalizedName     *string   `gorm:"column:localized_name" json:"localizedName,omitempty"`
	Category          string    `gorm:"column:category;not null" json:"category"`
	LocalizedCategory *string   `gorm:"column:localized_category" json:"localizedCategory,omitempty"`
	Price             float64   `gorm:"column:price;not null" json:"price"`
	Barcode           *string   `gorm:"column:barcode;uniqueIndex" json:"barcode,omitempty"`
	Weight            *float64  `gorm:"column:weight" json:"weight,omitempty"`
	Image             string    `gorm:"column:image;not null" json:"image"`
	SoldOut           bool      `gorm:"column:sold_out;not null;default:false" json:"soldOut"`
	CreatedAt         time.Time `gorm:"column:created_at;autoCreateTime" json:"-"`
}

func (Product) TableName() string { return "products" }
